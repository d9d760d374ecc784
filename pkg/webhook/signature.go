// Package webhook provides HMAC signature verification for inbound
// channel callbacks. Verification fails closed: a blank secret never
// matches anything.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"
)

// Algorithm selects the HMAC hash function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
)

// Encoding selects how the signature digest is encoded on the wire.
type Encoding string

const (
	// Hex encoding, as used by GitHub-style "sha256=<hex>" headers.
	Hex Encoding = "hex"
	// Base64 encoding, as used by the LINE x-line-signature header.
	Base64 Encoding = "base64"
)

// Options controls how VerifySignature interprets the header value.
type Options struct {
	Algorithm Algorithm // default SHA256
	Encoding  Encoding  // default Hex
	// Prefix is stripped from the signature before comparison, e.g.
	// "sha256=". Leave empty for bare-digest headers.
	Prefix string
}

// VerifySignature reports whether signature is a valid HMAC of body
// under secret. Comparison is constant time. A blank or all-whitespace
// secret always fails.
func VerifySignature(signature string, body []byte, secret string, opts Options) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	if opts.Prefix != "" {
		if !strings.HasPrefix(signature, opts.Prefix) {
			return false
		}
		signature = signature[len(opts.Prefix):]
	}

	var newHash func() hash.Hash
	switch opts.Algorithm {
	case SHA1:
		newHash = sha1.New
	case SHA256, "":
		newHash = sha256.New
	default:
		return false
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	digest := mac.Sum(nil)

	var expected string
	switch opts.Encoding {
	case Base64:
		expected = base64.StdEncoding.EncodeToString(digest)
	case Hex, "":
		expected = hex.EncodeToString(digest)
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// Sign computes the signature VerifySignature would accept for body,
// including the prefix. Useful for tests and for clients that emit
// signed callbacks.
func Sign(body []byte, secret string, opts Options) string {
	var newHash func() hash.Hash
	switch opts.Algorithm {
	case SHA1:
		newHash = sha1.New
	default:
		newHash = sha256.New
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	digest := mac.Sum(nil)

	var encoded string
	switch opts.Encoding {
	case Base64:
		encoded = base64.StdEncoding.EncodeToString(digest)
	default:
		encoded = hex.EncodeToString(digest)
	}
	return opts.Prefix + encoded
}
