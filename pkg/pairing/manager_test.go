package pairing

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	dir := t.TempDir()
	if opts.Channel == "" {
		opts.Channel = "imessage"
	}
	if opts.PendingPath == "" {
		opts.PendingPath = filepath.Join(dir, "pending.json")
	}
	if opts.AllowlistPath == "" {
		opts.AllowlistPath = filepath.Join(dir, "allowlist.json")
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	return m
}

func TestRequestCodeIdempotent(t *testing.T) {
	m := newTestManager(t, Options{})

	first, created, err := m.RequestCode("+15551234567")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, first.Code, CodeLength)

	second, created, err := m.RequestCode("+15551234567")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Code, second.Code)
}

func TestRequestCodeAlphabet(t *testing.T) {
	m := newTestManager(t, Options{})
	req, _, err := m.RequestCode("sender-1")
	require.NoError(t, err)
	for _, r := range req.Code {
		assert.NotContains(t, "0O1I", string(r))
		assert.Contains(t, codeAlphabet, string(r))
	}
}

func TestApproveMovesSenderToAllowlist(t *testing.T) {
	m := newTestManager(t, Options{})
	req, _, err := m.RequestCode("sender-1")
	require.NoError(t, err)

	assert.False(t, m.IsAllowed("sender-1"))

	resolved, err := m.Approve(req.Code)
	require.NoError(t, err)
	assert.Equal(t, "sender-1", resolved.Sender)
	assert.True(t, m.IsAllowed("sender-1"))
	assert.Empty(t, m.ListPending())

	_, _, err = m.RequestCode("sender-1")
	assert.ErrorIs(t, err, ErrAlreadyAllowlisted)
}

func TestRejectDropsPendingWithoutAllowlisting(t *testing.T) {
	m := newTestManager(t, Options{})
	req, _, err := m.RequestCode("sender-1")
	require.NoError(t, err)

	_, err = m.Reject(req.Code)
	require.NoError(t, err)
	assert.False(t, m.IsAllowed("sender-1"))
	assert.Empty(t, m.ListPending())
}

func TestApproveUnknownCode(t *testing.T) {
	m := newTestManager(t, Options{})
	_, err := m.Approve("NOSUCHCD")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestApproveIsCaseInsensitive(t *testing.T) {
	m := newTestManager(t, Options{})
	req, _, err := m.RequestCode("sender-1")
	require.NoError(t, err)

	_, err = m.Approve(" " + lower(req.Code) + " ")
	require.NoError(t, err)
	assert.True(t, m.IsAllowed("sender-1"))
}

func lower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

func TestPendingLimitEvictsOldest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m := newTestManager(t, Options{
		MaxPending: 2,
		Now: func() time.Time {
			*clock = clock.Add(time.Second)
			return *clock
		},
	})

	_, _, err := m.RequestCode("oldest")
	require.NoError(t, err)
	_, _, err = m.RequestCode("middle")
	require.NoError(t, err)
	_, _, err = m.RequestCode("newest")
	require.NoError(t, err)

	pending := m.ListPending()
	require.Len(t, pending, 2)
	assert.Equal(t, "middle", pending[0].Sender)
	assert.Equal(t, "newest", pending[1].Sender)
}

func TestCodesExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m := newTestManager(t, Options{
		CodeTTL: time.Minute,
		Now:     func() time.Time { return *clock },
	})

	req, _, err := m.RequestCode("sender-1")
	require.NoError(t, err)

	*clock = now.Add(2 * time.Minute)
	assert.Empty(t, m.ListPending())
	_, err = m.Approve(req.Code)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	// Expired means a fresh code can be minted.
	renewed, created, err := m.RequestCode("sender-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, req.Code, renewed.Code)
}

func TestSeededAllowlist(t *testing.T) {
	m := newTestManager(t, Options{Allowlist: []string{"owner@example.com", "  "}})
	assert.True(t, m.IsAllowed("owner@example.com"))
	_, _, err := m.RequestCode("owner@example.com")
	assert.ErrorIs(t, err, ErrAlreadyAllowlisted)
}

func TestPersistenceAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Channel:       "imessage",
		PendingPath:   filepath.Join(dir, "pending.json"),
		AllowlistPath: filepath.Join(dir, "allowlist.json"),
	}
	first, err := NewManager(opts)
	require.NoError(t, err)

	req, _, err := first.RequestCode("sender-1")
	require.NoError(t, err)
	_, err = first.Approve(req.Code)
	require.NoError(t, err)

	second, err := NewManager(opts)
	require.NoError(t, err)
	assert.True(t, second.IsAllowed("sender-1"))
}

func TestApprovalHint(t *testing.T) {
	hint := ApprovalHint("imessage", "ABCD2345")
	assert.Equal(t, "Approve via: idlehands pairing list imessage / idlehands pairing approve imessage ABCD2345", hint)
}
