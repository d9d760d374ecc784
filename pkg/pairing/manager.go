// Package pairing gates direct-message channels behind an approval
// flow. Unknown senders receive a short code; an operator approves or
// rejects the code from the CLI, and approved senders land on a
// persisted allowlist.
package pairing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// CodeLength is the number of characters in a pairing code.
	CodeLength = 8
	// DefaultMaxPending bounds the pending set; the oldest request is
	// evicted when a new sender arrives at the limit.
	DefaultMaxPending = 3
	// DefaultCodeTTL is how long a pending code stays redeemable.
	DefaultCodeTTL = time.Hour
)

// codeAlphabet omits 0/O/1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	ErrCodeNotFound       = errors.New("pairing code not found or expired")
	ErrAlreadyAllowlisted = errors.New("sender is already allowlisted")
)

// Request is a pending pairing request awaiting operator action.
type Request struct {
	Channel     string    `json:"channel"`
	Sender      string    `json:"sender"`
	Code        string    `json:"code"`
	RequestedAt time.Time `json:"requestedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AllowlistEntry is an approved sender.
type AllowlistEntry struct {
	Sender     string    `json:"sender"`
	ApprovedAt time.Time `json:"approvedAt"`
	Note       string    `json:"note,omitempty"`
}

// Options configures a Manager.
type Options struct {
	Channel       string
	PendingPath   string
	AllowlistPath string
	MaxPending    int
	CodeTTL       time.Duration
	// Allowlist seeds senders that are always allowed without a code.
	Allowlist []string
	Now       func() time.Time
}

// Manager tracks pairing codes and the allowlist for one channel. Both
// documents persist as JSON and are re-read when another process (the
// CLI approving a code while the daemon runs) rewrites them.
type Manager struct {
	mu sync.Mutex

	channel       string
	pendingPath   string
	allowlistPath string
	maxPending    int
	codeTTL       time.Duration
	now           func() time.Time

	pending   map[string]Request // keyed by sender
	byCode    map[string]string  // code -> sender
	allowlist map[string]AllowlistEntry
	seeded    map[string]bool

	pendingMod   time.Time
	allowlistMod time.Time
}

type pendingDoc struct {
	Requests []Request `json:"requests"`
}

type allowlistDoc struct {
	Entries []AllowlistEntry `json:"entries"`
}

// NewManager loads any persisted state and returns a manager for the
// channel.
func NewManager(opts Options) (*Manager, error) {
	if strings.TrimSpace(opts.Channel) == "" {
		return nil, fmt.Errorf("pairing channel is required")
	}
	m := &Manager{
		channel:       opts.Channel,
		pendingPath:   strings.TrimSpace(opts.PendingPath),
		allowlistPath: strings.TrimSpace(opts.AllowlistPath),
		maxPending:    opts.MaxPending,
		codeTTL:       opts.CodeTTL,
		now:           opts.Now,
		pending:       make(map[string]Request),
		byCode:        make(map[string]string),
		allowlist:     make(map[string]AllowlistEntry),
		seeded:        make(map[string]bool),
	}
	if m.maxPending <= 0 {
		m.maxPending = DefaultMaxPending
	}
	if m.codeTTL <= 0 {
		m.codeTTL = DefaultCodeTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	for _, sender := range opts.Allowlist {
		if sender = strings.TrimSpace(sender); sender != "" {
			m.seeded[sender] = true
		}
	}
	if err := m.loadAllowlist(); err != nil {
		return nil, err
	}
	if err := m.loadPending(); err != nil {
		return nil, err
	}
	return m, nil
}

// Channel returns the channel this manager guards.
func (m *Manager) Channel() string { return m.channel }

// IsAllowed reports whether the sender may talk to the agent.
func (m *Manager) IsAllowed(sender string) bool {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChangedLocked()
	if m.seeded[sender] {
		return true
	}
	_, ok := m.allowlist[sender]
	return ok
}

// RequestCode returns the pending request for sender, minting one if
// none exists. It is idempotent while the existing code is un-expired.
// The boolean reports whether a new code was created. When the pending
// set is full the oldest request is evicted to make room.
func (m *Manager) RequestCode(sender string) (Request, bool, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return Request{}, false, fmt.Errorf("sender is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChangedLocked()
	m.expireLocked()

	if m.seeded[sender] {
		return Request{}, false, ErrAlreadyAllowlisted
	}
	if _, ok := m.allowlist[sender]; ok {
		return Request{}, false, ErrAlreadyAllowlisted
	}
	if existing, ok := m.pending[sender]; ok {
		return existing, false, nil
	}
	m.evictOldestLocked()

	code, err := m.mintCodeLocked()
	if err != nil {
		return Request{}, false, err
	}
	now := m.now()
	req := Request{
		Channel:     m.channel,
		Sender:      sender,
		Code:        code,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.codeTTL),
	}
	m.pending[sender] = req
	m.byCode[code] = sender
	if err := m.savePendingLocked(); err != nil {
		return Request{}, false, err
	}
	return req, true, nil
}

// Approve redeems a code, moving its sender onto the allowlist.
func (m *Manager) Approve(code string) (Request, error) {
	return m.redeem(code, true)
}

// Reject discards a pending code without allowlisting the sender.
func (m *Manager) Reject(code string) (Request, error) {
	return m.redeem(code, false)
}

func (m *Manager) redeem(code string, approve bool) (Request, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Request{}, fmt.Errorf("code is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChangedLocked()
	m.expireLocked()

	sender, ok := m.byCode[code]
	if !ok {
		return Request{}, ErrCodeNotFound
	}
	req := m.pending[sender]
	delete(m.pending, sender)
	delete(m.byCode, code)

	if approve {
		m.allowlist[sender] = AllowlistEntry{
			Sender:     sender,
			ApprovedAt: m.now(),
			Note:       fmt.Sprintf("approved via code %s", code),
		}
		if err := m.saveAllowlistLocked(); err != nil {
			return Request{}, err
		}
	}
	if err := m.savePendingLocked(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// ListPending returns un-expired requests ordered by request time.
func (m *Manager) ListPending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChangedLocked()
	m.expireLocked()
	out := make([]Request, 0, len(m.pending))
	for _, req := range m.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// ListAllowlist returns approved senders ordered by approval time.
func (m *Manager) ListAllowlist() []AllowlistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChangedLocked()
	out := make([]AllowlistEntry, 0, len(m.allowlist))
	for _, entry := range m.allowlist {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ApprovedAt.Before(out[j].ApprovedAt)
	})
	return out
}

func (m *Manager) evictOldestLocked() {
	for len(m.pending) >= m.maxPending {
		var oldest Request
		for _, req := range m.pending {
			if oldest.Sender == "" || req.RequestedAt.Before(oldest.RequestedAt) {
				oldest = req
			}
		}
		delete(m.pending, oldest.Sender)
		delete(m.byCode, oldest.Code)
	}
}

func (m *Manager) expireLocked() {
	now := m.now()
	changed := false
	for sender, req := range m.pending {
		if now.After(req.ExpiresAt) {
			delete(m.pending, sender)
			delete(m.byCode, req.Code)
			changed = true
		}
	}
	if changed {
		_ = m.savePendingLocked()
	}
}

func (m *Manager) mintCodeLocked() (string, error) {
	for i := 0; i < 5; i++ {
		code, err := gonanoid.Generate(codeAlphabet, CodeLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate pairing code: %w", err)
		}
		if _, taken := m.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique pairing code")
}

func (m *Manager) reloadIfChangedLocked() {
	if m.pendingPath != "" {
		if info, err := os.Stat(m.pendingPath); err == nil && info.ModTime().After(m.pendingMod) {
			_ = m.loadPending()
		}
	}
	if m.allowlistPath != "" {
		if info, err := os.Stat(m.allowlistPath); err == nil && info.ModTime().After(m.allowlistMod) {
			_ = m.loadAllowlist()
		}
	}
}

func (m *Manager) loadPending() error {
	m.pending = make(map[string]Request)
	m.byCode = make(map[string]string)
	if m.pendingPath == "" {
		return nil
	}
	info, err := os.Stat(m.pendingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat pending pairing file: %w", err)
	}
	data, err := os.ReadFile(m.pendingPath)
	if err != nil {
		return fmt.Errorf("failed to read pending pairing file: %w", err)
	}
	var doc pendingDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse pending pairing file: %w", err)
	}
	for _, req := range doc.Requests {
		sender := strings.TrimSpace(req.Sender)
		code := strings.ToUpper(strings.TrimSpace(req.Code))
		if sender == "" || code == "" {
			continue
		}
		m.pending[sender] = req
		m.byCode[code] = sender
	}
	m.pendingMod = info.ModTime()
	m.expireLocked()
	return nil
}

func (m *Manager) loadAllowlist() error {
	m.allowlist = make(map[string]AllowlistEntry)
	if m.allowlistPath == "" {
		return nil
	}
	info, err := os.Stat(m.allowlistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat allowlist file: %w", err)
	}
	data, err := os.ReadFile(m.allowlistPath)
	if err != nil {
		return fmt.Errorf("failed to read allowlist file: %w", err)
	}
	var doc allowlistDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse allowlist file: %w", err)
	}
	for _, entry := range doc.Entries {
		if sender := strings.TrimSpace(entry.Sender); sender != "" {
			m.allowlist[sender] = entry
		}
	}
	m.allowlistMod = info.ModTime()
	return nil
}

func (m *Manager) savePendingLocked() error {
	if m.pendingPath == "" {
		return nil
	}
	doc := pendingDoc{Requests: make([]Request, 0, len(m.pending))}
	for _, req := range m.pending {
		doc.Requests = append(doc.Requests, req)
	}
	sort.Slice(doc.Requests, func(i, j int) bool {
		return doc.Requests[i].RequestedAt.Before(doc.Requests[j].RequestedAt)
	})
	if err := writeJSON(m.pendingPath, doc); err != nil {
		return err
	}
	m.pendingMod = m.now()
	return nil
}

func (m *Manager) saveAllowlistLocked() error {
	if m.allowlistPath == "" {
		return nil
	}
	doc := allowlistDoc{Entries: make([]AllowlistEntry, 0, len(m.allowlist))}
	for _, entry := range m.allowlist {
		doc.Entries = append(doc.Entries, entry)
	}
	sort.Slice(doc.Entries, func(i, j int) bool {
		return doc.Entries[i].ApprovedAt.Before(doc.Entries[j].ApprovedAt)
	})
	if err := writeJSON(m.allowlistPath, doc); err != nil {
		return err
	}
	m.allowlistMod = m.now()
	return nil
}

func writeJSON(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ApprovalHint is the reply sent to an unpaired sender along with
// their code.
func ApprovalHint(channel, code string) string {
	return fmt.Sprintf("Approve via: idlehands pairing list %s / idlehands pairing approve %s %s", channel, channel, code)
}

// DefaultPaths returns the pending and allowlist file paths for a
// channel under dataDir.
func DefaultPaths(dataDir, channel string) (pendingPath, allowlistPath string) {
	base := filepath.Join(strings.TrimSpace(dataDir), "pairing")
	return filepath.Join(base, channel+"-pending.json"), filepath.Join(base, channel+"-allowlist.json")
}
