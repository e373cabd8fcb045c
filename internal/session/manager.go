// Package session implements the chat session manager: chat numbering,
// per-key mutation ordering, and lifecycle operations on top of the
// durable chat store.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cedar/internal/chat"
	"cedar/internal/logging"
)

// Store is the durable key-value surface backing the manager.
// *store.ChatStore satisfies it; tests may substitute fakes.
type Store interface {
	Write(ctx context.Context, c *chat.Chat) error
	Read(ctx context.Context, key chat.Key) (*chat.Chat, error)
	Enumerate(ctx context.Context, scope chat.Scope) ([]int64, error)
	NextNumber(ctx context.Context, scope chat.Scope) (int64, error)
	Keys(ctx context.Context) ([]chat.Key, error)
	UpdatedAt(ctx context.Context, key chat.Key) (time.Time, error)
	Delete(ctx context.Context, key chat.Key) error
	DeleteProject(ctx context.Context, projectID int64) (int, error)
}

// Config holds tunables for the manager.
type Config struct {
	// ActiveScanLimit bounds how many recent chats ActiveChat inspects.
	ActiveScanLimit int

	// DefaultListLimit is used when ListChats is called with limit <= 0.
	DefaultListLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ActiveScanLimit:  10,
		DefaultListLimit: 50,
	}
}

// Manager enforces chat numbering and mutation ordering. It is constructed
// explicitly and injected into callers; there is no package-level instance.
//
// Every mutating operation on a chat key runs under a striped mutex for
// that key, so appends to one chat are totally ordered while unrelated
// chats proceed in parallel. Number allocation runs under a scope-level
// stripe so concurrent creators never receive the same number.
type Manager struct {
	store Store
	cfg   Config
	locks keyLocks

	// now is swappable in tests.
	now func() time.Time

	// statusCache is the advisory in-memory status index. It serves quick
	// lookups only and is never treated as authoritative over the store.
	statusMu    sync.RWMutex
	statusCache map[chat.Key]chat.Status
}

// NewManager creates a manager over the given store.
func NewManager(s Store, cfg Config) *Manager {
	if cfg.ActiveScanLimit <= 0 {
		cfg.ActiveScanLimit = DefaultConfig().ActiveScanLimit
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = DefaultConfig().DefaultListLimit
	}
	logging.Chat("Creating session manager (active scan: %d, list limit: %d)",
		cfg.ActiveScanLimit, cfg.DefaultListLimit)
	return &Manager{
		store:       s,
		cfg:         cfg,
		now:         time.Now,
		statusCache: make(map[chat.Key]chat.Status),
	}
}

// NextChatNumber allocates the next sequential chat number for the scope.
// The read-increment runs under the scope stripe, so two concurrent
// callers never receive the same number.
func (m *Manager) NextChatNumber(ctx context.Context, scope chat.Scope) (int64, error) {
	mu := m.locks.forScope(scope)
	mu.Lock()
	defer mu.Unlock()

	return m.store.NextNumber(ctx, scope)
}

// Create allocates a new numbered chat in the scope, initialized to status
// active with empty message and result sequences.
func (m *Manager) Create(ctx context.Context, scope chat.Scope, title string) (*chat.Chat, error) {
	number, err := m.NextChatNumber(ctx, scope)
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = fmt.Sprintf("Chat %d", number)
	}

	now := m.now().UTC()
	c := &chat.Chat{
		Number:       number,
		ProjectID:    scope.ProjectID,
		BranchID:     scope.BranchID,
		Title:        title,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       chat.StatusActive,
		Messages:     []chat.Message{},
		AgentResults: []chat.AgentResult{},
		Metadata:     map[string]any{},
	}

	mu := m.locks.forKey(c.Key())
	mu.Lock()
	defer mu.Unlock()

	if err := m.store.Write(ctx, c); err != nil {
		return nil, err
	}

	m.cacheStatus(c.Key(), c.Status)
	logging.Chat("Created chat %s (%q)", c.Key(), title)
	return c, nil
}

// Get returns the full current record for the key.
func (m *Manager) Get(ctx context.Context, key chat.Key) (*chat.Chat, error) {
	return m.store.Read(ctx, key)
}

// Update applies a partial update to the chat at key under exclusive access
// for that key. Sequence-valued fields are appended, never replaced; the
// Patch type cannot express a replacement. UpdatedAt is refreshed on every
// successful update.
//
// Status transitions out of a terminal state (complete, error) are
// rejected with chat.ErrTerminalStatus; finished chats are not reopened.
func (m *Manager) Update(ctx context.Context, key chat.Key, patch chat.Patch) error {
	if patch.Empty() {
		return nil
	}
	if patch.SetStatus && !patch.Status.Valid() {
		return fmt.Errorf("invalid status %q", patch.Status)
	}

	mu := m.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	c, err := m.store.Read(ctx, key)
	if err != nil {
		return err
	}

	if patch.SetStatus && c.Status.Terminal() && patch.Status != c.Status {
		return fmt.Errorf("chat %s is %s: %w", key, c.Status, chat.ErrTerminalStatus)
	}

	patch.Apply(c, m.now().UTC())

	if err := m.store.Write(ctx, c); err != nil {
		return err
	}

	m.cacheStatus(key, c.Status)
	logging.ChatDebug("Updated chat %s: +%d messages +%d results status=%s",
		key, len(patch.AppendMessages), len(patch.AppendResults), c.Status)
	return nil
}

// AddMessage appends exactly one message to the chat.
func (m *Manager) AddMessage(ctx context.Context, key chat.Key, role, content string, metadata map[string]any) error {
	msg := chat.Message{
		Role:      role,
		Content:   content,
		Timestamp: m.now().UTC(),
		Metadata:  metadata,
	}
	return m.Update(ctx, key, chat.Patch{AppendMessages: []chat.Message{msg}})
}

// AddAgentResults appends agent results to the chat.
func (m *Manager) AddAgentResults(ctx context.Context, key chat.Key, results ...chat.AgentResult) error {
	if len(results) == 0 {
		return nil
	}
	return m.Update(ctx, key, chat.Patch{AppendResults: results})
}

// SetStatus transitions the chat's status.
func (m *Manager) SetStatus(ctx context.Context, key chat.Key, status chat.Status) error {
	return m.Update(ctx, key, chat.Patch{Status: status, SetStatus: true})
}

// SetTitle replaces the chat's display title.
func (m *Manager) SetTitle(ctx context.Context, key chat.Key, title string) error {
	return m.Update(ctx, key, chat.Patch{Title: title, SetTitle: true})
}

// ListChats returns bounded summaries for the scope, most recently updated
// first. Individual unreadable records are skipped with a warning so one
// corrupt row cannot hide the rest of the listing; enumeration failures
// surface to the caller.
func (m *Manager) ListChats(ctx context.Context, scope chat.Scope, limit int) ([]chat.Summary, error) {
	timer := logging.StartTimer(logging.CategoryChat, "ListChats")
	defer timer.Stop()

	if limit <= 0 {
		limit = m.cfg.DefaultListLimit
	}

	numbers, err := m.store.Enumerate(ctx, scope)
	if err != nil {
		return nil, err
	}

	summaries := make([]chat.Summary, 0, len(numbers))
	for _, n := range numbers {
		key := chat.Key{ProjectID: scope.ProjectID, BranchID: scope.BranchID, Number: n}
		c, err := m.store.Read(ctx, key)
		if err != nil {
			logging.ChatWarn("Skipping unreadable chat %s in listing: %v", key, err)
			continue
		}
		summaries = append(summaries, c.Summarize())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].Number > summaries[j].Number
	})

	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// ActiveChat returns the number of the most recently updated chat, among
// the most recent ActiveScanLimit, whose status is active or processing.
// The second return is false if no such chat exists. The store, not the
// advisory cache, is consulted: the cache may lag behind other writers.
func (m *Manager) ActiveChat(ctx context.Context, scope chat.Scope) (int64, bool, error) {
	summaries, err := m.ListChats(ctx, scope, m.cfg.ActiveScanLimit)
	if err != nil {
		return 0, false, err
	}
	for _, s := range summaries {
		if s.Status == chat.StatusActive || s.Status == chat.StatusProcessing {
			return s.Number, true, nil
		}
	}
	return 0, false, nil
}

// CachedStatus returns the advisory in-memory status for the key, if this
// manager has seen the chat. Callers needing the truth must Get instead.
func (m *Manager) CachedStatus(key chat.Key) (chat.Status, bool) {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	s, ok := m.statusCache[key]
	return s, ok
}

// Cleanup removes persisted chats whose updated_at predates the retention
// cutoff. Best effort per chat: a failure to inspect or delete one chat is
// logged and the sweep continues. Returns the number of chats removed.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	timer := logging.StartTimer(logging.CategoryChat, "Cleanup")
	defer timer.Stop()

	cutoff := m.now().UTC().Add(-retention)
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		updated, err := m.store.UpdatedAt(ctx, key)
		if err != nil {
			logging.ChatWarn("Cleanup: cannot inspect chat %s: %v", key, err)
			continue
		}
		if !updated.Before(cutoff) {
			continue
		}

		mu := m.locks.forKey(key)
		mu.Lock()
		err = m.store.Delete(ctx, key)
		mu.Unlock()
		if err != nil {
			logging.ChatWarn("Cleanup: failed to delete chat %s: %v", key, err)
			continue
		}

		m.dropStatus(key)
		removed++
	}

	logging.Chat("Cleanup removed %d chats older than %s", removed, cutoff.Format(time.RFC3339))
	return removed, nil
}

// DeleteProject removes all persisted chats and counters for a project.
// Returns the number of chats removed.
func (m *Manager) DeleteProject(ctx context.Context, projectID int64) (int, error) {
	removed, err := m.store.DeleteProject(ctx, projectID)

	m.statusMu.Lock()
	for key := range m.statusCache {
		if key.ProjectID == projectID {
			delete(m.statusCache, key)
		}
	}
	m.statusMu.Unlock()

	if err != nil {
		return removed, err
	}
	logging.Chat("Deleted project %d: %d chats removed", projectID, removed)
	return removed, nil
}

func (m *Manager) cacheStatus(key chat.Key, status chat.Status) {
	m.statusMu.Lock()
	m.statusCache[key] = status
	m.statusMu.Unlock()
}

func (m *Manager) dropStatus(key chat.Key) {
	m.statusMu.Lock()
	delete(m.statusCache, key)
	m.statusMu.Unlock()
}
