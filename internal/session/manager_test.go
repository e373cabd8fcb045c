package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cedar/internal/chat"
	"cedar/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.NewChatStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s, DefaultConfig())
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	scope := chat.Scope{ProjectID: 7, BranchID: 1}

	for want := int64(1); want <= 3; want++ {
		c, err := m.Create(ctx, scope, "")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if c.Number != want {
			t.Errorf("Expected chat number %d, got %d", want, c.Number)
		}
		if c.Status != chat.StatusActive {
			t.Errorf("Expected new chat to be active, got %s", c.Status)
		}
		if c.Title != fmt.Sprintf("Chat %d", want) {
			t.Errorf("Expected default title, got %q", c.Title)
		}
		if c.Messages == nil || c.AgentResults == nil {
			t.Error("New chat should have empty, non-nil sequences")
		}
	}
}

func TestConcurrentCreatesUniqueNumbers(t *testing.T) {
	m := newTestManager(t)
	scope := chat.Scope{ProjectID: 1, BranchID: 1}

	const n = 20
	numbers := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.Create(context.Background(), scope, "")
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			numbers <- c.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for n := range numbers {
		if seen[n] {
			t.Errorf("Chat number %d assigned twice", n)
		}
		seen[n] = true
	}
	for want := int64(1); want <= n; want++ {
		if !seen[want] {
			t.Errorf("Chat number %d never assigned", want)
		}
	}
}

func TestConcurrentAddMessageUnion(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	scope := chat.Scope{ProjectID: 1, BranchID: 1}

	c, err := m.Create(ctx, scope, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	key := c.Key()

	const writers = 4
	const perWriter = 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				content := fmt.Sprintf("w%d-m%d", w, i)
				if err := m.AddMessage(ctx, key, "user", content, nil); err != nil {
					t.Errorf("AddMessage failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Messages) != writers*perWriter {
		t.Fatalf("Expected %d messages, got %d (lost appends)", writers*perWriter, len(got.Messages))
	}

	// Every appended message must be present exactly once.
	counts := make(map[string]int)
	for _, msg := range got.Messages {
		counts[msg.Content]++
	}
	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			content := fmt.Sprintf("w%d-m%d", w, i)
			if counts[content] != 1 {
				t.Errorf("Message %q appears %d times", content, counts[content])
			}
		}
	}

	// Per-writer order is preserved within the interleaving.
	for w := 0; w < writers; w++ {
		last := -1
		for _, msg := range got.Messages {
			var gw, gi int
			if _, err := fmt.Sscanf(msg.Content, "w%d-m%d", &gw, &gi); err != nil || gw != w {
				continue
			}
			if gi <= last {
				t.Errorf("Writer %d messages out of order: m%d after m%d", w, gi, last)
			}
			last = gi
		}
	}
}

func TestTerminalStatusIsFinal(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	scope := chat.Scope{ProjectID: 1, BranchID: 1}

	c, err := m.Create(ctx, scope, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	key := c.Key()

	if err := m.SetStatus(ctx, key, chat.StatusComplete); err != nil {
		t.Fatalf("SetStatus complete failed: %v", err)
	}

	// No transition out of a terminal state.
	err = m.SetStatus(ctx, key, chat.StatusActive)
	if !errors.Is(err, chat.ErrTerminalStatus) {
		t.Fatalf("Expected ErrTerminalStatus, got %v", err)
	}

	// Re-asserting the same terminal status is a no-op, not an error.
	if err := m.SetStatus(ctx, key, chat.StatusComplete); err != nil {
		t.Errorf("Re-setting same terminal status should succeed: %v", err)
	}

	// Appends (e.g. a late agent result) remain allowed.
	if err := m.AddAgentResults(ctx, key, chat.AgentResult{Name: "late", OK: true, Status: "ok"}); err != nil {
		t.Errorf("Append to terminal chat should succeed: %v", err)
	}

	got, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != chat.StatusComplete {
		t.Errorf("Status changed despite terminal state: %s", got.Status)
	}
	if len(got.AgentResults) != 1 {
		t.Errorf("Expected 1 agent result, got %d", len(got.AgentResults))
	}
}

func TestUpdateRejectsInvalidStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, chat.Scope{ProjectID: 1, BranchID: 1}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err = m.Update(ctx, c.Key(), chat.Patch{Status: "done", SetStatus: true})
	if err == nil {
		t.Fatal("Expected error for invalid status")
	}
}

func TestUpdateMissingChat(t *testing.T) {
	m := newTestManager(t)

	err := m.AddMessage(context.Background(), chat.Key{ProjectID: 9, BranchID: 9, Number: 9}, "user", "hi", nil)
	if !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestListChatsOrderingAndLimit(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	scope := chat.Scope{ProjectID: 1, BranchID: 1}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		if _, err := m.Create(ctx, scope, ""); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	// Touch chat 1 so it becomes the most recently updated.
	clock = base.Add(time.Hour)
	if err := m.AddMessage(ctx, chat.Key{ProjectID: 1, BranchID: 1, Number: 1}, "user", "ping", nil); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	summaries, err := m.ListChats(ctx, scope, 0)
	if err != nil {
		t.Fatalf("ListChats failed: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("Expected 3 summaries, got %d", len(summaries))
	}
	if summaries[0].Number != 1 {
		t.Errorf("Expected chat 1 first (most recently updated), got %d", summaries[0].Number)
	}
	if summaries[0].MessageCount != 1 || summaries[0].LastMessage == nil || summaries[0].LastMessage.Content != "ping" {
		t.Errorf("Unexpected summary for chat 1: %+v", summaries[0])
	}

	limited, err := m.ListChats(ctx, scope, 2)
	if err != nil {
		t.Fatalf("ListChats with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 summaries with limit, got %d", len(limited))
	}
}

func TestActiveChat(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	scope := chat.Scope{ProjectID: 1, BranchID: 1}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	// No chats at all.
	if _, ok, err := m.ActiveChat(ctx, scope); err != nil || ok {
		t.Fatalf("Expected no active chat, got ok=%v err=%v", ok, err)
	}

	first, err := m.Create(ctx, scope, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock = base.Add(time.Minute)
	second, err := m.Create(ctx, scope, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Most recently updated active chat wins.
	number, ok, err := m.ActiveChat(ctx, scope)
	if err != nil || !ok {
		t.Fatalf("ActiveChat failed: ok=%v err=%v", ok, err)
	}
	if number != second.Number {
		t.Errorf("Expected active chat %d, got %d", second.Number, number)
	}

	// Completing the newest chat falls back to the older active one.
	clock = base.Add(2 * time.Minute)
	if err := m.SetStatus(ctx, second.Key(), chat.StatusComplete); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	number, ok, err = m.ActiveChat(ctx, scope)
	if err != nil || !ok {
		t.Fatalf("ActiveChat failed: ok=%v err=%v", ok, err)
	}
	if number != first.Number {
		t.Errorf("Expected fallback to chat %d, got %d", first.Number, number)
	}

	// Processing counts as active for resumption purposes.
	clock = base.Add(3 * time.Minute)
	if err := m.SetStatus(ctx, first.Key(), chat.StatusProcessing); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	number, ok, err = m.ActiveChat(ctx, scope)
	if err != nil || !ok || number != first.Number {
		t.Errorf("Expected processing chat %d to be active, got %d (ok=%v err=%v)", first.Number, number, ok, err)
	}
}

func TestCleanupRemovesOnlyStaleChats(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	scope := chat.Scope{ProjectID: 1, BranchID: 1}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base.Add(-40 * 24 * time.Hour)
	m.now = func() time.Time { return clock }

	stale, err := m.Create(ctx, scope, "old")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	clock = base.Add(-24 * time.Hour)
	fresh, err := m.Create(ctx, scope, "recent")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	clock = base
	removed, err := m.Cleanup(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 chat removed, got %d", removed)
	}

	if _, err := m.Get(ctx, stale.Key()); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("Stale chat should be gone, got %v", err)
	}
	if _, err := m.Get(ctx, fresh.Key()); err != nil {
		t.Errorf("Fresh chat should survive: %v", err)
	}
}

func TestDeleteProjectPurgesCache(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, chat.Scope{ProjectID: 7, BranchID: 1}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	other, err := m.Create(ctx, chat.Scope{ProjectID: 8, BranchID: 1}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, ok := m.CachedStatus(c.Key()); !ok {
		t.Fatal("Expected cached status after create")
	}

	removed, err := m.DeleteProject(ctx, 7)
	if err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 chat removed, got %d", removed)
	}

	if _, ok := m.CachedStatus(c.Key()); ok {
		t.Error("Cache entry for deleted project should be purged")
	}
	if _, ok := m.CachedStatus(other.Key()); !ok {
		t.Error("Cache entry for other project should survive")
	}
	if _, err := m.Get(ctx, other.Key()); err != nil {
		t.Errorf("Other project's chat should survive: %v", err)
	}
}

func TestUpdateEmptyPatchIsNoop(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, chat.Scope{ProjectID: 1, BranchID: 1}, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := m.Update(ctx, c.Key(), chat.Patch{}); err != nil {
		t.Fatalf("Empty patch should succeed: %v", err)
	}

	got, err := m.Get(ctx, c.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.UpdatedAt.Equal(c.UpdatedAt) {
		t.Errorf("Empty patch must not touch UpdatedAt: %v vs %v", got.UpdatedAt, c.UpdatedAt)
	}
}
