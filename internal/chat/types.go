// Package chat defines the data model for numbered, durable chats.
// A chat is addressed by (project, branch, number); numbers are assigned
// per (project, branch) scope, strictly increasing, starting at 1.
package chat

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a chat.
type Status string

const (
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the four defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusProcessing, StatusComplete, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
// Complete and error chats are never reopened; resuming work means
// creating a fresh chat under a new number.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Key is the composite identity of a chat.
type Key struct {
	ProjectID int64
	BranchID  int64
	Number    int64
}

// Scope is the (project, branch) pair that owns a chat-number sequence.
type Scope struct {
	ProjectID int64
	BranchID  int64
}

// Scope returns the numbering scope the key belongs to.
func (k Key) Scope() Scope {
	return Scope{ProjectID: k.ProjectID, BranchID: k.BranchID}
}

func (k Key) String() string {
	return fmt.Sprintf("p%d/b%d/n%d", k.ProjectID, k.BranchID, k.Number)
}

func (s Scope) String() string {
	return fmt.Sprintf("p%d/b%d", s.ProjectID, s.BranchID)
}

// Message is one turn in a chat. Messages are exclusively owned by their
// chat and are append-only: no operation removes or reorders them.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AgentResult is the persisted audit form of one agent's contribution to a
// round: either a normalized candidate or the accepted final answer.
type AgentResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Summary any    `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`

	// Final is set on the single result row carrying the round's accepted
	// answer. Candidate rows leave it nil.
	Final *FinalAnswer `json:"final,omitempty"`
}

// Candidate is one agent's raw contribution before reconciliation.
// Candidates are transient: only the normalized list and the accepted
// final answer are persisted, as AgentResults on the owning chat.
type Candidate struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Summary any    `json:"summary"`
	Error   any    `json:"error"`
}

// FinalAnswer is the single accepted outcome of one aggregation round.
type FinalAnswer struct {
	Text       string   `json:"text"`
	Title      string   `json:"title,omitempty"`
	RunSummary []string `json:"run_summary,omitempty"`
}

// Chat is the full durable record of one numbered conversation.
type Chat struct {
	Number       int64          `json:"chat_number"`
	ProjectID    int64          `json:"project_id"`
	BranchID     int64          `json:"branch_id"`
	Title        string         `json:"title"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Status       Status         `json:"status"`
	Messages     []Message      `json:"messages"`
	AgentResults []AgentResult  `json:"agent_results"`
	Metadata     map[string]any `json:"metadata"`
}

// Key returns the chat's composite identity.
func (c *Chat) Key() Key {
	return Key{ProjectID: c.ProjectID, BranchID: c.BranchID, Number: c.Number}
}

// Summary is the bounded listing form of a chat: counts and the most
// recent message instead of the full history.
type Summary struct {
	Number       int64     `json:"chat_number"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Status       Status    `json:"status"`
	MessageCount int       `json:"message_count"`
	LastMessage  *Message  `json:"last_message,omitempty"`
}

// Summarize produces the listing form of c.
func (c *Chat) Summarize() Summary {
	s := Summary{
		Number:       c.Number,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Status:       c.Status,
		MessageCount: len(c.Messages),
	}
	if n := len(c.Messages); n > 0 {
		last := c.Messages[n-1]
		s.LastMessage = &last
	}
	return s
}
