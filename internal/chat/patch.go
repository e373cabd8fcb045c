package chat

import "time"

// Patch is a partial update to a chat record. Sequence-valued fields are
// append-only by construction: AppendMessages and AppendResults extend the
// stored sequences and there is no way to express a replacement, so
// concurrent appenders cannot clobber each other's entries. Scalar fields
// use explicit Set flags so the zero value stays distinguishable from
// "set to empty".
type Patch struct {
	AppendMessages []Message
	AppendResults  []AgentResult

	Title    string
	SetTitle bool

	Status    Status
	SetStatus bool

	// MergeMetadata entries are merged key-by-key into the chat's
	// metadata mapping, overwriting existing keys.
	MergeMetadata map[string]any
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.AppendMessages) == 0 &&
		len(p.AppendResults) == 0 &&
		!p.SetTitle &&
		!p.SetStatus &&
		len(p.MergeMetadata) == 0
}

// Apply mutates c according to the patch and refreshes UpdatedAt.
// UpdatedAt never moves backwards even if the clock does.
func (p Patch) Apply(c *Chat, now time.Time) {
	c.Messages = append(c.Messages, p.AppendMessages...)
	c.AgentResults = append(c.AgentResults, p.AppendResults...)
	if p.SetTitle {
		c.Title = p.Title
	}
	if p.SetStatus {
		c.Status = p.Status
	}
	if len(p.MergeMetadata) > 0 {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, len(p.MergeMetadata))
		}
		for k, v := range p.MergeMetadata {
			c.Metadata[k] = v
		}
	}
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}
