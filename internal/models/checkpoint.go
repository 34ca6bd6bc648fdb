package models

import (
	"encoding/json"
	"sort"
	"time"
)

// CheckpointSchemaVersion is bumped whenever the persisted layout changes in
// a way old readers cannot handle. Loads of unknown versions are refused.
const CheckpointSchemaVersion = 1

// ItemSet is a set of completed item IDs, serialized as a sorted string
// array so checkpoint files diff cleanly.
type ItemSet map[string]struct{}

// NewItemSet builds a set from the given items.
func NewItemSet(items ...string) ItemSet {
	s := make(ItemSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Add inserts an item.
func (s ItemSet) Add(item string) {
	s[item] = struct{}{}
}

// Has reports membership.
func (s ItemSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Merge adds every item of other into s.
func (s ItemSet) Merge(other ItemSet) {
	for it := range other {
		s[it] = struct{}{}
	}
}

// Contains reports whether s is a superset of other.
func (s ItemSet) Contains(other ItemSet) bool {
	for it := range other {
		if !s.Has(it) {
			return false
		}
	}
	return true
}

// Sorted returns the items in lexicographic order.
func (s ItemSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for it := range s {
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s ItemSet) Clone() ItemSet {
	out := make(ItemSet, len(s))
	for it := range s {
		out[it] = struct{}{}
	}
	return out
}

// MarshalJSON implements json.Marshaler as a sorted array.
func (s ItemSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler from an array.
func (s *ItemSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewItemSet(items...)
	return nil
}

// Checkpoint is the durable record of one run's progress. It is rewritten
// atomically after every completed item and at every stage boundary, so a
// reader always sees either the prior or the current complete snapshot.
type Checkpoint struct {
	RunID               RunID                      `json:"run_id"`
	Stage               Stage                      `json:"stage"`
	StageProgress       float64                    `json:"stage_progress"`
	CompletedItems      ItemSet                    `json:"completed_items"`
	CurrentItem         string                     `json:"current_item,omitempty"`
	CurrentItemProgress float64                    `json:"current_item_progress,omitempty"`
	LastError           string                     `json:"last_error,omitempty"`
	RetryCount          int                        `json:"retry_count"`
	CreatedAt           time.Time                  `json:"created_at"`
	UpdatedAt           time.Time                  `json:"updated_at"`
	ConfigSnapshot      json.RawMessage            `json:"config_snapshot,omitempty"`
	Artifacts           map[string]json.RawMessage `json:"artifacts,omitempty"`
	SchemaVersion       int                        `json:"schema_version"`
}

// NewCheckpoint initializes a pending checkpoint for a fresh run.
func NewCheckpoint(runID RunID, configSnapshot json.RawMessage) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		RunID:          runID,
		Stage:          StagePending,
		CompletedItems: NewItemSet(),
		CreatedAt:      now,
		UpdatedAt:      now,
		ConfigSnapshot: configSnapshot,
		Artifacts:      make(map[string]json.RawMessage),
		SchemaVersion:  CheckpointSchemaVersion,
	}
}

// IsTerminal reports whether the checkpoint records a finished run.
func (c *Checkpoint) IsTerminal() bool {
	return c.Stage.IsTerminal()
}

// AdvanceStage moves the cursor to the next stage and resets the per-stage
// fields. Completed items belong to a single stage, so the set is cleared.
func (c *Checkpoint) AdvanceStage(next Stage) {
	c.Stage = next
	c.StageProgress = 0
	c.CompletedItems = NewItemSet()
	c.CurrentItem = ""
	c.CurrentItemProgress = 0
	c.RetryCount = 0
	c.LastError = ""
}

// SetArtifact stores a stage output for resume. The value must marshal to
// JSON; relationships between artifacts are by integer ID, never pointers.
func (c *Checkpoint) SetArtifact(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.Artifacts == nil {
		c.Artifacts = make(map[string]json.RawMessage)
	}
	c.Artifacts[key] = data
	return nil
}

// Artifact decodes a stored stage output into v. It returns false when the
// key is absent.
func (c *Checkpoint) Artifact(key string, v any) (bool, error) {
	data, ok := c.Artifacts[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, err
	}
	return true, nil
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	out.CompletedItems = c.CompletedItems.Clone()
	if c.Artifacts != nil {
		out.Artifacts = make(map[string]json.RawMessage, len(c.Artifacts))
		for k, v := range c.Artifacts {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			out.Artifacts[k] = cp
		}
	}
	if c.ConfigSnapshot != nil {
		cp := make(json.RawMessage, len(c.ConfigSnapshot))
		copy(cp, c.ConfigSnapshot)
		out.ConfigSnapshot = cp
	}
	return &out
}
