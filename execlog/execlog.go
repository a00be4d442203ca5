// Package execlog records every node status transition of a run in order.
// The log is append-only and safe for concurrent use; Export renders it as
// flat human-readable lines and MarshalJSON as a list of entries.
package execlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentplan/core"
)

// Entry is one status transition.
type Entry struct {
	Seq       int             `json:"seq"`
	NodeID    string          `json:"node_id"`
	From      core.TaskStatus `json:"from"`
	To        core.TaskStatus `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
	Attempt   int             `json:"attempt"`
	Error     string          `json:"error,omitempty"`
}

// String renders the entry as a single line.
func (e Entry) String() string {
	line := fmt.Sprintf("%04d %s %s %s -> %s attempt=%d",
		e.Seq, e.Timestamp.UTC().Format(time.RFC3339Nano), e.NodeID, e.From, e.To, e.Attempt)
	if e.Error != "" {
		line += " error=" + quote(e.Error)
	}
	return line
}

// Log is an ordered append-only list of entries.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// New creates an empty log.
func New() *Log { return &Log{now: time.Now} }

// Append records a transition and returns the stored entry.
func (l *Log) Append(nodeID string, from, to core.TaskStatus, attempt int, err error) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Entry{
		Seq:       len(l.entries) + 1,
		NodeID:    nodeID,
		From:      from,
		To:        to,
		Timestamp: l.now(),
		Attempt:   attempt,
	}
	if err != nil {
		e.Error = err.Error()
	}
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a copy of all entries.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ForNode returns the entries of a single node.
func (l *Log) ForNode(nodeID string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.NodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Export renders the log as flat lines.
func (l *Log) Export() string {
	var b strings.Builder
	for _, e := range l.Entries() {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (l *Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Log) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	if l.now == nil {
		l.now = time.Now
	}
	return nil
}

// VerifyDependencyOrder replays entries and reports the first node that
// started Running before its dependencies were satisfied. A dependency is
// satisfied once Completed; a dependency listed in optional is also
// satisfied by Failed or Skipped. deps maps node id to dependency ids.
func VerifyDependencyOrder(entries []Entry, deps map[string][]string, optional map[string]bool) error {
	last := make(map[string]core.TaskStatus)
	for _, e := range entries {
		if e.To == core.StatusRunning {
			for _, d := range deps[e.NodeID] {
				st, seen := last[d]
				switch {
				case st == core.StatusCompleted:
				case seen && optional[d] && st.IsTerminal():
				case seen && st.IsTerminal():
					return fmt.Errorf("entry %d: %s started after required dependency %s ended %s", e.Seq, e.NodeID, d, st)
				default:
					return fmt.Errorf("entry %d: %s started before dependency %s terminated", e.Seq, e.NodeID, d)
				}
			}
		}
		last[e.NodeID] = e.To
	}
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
