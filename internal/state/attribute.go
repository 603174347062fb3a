package state

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/sandpolis/sandpolis/internal/oid"
)

// ErrUnsupportedPartial is returned when a partial snapshot of an
// attribute is requested. Attributes are atomic.
var ErrUnsupportedPartial = errors.New("state: attributes do not support partial snapshots")

// TopicAttributeChanged is the topic of AttributeChanged.
const TopicAttributeChanged = "attribute.changed"

// AttributeChanged is published after every Set and Merge, including
// writes that leave the value unchanged. Attributes of a document that
// is allocated but not yet inserted publish nothing.
type AttributeChanged struct {
	Oid oid.Oid
	Old Value
	New Value
}

func (AttributeChanged) Topic() string { return TopicAttributeChanged }

// Entry is one value with the unix millisecond timestamp it was set at.
type Entry struct {
	Value     Value
	Timestamp int64
}

// Time returns the entry's timestamp as a time.Time in UTC.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Source computes an attribute's value on every read.
type Source func() Value

// Attribute is a single versioned value cell. All operations on one
// attribute are serialized; different attributes never contend.
type Attribute struct {
	oid    oid.Oid
	tree   *Tree
	parent weak.Pointer[Document]
	staged *atomic.Bool

	mu        sync.Mutex
	current   Value
	timestamp int64 // 0 when absent
	history   []Entry
	retention Retention
	source    Source
}

func newAttribute(t *Tree, parent *Document, o oid.Oid) *Attribute {
	return &Attribute{
		oid:       o,
		tree:      t,
		parent:    weak.Make(parent),
		staged:    parent.staged,
		retention: t.retentionFor(o),
	}
}

// Oid returns the attribute's identifier.
func (a *Attribute) Oid() oid.Oid { return a.oid }

// Parent returns the owning document, or nil once it is unreachable.
func (a *Attribute) Parent() *Document { return a.parent.Value() }

// Get returns the source's value when a source is installed, otherwise
// the stored value. It returns nil when absent.
func (a *Attribute) Get() Value {
	a.mu.Lock()
	source := a.source
	current := a.current
	a.mu.Unlock()

	if source != nil {
		return source()
	}
	return clone(current)
}

// IsPresent reports whether Get would return a value.
func (a *Attribute) IsPresent() bool {
	return a.Get() != nil
}

// Timestamp returns the unix millisecond timestamp of the stored value,
// or 0 when absent.
func (a *Attribute) Timestamp() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timestamp
}

// History returns past values, oldest first. The current value is not
// included.
func (a *Attribute) History() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneEntries(a.history)
}

// Retention returns the attribute's policy.
func (a *Attribute) Retention() Retention {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retention
}

// SetRetention replaces the policy and trims history to fit it.
func (a *Attribute) SetRetention(r Retention) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retention = r
	a.history = r.enforce(a.history, a.timestamp)
}

// SetSource installs a computed value source. Pass nil to remove it.
func (a *Attribute) SetSource(s Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = s
}

// Set stores v stamped with the current time. A nil v clears the value
// and all history. With a retention policy the previous value is pushed
// onto history first.
func (a *Attribute) Set(v Value) {
	now := a.tree.now()

	a.mu.Lock()
	old := a.current
	if v == nil {
		a.clearLocked()
	} else {
		if a.retention.Retains() && a.current != nil {
			a.history = append(a.history, Entry{Value: a.current, Timestamp: a.timestamp})
		}
		a.current = clone(v)
		a.timestamp = now
		a.history = a.retention.enforce(a.history, a.timestamp)
	}
	a.mu.Unlock()

	a.publish(old, v)
}

func (a *Attribute) clearLocked() {
	a.current = nil
	a.timestamp = 0
	a.history = nil
}

// Merge replaces the attribute's state with entries: the first entry
// becomes the current value and the rest become history verbatim. An
// empty sequence is equivalent to Set(nil).
func (a *Attribute) Merge(entries []Entry) {
	a.mu.Lock()
	old := a.current
	var current Value
	if len(entries) == 0 || entries[0].Value == nil {
		a.clearLocked()
	} else {
		a.current = clone(entries[0].Value)
		a.timestamp = entries[0].Timestamp
		a.history = cloneEntries(entries[1:])
		current = a.current
	}
	a.mu.Unlock()

	a.publish(old, current)
}

func (a *Attribute) publish(old, current Value) {
	if a.staged != nil && a.staged.Load() {
		return
	}
	a.tree.publish(AttributeChanged{Oid: a.oid, Old: old, New: clone(current)})
}

// Snapshot enforces retention and returns the current entry followed by
// history, oldest first. An absent attribute yields an empty snapshot.
// Any selector is an error.
func (a *Attribute) Snapshot(selectors ...oid.Oid) (AttributeSnapshot, error) {
	if len(selectors) > 0 {
		a.tree.logger.Error("partial attribute snapshot rejected", "oid", a.oid.String())
		return nil, ErrUnsupportedPartial
	}

	a.mu.Lock()
	a.history = a.retention.enforce(a.history, a.timestamp)
	source := a.source
	snap := make(AttributeSnapshot, 0, 1+len(a.history))
	if source == nil && a.current != nil {
		snap = append(snap, Entry{Value: clone(a.current), Timestamp: a.timestamp})
		snap = append(snap, cloneEntries(a.history)...)
	}
	a.mu.Unlock()

	if source != nil {
		if v := source(); v != nil {
			snap = append(snap, Entry{Value: clone(v), Timestamp: a.tree.now()})
		}
	}
	return snap, nil
}

func cloneEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := slices.Clone(entries)
	for i := range out {
		out[i].Value = clone(out[i].Value)
	}
	return out
}
