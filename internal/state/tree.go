package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/sandpolis/sandpolis/internal/event"
	"github.com/sandpolis/sandpolis/internal/oid"
)

var (
	// ErrKindMismatch is returned when an Oid addresses a node of another
	// kind than the operation expects.
	ErrKindMismatch = errors.New("state: node kind mismatch")

	// ErrNotFound is returned by non-creating lookups.
	ErrNotFound = errors.New("state: node not found")
)

// Publisher receives tree events. *event.Bus implements it.
type Publisher interface {
	Publish(e event.Event)
}

// RetentionPolicy returns the retention applied to a newly created
// attribute. ok is false when the attribute has no declared policy.
type RetentionPolicy func(o oid.Oid) (r Retention, ok bool)

// Tree is the process-wide state context. Construct one at startup with
// New and pass it to every collaborator.
type Tree struct {
	root *Document

	clock     Clock
	publisher Publisher
	logger    *slog.Logger
	retention RetentionPolicy

	closed atomic.Bool
}

// Option configures a Tree.
type Option func(*Tree)

// WithClock sets the clock used to stamp values.
func WithClock(c Clock) Option {
	return func(t *Tree) {
		t.clock = c
	}
}

// WithPublisher sets the destination of AttributeChanged events.
func WithPublisher(p Publisher) Option {
	return func(t *Tree) {
		t.publisher = p
	}
}

// WithLogger sets the tree's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tree) {
		t.logger = logger
	}
}

// WithRetentionPolicy sets the policy consulted when an attribute is
// first created.
func WithRetentionPolicy(p RetentionPolicy) Option {
	return func(t *Tree) {
		t.retention = p
	}
}

// New creates an empty tree.
func New(opts ...Option) *Tree {
	t := &Tree{
		clock:  RealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.root = newDocument(t, oid.Root(), nil)
	return t
}

// Root returns the root document.
func (t *Tree) Root() *Document { return t.root }

// Logger returns the tree's logger.
func (t *Tree) Logger() *slog.Logger { return t.logger }

// Close stops event delivery. The tree stays readable.
func (t *Tree) Close() {
	if t.closed.CompareAndSwap(false, true) {
		t.logger.Debug("state tree closed")
	}
}

func (t *Tree) now() int64 {
	return t.clock.Now().UnixMilli()
}

func (t *Tree) publish(e event.Event) {
	if t.publisher == nil || t.closed.Load() {
		return
	}
	t.publisher.Publish(e)
}

func (t *Tree) retentionFor(o oid.Oid) Retention {
	if t.retention == nil {
		return Retention{}
	}
	r, ok := t.retention(o)
	if !ok {
		return Retention{}
	}
	return r
}

// Attribute returns the attribute at o, creating it and every missing
// ancestor.
func (t *Tree) Attribute(o oid.Oid) (*Attribute, error) {
	if o.Kind() != oid.KindAttribute || o.IsRoot() {
		return nil, fmt.Errorf("%w: %s is not an attribute", ErrKindMismatch, o)
	}
	parent, err := t.walk(o.Parent(), true)
	if err != nil {
		return nil, err
	}
	doc, ok := parent.(*Document)
	if !ok {
		return nil, fmt.Errorf("%w: parent of %s is not a document", ErrKindMismatch, o)
	}
	return doc.Attribute(o.Tag()), nil
}

// Document returns the document at o, creating it and every missing
// ancestor.
func (t *Tree) Document(o oid.Oid) (*Document, error) {
	node, err := t.walk(o, true)
	if err != nil {
		return nil, err
	}
	doc, ok := node.(*Document)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a document", ErrKindMismatch, o)
	}
	return doc, nil
}

// Collection returns the collection at o, creating it and every missing
// ancestor.
func (t *Tree) Collection(o oid.Oid) (*Collection, error) {
	node, err := t.walk(o, true)
	if err != nil {
		return nil, err
	}
	c, ok := node.(*Collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a collection", ErrKindMismatch, o)
	}
	return c, nil
}

// Lookup returns the existing node at o without creating anything. The
// result is a *Document, *Collection or *Attribute.
func (t *Tree) Lookup(o oid.Oid) (any, error) {
	if o.Kind() == oid.KindAttribute && !o.IsRoot() {
		parent, err := t.walk(o.Parent(), false)
		if err != nil {
			return nil, err
		}
		doc, ok := parent.(*Document)
		if !ok {
			return nil, fmt.Errorf("%w: parent of %s is not a document", ErrKindMismatch, o)
		}
		a, ok := doc.GetAttribute(o.Tag())
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, o)
		}
		return a, nil
	}
	return t.walk(o, false)
}

// Follow resolves the relation tag of doc to its target document.
func (t *Tree) Follow(doc *Document, tag uint32) (*Document, error) {
	target, ok := doc.Relation(tag)
	if !ok {
		return nil, fmt.Errorf("%w: relation %d of %s", ErrNotFound, tag, doc.Oid())
	}
	node, err := t.walk(target, false)
	if err != nil {
		return nil, err
	}
	d, ok := node.(*Document)
	if !ok {
		return nil, fmt.Errorf("%w: relation target %s is not a document", ErrKindMismatch, target)
	}
	return d, nil
}

// walk descends from the root through document and collection
// components. Attributes and relations are leaves and cannot be walked
// through.
func (t *Tree) walk(o oid.Oid, create bool) (any, error) {
	var node any = t.root
	for _, c := range o.Components() {
		switch n := node.(type) {
		case *Document:
			switch c.Kind() {
			case oid.KindDocument:
				if create {
					node = n.Document(c.Tag())
				} else if d, ok := n.GetDocument(c.Tag()); ok {
					node = d
				} else {
					return nil, fmt.Errorf("%w: %s", ErrNotFound, o)
				}
			case oid.KindCollection:
				if create {
					node = n.Collection(c.Tag())
				} else if col, ok := n.GetCollection(c.Tag()); ok {
					node = col
				} else {
					return nil, fmt.Errorf("%w: %s", ErrNotFound, o)
				}
			default:
				return nil, fmt.Errorf("%w: cannot descend through %s component of %s", ErrKindMismatch, c.Kind(), o)
			}
		case *Collection:
			if c.Kind() != oid.KindDocument {
				return nil, fmt.Errorf("%w: collection elements of %s must be documents", ErrKindMismatch, o)
			}
			if create {
				node = n.Document(c.Tag())
			} else if d, ok := n.Get(c.Tag()); ok {
				node = d
			} else {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, o)
			}
		}
	}
	return node, nil
}

// Snapshot captures the whole tree, or only the subtrees named by
// selectors.
func (t *Tree) Snapshot(selectors ...oid.Oid) (*DocumentSnapshot, error) {
	return t.root.Snapshot(selectors...)
}

// Merge applies snap to the root document.
func (t *Tree) Merge(snap *DocumentSnapshot) error {
	return t.root.Merge(snap)
}
