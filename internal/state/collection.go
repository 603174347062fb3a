package state

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sandpolis/sandpolis/internal/oid"
)

var (
	// ErrTagInUse is returned when inserting a document at an occupied tag.
	ErrTagInUse = errors.New("state: tag already in use")

	// ErrForeignDocument is returned when inserting a document that was
	// not allocated for the collection.
	ErrForeignDocument = errors.New("state: document belongs to another collection")

	// ErrCollectionFull is returned when no tag is left to allocate.
	ErrCollectionFull = errors.New("state: collection tag space exhausted")
)

// Collection is a tag-indexed set of sibling documents sharing one
// shape. Its tag space is independent of its parent document's.
type Collection struct {
	oid    oid.Oid
	tree   *Tree
	staged *atomic.Bool

	mu        sync.RWMutex
	documents map[uint32]*Document
	reserved  uint32 // highest tag handed out or seen
}

func newCollection(t *Tree, o oid.Oid, staged *atomic.Bool) *Collection {
	return &Collection{
		oid:       o,
		tree:      t,
		staged:    staged,
		documents: make(map[uint32]*Document),
	}
}

// Oid returns the collection's identifier.
func (c *Collection) Oid() oid.Oid { return c.oid }

// Tag returns the collection's tag within its parent.
func (c *Collection) Tag() uint32 { return c.oid.Tag() }

// Len returns the number of documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.documents)
}

// NewDocument allocates an empty document at a fresh tag. The document is
// not part of the collection until passed to Insert, and writes beneath
// it publish no AttributeChanged events until then. Tags are never
// handed out twice, even if the document is discarded.
func (c *Collection) NewDocument() (*Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.reserved < oid.MaxTag {
		c.reserved++
		if _, taken := c.documents[c.reserved]; !taken {
			staged := new(atomic.Bool)
			staged.Store(true)
			return newDocument(c.tree, c.oid.MustAppend(c.reserved, oid.KindDocument), staged), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCollectionFull, c.oid)
}

// Insert registers d, which must have been allocated by NewDocument on
// this collection.
func (c *Collection) Insert(d *Document) error {
	if d.tree != c.tree || !d.oid.Parent().Equal(c.oid) {
		return fmt.Errorf("%w: %s into %s", ErrForeignDocument, d.oid, c.oid)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tag := d.Tag()
	if _, taken := c.documents[tag]; taken {
		return fmt.Errorf("%w: %d in %s", ErrTagInUse, tag, c.oid)
	}
	c.documents[tag] = d
	c.reserved = max(c.reserved, tag)
	if d.staged != nil {
		d.staged.Store(false)
	}
	return nil
}

// Get returns the document at tag without creating it.
func (c *Collection) Get(tag uint32) (*Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.documents[tag]
	return d, ok
}

// Contains reports whether d is the document registered at its tag.
func (c *Collection) Contains(d *Document) bool {
	got, ok := c.Get(d.Tag())
	return ok && got == d
}

// Document returns the document at tag, creating it on first access.
func (c *Collection) Document(tag uint32) *Document {
	c.mu.RLock()
	d, ok := c.documents[tag]
	c.mu.RUnlock()
	if ok {
		return d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.documents[tag]; ok {
		return d
	}
	d = newDocument(c.tree, c.oid.MustAppend(tag, oid.KindDocument), c.staged)
	c.documents[tag] = d
	c.reserved = max(c.reserved, tag)
	return d
}

// Remove drops the document at tag with its whole subtree.
func (c *Collection) Remove(tag uint32) (*Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.documents[tag]
	delete(c.documents, tag)
	return d, ok
}

// Tags returns the tags in use, ascending.
func (c *Collection) Tags() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.documents))
}

// All yields the documents ordered by tag. It reads the current contents
// on each call.
func (c *Collection) All() iter.Seq2[uint32, *Document] {
	return func(yield func(uint32, *Document) bool) {
		c.mu.RLock()
		copied := maps.Clone(c.documents)
		c.mu.RUnlock()

		for _, tag := range slices.Sorted(maps.Keys(copied)) {
			if !yield(tag, copied[tag]) {
				return
			}
		}
	}
}
