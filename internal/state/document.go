package state

import (
	"iter"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sandpolis/sandpolis/internal/oid"
)

// Document is a container of attributes, sub-documents, collections and
// relations, each keyed by tag. Children are owned by the document;
// relations only name their target.
type Document struct {
	oid  oid.Oid
	tree *Tree

	// staged is set on a document from NewDocument and shared with every
	// node beneath it. Its attributes publish nothing while it holds true.
	staged *atomic.Bool

	mu          sync.RWMutex
	attributes  map[uint32]*Attribute
	documents   map[uint32]*Document
	collections map[uint32]*Collection
	relations   map[uint32]oid.Oid
}

func newDocument(t *Tree, o oid.Oid, staged *atomic.Bool) *Document {
	return &Document{
		oid:         o,
		tree:        t,
		staged:      staged,
		attributes:  make(map[uint32]*Attribute),
		documents:   make(map[uint32]*Document),
		collections: make(map[uint32]*Collection),
		relations:   make(map[uint32]oid.Oid),
	}
}

// Oid returns the document's identifier.
func (d *Document) Oid() oid.Oid { return d.oid }

// Tag returns the document's tag within its parent.
func (d *Document) Tag() uint32 { return d.oid.Tag() }

// Tree returns the tree the document belongs to.
func (d *Document) Tree() *Tree { return d.tree }

// getOrCreate implements create-on-read: exactly one child is created
// for a tag even under concurrent first access.
func getOrCreate[T any](d *Document, children map[uint32]*T, tag uint32, create func() *T) *T {
	d.mu.RLock()
	child, ok := children[tag]
	d.mu.RUnlock()
	if ok {
		return child
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if child, ok := children[tag]; ok {
		return child
	}
	child = create()
	children[tag] = child
	return child
}

// Attribute returns the attribute at tag, creating it on first access.
func (d *Document) Attribute(tag uint32) *Attribute {
	return getOrCreate(d, d.attributes, tag, func() *Attribute {
		return newAttribute(d.tree, d, d.oid.MustAppend(tag, oid.KindAttribute))
	})
}

// Document returns the sub-document at tag, creating it on first access.
func (d *Document) Document(tag uint32) *Document {
	return getOrCreate(d, d.documents, tag, func() *Document {
		return newDocument(d.tree, d.oid.MustAppend(tag, oid.KindDocument), d.staged)
	})
}

// Collection returns the collection at tag, creating it on first access.
func (d *Document) Collection(tag uint32) *Collection {
	return getOrCreate(d, d.collections, tag, func() *Collection {
		return newCollection(d.tree, d.oid.MustAppend(tag, oid.KindCollection), d.staged)
	})
}

// GetAttribute returns the attribute at tag without creating it.
func (d *Document) GetAttribute(tag uint32) (*Attribute, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.attributes[tag]
	return a, ok
}

// GetDocument returns the sub-document at tag without creating it.
func (d *Document) GetDocument(tag uint32) (*Document, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.documents[tag]
	return c, ok
}

// GetCollection returns the collection at tag without creating it.
func (d *Document) GetCollection(tag uint32) (*Collection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collections[tag]
	return c, ok
}

// RemoveAttribute drops the attribute at tag.
func (d *Document) RemoveAttribute(tag uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.attributes[tag]
	delete(d.attributes, tag)
	return ok
}

// RemoveDocument drops the sub-document at tag with its whole subtree.
func (d *Document) RemoveDocument(tag uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.documents[tag]
	delete(d.documents, tag)
	return ok
}

// RemoveCollection drops the collection at tag with every element.
func (d *Document) RemoveCollection(tag uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.collections[tag]
	delete(d.collections, tag)
	return ok
}

// SetRelation points the relation at tag to target.
func (d *Document) SetRelation(tag uint32, target oid.Oid) {
	// Validates the tag.
	d.oid.MustAppend(tag, oid.KindRelation)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.relations[tag] = target
}

// Relation returns the target of the relation at tag.
func (d *Document) Relation(tag uint32) (oid.Oid, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	target, ok := d.relations[tag]
	return target, ok
}

// RemoveRelation drops the relation at tag. The target is untouched.
func (d *Document) RemoveRelation(tag uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.relations[tag]
	delete(d.relations, tag)
	return ok
}

// Attributes yields the document's attributes ordered by tag.
func (d *Document) Attributes() iter.Seq2[uint32, *Attribute] {
	return orderedChildren(d, d.attributes)
}

// Documents yields the document's sub-documents ordered by tag.
func (d *Document) Documents() iter.Seq2[uint32, *Document] {
	return orderedChildren(d, d.documents)
}

// Collections yields the document's collections ordered by tag.
func (d *Document) Collections() iter.Seq2[uint32, *Collection] {
	return orderedChildren(d, d.collections)
}

// orderedChildren copies the children under the read lock so the caller
// can mutate the document while iterating.
func orderedChildren[T any](d *Document, children map[uint32]*T) iter.Seq2[uint32, *T] {
	return func(yield func(uint32, *T) bool) {
		d.mu.RLock()
		copied := maps.Clone(children)
		d.mu.RUnlock()

		for _, tag := range slices.Sorted(maps.Keys(copied)) {
			if !yield(tag, copied[tag]) {
				return
			}
		}
	}
}

func (d *Document) relationsCopy() map[uint32]oid.Oid {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.relations)
}
