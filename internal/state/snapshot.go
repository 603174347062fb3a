package state

import (
	"github.com/sandpolis/sandpolis/internal/oid"
)

// AttributeSnapshot is the current entry followed by history, oldest
// first. An empty snapshot means absent.
type AttributeSnapshot []Entry

// DocumentSnapshot is the recursive snapshot of a document keyed by child
// tag. When Partial is set, children missing from the snapshot are left
// untouched by Merge; otherwise Merge removes them.
type DocumentSnapshot struct {
	Partial     bool
	Attributes  map[uint32]AttributeSnapshot
	Documents   map[uint32]*DocumentSnapshot
	Collections map[uint32]*CollectionSnapshot
	Relations   map[uint32]oid.Oid
}

// CollectionSnapshot is the snapshot of a collection keyed by element tag.
type CollectionSnapshot struct {
	Partial   bool
	Documents map[uint32]*DocumentSnapshot
}

// selection narrows selectors to the child at o. all is true when the
// child is included in full; otherwise sub holds the selectors that fall
// below it, and an empty sub excludes the child.
func selection(o oid.Oid, selectors []oid.Oid) (all bool, sub []oid.Oid) {
	for _, s := range selectors {
		if s.Equal(o) || s.IsAncestorOf(o) {
			return true, nil
		}
		if o.IsAncestorOf(s) {
			sub = append(sub, s)
		}
	}
	return false, sub
}

// Snapshot captures the document. With selectors, only the named
// descendants are captured and the result is marked Partial.
func (d *Document) Snapshot(selectors ...oid.Oid) (*DocumentSnapshot, error) {
	partial := false
	if len(selectors) > 0 {
		all, sub := selection(d.oid, selectors)
		if all {
			selectors = nil
		} else {
			selectors = sub
			partial = true
		}
	}

	snap := &DocumentSnapshot{
		Partial:     partial,
		Attributes:  make(map[uint32]AttributeSnapshot),
		Documents:   make(map[uint32]*DocumentSnapshot),
		Collections: make(map[uint32]*CollectionSnapshot),
		Relations:   make(map[uint32]oid.Oid),
	}

	for tag, a := range d.Attributes() {
		var below []oid.Oid
		if partial {
			all, sub := selection(a.oid, selectors)
			if !all && len(sub) == 0 {
				continue
			}
			below = sub
		}
		entries, err := a.Snapshot(below...)
		if err != nil {
			return nil, err
		}
		snap.Attributes[tag] = entries
	}

	for tag, child := range d.Documents() {
		sub, include := narrow(child.oid, selectors, partial)
		if !include {
			continue
		}
		childSnap, err := child.Snapshot(sub...)
		if err != nil {
			return nil, err
		}
		snap.Documents[tag] = childSnap
	}

	for tag, c := range d.Collections() {
		sub, include := narrow(c.oid, selectors, partial)
		if !include {
			continue
		}
		colSnap, err := c.Snapshot(sub...)
		if err != nil {
			return nil, err
		}
		snap.Collections[tag] = colSnap
	}

	for tag, target := range d.relationsCopy() {
		if partial {
			relOid := d.oid.MustAppend(tag, oid.KindRelation)
			if all, _ := selection(relOid, selectors); !all {
				continue
			}
		}
		snap.Relations[tag] = target
	}

	return snap, nil
}

// narrow returns the selectors to pass to a child container. include is
// false when the child is outside every selector.
func narrow(o oid.Oid, selectors []oid.Oid, partial bool) ([]oid.Oid, bool) {
	if !partial {
		return nil, true
	}
	all, sub := selection(o, selectors)
	if all {
		return nil, true
	}
	return sub, len(sub) > 0
}

// Merge applies snap. Attributes are merged entry for entry; a full
// snapshot also clears attributes and removes children it does not
// mention.
func (d *Document) Merge(snap *DocumentSnapshot) error {
	if snap == nil {
		return nil
	}

	for tag, entries := range snap.Attributes {
		d.Attribute(tag).Merge(entries)
	}
	for tag, childSnap := range snap.Documents {
		if err := d.Document(tag).Merge(childSnap); err != nil {
			return err
		}
	}
	for tag, colSnap := range snap.Collections {
		if err := d.Collection(tag).Merge(colSnap); err != nil {
			return err
		}
	}
	for tag, target := range snap.Relations {
		d.SetRelation(tag, target)
	}

	if snap.Partial {
		return nil
	}

	for tag, a := range d.Attributes() {
		if _, ok := snap.Attributes[tag]; !ok && a.IsPresent() {
			a.Merge(nil)
		}
	}
	for tag := range d.Documents() {
		if _, ok := snap.Documents[tag]; !ok {
			d.RemoveDocument(tag)
		}
	}
	for tag := range d.Collections() {
		if _, ok := snap.Collections[tag]; !ok {
			d.RemoveCollection(tag)
		}
	}
	for tag := range d.relationsCopy() {
		if _, ok := snap.Relations[tag]; !ok {
			d.RemoveRelation(tag)
		}
	}
	return nil
}

// Snapshot captures the collection's documents.
func (c *Collection) Snapshot(selectors ...oid.Oid) (*CollectionSnapshot, error) {
	partial := false
	if len(selectors) > 0 {
		all, sub := selection(c.oid, selectors)
		if all {
			selectors = nil
		} else {
			selectors = sub
			partial = true
		}
	}

	snap := &CollectionSnapshot{
		Partial:   partial,
		Documents: make(map[uint32]*DocumentSnapshot),
	}
	for tag, d := range c.All() {
		sub, include := narrow(d.oid, selectors, partial)
		if !include {
			continue
		}
		docSnap, err := d.Snapshot(sub...)
		if err != nil {
			return nil, err
		}
		snap.Documents[tag] = docSnap
	}
	return snap, nil
}

// Merge applies snap. A full snapshot removes documents it does not
// mention.
func (c *Collection) Merge(snap *CollectionSnapshot) error {
	if snap == nil {
		return nil
	}
	for tag, docSnap := range snap.Documents {
		if err := c.Document(tag).Merge(docSnap); err != nil {
			return err
		}
	}
	if snap.Partial {
		return nil
	}
	for _, tag := range c.Tags() {
		if _, ok := snap.Documents[tag]; !ok {
			c.Remove(tag)
		}
	}
	return nil
}
