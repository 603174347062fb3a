package schema

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sandpolis/sandpolis/internal/oid"
)

// Schema is the validated, compiled form of a module's document specs.
type Schema struct {
	Module    string
	Namespace uint32

	root      *Document
	documents map[string]*Document
}

// Document is a compiled document spec. It implements oid.Node.
type Document struct {
	Name string

	attributes  []AttributeSpec
	documents   []ChildSpec
	collections []ChildSpec
	relations   []RelationSpec

	schema *Schema
}

// Build validates specs and compiles them into a Schema. root names the
// document spec that sits at the module's namespace tag.
func Build(module, root string, specs []DocumentSpec) (*Schema, error) {
	if module == "" {
		return nil, &Error{Document: "schema", Field: "module", Message: "module name is required"}
	}

	s := &Schema{
		Module:    module,
		Namespace: oid.Namespace(module),
		documents: make(map[string]*Document, len(specs)),
	}

	for _, spec := range specs {
		if !validIdentifier(spec.Name) {
			return nil, &Error{Document: spec.Name, Message: "invalid document name"}
		}
		if _, dup := s.documents[spec.Name]; dup {
			return nil, &Error{Document: spec.Name, Message: "duplicate document"}
		}
		s.documents[spec.Name] = &Document{
			Name:        spec.Name,
			attributes:  sortedByTag(spec.Attributes, func(a AttributeSpec) uint32 { return a.Tag }),
			documents:   sortedByTag(spec.Documents, func(c ChildSpec) uint32 { return c.Tag }),
			collections: sortedByTag(spec.Collections, func(c ChildSpec) uint32 { return c.Tag }),
			relations:   sortedByTag(spec.Relations, func(r RelationSpec) uint32 { return r.Tag }),
			schema:      s,
		}
	}

	for _, doc := range s.documents {
		if err := s.validate(doc); err != nil {
			return nil, err
		}
	}

	rootDoc, ok := s.documents[root]
	if !ok {
		return nil, &Error{Document: "schema", Field: "root", Message: fmt.Sprintf("root document %q not found", root)}
	}
	s.root = rootDoc

	return s, nil
}

func sortedByTag[T any](items []T, tag func(T) uint32) []T {
	out := slices.Clone(items)
	slices.SortFunc(out, func(a, b T) int {
		return int(tag(a)) - int(tag(b))
	})
	return out
}

// validate checks the invariants of one document. Tags and names share a
// single space across all four child kinds of a document.
func (s *Schema) validate(doc *Document) error {
	tags := make(map[uint32]string)
	names := make(map[string]bool)

	claim := func(field string, tag uint32) error {
		if tag == 0 || tag > oid.MaxTag {
			return &Error{Document: doc.Name, Field: field, Message: fmt.Sprintf("invalid tag %d", tag)}
		}
		if !validIdentifier(field) {
			return &Error{Document: doc.Name, Field: field, Message: "invalid name"}
		}
		if other, dup := tags[tag]; dup {
			return &Error{Document: doc.Name, Field: field, Message: fmt.Sprintf("tag %d already used by %s", tag, other)}
		}
		if names[field] {
			return &Error{Document: doc.Name, Field: field, Message: "duplicate name"}
		}
		tags[tag] = field
		names[field] = true
		return nil
	}

	for _, a := range doc.attributes {
		if err := claim(a.Name, a.Tag); err != nil {
			return err
		}
		if a.Type == "" {
			return &Error{Document: doc.Name, Field: a.Name, Message: "missing type"}
		}
		if !a.Type.valid() {
			return &Error{Document: doc.Name, Field: a.Name, Message: fmt.Sprintf("unknown type %q", a.Type)}
		}
		if _, err := ParseRetention(a.Retention); err != nil {
			return &Error{Document: doc.Name, Field: a.Name, Message: err.Error()}
		}
	}
	for _, c := range doc.documents {
		if err := claim(c.Name, c.Tag); err != nil {
			return err
		}
		if _, ok := s.documents[c.Document]; !ok {
			return &Error{Document: doc.Name, Field: c.Name, Message: fmt.Sprintf("failed to find document: %s", c.Document)}
		}
	}
	for _, c := range doc.collections {
		if err := claim(c.Name, c.Tag); err != nil {
			return err
		}
		if _, ok := s.documents[c.Document]; !ok {
			return &Error{Document: doc.Name, Field: c.Name, Message: fmt.Sprintf("failed to find document: %s", c.Document)}
		}
	}
	for _, r := range doc.relations {
		if err := claim(r.Name, r.Tag); err != nil {
			return err
		}
		if _, ok := s.documents[r.Target]; !ok {
			return &Error{Document: doc.Name, Field: r.Name, Message: fmt.Sprintf("failed to find document: %s", r.Target)}
		}
	}
	return nil
}

// Root returns the document spec at the module's namespace tag.
func (s *Schema) Root() *Document { return s.root }

// Document returns the compiled document spec with the given name.
func (s *Schema) Document(name string) (*Document, bool) {
	d, ok := s.documents[name]
	return d, ok
}

// Documents returns the names of all document specs, sorted.
func (s *Schema) Documents() []string {
	names := make([]string, 0, len(s.documents))
	for name := range s.documents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Base returns the Oid of the module's namespace document.
func (s *Schema) Base() oid.Oid {
	return oid.Root().MustAppend(s.Namespace, oid.KindDocument)
}

// Resolve maps a human path below the namespace document to an Oid.
func (s *Schema) Resolve(path string) (oid.Oid, error) {
	return oid.Resolve(s.root, s.Base(), path)
}

// MustResolve is like Resolve but panics on error. Use for paths that are
// fixed at build time.
func (s *Schema) MustResolve(path string) oid.Oid {
	o, err := s.Resolve(path)
	if err != nil {
		panic(err)
	}
	return o
}

// Describe maps an Oid back to a human path. It is the inverse of Resolve.
func (s *Schema) Describe(o oid.Oid) (string, error) {
	rel, ok := o.Relative(s.Base())
	if !ok {
		return "", fmt.Errorf("%w: %s is outside module %s", oid.ErrUnknownPath, o, s.Module)
	}

	var segments []string
	var node oid.Node = s.root
	for _, c := range rel.Components() {
		name, next, ok := describeChild(node, c)
		if !ok {
			return "", fmt.Errorf("%w: component %d of %s", oid.ErrUnknownPath, uint32(c), o)
		}
		segments = append(segments, name)
		node = next
	}
	return oid.Separator + strings.Join(segments, oid.Separator), nil
}

func describeChild(node oid.Node, c oid.Component) (string, oid.Node, bool) {
	switch n := node.(type) {
	case *Document:
		return n.childByTag(c.Tag(), c.Kind())
	case *collectionNode:
		if c.Kind() != oid.KindDocument {
			return "", nil, false
		}
		return strconv.FormatUint(uint64(c.Tag()), 10), n.element, true
	default:
		return "", nil, false
	}
}

// Child implements oid.Node.
func (d *Document) Child(name string) (uint32, oid.Kind, oid.Node, bool) {
	for _, a := range d.attributes {
		if a.Name == name {
			return a.Tag, oid.KindAttribute, nil, true
		}
	}
	for _, c := range d.documents {
		if c.Name == name {
			return c.Tag, oid.KindDocument, d.schema.documents[c.Document], true
		}
	}
	for _, c := range d.collections {
		if c.Name == name {
			return c.Tag, oid.KindCollection, &collectionNode{element: d.schema.documents[c.Document]}, true
		}
	}
	for _, r := range d.relations {
		if r.Name == name {
			return r.Tag, oid.KindRelation, nil, true
		}
	}
	return 0, 0, nil, false
}

func (d *Document) childByTag(tag uint32, kind oid.Kind) (string, oid.Node, bool) {
	switch kind {
	case oid.KindAttribute:
		if a, ok := d.AttributeByTag(tag); ok {
			return a.Name, nil, true
		}
	case oid.KindDocument:
		for _, c := range d.documents {
			if c.Tag == tag {
				return c.Name, d.schema.documents[c.Document], true
			}
		}
	case oid.KindCollection:
		for _, c := range d.collections {
			if c.Tag == tag {
				return c.Name, &collectionNode{element: d.schema.documents[c.Document]}, true
			}
		}
	case oid.KindRelation:
		for _, r := range d.relations {
			if r.Tag == tag {
				return r.Name, nil, true
			}
		}
	}
	return "", nil, false
}

// Attribute returns the attribute spec with the given name.
func (d *Document) Attribute(name string) (AttributeSpec, bool) {
	for _, a := range d.attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeSpec{}, false
}

// AttributeByTag returns the attribute spec at tag.
func (d *Document) AttributeByTag(tag uint32) (AttributeSpec, bool) {
	for _, a := range d.attributes {
		if a.Tag == tag {
			return a, true
		}
	}
	return AttributeSpec{}, false
}

// Attributes returns the attribute specs ordered by tag.
func (d *Document) Attributes() []AttributeSpec { return slices.Clone(d.attributes) }

// Collections returns the collection specs ordered by tag.
func (d *Document) Collections() []ChildSpec { return slices.Clone(d.collections) }

// Documents returns the sub-document specs ordered by tag.
func (d *Document) Documents() []ChildSpec { return slices.Clone(d.documents) }

// Relations returns the relation specs ordered by tag.
func (d *Document) Relations() []RelationSpec { return slices.Clone(d.relations) }

// Required returns the attribute specs that a complete document must set.
func (d *Document) Required() []AttributeSpec {
	var out []AttributeSpec
	for _, a := range d.attributes {
		if a.Required {
			out = append(out, a)
		}
	}
	return out
}

// Tag returns the tag of the named attribute. It panics when the name is
// unknown; typed views call it with names fixed at build time.
func (d *Document) Tag(name string) uint32 {
	tag, _, _, ok := d.Child(name)
	if !ok {
		panic(fmt.Sprintf("schema: document %s has no child %q", d.Name, name))
	}
	return tag
}

// collectionNode resolves the numeric element tags of a collection.
type collectionNode struct {
	element *Document
}

func (n *collectionNode) Child(name string) (uint32, oid.Kind, oid.Node, bool) {
	tag, err := strconv.ParseUint(name, 10, 32)
	if err != nil || tag == 0 || tag > oid.MaxTag {
		return 0, 0, nil, false
	}
	return uint32(tag), oid.KindDocument, n.element, true
}

// DocumentAt returns the schema document describing the document at o.
func (s *Schema) DocumentAt(o oid.Oid) (*Document, bool) {
	rel, ok := o.Relative(s.Base())
	if !ok {
		return nil, false
	}
	var node oid.Node = s.root
	for _, c := range rel.Components() {
		_, next, ok := describeChild(node, c)
		if !ok {
			return nil, false
		}
		node = next
	}
	doc, ok := node.(*Document)
	return doc, ok
}

// RetentionFor returns the retention rule declared for the attribute at
// o, walking the schema from the namespace document. ok is false when o
// is not a known attribute of this module.
func (s *Schema) RetentionFor(o oid.Oid) (RetentionRule, bool) {
	if o.Kind() != oid.KindAttribute {
		return RetentionRule{}, false
	}
	doc, ok := s.DocumentAt(o.Parent())
	if !ok {
		return RetentionRule{}, false
	}
	spec, ok := doc.AttributeByTag(o.Tag())
	if !ok {
		return RetentionRule{}, false
	}
	// Build already validated the declaration.
	rule, _ := ParseRetention(spec.Retention)
	return rule, true
}
