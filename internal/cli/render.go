package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/sandpolis/sandpolis/internal/oid"
	"github.com/sandpolis/sandpolis/internal/schema"
	"github.com/sandpolis/sandpolis/internal/state"
)

// EntryView is one attribute value.
type EntryView struct {
	Kind      string `json:"kind"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// AttributeView is an attribute with its history. Entries[0] is the
// current value; the rest is history, oldest first.
type AttributeView struct {
	Oid     string      `json:"oid"`
	Path    string      `json:"path,omitempty"`
	Entries []EntryView `json:"entries"`
}

func (v AttributeView) String() string {
	if len(v.Entries) == 0 {
		return v.Path + " is absent"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s = %v", v.Path, v.Entries[0].Value)
	for _, e := range v.Entries[1:] {
		fmt.Fprintf(&b, "\n  %d: %v", e.Timestamp, e.Value)
	}
	return b.String()
}

// DocumentView is a document snapshot with children named after the
// schema. Children the schema does not declare are named "#<tag>".
// Collections map element tags to elements.
type DocumentView struct {
	Oid         string                             `json:"oid"`
	Document    string                             `json:"document,omitempty"`
	Attributes  map[string][]EntryView             `json:"attributes,omitempty"`
	Documents   map[string]DocumentView            `json:"documents,omitempty"`
	Collections map[string]map[string]DocumentView `json:"collections,omitempty"`
	Relations   map[string]string                  `json:"relations,omitempty"`
}

// RenderDocument names the snapshot of the document at o using s.
func RenderDocument(s *schema.Schema, o oid.Oid, snap *state.DocumentSnapshot) DocumentView {
	spec, _ := s.DocumentAt(o)
	return renderDocument(s, spec, o, snap)
}

func renderDocument(s *schema.Schema, spec *schema.Document, o oid.Oid, snap *state.DocumentSnapshot) DocumentView {
	v := DocumentView{Oid: o.String()}
	var attributes []schema.AttributeSpec
	var documents, collections []schema.ChildSpec
	var relations []schema.RelationSpec
	if spec != nil {
		v.Document = spec.Name
		attributes = spec.Attributes()
		documents = spec.Documents()
		collections = spec.Collections()
		relations = spec.Relations()
	}

	for tag, entries := range snap.Attributes {
		if len(entries) == 0 {
			continue
		}
		if v.Attributes == nil {
			v.Attributes = make(map[string][]EntryView)
		}
		name := unnamed(tag)
		if i := slices.IndexFunc(attributes, func(a schema.AttributeSpec) bool { return a.Tag == tag }); i >= 0 {
			name = attributes[i].Name
		}
		v.Attributes[name] = renderEntries(entries)
	}

	for tag, child := range snap.Documents {
		if v.Documents == nil {
			v.Documents = make(map[string]DocumentView)
		}
		name, childSpec := namedChild(s, documents, tag)
		v.Documents[name] = renderDocument(s, childSpec, o.MustAppend(tag, oid.KindDocument), child)
	}

	for tag, col := range snap.Collections {
		if v.Collections == nil {
			v.Collections = make(map[string]map[string]DocumentView)
		}
		name, elementSpec := namedChild(s, collections, tag)
		colOid := o.MustAppend(tag, oid.KindCollection)
		elements := make(map[string]DocumentView, len(col.Documents))
		for elementTag, element := range col.Documents {
			elements[strconv.FormatUint(uint64(elementTag), 10)] =
				renderDocument(s, elementSpec, colOid.MustAppend(elementTag, oid.KindDocument), element)
		}
		v.Collections[name] = elements
	}

	for tag, target := range snap.Relations {
		if v.Relations == nil {
			v.Relations = make(map[string]string)
		}
		name := unnamed(tag)
		if i := slices.IndexFunc(relations, func(r schema.RelationSpec) bool { return r.Tag == tag }); i >= 0 {
			name = relations[i].Name
		}
		v.Relations[name] = target.String()
	}
	return v
}

func renderEntries(entries state.AttributeSnapshot) []EntryView {
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, EntryView{
			Kind:      e.Value.Kind().String(),
			Value:     e.Value.Native(),
			Timestamp: e.Timestamp,
		})
	}
	return views
}

func namedChild(s *schema.Schema, children []schema.ChildSpec, tag uint32) (string, *schema.Document) {
	i := slices.IndexFunc(children, func(c schema.ChildSpec) bool { return c.Tag == tag })
	if i < 0 {
		return unnamed(tag), nil
	}
	doc, _ := s.Document(children[i].Document)
	return children[i].Name, doc
}

func unnamed(tag uint32) string { return "#" + strconv.FormatUint(uint64(tag), 10) }

func (v DocumentView) String() string {
	var b strings.Builder
	v.write(&b, "")
	return strings.TrimSuffix(b.String(), "\n")
}

func (v DocumentView) write(b *strings.Builder, indent string) {
	if v.Document != "" {
		fmt.Fprintf(b, "%s%s [%s]\n", indent, v.Oid, v.Document)
	} else {
		fmt.Fprintf(b, "%s%s\n", indent, v.Oid)
	}
	for _, name := range slices.Sorted(maps.Keys(v.Attributes)) {
		entries := v.Attributes[name]
		fmt.Fprintf(b, "%s  %s = %v", indent, name, entries[0].Value)
		if len(entries) > 1 {
			fmt.Fprintf(b, " (%d previous)", len(entries)-1)
		}
		b.WriteByte('\n')
	}
	for _, name := range slices.Sorted(maps.Keys(v.Relations)) {
		fmt.Fprintf(b, "%s  %s -> %s\n", indent, name, v.Relations[name])
	}
	for _, name := range slices.Sorted(maps.Keys(v.Documents)) {
		fmt.Fprintf(b, "%s  %s:\n", indent, name)
		v.Documents[name].write(b, indent+"    ")
	}
	for _, name := range slices.Sorted(maps.Keys(v.Collections)) {
		elements := v.Collections[name]
		fmt.Fprintf(b, "%s  %s (%d):\n", indent, name, len(elements))
		for _, key := range slices.Sorted(maps.Keys(elements)) {
			elements[key].write(b, indent+"    ")
		}
	}
}
