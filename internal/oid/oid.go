package oid

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind discriminates the four node kinds of the state tree.
type Kind uint8

const (
	KindDocument   Kind = 0
	KindAttribute  Kind = 1
	KindCollection Kind = 2
	KindRelation   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindAttribute:
		return "attribute"
	case KindCollection:
		return "collection"
	case KindRelation:
		return "relation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MaxTag is the largest tag that fits beside the kind bits of a component.
const MaxTag = 1<<30 - 1

var (
	// ErrInvalidTag is returned for tag 0, tags above MaxTag and kinds
	// outside the 2-bit range.
	ErrInvalidTag = errors.New("oid: invalid tag")

	// ErrUnknownPath is returned when a path segment has no counterpart
	// in the schema.
	ErrUnknownPath = errors.New("oid: unknown path")
)

// Component is one packed (tag, kind) step of an Oid.
type Component uint32

// MakeComponent packs tag and kind.
func MakeComponent(tag uint32, kind Kind) (Component, error) {
	if tag == 0 || tag > MaxTag {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTag, tag)
	}
	if kind > KindRelation {
		return 0, fmt.Errorf("%w: kind %d", ErrInvalidTag, kind)
	}
	return Component(tag<<2 | uint32(kind)), nil
}

// Tag returns the component's tag.
func (c Component) Tag() uint32 { return uint32(c) >> 2 }

// Kind returns the component's node kind.
func (c Component) Kind() Kind { return Kind(c & 3) }

// Oid is an immutable path from the tree root to a node. The zero value
// addresses the root document.
type Oid struct {
	components []Component
}

// Root returns the Oid of the root document.
func Root() Oid { return Oid{} }

// New builds an Oid from already packed components.
func New(components ...Component) (Oid, error) {
	for _, c := range components {
		if c.Tag() == 0 {
			return Oid{}, fmt.Errorf("%w: component %d", ErrInvalidTag, uint32(c))
		}
	}
	return Oid{components: slices.Clone(components)}, nil
}

// MustNew is like New but panics on error. Use only for constants and tests.
func MustNew(components ...Component) Oid {
	o, err := New(components...)
	if err != nil {
		panic(err)
	}
	return o
}

// Append returns the Oid of a child of o.
func (o Oid) Append(tag uint32, kind Kind) (Oid, error) {
	c, err := MakeComponent(tag, kind)
	if err != nil {
		return Oid{}, err
	}
	next := make([]Component, len(o.components)+1)
	copy(next, o.components)
	next[len(o.components)] = c
	return Oid{components: next}, nil
}

// MustAppend is like Append but panics on error. Tags coming from a
// built schema are already validated, so tree code uses this form.
func (o Oid) MustAppend(tag uint32, kind Kind) Oid {
	next, err := o.Append(tag, kind)
	if err != nil {
		panic(err)
	}
	return next
}

// IsRoot reports whether o addresses the root document.
func (o Oid) IsRoot() bool { return len(o.components) == 0 }

// Len returns the number of components.
func (o Oid) Len() int { return len(o.components) }

// Components returns a copy of the packed components.
func (o Oid) Components() []Component { return slices.Clone(o.components) }

// Last returns the final component. The root has no components and
// returns 0.
func (o Oid) Last() Component {
	if len(o.components) == 0 {
		return 0
	}
	return o.components[len(o.components)-1]
}

// Tag returns the tag of the final component.
func (o Oid) Tag() uint32 { return o.Last().Tag() }

// Kind returns the node kind of the final component. The root is a
// document.
func (o Oid) Kind() Kind { return o.Last().Kind() }

// Parent returns the Oid with its final component removed. The parent
// of the root is the root.
func (o Oid) Parent() Oid {
	if len(o.components) == 0 {
		return o
	}
	return Oid{components: o.components[:len(o.components)-1:len(o.components)-1]}
}

// Equal reports whether both Oids address the same node.
func (o Oid) Equal(other Oid) bool {
	return slices.Equal(o.components, other.components)
}

// IsAncestorOf reports whether o is a strict prefix of other.
func (o Oid) IsAncestorOf(other Oid) bool {
	if len(o.components) >= len(other.components) {
		return false
	}
	return slices.Equal(o.components, other.components[:len(o.components)])
}

// Relative returns the components of o below base. ok is false when
// base is not an ancestor of (or equal to) o.
func (o Oid) Relative(base Oid) (Oid, bool) {
	if !base.Equal(o) && !base.IsAncestorOf(o) {
		return Oid{}, false
	}
	return Oid{components: slices.Clone(o.components[len(base.components):])}, true
}

// Join appends every component of rel to o.
func (o Oid) Join(rel Oid) Oid {
	next := make([]Component, 0, len(o.components)+len(rel.components))
	next = append(next, o.components...)
	next = append(next, rel.components...)
	return Oid{components: next}
}

// String returns the dotted decimal form. The root renders as "".
func (o Oid) String() string {
	var b strings.Builder
	for i, c := range o.components {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(c), 10))
	}
	return b.String()
}

// Parse reads the dotted decimal form produced by String.
func Parse(s string) (Oid, error) {
	if s == "" {
		return Root(), nil
	}
	parts := strings.Split(s, ".")
	components := make([]Component, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return Oid{}, fmt.Errorf("oid: parse %q: %w", s, err)
		}
		components[i] = Component(n)
	}
	return New(components...)
}

// MarshalText implements encoding.TextMarshaler.
func (o Oid) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Oid) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
