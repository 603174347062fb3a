package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Type names the value kind stored by an attribute.
type Type string

const (
	TypeBool   Type = "bool"
	TypeInt    Type = "int"
	TypeDouble Type = "double"
	TypeString Type = "string"
	TypeBytes  Type = "bytes"
)

func (t Type) valid() bool {
	switch t {
	case TypeBool, TypeInt, TypeDouble, TypeString, TypeBytes:
		return true
	}
	return false
}

// AttributeSpec declares one attribute of a document.
type AttributeSpec struct {
	Name     string
	Tag      uint32
	Type     Type
	Required bool

	// Retention is "", "unlimited", "items:<n>" or "time:<duration>".
	Retention string
}

// ChildSpec declares a sub-document or collection whose elements follow
// the named document spec.
type ChildSpec struct {
	Name     string
	Tag      uint32
	Document string
}

// RelationSpec declares a non-owning reference to a document of the
// named spec elsewhere in the tree.
type RelationSpec struct {
	Name   string
	Tag    uint32
	Target string
}

// DocumentSpec declares one document shape.
type DocumentSpec struct {
	Name        string
	Attributes  []AttributeSpec
	Documents   []ChildSpec
	Collections []ChildSpec
	Relations   []RelationSpec
}

// RetentionKind is the parsed policy of an AttributeSpec.Retention.
type RetentionKind int

const (
	RetentionNone RetentionKind = iota
	RetentionUnlimited
	RetentionItems
	RetentionTime
)

// RetentionRule is a parsed retention declaration.
type RetentionRule struct {
	Kind     RetentionKind
	Items    int
	Duration time.Duration
}

// ParseRetention parses the Retention field of an AttributeSpec.
func ParseRetention(s string) (RetentionRule, error) {
	switch {
	case s == "":
		return RetentionRule{Kind: RetentionNone}, nil
	case s == "unlimited":
		return RetentionRule{Kind: RetentionUnlimited}, nil
	case strings.HasPrefix(s, "items:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "items:"))
		if err != nil || n < 0 {
			return RetentionRule{}, fmt.Errorf("invalid item limit in %q", s)
		}
		return RetentionRule{Kind: RetentionItems, Items: n}, nil
	case strings.HasPrefix(s, "time:"):
		d, err := time.ParseDuration(strings.TrimPrefix(s, "time:"))
		if err != nil || d <= 0 {
			return RetentionRule{}, fmt.Errorf("invalid time limit in %q", s)
		}
		return RetentionRule{Kind: RetentionTime, Duration: d}, nil
	default:
		return RetentionRule{}, fmt.Errorf("unknown retention %q", s)
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}
