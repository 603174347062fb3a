package oid

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Separator splits the segments of a human path.
const Separator = "/"

// Node is one level of a schema that can map a path segment to a
// child tag. Implemented by schema documents and collections.
type Node interface {
	Child(name string) (tag uint32, kind Kind, next Node, ok bool)
}

// PathError reports the segment that failed to resolve.
type PathError struct {
	Path    string
	Segment string
	Err     error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("resolve %q: segment %q: %v", e.Path, e.Segment, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Resolve maps a human path onto an Oid below base, starting at the
// schema node root. Empty segments are ignored, so leading, trailing
// and doubled separators are harmless.
func Resolve(root Node, base Oid, path string) (Oid, error) {
	current := base
	node := root
	for _, segment := range strings.Split(path, Separator) {
		if segment == "" {
			continue
		}
		segment = norm.NFC.String(segment)
		if node == nil {
			return Oid{}, &PathError{Path: path, Segment: segment, Err: ErrUnknownPath}
		}
		tag, kind, next, ok := node.Child(segment)
		if !ok {
			return Oid{}, &PathError{Path: path, Segment: segment, Err: ErrUnknownPath}
		}
		appended, err := current.Append(tag, kind)
		if err != nil {
			return Oid{}, &PathError{Path: path, Segment: segment, Err: err}
		}
		current = appended
		node = next
	}
	return current, nil
}
