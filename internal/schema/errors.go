package schema

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Error is a schema build or compile error. Pos is set when the error
// can be traced to a CUE source position.
type Error struct {
	Document string
	Field    string
	Message  string
	Pos      token.Pos
}

func (e *Error) Error() string {
	location := e.Document
	if e.Field != "" {
		location = location + "." + e.Field
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), location, e.Message)
	}
	return fmt.Sprintf("%s: %s", location, e.Message)
}
