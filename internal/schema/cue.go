package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

//go:embed core.cue
var coreSource string

var (
	coreOnce   sync.Once
	coreSchema *Schema
)

// Core returns the compiled core schema shared by every instance.
// It panics if the embedded source does not compile.
func Core() *Schema {
	coreOnce.Do(func() {
		s, err := ParseCUE("core.cue", coreSource)
		if err != nil {
			panic("schema: core schema: " + err.Error())
		}
		coreSchema = s
	})
	return coreSchema
}

// ParseCUE compiles a single CUE source into a Schema.
func ParseCUE(filename, src string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// LoadDir loads the CUE package in dir and compiles it into a Schema.
func LoadDir(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema directory: no CUE instances in %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}

	v := cuecontext.New().BuildInstance(instances[0])
	return Compile(v)
}

type cueAttribute struct {
	Tag       uint32 `json:"tag"`
	Type      string `json:"type"`
	Required  bool   `json:"required"`
	Retention string `json:"retention"`
}

type cueChild struct {
	Tag      uint32 `json:"tag"`
	Document string `json:"document"`
}

type cueRelation struct {
	Tag    uint32 `json:"tag"`
	Target string `json:"target"`
}

// Compile converts a CUE value with module, root and document fields
// into a Schema.
//
//	module: "sandpolis.plugin.device"
//	root:   "device"
//	document: device: attribute: name: {tag: 1, type: "string"}
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	module, err := requiredString(v, "module")
	if err != nil {
		return nil, err
	}
	root, err := requiredString(v, "root")
	if err != nil {
		return nil, err
	}

	docsVal := v.LookupPath(cue.ParsePath("document"))
	if !docsVal.Exists() {
		return nil, &Error{Document: "schema", Field: "document", Message: "at least one document is required", Pos: v.Pos()}
	}
	iter, err := docsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []DocumentSpec
	for iter.Next() {
		spec, err := compileDocument(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	s, err := Build(module, root, specs)
	if err != nil {
		if schemaErr, ok := err.(*Error); ok && !schemaErr.Pos.IsValid() {
			if docVal := docsVal.LookupPath(cue.MakePath(cue.Str(schemaErr.Document))); docVal.Exists() {
				schemaErr.Pos = docVal.Pos()
			}
		}
		return nil, err
	}
	return s, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &Error{Document: "schema", Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func compileDocument(name string, v cue.Value) (DocumentSpec, error) {
	spec := DocumentSpec{Name: name}

	err := eachField(v, "attribute", func(label string, fv cue.Value) error {
		var a cueAttribute
		if err := fv.Decode(&a); err != nil {
			return formatCUEError(err)
		}
		spec.Attributes = append(spec.Attributes, AttributeSpec{
			Name:      label,
			Tag:       a.Tag,
			Type:      Type(a.Type),
			Required:  a.Required,
			Retention: a.Retention,
		})
		return nil
	})
	if err != nil {
		return spec, err
	}

	err = eachField(v, "document", func(label string, fv cue.Value) error {
		var c cueChild
		if err := fv.Decode(&c); err != nil {
			return formatCUEError(err)
		}
		spec.Documents = append(spec.Documents, ChildSpec{Name: label, Tag: c.Tag, Document: c.Document})
		return nil
	})
	if err != nil {
		return spec, err
	}

	err = eachField(v, "collection", func(label string, fv cue.Value) error {
		var c cueChild
		if err := fv.Decode(&c); err != nil {
			return formatCUEError(err)
		}
		spec.Collections = append(spec.Collections, ChildSpec{Name: label, Tag: c.Tag, Document: c.Document})
		return nil
	})
	if err != nil {
		return spec, err
	}

	err = eachField(v, "relation", func(label string, fv cue.Value) error {
		var r cueRelation
		if err := fv.Decode(&r); err != nil {
			return formatCUEError(err)
		}
		spec.Relations = append(spec.Relations, RelationSpec{Name: label, Tag: r.Tag, Target: r.Target})
		return nil
	})
	return spec, err
}

// eachField calls fn for every field of the optional struct v.field.
func eachField(v cue.Value, field string, fn func(label string, fv cue.Value) error) error {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil
	}
	iter, err := fv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// formatCUEError keeps the position of the first CUE error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Document: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
