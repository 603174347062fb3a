package plugin

import (
	"regexp"

	"github.com/sandpolis/sandpolis/internal/schema"
	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/store"
)

// State is a plugin's lifecycle state.
type State int

const (
	// StateDownloaded is an artifact on disk with no record.
	StateDownloaded State = iota
	StateInstalled
	StateDisabled
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateDownloaded:
		return "downloaded"
	case StateInstalled:
		return "installed"
	case StateDisabled:
		return "disabled"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// pluginTags are the attribute tags of the core plugin document.
type pluginTags struct {
	id, packageID, version, name, description uint32
	path, hash, certificate                   uint32
	enabled, loaded                           uint32
}

var tags = func() pluginTags {
	d, ok := schema.Core().Document("plugin")
	if !ok {
		panic("plugin: core schema has no plugin document")
	}
	return pluginTags{
		id:          d.Tag("id"),
		packageID:   d.Tag("package_id"),
		version:     d.Tag("version"),
		name:        d.Tag("name"),
		description: d.Tag("description"),
		path:        d.Tag("path"),
		hash:        d.Tag("hash"),
		certificate: d.Tag("certificate"),
		enabled:     d.Tag("enabled"),
		loaded:      d.Tag("loaded"),
	}
}()

var (
	idPattern      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+([-+][0-9A-Za-z.+-]+)?$`)
)

// Plugin is the typed view of one plugin record.
type Plugin struct {
	doc *state.Document
}

// New wraps doc as a Plugin.
func New(doc *state.Document) *Plugin { return &Plugin{doc: doc} }

func (p *Plugin) Document() *state.Document { return p.doc }

// Tag returns the record's tag in the plugin collection.
func (p *Plugin) Tag() uint32 { return p.doc.Tag() }

func (p *Plugin) str(tag uint32) string {
	v, _ := state.As[state.String](p.doc.Attribute(tag))
	return string(v)
}

func (p *Plugin) bytes(tag uint32) []byte {
	v, _ := state.As[state.Bytes](p.doc.Attribute(tag))
	return v
}

func (p *Plugin) flag(tag uint32) bool {
	v, _ := state.As[state.Bool](p.doc.Attribute(tag))
	return bool(v)
}

func (p *Plugin) setStr(tag uint32, s string) {
	if s == "" {
		p.doc.Attribute(tag).Set(nil)
		return
	}
	p.doc.Attribute(tag).Set(state.String(s))
}

func (p *Plugin) setBytes(tag uint32, b []byte) {
	if len(b) == 0 {
		p.doc.Attribute(tag).Set(nil)
		return
	}
	p.doc.Attribute(tag).Set(state.Bytes(b))
}

// ID returns the stable plugin id from the manifest.
func (p *Plugin) ID() string          { return p.str(tags.id) }
func (p *Plugin) PackageID() string   { return p.str(tags.packageID) }
func (p *Plugin) Version() string     { return p.str(tags.version) }
func (p *Plugin) Name() string        { return p.str(tags.name) }
func (p *Plugin) Description() string { return p.str(tags.description) }

// Path returns the artifact's filesystem path.
func (p *Plugin) Path() string { return p.str(tags.path) }

// Hash returns the artifact hash recorded at install time.
func (p *Plugin) Hash() []byte { return p.bytes(tags.hash) }

// Certificate returns the DER signer certificate, or nil.
func (p *Plugin) Certificate() []byte { return p.bytes(tags.certificate) }

func (p *Plugin) Enabled() bool { return p.flag(tags.enabled) }
func (p *Plugin) Loaded() bool  { return p.flag(tags.loaded) }

func (p *Plugin) SetID(id string)            { p.setStr(tags.id, id) }
func (p *Plugin) SetPackageID(id string)     { p.setStr(tags.packageID, id) }
func (p *Plugin) SetVersion(v string)        { p.setStr(tags.version, v) }
func (p *Plugin) SetName(name string)        { p.setStr(tags.name, name) }
func (p *Plugin) SetDescription(text string) { p.setStr(tags.description, text) }
func (p *Plugin) SetPath(path string)        { p.setStr(tags.path, path) }
func (p *Plugin) SetHash(hash []byte)        { p.setBytes(tags.hash, hash) }
func (p *Plugin) SetCertificate(der []byte)  { p.setBytes(tags.certificate, der) }
func (p *Plugin) SetEnabled(enabled bool)    { p.doc.Attribute(tags.enabled).Set(state.Bool(enabled)) }
func (p *Plugin) setLoaded(loaded bool)      { p.doc.Attribute(tags.loaded).Set(state.Bool(loaded)) }

// State derives the lifecycle state from the enabled and loaded flags.
func (p *Plugin) State() State {
	switch {
	case p.Loaded():
		return StateLoaded
	case !p.Enabled():
		return StateDisabled
	default:
		return StateInstalled
	}
}

// Complete implements store.Validator.
func (p *Plugin) Complete() error {
	for _, req := range []struct {
		field string
		tag   uint32
	}{
		{"id", tags.id},
		{"path", tags.path},
		{"hash", tags.hash},
	} {
		if !p.doc.Attribute(req.tag).IsPresent() {
			return store.Missing(req.field)
		}
	}
	return nil
}

// Valid implements store.Validator.
func (p *Plugin) Valid() error {
	if !idPattern.MatchString(p.ID()) {
		return store.Malformed("id", "must be letters, digits, '.', '_' or '-'")
	}
	if v := p.Version(); v != "" && !versionPattern.MatchString(v) {
		return store.Malformed("version", "must be a semantic version")
	}
	if len(p.Hash()) != HashSize {
		return store.Malformed("hash", "has the wrong length")
	}
	return nil
}
