package profile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sandpolis/sandpolis/internal/schema"
	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/store"
	"github.com/sandpolis/sandpolis/internal/user"
)

// InstanceType is the role of the instance a profile describes.
type InstanceType string

const (
	InstanceServer InstanceType = "server"
	InstanceAgent  InstanceType = "agent"
	InstanceClient InstanceType = "client"
)

// ParseInstanceType validates an instance type name.
func ParseInstanceType(name string) (InstanceType, error) {
	switch t := InstanceType(name); t {
	case InstanceServer, InstanceAgent, InstanceClient:
		return t, nil
	default:
		return "", fmt.Errorf("profile: unknown instance type %q", name)
	}
}

// profileTags are the child tags of the core profile document.
type profileTags struct {
	uuid, instanceType, flavor, online, startTime uint32
	plugins, users                                uint32
	owner                                         uint32
}

var tags = func() profileTags {
	d, ok := schema.Core().Document("profile")
	if !ok {
		panic("profile: core schema has no profile document")
	}
	return profileTags{
		uuid:         d.Tag("uuid"),
		instanceType: d.Tag("instance_type"),
		flavor:       d.Tag("flavor"),
		online:       d.Tag("online"),
		startTime:    d.Tag("start_time"),
		plugins:      d.Tag("plugin"),
		users:        d.Tag("user"),
		owner:        d.Tag("owner"),
	}
}()

// Profile is the typed view of one profile document.
type Profile struct {
	doc *state.Document
}

// New wraps doc as a Profile.
func New(doc *state.Document) *Profile { return &Profile{doc: doc} }

func (p *Profile) Document() *state.Document { return p.doc }

func (p *Profile) str(tag uint32) string {
	v, _ := state.As[state.String](p.doc.Attribute(tag))
	return string(v)
}

// UUID returns the instance uuid, or uuid.Nil when unset or malformed.
func (p *Profile) UUID() uuid.UUID {
	id, err := uuid.Parse(p.str(tags.uuid))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (p *Profile) SetUUID(id uuid.UUID) {
	p.doc.Attribute(tags.uuid).Set(state.String(id.String()))
}

func (p *Profile) InstanceType() InstanceType { return InstanceType(p.str(tags.instanceType)) }

func (p *Profile) SetInstanceType(t InstanceType) {
	p.doc.Attribute(tags.instanceType).Set(state.String(t))
}

// Flavor names the implementation variant of the instance.
func (p *Profile) Flavor() string { return p.str(tags.flavor) }

func (p *Profile) SetFlavor(flavor string) {
	p.doc.Attribute(tags.flavor).Set(state.String(flavor))
}

// Online reports the latest recorded connectivity.
func (p *Profile) Online() bool {
	v, _ := state.As[state.Bool](p.doc.Attribute(tags.online))
	return bool(v)
}

func (p *Profile) SetOnline(online bool) {
	p.doc.Attribute(tags.online).Set(state.Bool(online))
}

// OnlineHistory returns the attribute holding past connectivity changes.
func (p *Profile) OnlineHistory() *state.Attribute { return p.doc.Attribute(tags.online) }

// StartTime returns when the instance last started.
func (p *Profile) StartTime() (time.Time, bool) {
	v, ok := state.As[state.Int](p.doc.Attribute(tags.startTime))
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(v)), true
}

func (p *Profile) SetStartTime(t time.Time) {
	p.doc.Attribute(tags.startTime).Set(state.Int(t.UnixMilli()))
}

// Plugins returns the profile's plugin collection.
func (p *Profile) Plugins() *state.Collection { return p.doc.Collection(tags.plugins) }

// Users returns the profile's user collection.
func (p *Profile) Users() *state.Collection { return p.doc.Collection(tags.users) }

// SetOwner relates the profile to the account that owns it.
func (p *Profile) SetOwner(u *user.User) {
	p.doc.SetRelation(tags.owner, u.Document().Oid())
}

// Owner follows the owner relation.
func (p *Profile) Owner() (*user.User, error) {
	d, err := p.doc.Tree().Follow(p.doc, tags.owner)
	if err != nil {
		return nil, fmt.Errorf("profile owner: %w", err)
	}
	return user.New(d), nil
}

// Complete implements store.Validator.
func (p *Profile) Complete() error {
	if !p.doc.Attribute(tags.uuid).IsPresent() {
		return store.Missing("uuid")
	}
	return nil
}

// Valid implements store.Validator.
func (p *Profile) Valid() error {
	if _, err := uuid.Parse(p.str(tags.uuid)); err != nil {
		return store.Malformed("uuid", "is not a uuid")
	}
	if t := p.str(tags.instanceType); t != "" {
		if _, err := ParseInstanceType(t); err != nil {
			return store.Malformed("instance_type", "is not server, agent or client")
		}
	}
	return nil
}
