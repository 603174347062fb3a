package user

import (
	"fmt"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sandpolis/sandpolis/internal/schema"
	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/store"
)

// userTags are the attribute tags of the core user document.
type userTags struct {
	username, email, hash           uint32
	creation, expiration, loginTime uint32
}

var tags = func() userTags {
	d, ok := schema.Core().Document("user")
	if !ok {
		panic("user: core schema has no user document")
	}
	return userTags{
		username:   d.Tag("username"),
		email:      d.Tag("email"),
		hash:       d.Tag("hash"),
		creation:   d.Tag("creation"),
		expiration: d.Tag("expiration"),
		loginTime:  d.Tag("login_time"),
	}
}()

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{4,30}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// ValidUsername reports whether name is 4 to 30 letters, digits or
// underscores.
func ValidUsername(name string) bool { return usernamePattern.MatchString(name) }

// ValidEmail reports whether addr looks like an email address.
func ValidEmail(addr string) bool { return emailPattern.MatchString(addr) }

// hashCost is the bcrypt work factor. Tests lower it.
var hashCost = bcrypt.DefaultCost

// User is the typed view of one user account.
type User struct {
	doc *state.Document
}

// New wraps doc as a User.
func New(doc *state.Document) *User { return &User{doc: doc} }

func (u *User) Document() *state.Document { return u.doc }

func (u *User) Username() string {
	v, _ := state.As[state.String](u.doc.Attribute(tags.username))
	return string(v)
}

func (u *User) SetUsername(name string) {
	u.doc.Attribute(tags.username).Set(state.String(name))
}

// Email returns the optional email address, or "".
func (u *User) Email() string {
	v, _ := state.As[state.String](u.doc.Attribute(tags.email))
	return string(v)
}

// SetEmail sets the email address. The empty string clears it.
func (u *User) SetEmail(addr string) {
	if addr == "" {
		u.doc.Attribute(tags.email).Set(nil)
		return
	}
	u.doc.Attribute(tags.email).Set(state.String(addr))
}

// SetPassword replaces the stored password hash.
func (u *User) SetPassword(password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	u.setHash(hash)
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (u *User) setHash(hash string) {
	u.doc.Attribute(tags.hash).Set(state.String(hash))
}

// CheckPassword reports whether password matches the stored hash. A user
// without a password never matches.
func (u *User) CheckPassword(password string) bool {
	hash, ok := state.As[state.String](u.doc.Attribute(tags.hash))
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (u *User) millis(tag uint32) (time.Time, bool) {
	v, ok := state.As[state.Int](u.doc.Attribute(tag))
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(v)), true
}

// Creation returns when the account was created.
func (u *User) Creation() (time.Time, bool) { return u.millis(tags.creation) }

func (u *User) SetCreation(t time.Time) {
	u.doc.Attribute(tags.creation).Set(state.Int(t.UnixMilli()))
}

// Expiration returns when the account expires. ok is false for accounts
// that never expire.
func (u *User) Expiration() (time.Time, bool) { return u.millis(tags.expiration) }

// SetExpiration sets the expiration time. The zero time removes it.
func (u *User) SetExpiration(t time.Time) {
	if t.IsZero() {
		u.doc.Attribute(tags.expiration).Set(nil)
		return
	}
	u.doc.Attribute(tags.expiration).Set(state.Int(t.UnixMilli()))
}

// Expired reports whether the account has expired at now.
func (u *User) Expired(now time.Time) bool {
	exp, ok := u.Expiration()
	return ok && !now.Before(exp)
}

// RecordLogin stores t as the latest login.
func (u *User) RecordLogin(t time.Time) {
	u.doc.Attribute(tags.loginTime).Set(state.Int(t.UnixMilli()))
}

// Logins returns the recorded logins, newest first.
func (u *User) Logins() []time.Time {
	a := u.doc.Attribute(tags.loginTime)
	var out []time.Time
	if v, ok := state.As[state.Int](a); ok {
		out = append(out, time.UnixMilli(int64(v)))
	}
	history := a.History()
	for i := len(history) - 1; i >= 0; i-- {
		if v, ok := history[i].Value.(state.Int); ok {
			out = append(out, time.UnixMilli(int64(v)))
		}
	}
	return out
}

// Complete implements store.Validator.
func (u *User) Complete() error {
	if !u.doc.Attribute(tags.username).IsPresent() {
		return store.Missing("username")
	}
	return nil
}

// Valid implements store.Validator.
func (u *User) Valid() error {
	if !ValidUsername(u.Username()) {
		return store.Malformed("username", "must be 4 to 30 letters, digits or underscores")
	}
	if email := u.Email(); email != "" && !ValidEmail(email) {
		return store.Malformed("email", "is not an email address")
	}
	if exp, ok := u.Expiration(); ok {
		if created, ok := u.Creation(); ok && exp.Before(created) {
			return store.Malformed("expiration", "is before creation")
		}
	}
	return nil
}
