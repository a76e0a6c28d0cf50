// Package user implements repository accounts: a permissioned identity tied
// to a public key, optionally holding the matching private key for signing
// as that user locally.
package user

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/key"
)

// Permissions is a small bitflag set controlling what a user may do during
// a sync conversation.
type Permissions uint8

const (
	CanPush Permissions = 1 << iota
	CanPull
)

// String renders permissions as a letter pair: "p" for push, "l" for pull,
// "-" where absent, e.g. "pl", "p-", "-l", "--".
func (p Permissions) String() string {
	var b strings.Builder
	if p&CanPush != 0 {
		b.WriteByte('p')
	} else {
		b.WriteByte('-')
	}
	if p&CanPull != 0 {
		b.WriteByte('l')
	} else {
		b.WriteByte('-')
	}
	return b.String()
}

// ParsePermissions parses the String format back into Permissions.
func ParsePermissions(s string) (Permissions, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("permissions: expected a 2-character string, got %q", s)
	}
	var p Permissions
	switch s[0] {
	case 'p':
		p |= CanPush
	case '-':
	default:
		return 0, fmt.Errorf("permissions: invalid push flag %q", s[0])
	}
	switch s[1] {
	case 'l':
		p |= CanPull
	case '-':
	default:
		return 0, fmt.Errorf("permissions: invalid pull flag %q", s[1])
	}
	return p, nil
}

// FullPermissions grants both push and pull.
const FullPermissions Permissions = CanPush | CanPull

// User is an identity known to a repository.
type User struct {
	Name        string
	Permissions Permissions
	PublicKey   key.PublicKey
	PrivateKey  *key.PrivateKey
	Closed      bool
}

// New constructs a User with full permissions, keeping the private key for
// local signing.
func New(name string, priv key.PrivateKey) (User, error) {
	return WithPermissions(name, priv, FullPermissions)
}

// WithPermissions constructs a User holding priv with an explicit
// permission set.
func WithPermissions(name string, priv key.PrivateKey, perms Permissions) (User, error) {
	if name == "" {
		return User{}, fmt.Errorf("user: empty username is not allowed")
	}
	return User{
		Name:        name,
		Permissions: perms,
		PublicKey:   priv.PublicKey(),
		PrivateKey:  &priv,
		Closed:      false,
	}, nil
}

// Users is the registry of accounts known to a repository, keyed by public
// key.
type Users struct {
	inner map[key.PublicKey]User
}

// NewUsers creates an empty Users registry.
func NewUsers() *Users {
	return &Users{inner: make(map[key.PublicKey]User)}
}

// FromSlice builds a Users registry from a list, erroring on a duplicate
// public key.
func FromSlice(users []User) (*Users, error) {
	u := NewUsers()
	for _, usr := range users {
		if err := u.AddUser(usr); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// AddUser inserts usr, failing if its public key is already registered.
func (u *Users) AddUser(usr User) error {
	if _, exists := u.inner[usr.PublicKey]; exists {
		return fmt.Errorf("user: a user with public key %x already exists", usr.PublicKey.Bytes())
	}
	u.inner[usr.PublicKey] = usr
	return nil
}

// CreateUser creates and registers a fresh full-permission user, returning
// the new private key so the caller can hand it to its owner.
func (u *Users) CreateUser(name string) (key.PrivateKey, error) {
	return u.CreateUserWithPermissions(name, FullPermissions)
}

// CreateUserWithPermissions is CreateUser with an explicit permission set.
func (u *Users) CreateUserWithPermissions(name string, perms Permissions) (key.PrivateKey, error) {
	priv, err := key.New()
	if err != nil {
		return key.PrivateKey{}, fmt.Errorf("create user %q: %w", name, err)
	}
	usr, err := WithPermissions(name, priv, perms)
	if err != nil {
		return key.PrivateKey{}, err
	}
	if err := u.AddUser(usr); err != nil {
		return key.PrivateKey{}, err
	}
	return priv, nil
}

// HasUser reports whether pub is registered.
func (u *Users) HasUser(pub key.PublicKey) bool {
	_, ok := u.inner[pub]
	return ok
}

// GetUser returns the user registered under pub.
func (u *Users) GetUser(pub key.PublicKey) (User, bool) {
	usr, ok := u.inner[pub]
	return usr, ok
}

// GetUserByPubKey is an alias for GetUser kept for parity with the source
// API's naming (which also has a by-name lookup that this port omits, since
// names are not required unique here).
func (u *Users) GetUserByPubKey(pub key.PublicKey) (User, bool) {
	return u.GetUser(pub)
}

// SetUser replaces the stored record for usr.PublicKey, inserting it if
// absent. Go has no mutable-reference-into-map equivalent to the source's
// get_user_mut, so callers fetch a copy with GetUser, modify it, and write
// it back with SetUser.
func (u *Users) SetUser(usr User) {
	u.inner[usr.PublicKey] = usr
}

// RemoveUser deletes the user registered under pub, returning it if present.
func (u *Users) RemoveUser(pub key.PublicKey) (User, bool) {
	usr, ok := u.inner[pub]
	if ok {
		delete(u.inner, pub)
	}
	return usr, ok
}

// Iter returns every registered user, in no particular order.
func (u *Users) Iter() []User {
	out := make([]User, 0, len(u.inner))
	for _, usr := range u.inner {
		out = append(out, usr)
	}
	return out
}

// IsEmpty reports whether no users are registered.
func (u *Users) IsEmpty() bool {
	return len(u.inner) == 0
}

// WithoutPrivateKeys returns a copy of the registry with every PrivateKey
// field cleared, for safe transmission to a peer during clone/pull/push
// (a client must never receive another user's private key).
func (u *Users) WithoutPrivateKeys() *Users {
	out := NewUsers()
	for pub, usr := range u.inner {
		stripped := usr
		stripped.PrivateKey = nil
		out.inner[pub] = stripped
	}
	return out
}

// EncodeMsgpack/DecodeMsgpack serialize Users as a plain slice of User
// records, since the registry's backing map is unexported and would
// otherwise be invisible to the library's struct-tag reflection.
func (u *Users) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(u.Iter())
}

func (u *Users) DecodeMsgpack(dec *msgpack.Decoder) error {
	var list []User
	if err := dec.Decode(&list); err != nil {
		return err
	}
	fresh, err := FromSlice(list)
	if err != nil {
		return err
	}
	*u = *fresh
	return nil
}
