package user

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/key"
)

func TestCreateUserAndLookup(t *testing.T) {
	u := NewUsers()
	priv, err := u.CreateUser("alice")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	pub := priv.PublicKey()
	got, ok := u.GetUser(pub)
	if !ok {
		t.Fatalf("expected alice to be registered")
	}
	if got.Name != "alice" {
		t.Fatalf("expected name alice, got %q", got.Name)
	}
	if got.Permissions != FullPermissions {
		t.Fatalf("expected full permissions by default")
	}
}

func TestAddUserRejectsDuplicateKey(t *testing.T) {
	u := NewUsers()
	priv, err := u.CreateUser("alice")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	dup, err := New("alice-again", priv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := u.AddUser(dup); err == nil {
		t.Fatalf("expected an error adding a duplicate public key")
	}
}

func TestNewRejectsEmptyName(t *testing.T) {
	priv, err := key.New()
	if err != nil {
		t.Fatalf("key.New: %v", err)
	}
	if _, err := New("", priv); err == nil {
		t.Fatalf("expected an error for an empty username")
	}
}

func TestWithoutPrivateKeysStripsKeys(t *testing.T) {
	u := NewUsers()
	priv, err := u.CreateUser("alice")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	pub := priv.PublicKey()

	stripped := u.WithoutPrivateKeys()
	got, ok := stripped.GetUser(pub)
	if !ok {
		t.Fatalf("expected alice to still be present")
	}
	if got.PrivateKey != nil {
		t.Fatalf("expected private key to be stripped")
	}

	original, ok := u.GetUser(pub)
	if !ok || original.PrivateKey == nil {
		t.Fatalf("original registry should be unaffected by WithoutPrivateKeys")
	}
}

func TestPermissionsStringRoundTrip(t *testing.T) {
	for _, p := range []Permissions{0, CanPush, CanPull, FullPermissions} {
		s := p.String()
		got, err := ParsePermissions(s)
		if err != nil {
			t.Fatalf("ParsePermissions(%q): %v", s, err)
		}
		if got != p {
			t.Fatalf("round trip mismatch for %v: got %v", p, got)
		}
	}
}

func TestUsersMsgpackRoundTrip(t *testing.T) {
	u := NewUsers()
	if _, err := u.CreateUser("alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := u.CreateUserWithPermissions("bob", CanPull); err != nil {
		t.Fatalf("CreateUserWithPermissions: %v", err)
	}

	data, err := msgpack.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := NewUsers()
	if err := msgpack.Unmarshal(data, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Iter()) != 2 {
		t.Fatalf("expected 2 users after round trip, got %d", len(got.Iter()))
	}
}
