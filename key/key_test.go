package key

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func mustKey(t *testing.T) PrivateKey {
	t.Helper()
	k, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv := mustKey(t)
	msg := []byte("initial snapshot")

	sig, err := priv.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !sig.Verify(msg) {
		t.Fatalf("signature did not verify against the signed message")
	}
	if sig.Key != priv.PublicKey() {
		t.Fatalf("signature does not carry the signer's public key")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	priv := mustKey(t)
	sig, err := priv.Sign([]byte("original message"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig.Verify([]byte("tampered message")) {
		t.Fatalf("signature unexpectedly verified a different message")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a := mustKey(t)
	b := mustKey(t)
	msg := []byte("hello")
	sig, err := a.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig.Key = b.PublicKey()
	if sig.Verify(msg) {
		t.Fatalf("signature unexpectedly verified under the wrong public key")
	}
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	priv := mustKey(t)
	got, err := PrivateKeyFromBytes(priv[:])
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	if got != priv {
		t.Fatalf("round trip mismatch")
	}
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	priv := mustKey(t)
	pub := priv.PublicKey()
	got, err := PublicKeyFromBytes(pub.Bytes())
	if err != nil {
		t.Fatalf("PublicKeyFromBytes: %v", err)
	}
	if got != pub {
		t.Fatalf("round trip mismatch")
	}
}

func TestSignatureMsgpackRoundTrip(t *testing.T) {
	priv := mustKey(t)
	sig, err := priv.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	data, err := msgpack.Marshal(sig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Signature
	if err := msgpack.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Verify([]byte("payload")) {
		t.Fatalf("round-tripped signature failed to verify")
	}
	if got.Key != sig.Key {
		t.Fatalf("round-tripped signature lost its public key")
	}
}
