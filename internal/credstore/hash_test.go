package credstore_test

import (
	"testing"

	"github.com/dantte-lp/nfcauthd/internal/credstore"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	stored, err := credstore.Hash("DEADBEEF")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !credstore.Verify("DEADBEEF", stored) {
		t.Fatal("verify of the hashed uid failed")
	}
	if credstore.Verify("CAFE1234", stored) {
		t.Fatal("verify unexpectedly succeeded for a different uid")
	}
}

func TestHashIsSaltedPerCall(t *testing.T) {
	first, err := credstore.Hash("DEADBEEF")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := credstore.Hash("DEADBEEF")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same uid produced identical stored values")
	}
	if !credstore.Verify("DEADBEEF", first) || !credstore.Verify("DEADBEEF", second) {
		t.Fatal("both independently salted hashes must still verify")
	}
}

func TestVerifyRejectsMalformedStoredValue(t *testing.T) {
	if credstore.Verify("DEADBEEF", "not-a-bcrypt-hash") {
		t.Fatal("verify unexpectedly succeeded against a malformed stored value")
	}
}
