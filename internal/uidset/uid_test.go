package uidset_test

import (
	"testing"

	"github.com/dantte-lp/nfcauthd/internal/uidset"
)

func TestNormalizeStripsAndUppercases(t *testing.T) {
	cases := map[string]uidset.UID{
		"deadbeef":     "DEADBEEF",
		"DE:AD:BE:EF":  "DEADBEEF",
		"de-ad-be-ef ": "DEADBEEF",
		"xyz":          "",
		"":             "",
	}
	for raw, want := range cases {
		if got := uidset.Normalize(raw); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalizeTruncatesToMaxLength(t *testing.T) {
	raw := ""
	for i := 0; i < uidset.MaxLength+50; i++ {
		raw += "a"
	}
	got := uidset.Normalize(raw)
	if len(got) != uidset.MaxLength {
		t.Fatalf("len(Normalize(long)) = %d, want %d", len(got), uidset.MaxLength)
	}
}

func TestTranslatePassesThroughUnmapped(t *testing.T) {
	table := map[string]string{"AAAA": "BBBB"}
	if got := uidset.Translate("AAAA", table); got != "BBBB" {
		t.Fatalf("Translate(mapped) = %q, want BBBB", got)
	}
	if got := uidset.Translate("CCCC", table); got != "CCCC" {
		t.Fatalf("Translate(unmapped) = %q, want CCCC", got)
	}
}

func TestSetEqual(t *testing.T) {
	a := uidset.New("AAAA", "BBBB")
	b := uidset.New("BBBB", "AAAA")
	c := uidset.New("AAAA")

	if !a.Equal(b) {
		t.Fatal("sets with the same members in different insertion order must be equal")
	}
	if a.Equal(c) {
		t.Fatal("sets of different size must not be equal")
	}
}

func TestSetCloneIsIndependent(t *testing.T) {
	a := uidset.New("AAAA")
	clone := a.Clone()
	clone["BBBB"] = struct{}{}

	if a.Contains("BBBB") {
		t.Fatal("mutating the clone must not affect the original set")
	}
	if !clone.Contains("AAAA") || !clone.Contains("BBBB") {
		t.Fatal("clone must retain original members plus the new one")
	}
}

func TestSetSingle(t *testing.T) {
	if _, ok := uidset.New().Single(); ok {
		t.Fatal("Single on empty set must report false")
	}
	if _, ok := uidset.New("AAAA", "BBBB").Single(); ok {
		t.Fatal("Single on multi-element set must report false")
	}
	u, ok := uidset.New("AAAA").Single()
	if !ok || u != "AAAA" {
		t.Fatalf("Single on one-element set = (%q, %v), want (AAAA, true)", u, ok)
	}
}

func TestSetSortedIsDeterministic(t *testing.T) {
	s := uidset.New("CCCC", "AAAA", "BBBB")
	got := s.Sorted()
	want := []uidset.UID{"AAAA", "BBBB", "CCCC"}
	if len(got) != len(want) {
		t.Fatalf("len(Sorted()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sorted()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
