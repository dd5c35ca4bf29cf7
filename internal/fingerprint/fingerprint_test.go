package fingerprint

import (
	"strings"
	"testing"

	"github.com/bling0390/vivbliss-sync/errs"
)

func strPtr(s string) *string { return &s }

func TestComputeDeterministicAcrossCalls(t *testing.T) {
	base := Snapshot{
		ProductKey: "42",
		URL:        "https://example.test/42",
		Title:      strPtr("Widget"),
		Price:      &Price{Amount: "9.99", Currency: "$"},
		Media: []MediaRef{
			{MediaType: "image", SourceURL: "i1"},
		},
	}

	first, err := Compute(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Compute(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic digest, got %s and %s", first, second)
	}
}

func TestComputeIgnoresRawByConstruction(t *testing.T) {
	// Snapshot has no Raw field at all, so two inputs differing only in
	// opaque echo data necessarily produce identical snapshots/digests.
	a := Snapshot{ProductKey: "42", URL: "u", Title: strPtr("T")}
	b := Snapshot{ProductKey: "42", URL: "u", Title: strPtr("T")}

	digestA, err := Compute(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	digestB, err := Compute(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if digestA != digestB {
		t.Fatalf("expected identical digests, got %s != %s", digestA, digestB)
	}
}

func TestComputeChangesWhenTitleChanges(t *testing.T) {
	a := Snapshot{ProductKey: "42", URL: "u", Title: strPtr("T")}
	b := Snapshot{ProductKey: "42", URL: "u", Title: strPtr("T2")}

	digestA, _ := Compute(a)
	digestB, _ := Compute(b)
	if digestA == digestB {
		t.Fatal("expected digests to differ after a title change")
	}
}

func TestComputeChangesWhenMediaListGrows(t *testing.T) {
	a := Snapshot{ProductKey: "42", URL: "u", Title: strPtr("T"),
		Media: []MediaRef{{MediaType: "image", SourceURL: "i1"}}}
	b := Snapshot{ProductKey: "42", URL: "u", Title: strPtr("T"),
		Media: []MediaRef{{MediaType: "image", SourceURL: "i1"}, {MediaType: "image", SourceURL: "i2"}}}

	digestA, _ := Compute(a)
	digestB, _ := Compute(b)
	if digestA == digestB {
		t.Fatal("expected digests to differ when the media list grows")
	}
}

func TestComputeRejectsEmptyProductKey(t *testing.T) {
	_, err := Compute(Snapshot{URL: "u"})
	if err == nil {
		t.Fatal("expected an error for an empty product_key")
	}
	if !errs.Is(err, errs.CodeLogic) {
		t.Fatalf("expected a logic error, got %v", err)
	}
}

func TestComputeRejectsMalformedPriceAmount(t *testing.T) {
	_, err := Compute(Snapshot{
		ProductKey: "42",
		Price:      &Price{Amount: "not-a-number", Currency: "$"},
	})
	if err == nil {
		t.Fatal("expected an error for a malformed price amount")
	}
	if !errs.Is(err, errs.CodeLogic) {
		t.Fatalf("expected a logic error, got %v", err)
	}
}

func TestBuildDedupeKeyDeterministicAndDistinct(t *testing.T) {
	k1 := BuildDedupeKey("42", 1, "product_created")
	k2 := BuildDedupeKey("42", 1, "product_created")
	if k1 != k2 {
		t.Fatal("expected dedupe key to be deterministic")
	}
	k3 := BuildDedupeKey("42", 2, "product_created")
	if k1 == k3 {
		t.Fatal("expected dedupe key to change with version")
	}
	k4 := BuildDedupeKey("42", 1, "product_updated")
	if k1 == k4 {
		t.Fatal("expected dedupe key to change with event_type")
	}
}

func TestEncodeStringEscapesNonASCII(t *testing.T) {
	var out strings.Builder
	encodeString(&out, "café")
	got := out.String()
	want := "\"caf\\u00e9\""
	if got != want {
		t.Fatalf("expected ascii-escaped string %q, got %q", want, got)
	}
}
