package exposure

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseFakeHeader(t *testing.T) {
	md := Metadata{
		"FAKE3":    "103.250, 2044.100",
		"FAKE1":    "1023.400, 12.000",
		"FAKE12":   "99.000, 100.500",
		"EXPTIME":  "30.0",
		"FAKETYPE": "sersic", // non-numeric suffix, not a position
	}

	fakes, bad := ParseFakeHeader(md)
	if len(bad) != 0 {
		t.Errorf("unexpected bad keys: %v", bad)
	}

	want := []FakePosition{
		{ID: 1, X: 1023.4, Y: 12.0},
		{ID: 3, X: 103.25, Y: 2044.1},
		{ID: 12, X: 99.0, Y: 100.5},
	}
	if diff := cmp.Diff(want, fakes); diff != "" {
		t.Errorf("fake positions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFakeHeader_Malformed(t *testing.T) {
	md := Metadata{
		"FAKE1": "100.0, 200.0",
		"FAKE2": "not-a-position",
		"FAKE3": "1.0",         // missing y
		"FAKE4": "1.0, 2.0, 3", // too many fields
		"FAKE5": "abc, 2.0",    // bad x
	}

	fakes, bad := ParseFakeHeader(md)
	if len(fakes) != 1 || fakes[0].ID != 1 {
		t.Fatalf("expected only FAKE1 to parse, got %v", fakes)
	}

	wantBad := []string{"FAKE2", "FAKE3", "FAKE4", "FAKE5"}
	if diff := cmp.Diff(wantBad, bad); diff != "" {
		t.Errorf("bad keys mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFakeHeader_Empty(t *testing.T) {
	fakes, bad := ParseFakeHeader(Metadata{"EXPTIME": "30"})
	if len(fakes) != 0 || len(bad) != 0 {
		t.Errorf("expected no fakes from fake-free header, got %v / %v", fakes, bad)
	}
}
