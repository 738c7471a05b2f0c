package util

import "testing"

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "contact", want: "contact"},
		{in: "Mentions légales", want: "mentions-legales"},
		{in: "  Tarifs & Offres ", want: "tarifs-offres"},
		{in: "a__b//c", want: "a-b-c"},
		{in: "---", want: ""},
		{in: "", want: ""},
		{in: "Über uns", want: "uber-uns"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsValidSlug(t *testing.T) {
	if !IsValidSlug("home") {
		t.Fatal("expected home to be valid")
	}
	for _, slug := range []string{"", "Home", "a b", "-x", "x--y"} {
		if IsValidSlug(slug) {
			t.Fatalf("expected %q to be invalid", slug)
		}
	}
}

func TestNewIDPrefix(t *testing.T) {
	id := NewID("pg")
	if len(id) != len("pg_")+32 || id[:3] != "pg_" {
		t.Fatalf("unexpected id %q", id)
	}
	if NewID("pg") == id {
		t.Fatal("expected distinct ids")
	}
}

func TestNewIDSortsByCreation(t *testing.T) {
	first := NewID("pv")
	second := NewID("pv")
	if !(first < second) {
		t.Fatalf("expected %q < %q", first, second)
	}
	if len(NewID("")) != 32 {
		t.Fatal("expected bare 32 char id without prefix")
	}
}
