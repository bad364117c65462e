package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseNounFlags(t *testing.T) {
	dir := t.TempDir()
	place := filepath.Join(dir, "place.json")
	if err := os.WriteFile(place, []byte(`{"@type": "baz"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	nouns, err := parseNounFlags(
		[]string{"start=foo, tangoTown", "empty="},
		[]string{`inline={"@type": "x", "k": "a=b"}`, "destination=@" + place},
	)
	if err != nil {
		t.Fatalf("parseNounFlags: %v", err)
	}

	if got := nouns["start"].Types; len(got) != 2 || got[0] != "foo" || got[1] != "tangoTown" {
		t.Errorf("start types = %v", got)
	}
	if got := nouns["empty"]; len(got.Types) != 0 || got.JSON != "" {
		t.Errorf("empty noun = %+v", got)
	}
	if got := nouns["inline"].JSON; got != `{"@type": "x", "k": "a=b"}` {
		t.Errorf("inline json = %q", got)
	}
	if got := nouns["destination"]; got.JSON != `{"@type": "baz"}` || got.Types != nil {
		t.Errorf("destination = %+v", got)
	}
}

func TestParseNounFlags_Errors(t *testing.T) {
	tests := []struct {
		name    string
		typed   []string
		json    []string
		wantErr string
	}{
		{"missing equals", []string{"start"}, nil, "want name=value"},
		{"missing name", []string{"=foo"}, nil, "want name=value"},
		{"duplicate", []string{"a=x"}, []string{`a={}`}, "more than once"},
		{"missing file", nil, []string{"a=@/does/not/exist.json"}, "cannot read"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseNounFlags(tt.typed, tt.json)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
