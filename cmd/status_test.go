package cmd

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/kamusis/modres/internal/manifest"
	"github.com/kamusis/modres/internal/resolver"
	"github.com/kamusis/modres/internal/server"
	"github.com/kamusis/modres/internal/source"
)

func TestFetchStatus(t *testing.T) {
	r := resolver.New()
	if err := r.AddSource("mem", source.NewMemory(map[string]manifest.Entry{"1": {Binary: "b", Verb: "v"}})); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ts := httptest.NewServer(server.New(r, nil).Handler())
	defer ts.Close()

	st, err := fetchStatus(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("fetchStatus: %v", err)
	}
	if !st.Ready || st.Entries != 1 || len(st.Sources) != 1 || st.Sources[0].Name != "mem" {
		t.Fatalf("unexpected status: %+v", st)
	}

	if _, err := fetchStatus(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
