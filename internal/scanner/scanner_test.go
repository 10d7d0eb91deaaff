package scanner

import (
	"context"
	"testing"

	"RegScanner/internal/domain"
)

type stubScanner struct{ name string }

func (s stubScanner) Name() string { return s.name }

func (s stubScanner) Scan(context.Context, Request) ([]domain.RawItem, error) { return nil, nil }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubScanner{name: "rss"})

	if _, err := reg.Resolve("rss"); err != nil {
		t.Fatalf("expected rss scanner, got %v", err)
	}
	if _, err := reg.Resolve("fedreg"); err == nil {
		t.Fatalf("expected error for unregistered scanner")
	}
}

func TestRequestOptions(t *testing.T) {
	t.Parallel()

	req := Request{Options: map[string]string{
		"keywords": " investment adviser, ,broker-dealer ",
		"perPage":  " 5 ",
	}}

	if got := req.Option("perPage", "10"); got != "5" {
		t.Fatalf("unexpected perPage: %q", got)
	}
	if got := req.Option("missing", "fallback"); got != "fallback" {
		t.Fatalf("unexpected fallback: %q", got)
	}

	list := req.ListOption("keywords")
	if len(list) != 2 || list[0] != "investment adviser" || list[1] != "broker-dealer" {
		t.Fatalf("unexpected keywords: %#v", list)
	}
	if req.ListOption("agencies") != nil {
		t.Fatalf("expected nil for unset list option")
	}
}
