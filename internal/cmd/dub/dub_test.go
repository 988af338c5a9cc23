package dub

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("dub", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("expected default address :8090, got %s", cfg.HTTPAddr)
	}
	if cfg.DBPath != "dub.db" {
		t.Fatalf("expected default db path dub.db, got %s", cfg.DBPath)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("DUB_HTTP_ADDR", ":9090")

	fs := flag.NewFlagSet("dub", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-http-addr", ":9091", "-user-name", "Mina"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":9091" {
		t.Fatalf("expected flag override :9091, got %s", cfg.HTTPAddr)
	}
	if cfg.UserName != "Mina" {
		t.Fatalf("expected user name Mina, got %s", cfg.UserName)
	}
}
