package app

import (
	"errors"
	"testing"
)

func TestPoolConfig(t *testing.T) {
	cfg := Config{
		DatabaseURL: "postgres://sessiond:pw@127.0.0.1:5432/sessiond?sslmode=disable",
		DBMaxConns:  8,
		DBMinConns:  2,
	}

	pcfg, err := poolConfig(cfg)
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if pcfg.MaxConns != 8 || pcfg.MinConns != 2 {
		t.Fatalf("max=%d min=%d want 8/2", pcfg.MaxConns, pcfg.MinConns)
	}
	if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != "sessiond" {
		t.Fatalf("application_name=%q", got)
	}
}

func TestPoolConfig_KeepsExplicitApplicationName(t *testing.T) {
	pcfg, err := poolConfig(Config{DatabaseURL: "postgres://127.0.0.1/sessiond?application_name=ops"})
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != "ops" {
		t.Fatalf("application_name=%q want ops", got)
	}
}

func TestPoolConfig_MinAboveMaxIgnored(t *testing.T) {
	pcfg, err := poolConfig(Config{DatabaseURL: "postgres://127.0.0.1/sessiond", DBMaxConns: 2, DBMinConns: 5})
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if pcfg.MinConns > pcfg.MaxConns {
		t.Fatalf("min=%d exceeds max=%d", pcfg.MinConns, pcfg.MaxConns)
	}
}

func TestPoolConfig_BadURL(t *testing.T) {
	_, err := poolConfig(Config{DatabaseURL: "postgres://%zz"})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
