package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8787" || cfg.Server.BasePath != "/api" {
		t.Fatalf("unexpected defaults: %+v", cfg.Server)
	}
	if cfg.Attest.Live() {
		t.Fatal("bare workspace must not be in live attestation mode")
	}
}

func TestLoadReadsFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	yml := strings.Join([]string{
		"server:",
		"  addr: :9999",
		"quickcheck:",
		"  model: gemini-1.5-pro",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "proofday.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROOFDAY_QUICKCHECK_API_KEY", "env-key")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("file value not applied: %q", cfg.Server.Addr)
	}
	if cfg.Quickcheck.Model != "gemini-1.5-pro" {
		t.Fatalf("file model not applied: %q", cfg.Quickcheck.Model)
	}
	if cfg.Quickcheck.APIKey != "env-key" {
		t.Fatalf("env overlay not applied: %q", cfg.Quickcheck.APIKey)
	}
}

func TestValidatePartialAttestationBlock(t *testing.T) {
	cfg := Default()
	cfg.Attest.RPCURL = "https://rpc.example.org"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("partial attestation block should fail validation")
	}
	if !strings.Contains(err.Error(), "partially set") {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Attest.PrivateKey = "0xkey"
	cfg.Attest.Contract = "0xcontract"
	cfg.Attest.SchemaID = "0xschema"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete block should validate: %v", err)
	}
	if !cfg.Attest.Live() {
		t.Fatal("complete block should be live")
	}
}

func TestValidateBasePath(t *testing.T) {
	cfg := Default()
	cfg.Server.BasePath = "api"
	if err := cfg.Validate(); err == nil {
		t.Fatal("base path without leading slash should fail")
	}
}
