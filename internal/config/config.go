package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models proofday.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		// JWTSecret enables session auth when nonempty. Left empty the API
		// is open, which is the demo default.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Quickcheck QuickcheckConfig  `yaml:"quickcheck"`
	Attest     AttestationConfig `yaml:"attestation"`
}

type QuickcheckConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AttestationConfig gates the attestation writer's live mode. All four
// ledger fields must be present together; a partially filled block is a
// startup error rather than a per-call surprise.
type AttestationConfig struct {
	RPCURL      string `yaml:"rpc_url"`
	PrivateKey  string `yaml:"private_key"`
	Contract    string `yaml:"contract"`
	SchemaID    string `yaml:"schema_id"`
	ExplorerURL string `yaml:"explorer_url"`
}

// Live reports whether every ledger credential is configured.
func (a AttestationConfig) Live() bool {
	return a.RPCURL != "" && a.PrivateKey != "" && a.Contract != "" && a.SchemaID != ""
}

func (a AttestationConfig) empty() bool {
	return a.RPCURL == "" && a.PrivateKey == "" && a.Contract == "" && a.SchemaID == ""
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if !c.Attest.Live() && !c.Attest.empty() {
		var missing []string
		for name, v := range map[string]string{
			"rpc_url":     c.Attest.RPCURL,
			"private_key": c.Attest.PrivateKey,
			"contract":    c.Attest.Contract,
			"schema_id":   c.Attest.SchemaID,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
		return fmt.Errorf("config.attestation is partially set; missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "proofday.yml")
}

// Load reads config from workspace, overlays environment credentials and
// validates. A missing file yields defaults, so a bare workspace serves in
// demo mode.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(Path(workspace))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8787"
	cfg.Server.BasePath = "/api"
	cfg.Quickcheck.Model = "gemini-2.0-flash"
	return &cfg
}

func (c *Config) applyEnv() {
	envs := map[string]*string{
		"PROOFDAY_JWT_SECRET":         &c.Auth.JWTSecret,
		"PROOFDAY_QUICKCHECK_API_KEY": &c.Quickcheck.APIKey,
		"PROOFDAY_QUICKCHECK_MODEL":   &c.Quickcheck.Model,
		"PROOFDAY_RPC_URL":            &c.Attest.RPCURL,
		"PROOFDAY_PRIVATE_KEY":        &c.Attest.PrivateKey,
		"PROOFDAY_EAS_CONTRACT":       &c.Attest.Contract,
		"PROOFDAY_EAS_SCHEMA_ID":      &c.Attest.SchemaID,
		"PROOFDAY_EXPLORER_URL":       &c.Attest.ExplorerURL,
	}
	for key, target := range envs {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
}
