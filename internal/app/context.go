package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"proofday/internal/attest"
	"proofday/internal/config"
	"proofday/internal/db"
	"proofday/internal/engine"
	"proofday/internal/migrate"
	"proofday/internal/quickcheck"
)

// Runtime is the assembled application: open database, validated config and
// an engine wired with its collaborators.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (r *Runtime) Close() error {
	return r.DB.Close()
}

// Bootstrap opens the workspace database, applies migrations, loads and
// validates config once, and wires the engine. The quick-check service is
// attached only when an API key is configured; the attestation writer is
// always attached and falls back to offline mode without ledger
// credentials.
func Bootstrap(ctx context.Context, workspace string) (*Runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, cfg)
	e.Attester = attest.New(cfg.Attest)
	if cfg.Quickcheck.APIKey != "" {
		qc, err := quickcheck.NewService(ctx, cfg.Quickcheck)
		if err != nil {
			conn.Close()
			return nil, err
		}
		e.Generator = qc
		e.Judge = qc
	} else {
		log.Println("quickcheck api key not configured; question generation and evaluation will be unavailable")
	}
	if !cfg.Attest.Live() {
		log.Println("attestation ledger credentials not configured; running in offline demo mode")
	}
	return &Runtime{DB: conn, Config: cfg, Engine: e}, nil
}
