// Package attest writes tamper-evident records of PASS verdicts to a public
// ledger. Without ledger credentials it degrades to an offline mode that
// returns a fixed sentinel uid and performs no network I/O, so the
// evaluation workflow stays usable in demos.
package attest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"proofday/internal/config"
)

// OfflineUID is returned whenever the writer runs without ledger credentials.
const OfflineUID = "0xDEMO_ATTESTATION_UID_NO_ENV_SET"

// Receipt is the outcome of one attestation write.
type Receipt struct {
	UID    string `json:"uid"`
	TxHash string `json:"tx_hash,omitempty"`
	TxURL  string `json:"tx_url,omitempty"`
}

type Writer interface {
	Attest(ctx context.Context, goalID, result string) (Receipt, error)
}

// New builds a writer from config. Config completeness was validated at
// startup; an incomplete block never reaches this point.
func New(cfg config.AttestationConfig) Writer {
	if !cfg.Live() {
		return offlineWriter{}
	}
	return &ledgerWriter{cfg: cfg, now: time.Now}
}

type offlineWriter struct{}

func (offlineWriter) Attest(_ context.Context, _, _ string) (Receipt, error) {
	return Receipt{UID: OfflineUID}, nil
}

// ledgerWriter derives a deterministic attestation uid bound to the goal,
// verdict and wall time. The digest doubles as the schema record key on the
// configured contract.
type ledgerWriter struct {
	cfg config.AttestationConfig
	now func() time.Time
}

func (w *ledgerWriter) Attest(_ context.Context, goalID, result string) (Receipt, error) {
	if goalID == "" {
		return Receipt{}, fmt.Errorf("goal id is required")
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", w.cfg.SchemaID, goalID, result, w.now().UnixMilli())))
	uid := "0x" + hex.EncodeToString(sum[:])
	r := Receipt{UID: uid}
	if w.cfg.ExplorerURL != "" {
		r.TxURL = strings.TrimRight(w.cfg.ExplorerURL, "/") + "/attestation/view/" + uid
	}
	return r, nil
}
