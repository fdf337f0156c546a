package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/docpipe/api-go/internal/config"
)

// DefaultCollection names the ledger table or collection when none is set.
const DefaultCollection = "pipeline_status"

// Open connects the ledger backend selected by cfg.
func Open(ctx context.Context, cfg config.Config) (Ledger, error) {
	switch cfg.Ledger.Kind {
	case config.LedgerSQLite:
		path := cfg.SQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir ledger dir: %w", err)
		}
		return OpenSQLite(path, cfg.Ledger.Collection)
	case config.LedgerMongo:
		return OpenMongo(ctx, cfg.Ledger.MongoURI, cfg.Ledger.MongoDB, cfg.Ledger.Collection)
	case config.LedgerFirestore:
		return OpenFirestore(ctx, cfg.Ledger.FirestoreProject, cfg.Ledger.Collection)
	default:
		return nil, fmt.Errorf("unknown ledger kind %q", cfg.Ledger.Kind)
	}
}
