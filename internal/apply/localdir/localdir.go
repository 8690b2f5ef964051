// Package localdir provides an applier that spools accepted candidates to
// a local directory for pickup by the editing engine.
package localdir

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fentz26/midnight/internal/models"
)

// LocalDir implements the Applier interface by writing one JSON file per
// idempotency key. Re-applying the same key rewrites the same file with
// the same content, so Apply is idempotent.
type LocalDir struct {
	dir string
}

// New creates a LocalDir applier rooted at dir.
func New(dir string) *LocalDir {
	return &LocalDir{dir: dir}
}

// Name returns the applier identifier.
func (l *LocalDir) Name() string {
	return "localdir"
}

// Apply writes the accepted candidate to <dir>/<key>.json atomically via
// a rename.
func (l *LocalDir) Apply(ctx context.Context, key string, res *models.CandidateResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	// Keys are "taskID:attempt"; colon is unfriendly on some filesystems.
	name := strings.ReplaceAll(key, ":", "-") + ".json"
	final := filepath.Join(l.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}
