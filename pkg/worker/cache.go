package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Cache is the content-addressed model-output store shared by every order
// in a theater: vault_cache/intelligence/output.<fingerprint>.json.
// Concurrent writers for the same fingerprint race benignly; outputs are
// idempotent for a given fingerprint, so last writer wins.
type Cache struct {
	dir string
}

// NewCache roots a cache under the theater directory.
func NewCache(theaterDir string) *Cache {
	return &Cache{dir: filepath.Join(theaterDir, "vault_cache", "intelligence")}
}

func (c *Cache) path(fingerprint string) string {
	return filepath.Join(c.dir, "output."+fingerprint+".json")
}

// Lookup returns the cached output for a fingerprint, or ok=false on a
// miss. A corrupt entry is treated as a miss so a fresh model call can
// overwrite it.
func (c *Cache) Lookup(fingerprint string) (*models.ModelOutput, bool, error) {
	data, err := os.ReadFile(c.path(fingerprint))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var out models.ModelOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, nil
	}
	return &out, true, nil
}

// Store writes an output under its fingerprint, atomically via tmp+rename
// so a reader never sees a torn entry.
func (c *Cache) Store(out *models.ModelOutput) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return writeJSONAtomic(c.path(out.Fingerprint), out)
}

// writeJSONAtomic serializes v and promotes it into place with a rename,
// the same discipline used for worktree artifacts.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}
	tmp := filepath.Join(filepath.Dir(path), "_tmp_"+filepath.Base(path))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("promote %s: %w", filepath.Base(path), err)
	}
	return nil
}
