package patterns

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/db"
)

// Source is the read side of the Pattern Store.
type Source interface {
	// Patterns returns a snapshot of every known pattern. Callers own the slice.
	Patterns() []Pattern
}

// Static is a fixed in-memory Source.
type Static []Pattern

// Patterns implements Source.
func (s Static) Patterns() []Pattern { return clonePatterns(s) }

// Registry is the persisted, versioned Pattern Store. Reads are served from
// an immutable in-memory snapshot; writes happen only through Seed.
type Registry struct {
	store  db.CatalogStore
	logger *zap.Logger

	mu      sync.RWMutex
	current *Catalog
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store db.CatalogStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, logger: logger}
}

// Load activates the newest persisted catalog. When the store is empty or
// holds an older version than fallback, fallback is seeded first.
func (r *Registry) Load(ctx context.Context, fallback *Catalog) (*Catalog, error) {
	if fallback != nil {
		if _, err := r.Seed(ctx, fallback); err != nil {
			return nil, err
		}
	}

	rec, err := r.store.LatestCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("load catalog: no catalog stored and no fallback given")
	}
	c, err := ParseCatalog([]byte(rec.Document))
	if err != nil {
		return nil, fmt.Errorf("load catalog v%d: %w", rec.Version, err)
	}

	r.mu.Lock()
	r.current = c
	r.mu.Unlock()

	r.logger.Info("Pattern catalog loaded",
		zap.Int("version", c.Version),
		zap.Int("patterns", len(c.Patterns)))
	return c, nil
}

// Seed persists c when its version is newer than the stored one. It reports
// whether anything was written.
func (r *Registry) Seed(ctx context.Context, c *Catalog) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	latest, err := r.store.LatestCatalog(ctx)
	if err != nil {
		return false, fmt.Errorf("seed catalog: %w", err)
	}
	if latest != nil && latest.Version >= c.Version {
		return false, nil
	}

	doc, err := c.Marshal()
	if err != nil {
		return false, fmt.Errorf("encode catalog v%d: %w", c.Version, err)
	}
	if err := r.store.SaveCatalog(ctx, &db.CatalogRecord{Version: c.Version, Document: string(doc)}); err != nil {
		return false, err
	}
	r.logger.Info("Pattern catalog seeded", zap.Int("version", c.Version))
	return true, nil
}

// Patterns implements Source. It returns nil before the first Load.
func (r *Registry) Patterns() []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil
	}
	return clonePatterns(r.current.Patterns)
}

// Version returns the active catalog version, or 0 before the first Load.
func (r *Registry) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return 0
	}
	return r.current.Version
}
