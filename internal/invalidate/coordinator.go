package invalidate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/seedfang/internal/checkpoint"
	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
	"github.com/Sumatoshi-tech/seedfang/internal/session"
)

// Outcome reports what one criteria save did.
type Outcome struct {
	CriteriaID  string
	Fingerprint criteria.Fingerprint

	// Changed is false when only display metadata differed and every
	// accumulated result stayed valid.
	Changed bool

	SessionsStopped    int
	StoresDeleted      int
	CheckpointsDeleted int
	Export             Report
}

// Coordinator owns the save-criteria flow. A semantic change — detected by
// fingerprint mismatch against the accepted baseline — stops the affected
// sessions, exports their seeds, then deletes the stale stores and
// checkpoints before the new baseline is accepted.
type Coordinator struct {
	baselines   *Baselines
	registry    *session.Registry
	stores      *results.Manager
	checkpoints *checkpoint.Store
	exporter    *Exporter
	logger      *slog.Logger
}

// CoordinatorConfig assembles the coordinator's collaborators.
type CoordinatorConfig struct {
	Baselines   *Baselines
	Registry    *session.Registry
	Stores      *results.Manager
	Checkpoints *checkpoint.Store
	Exporter    *Exporter
	Logger      *slog.Logger
}

// NewCoordinator creates an invalidation coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		baselines:   cfg.Baselines,
		registry:    cfg.Registry,
		stores:      cfg.Stores,
		checkpoints: cfg.Checkpoints,
		exporter:    cfg.Exporter,
		logger:      logger,
	}
}

// SaveCriteria accepts a criteria document under the given path and runs
// invalidation when its semantics changed. Metadata-only edits (name,
// description, ordering of equivalent clauses) update the document without
// touching any accumulated state.
//
// The destructive path is ordered stop, export, delete, accept. The export
// is best effort: stale stores are wrong against the new semantics either
// way, so an export failure is logged and deletion proceeds.
func (c *Coordinator) SaveCriteria(ctx context.Context, path string, tree *criteria.Tree) (Outcome, error) {
	id := criteria.NormalizeID(tree.Name)

	out := Outcome{
		CriteriaID:  id,
		Fingerprint: criteria.ComputeFingerprint(tree),
	}

	baseline, err := c.baselines.Get(id)
	if err != nil {
		return out, fmt.Errorf("save criteria %s: %w", id, err)
	}

	if out.Fingerprint.Equal(baseline) {
		err = criteria.SaveTree(path, tree)
		if err != nil {
			return out, fmt.Errorf("save criteria %s: %w", id, err)
		}

		c.logger.Info("criteria saved; semantics unchanged",
			"criteria", id, "fingerprint", out.Fingerprint.Short())

		return out, nil
	}

	out.Changed = true

	out.SessionsStopped, err = c.registry.StopAll(id)
	if err != nil {
		return out, fmt.Errorf("save criteria %s: %w", id, err)
	}

	out.Export, err = c.exporter.Export(ctx, id, c.stores)
	if err != nil {
		c.logger.Warn("fertilizer export failed; deleting stale stores anyway",
			"criteria", id, "error", err)
	}

	out.StoresDeleted, err = c.deleteStores(id)
	if err != nil {
		return out, fmt.Errorf("save criteria %s: %w", id, err)
	}

	out.CheckpointsDeleted, err = c.checkpoints.DeleteAll(id)
	if err != nil {
		return out, fmt.Errorf("save criteria %s: %w", id, err)
	}

	err = criteria.SaveTree(path, tree)
	if err != nil {
		return out, fmt.Errorf("save criteria %s: %w", id, err)
	}

	err = c.baselines.Put(id, out.Fingerprint)
	if err != nil {
		return out, fmt.Errorf("save criteria %s: %w", id, err)
	}

	c.logger.Info("criteria changed; stale state invalidated",
		"criteria", id,
		"fingerprint", out.Fingerprint.Short(),
		"sessions_stopped", out.SessionsStopped,
		"stores_deleted", out.StoresDeleted,
		"checkpoints_deleted", out.CheckpointsDeleted,
		"seeds_exported", out.Export.SeedsExported,
	)

	return out, nil
}

// CheckFingerprint reports whether the tree's semantics match the accepted
// baseline for its criteria ID, without saving anything.
func (c *Coordinator) CheckFingerprint(tree *criteria.Tree) (criteria.Fingerprint, bool, error) {
	id := criteria.NormalizeID(tree.Name)

	baseline, err := c.baselines.Get(id)
	if err != nil {
		return "", false, err
	}

	fp := criteria.ComputeFingerprint(tree)

	return fp, fp.Equal(baseline), nil
}

func (c *Coordinator) deleteStores(criteriaID string) (int, error) {
	keys, err := c.stores.List(criteriaID)
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, key := range keys {
		store, err := c.stores.Open(key)
		if err != nil {
			return deleted, fmt.Errorf("open store %s for deletion: %w", key.String(), err)
		}

		err = store.Delete()
		if err != nil {
			return deleted, fmt.Errorf("delete store %s: %w", key.String(), err)
		}

		deleted++
	}

	return deleted, nil
}
