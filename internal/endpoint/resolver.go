// Package endpoint decides which backend origin every request targets.
package endpoint

import (
	"context"

	"go.uber.org/zap"

	"erp-session-core/internal/branch"
)

type Tier string

const (
	TierSelected  Tier = "selected"
	TierDefault   Tier = "default"
	TierEmergency Tier = "emergency"
)

type Resolution struct {
	Origin   string
	BranchID string
	Tier     Tier
}

// Resolver never fails: it falls back from the reconciled selection to the
// registry default, and to branch.EmergencyOrigin when storage is unreadable.
type Resolver struct {
	selection *branch.Selection
	log       *zap.Logger
}

func NewResolver(selection *branch.Selection, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{selection: selection, log: logger}
}

func (r *Resolver) CurrentOrigin(ctx context.Context) string {
	return r.Resolve(ctx).Origin
}

func (r *Resolver) Resolve(ctx context.Context) Resolution {
	record, err := r.selection.GetSelected(ctx)
	if err != nil {
		r.log.Warn("branch storage unavailable, using emergency origin",
			zap.String("tier", string(TierEmergency)),
			zap.String("origin", branch.EmergencyOrigin),
			zap.Error(err))
		return Resolution{Origin: branch.EmergencyOrigin, Tier: TierEmergency}
	}

	if record = r.selection.Reconcile(ctx, record); record != nil {
		return Resolution{Origin: record.OriginURL, BranchID: record.ID, Tier: TierSelected}
	}

	def := r.selection.Registry().Default()
	r.log.Debug("no branch selected, using default",
		zap.String("tier", string(TierDefault)),
		zap.String("branch", def.ID))
	return Resolution{Origin: def.OriginURL, BranchID: def.ID, Tier: TierDefault}
}
