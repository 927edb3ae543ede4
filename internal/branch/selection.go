package branch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"erp-session-core/internal/kv"
	"erp-session-core/internal/model"
)

const SelectedBranchKey = "selected_branch"

var (
	ErrUnknownBranch = errors.New("unknown branch")
	errCorruptRecord = errors.New("corrupt branch record")
)

type Options struct {
	Now    func() time.Time
	Logger *zap.Logger
}

// Selection persists which branch is current. At most one record exists.
type Selection struct {
	store    kv.Store
	registry *Registry
	now      func() time.Time
	log      *zap.Logger
}

func NewSelection(store kv.Store, registry *Registry, opts Options) *Selection {
	s := &Selection{store: store, registry: registry, now: opts.Now, log: opts.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func (s *Selection) Registry() *Registry { return s.registry }

// GetSelected returns nil when nothing is selected or the record is corrupt.
// An error is returned only when the store itself failed.
func (s *Selection) GetSelected(ctx context.Context) (*model.SelectedBranchRecord, error) {
	raw, ok, err := s.store.Get(ctx, SelectedBranchKey)
	if err != nil {
		s.log.Warn("branch selection read failed", zap.Error(err))
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	record, err := parseRecord(raw)
	if err != nil {
		s.log.Warn("discarding unreadable branch selection", zap.Error(err))
		return nil, nil
	}
	return record, nil
}

func (s *Selection) Save(ctx context.Context, record model.SelectedBranchRecord) error {
	if err := validateRecord(&record); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal branch record: %w", err)
	}
	return s.store.SetMany(ctx, map[string]string{SelectedBranchKey: string(data)})
}

// ChangeTo selects branchID with the registry's current origin. Storage
// failures are logged; only ErrUnknownBranch is returned.
func (s *Selection) ChangeTo(ctx context.Context, branchID string) (*model.SelectedBranchRecord, error) {
	b, ok := s.registry.ByID(branchID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBranch, branchID)
	}

	record := model.SelectedBranchRecord{
		ID:             b.ID,
		DisplayName:    b.DisplayName,
		DisplayNameAlt: b.DisplayNameAlt,
		City:           b.City,
		OriginURL:      b.OriginURL,
		SelectedAt:     s.now().UTC(),
	}
	if err := s.Save(ctx, record); err != nil {
		s.log.Error("branch selection write failed", zap.String("branch", branchID), zap.Error(err))
	} else {
		s.log.Info("branch selected", zap.String("branch", branchID), zap.String("origin", b.OriginURL))
	}
	return &record, nil
}

// Clear is idempotent.
func (s *Selection) Clear(ctx context.Context) {
	if err := s.store.Delete(ctx, SelectedBranchKey); err != nil {
		s.log.Warn("branch selection clear failed", zap.Error(err))
	}
}

// Reconcile makes the registry win over a persisted snapshot. A record whose
// id left the registry is cleared and nil is returned; a drifted origin is
// rewritten in place keeping id and selection time.
func (s *Selection) Reconcile(ctx context.Context, record *model.SelectedBranchRecord) *model.SelectedBranchRecord {
	if record == nil {
		return nil
	}

	b, ok := s.registry.ByID(record.ID)
	if !ok {
		s.log.Warn("selected branch no longer exists, clearing", zap.String("branch", record.ID))
		s.Clear(ctx)
		return nil
	}
	if record.OriginURL == b.OriginURL {
		return record
	}

	corrected := *record
	corrected.OriginURL = b.OriginURL
	corrected.DisplayName = b.DisplayName
	corrected.DisplayNameAlt = b.DisplayNameAlt
	corrected.City = b.City
	if err := s.Save(ctx, corrected); err != nil {
		s.log.Warn("persisting reconciled branch failed", zap.String("branch", record.ID), zap.Error(err))
	} else {
		s.log.Info("reconciled stale branch origin",
			zap.String("branch", record.ID),
			zap.String("from", record.OriginURL),
			zap.String("to", b.OriginURL))
	}
	return &corrected
}

func parseRecord(raw string) (*model.SelectedBranchRecord, error) {
	var record model.SelectedBranchRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	if err := validateRecord(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

func validateRecord(record *model.SelectedBranchRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: missing id", errCorruptRecord)
	}
	u, err := url.Parse(record.OriginURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid origin %q", errCorruptRecord, record.OriginURL)
	}
	return nil
}
