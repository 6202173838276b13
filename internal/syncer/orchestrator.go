// Package syncer keeps the local cache, the mirror and the drive snapshot consistent.
//
// The Orchestrator runs Pulling -> Reconciling -> Pushing with a single-flight guard and
// bounded exponential retry. The Engine applies local mutations and feeds the
// orchestrator's dirty set.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/notesync/internal/cache"
	"github.com/and161185/notesync/internal/crypto/fieldcrypto"
	"github.com/and161185/notesync/internal/drive"
	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/mirror"
	"github.com/and161185/notesync/internal/model"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultCallTimeout       = 15 * time.Second
	DefaultMaxAttempts       = 5
	DefaultBaseBackoff       = 500 * time.Millisecond
	DefaultMaxBackoff        = 30 * time.Second
	DefaultDebounceThreshold = 5
)

// Options configures an Orchestrator.
type Options struct {
	UserID uuid.UUID
	Key    []byte

	Cache  *cache.Cache
	Mirror mirror.Mirror
	Drive  drive.Drive
	Logger *zap.Logger
	Now    func() time.Time

	CallTimeout       time.Duration
	MaxAttempts       uint64
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	DebounceThreshold int
	TombstoneTTL      time.Duration
}

// QuarantineEntry describes an id excluded from sync.
type QuarantineEntry struct {
	ID     uuid.UUID
	Reason string
}

// Orchestrator owns the sync state. All exported methods are safe for concurrent use.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger
	signal *Signal

	mu         sync.Mutex
	running    bool
	rerun      bool
	failed     bool
	dirty      map[uuid.UUID]uint64
	quarantine map[uuid.UUID]string
	// mirrorBad holds ids whose mirror copy did not decrypt at hydration. They are
	// quarantined only if the next run finds no readable copy on the drive either.
	mirrorBad map[uuid.UUID]string
	lastRun   time.Time

	// base bounds every background run; Close cancels it.
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New validates opts and fills defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	if len(opts.Key) != fieldcrypto.KeyLen {
		return nil, fmt.Errorf("%w: key must be %d bytes", errs.ErrValidation, fieldcrypto.KeyLen)
	}
	if opts.Cache == nil || opts.Mirror == nil || opts.Drive == nil {
		return nil, fmt.Errorf("%w: cache, mirror and drive are required", errs.ErrValidation)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.DebounceThreshold <= 0 {
		opts.DebounceThreshold = DefaultDebounceThreshold
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:       opts,
		logger:     opts.Logger.With(zap.String("component", "syncer"), zap.Stringer("user_id", opts.UserID)),
		signal:     newSignal(),
		dirty:      make(map[uuid.UUID]uint64),
		quarantine: make(map[uuid.UUID]string),
		mirrorBad:  make(map[uuid.UUID]string),
		base:       base,
		stop:       stop,
	}, nil
}

// Progress returns the current progress value.
func (o *Orchestrator) Progress() Progress { return o.signal.Get() }

// Subscribe streams progress updates. See Signal.Subscribe.
func (o *Orchestrator) Subscribe() (<-chan Progress, func()) { return o.signal.Subscribe() }

// Start hydrates the cache from the mirror, then triggers the startup run in the
// background. Hydration failures are reported and do not prevent the run: the drive
// pull decides what survives.
func (o *Orchestrator) Start(ctx context.Context) {
	if err := o.hydrate(ctx); err != nil {
		o.logger.Warn("mirror hydration failed", zap.Error(err))
		o.signal.set(PhaseIdle, "mirror unavailable, continuing from drive: "+err.Error())
	}
	o.Trigger(ctx, "startup")
}

func (o *Orchestrator) hydrate(ctx context.Context) error {
	n := 0
	for _, kind := range model.Kinds {
		recs, err := withTimeout(ctx, o.opts.CallTimeout, func(ctx context.Context) ([]model.Record, error) {
			return o.opts.Mirror.List(ctx, kind, o.opts.UserID)
		})
		if err != nil {
			return fmt.Errorf("hydrate %s: %w", kind, err)
		}
		for _, rec := range recs {
			ent, err := fieldcrypto.OpenRecord(rec, o.opts.Key)
			if err != nil {
				o.logger.Warn("mirror copy does not decrypt, waiting for the drive copy",
					zap.Stringer("id", rec.ID), zap.Error(err))
				o.mu.Lock()
				o.mirrorBad[rec.ID] = err.Error()
				o.mu.Unlock()
				continue
			}
			cur, ok := o.opts.Cache.Get(rec.ID)
			if ok && !rec.UpdatedAt.After(cur.Sealed.UpdatedAt) {
				continue
			}
			if _, ok := o.opts.Cache.UpsertIf(cache.Item{Entity: ent, Sealed: rec}, cur.Rev); ok {
				n++
			}
		}
	}
	o.logger.Debug("cache hydrated from mirror", zap.Int("records", n))
	return nil
}

// MarkDirty records that id changed locally at cache revision rev and triggers a run
// once the dirty set reaches the debounce threshold.
func (o *Orchestrator) MarkDirty(ctx context.Context, id uuid.UUID, rev uint64) {
	o.mu.Lock()
	o.dirty[id] = rev
	n := len(o.dirty)
	o.mu.Unlock()
	if n >= o.opts.DebounceThreshold {
		o.Trigger(ctx, "dirty threshold")
	}
}

// DirtyCount returns the number of ids waiting for the next reconciliation.
func (o *Orchestrator) DirtyCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.dirty)
}

// Trigger starts a run in the background. A trigger during a run is coalesced into one
// follow-up run; triggers are ignored while a persistent failure is pending or after
// Close. The run keeps ctx's values but not its cancellation: it is bounded by the
// orchestrator's own lifetime. Reports whether a new run was started.
func (o *Orchestrator) Trigger(ctx context.Context, reason string) bool {
	o.mu.Lock()
	switch {
	case o.base.Err() != nil:
		o.mu.Unlock()
		return false
	case o.failed:
		o.mu.Unlock()
		o.logger.Debug("trigger ignored, manual sync required", zap.String("reason", reason))
		return false
	case o.running:
		o.rerun = true
		o.mu.Unlock()
		o.logger.Debug("trigger coalesced", zap.String("reason", reason))
		return false
	}
	o.running = true
	o.wg.Add(1)
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unlink := context.AfterFunc(o.base, cancel)

	o.logger.Info("sync triggered", zap.String("reason", reason))
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer unlink()
		if err := o.loop(runCtx); err != nil {
			o.logger.Warn("background sync failed", zap.Error(err))
		}
	}()
	return true
}

// Run performs a sync now and waits for it. It clears a persistent failure. If a run is
// already in flight a follow-up is scheduled and errs.ErrSyncInProgress is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.failed = false
	if o.running {
		o.rerun = true
		o.mu.Unlock()
		return errs.ErrSyncInProgress
	}
	o.running = true
	o.mu.Unlock()
	return o.loop(ctx)
}

// Wait blocks until background runs started by Trigger have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Close cancels any background run, waits for it and stops further triggers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.stop()
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) loop(ctx context.Context) error {
	for {
		err := o.runWithRetry(ctx)

		o.mu.Lock()
		if err != nil {
			o.running, o.rerun = false, false
			o.failed = !errors.Is(err, context.Canceled)
			o.mu.Unlock()
			return err
		}
		if !o.rerun {
			o.running = false
			o.mu.Unlock()
			return nil
		}
		o.rerun = false
		o.mu.Unlock()
	}
}

func (o *Orchestrator) runWithRetry(ctx context.Context) error {
	b := retry.NewExponential(o.opts.BaseBackoff)
	b = retry.WithCappedDuration(o.opts.MaxBackoff, b)
	b = retry.WithMaxRetries(o.opts.MaxAttempts-1, b)

	attempt := uint64(0)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := o.runOnce(ctx)
		if err == nil {
			return nil
		}
		if errs.IsRetryable(err) && attempt < o.opts.MaxAttempts {
			o.logger.Warn("sync attempt failed, retrying",
				zap.Uint64("attempt", attempt), zap.Uint64("max_attempts", o.opts.MaxAttempts), zap.Error(err))
			o.signal.update(func(p *Progress) {
				p.Phase, p.IsSyncing = PhaseError, true
				p.Message = fmt.Sprintf("attempt %d of %d failed, retrying: %v", attempt, o.opts.MaxAttempts, err)
			})
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		o.signal.set(PhaseIdle, "sync canceled")
		return err
	}
	o.logger.Error("sync failed", zap.Uint64("attempts", attempt), zap.Error(err))
	o.signal.update(func(p *Progress) {
		p.Phase, p.IsSyncing, p.Failed = PhaseError, false, true
		p.Message = "sync failed: " + err.Error()
	})
	return err
}

func (o *Orchestrator) runOnce(ctx context.Context) error {
	o.signal.update(func(p *Progress) { p.Failed = false })

	// Pulling
	o.signal.set(PhasePulling, "reading drive snapshot")
	dirty := o.dirtySnapshot()
	snap, err := withTimeout(ctx, o.opts.CallTimeout, func(ctx context.Context) (model.Snapshot, error) {
		return o.opts.Drive.ReadAll(ctx, o.opts.UserID)
	})
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	// Reconciling
	o.signal.set(PhaseReconciling, fmt.Sprintf("reconciling %d drive records with %d local changes", len(snap.Records), len(dirty)))
	now := o.opts.Now()
	plan := Reconcile(Input{
		Local:        o.opts.Cache.All(),
		Dirty:        dirty,
		Snapshot:     snap.Records,
		Quarantine:   o.quarantineSnapshot(),
		Open:         func(r model.Record) (model.Entity, error) { return fieldcrypto.OpenRecord(r, o.opts.Key) },
		Now:          now,
		TombstoneTTL: o.opts.TombstoneTTL,
	})
	o.applyPlanToCache(plan)
	o.settleMirrorBad()

	// Pushing
	o.signal.set(PhasePushing, fmt.Sprintf("pushing %d mirror operations", len(plan.Mirror)))
	for _, op := range plan.Mirror {
		if err := o.applyMirrorOp(ctx, op); err != nil {
			return fmt.Errorf("push mirror %s %s: %w", op.Record.Kind, op.Record.ID, err)
		}
	}
	version := snap.Version
	if plan.DriveChanged {
		stored, err := withTimeout(ctx, o.opts.CallTimeout, func(ctx context.Context) (model.Snapshot, error) {
			return o.opts.Drive.WriteAll(ctx, o.opts.UserID, model.Snapshot{
				Version: snap.Version, ModifiedAt: snap.ModifiedAt, Records: plan.Drive,
			})
		})
		if err != nil {
			return fmt.Errorf("push drive: %w", err)
		}
		version = stored.Version
	}

	o.clearDirty(dirty)
	o.mu.Lock()
	o.lastRun = now
	o.mu.Unlock()

	msg := fmt.Sprintf("synced %d records, drive version %d", len(plan.Drive), version)
	if q := o.QuarantineCount(); q > 0 {
		msg += fmt.Sprintf(", %d quarantined", q)
	}
	o.signal.update(func(p *Progress) {
		p.Phase, p.IsSyncing, p.Failed = PhaseIdle, false, false
		p.Message = msg
		p.LastReconciledAt = now
	})
	o.logger.Info("sync completed",
		zap.Int64("drive_version", version),
		zap.Int("kept_local", plan.Count(DecisionKeepLocal)),
		zap.Int("took_snapshot", plan.Count(DecisionTakeSnapshot)),
		zap.Int("purged", plan.Count(DecisionPurge)),
		zap.Int("quarantined", plan.Count(DecisionQuarantine)),
		zap.Int("mirror_ops", len(plan.Mirror)),
		zap.Bool("drive_written", plan.DriveChanged))
	return nil
}

func (o *Orchestrator) applyPlanToCache(plan Plan) {
	for id, reason := range plan.Corrupt {
		o.addQuarantine(id, reason)
	}
	for _, id := range plan.Ties {
		o.logger.Info("equal timestamps, kept local copy", zap.Stringer("id", id), zap.Error(errs.ErrConflictAmbiguity))
	}
	for _, w := range plan.Cache {
		if _, ok := o.opts.Cache.UpsertIf(w.Item, w.ExpectRev); !ok {
			o.logger.Debug("cache changed during sync, keeping newer local edit", zap.Stringer("id", w.Item.Entity.ID))
		}
	}
	for _, r := range plan.Remove {
		o.opts.Cache.RemoveIf(r.ID, r.ExpectRev)
	}
}

// settleMirrorBad quarantines ids whose only copy was the undecryptable mirror one.
// Ids the drive supplied a readable copy for are dropped: the plan's upsert repairs
// the mirror.
func (o *Orchestrator) settleMirrorBad() {
	o.mu.Lock()
	bad := o.mirrorBad
	o.mirrorBad = make(map[uuid.UUID]string)
	o.mu.Unlock()
	quarantined := o.quarantineSnapshot()
	for id, reason := range bad {
		if _, ok := o.opts.Cache.Get(id); ok {
			continue
		}
		if _, ok := quarantined[id]; ok {
			continue
		}
		o.addQuarantine(id, "mirror copy: "+reason)
	}
}

func (o *Orchestrator) applyMirrorOp(ctx context.Context, op MirrorOp) error {
	rec := op.Record
	if op.Op == OpPurge {
		_, err := withTimeout(ctx, o.opts.CallTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.opts.Mirror.Delete(ctx, rec.Kind, rec.ID)
		})
		return err
	}
	return upsertMirror(ctx, o.opts.Mirror, o.opts.CallTimeout, rec)
}

// upsertMirror writes the full record: update first, create when the mirror lost it.
func upsertMirror(ctx context.Context, m mirror.Mirror, timeout time.Duration, rec model.Record) error {
	_, err := withTimeout(ctx, timeout, func(ctx context.Context) (model.Record, error) {
		return m.Update(ctx, rec.Kind, rec.ID, model.FullPatch(rec))
	})
	if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	_, err = withTimeout(ctx, timeout, func(ctx context.Context) (uuid.UUID, error) {
		return m.Create(ctx, rec)
	})
	return err
}

// withTimeout bounds one adapter call. A deadline hit by the call's own timeout is a
// network failure.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	v, err := fn(cctx)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, errs.ErrNetwork) {
		err = fmt.Errorf("%w: timed out after %s: %w", errs.ErrNetwork, d, err)
	}
	return v, err
}

func (o *Orchestrator) dirtySnapshot() map[uuid.UUID]uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[uuid.UUID]uint64, len(o.dirty))
	for id, rev := range o.dirty {
		out[id] = rev
	}
	return out
}

// clearDirty drops ids whose revision did not move since the run started.
func (o *Orchestrator) clearDirty(seen map[uuid.UUID]uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, rev := range seen {
		if o.dirty[id] == rev {
			delete(o.dirty, id)
		}
	}
}

func (o *Orchestrator) addQuarantine(id uuid.UUID, reason string) {
	o.mu.Lock()
	_, had := o.quarantine[id]
	o.quarantine[id] = reason
	o.mu.Unlock()
	if !had {
		o.logger.Warn("record quarantined", zap.Stringer("id", id), zap.String("reason", reason), zap.Error(errs.ErrDecryption))
	}
}

func (o *Orchestrator) quarantineSnapshot() map[uuid.UUID]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[uuid.UUID]string, len(o.quarantine))
	for id, r := range o.quarantine {
		out[id] = r
	}
	return out
}

// QuarantineCount returns the number of excluded ids.
func (o *Orchestrator) QuarantineCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.quarantine)
}

// Quarantined lists excluded ids ordered by id.
func (o *Orchestrator) Quarantined() []QuarantineEntry {
	o.mu.Lock()
	out := make([]QuarantineEntry, 0, len(o.quarantine))
	for id, r := range o.quarantine {
		out = append(out, QuarantineEntry{ID: id, Reason: r})
	}
	o.mu.Unlock()
	slices.SortFunc(out, func(a, b QuarantineEntry) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return out
}

// Release returns id to sync; the next run decrypts it again.
func (o *Orchestrator) Release(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.quarantine[id]; !ok {
		return false
	}
	delete(o.quarantine, id)
	return true
}

// LastReconciledAt returns the time of the last successful run.
func (o *Orchestrator) LastReconciledAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRun
}
