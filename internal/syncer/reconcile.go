package syncer

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/cache"
	"github.com/and161185/notesync/internal/model"
)

// Decision is the outcome for one id.
type Decision int

const (
	// DecisionKeepLocal means the cached copy is written to the drive.
	DecisionKeepLocal Decision = iota
	// DecisionTakeSnapshot means the drive copy replaces the cache and the mirror.
	DecisionTakeSnapshot
	// DecisionInSync means both sides hold the same entity; nothing changes.
	DecisionInSync
	// DecisionPurge means an expired tombstone is dropped everywhere.
	DecisionPurge
	// DecisionQuarantine means the id is excluded; the drive keeps its copy verbatim.
	DecisionQuarantine
)

func (d Decision) String() string {
	switch d {
	case DecisionKeepLocal:
		return "keep-local"
	case DecisionTakeSnapshot:
		return "take-snapshot"
	case DecisionInSync:
		return "in-sync"
	case DecisionPurge:
		return "purge"
	case DecisionQuarantine:
		return "quarantine"
	default:
		return "unknown"
	}
}

// OpenFunc decrypts a sealed record.
type OpenFunc func(model.Record) (model.Entity, error)

// Input is everything reconciliation looks at. It is a value: Reconcile performs no I/O
// and does not mutate the input.
type Input struct {
	Local        []cache.Item         // every cached item, tombstones included
	Dirty        map[uuid.UUID]uint64 // id -> cache revision at the time it was marked
	Snapshot     []model.Record       // pulled drive records
	Quarantine   map[uuid.UUID]string // ids already excluded, with reasons
	Open         OpenFunc
	Now          time.Time
	TombstoneTTL time.Duration // 0 keeps tombstones forever
}

// OpKind is a mirror operation type.
type OpKind int

const (
	// OpUpsert writes a record (live or tombstone): update, falling back to create.
	OpUpsert OpKind = iota
	// OpPurge hard-deletes a record.
	OpPurge
)

// MirrorOp is one queued mirror write.
type MirrorOp struct {
	Op     OpKind
	Record model.Record
}

// CacheWrite applies a snapshot winner to the cache if the item is still at ExpectRev.
type CacheWrite struct {
	Item      cache.Item
	ExpectRev uint64
}

// CacheRemove drops a purged id if the item is still at ExpectRev.
type CacheRemove struct {
	ID        uuid.UUID
	ExpectRev uint64
}

// Plan is the result of reconciliation.
type Plan struct {
	Decisions map[uuid.UUID]Decision
	Cache     []CacheWrite
	Remove    []CacheRemove
	Mirror    []MirrorOp
	// Drive is the full record set for the next write, ordered by id.
	Drive []model.Record
	// DriveChanged is false when Drive equals the pulled snapshot.
	DriveChanged bool
	// Corrupt lists ids that failed decryption in this pass, with reasons.
	Corrupt map[uuid.UUID]string
	// Ties lists ids whose copies had equal timestamps but different content.
	Ties []uuid.UUID
}

// Count returns how many ids got decision d.
func (p Plan) Count(d Decision) int {
	n := 0
	for _, v := range p.Decisions {
		if v == d {
			n++
		}
	}
	return n
}

// Reconcile decides, for every id in the cache or the snapshot, which copy survives.
//
// Comparison is whole-entity on UpdatedAt: the later copy wins and equal timestamps keep
// the local copy. Tombstones are ordinary records in this comparison, so a local delete
// newer than a stale snapshot copy is never undone. Snapshot records that fail to decrypt
// are quarantined: the cache and the mirror are left alone and the drive keeps the
// snapshot bytes.
func Reconcile(in Input) Plan {
	plan := Plan{
		Decisions: make(map[uuid.UUID]Decision),
		Corrupt:   make(map[uuid.UUID]string),
	}

	local := make(map[uuid.UUID]cache.Item, len(in.Local))
	for _, it := range in.Local {
		local[it.Entity.ID] = it
	}
	remote := make(map[uuid.UUID]model.Record, len(in.Snapshot))
	for _, r := range in.Snapshot {
		remote[r.ID] = r
	}

	ids := make([]uuid.UUID, 0, len(local)+len(remote))
	for id := range local {
		ids = append(ids, id)
	}
	for id := range remote {
		if _, ok := local[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })

	expired := func(r model.Record) bool {
		return r.Deleted && in.TombstoneTTL > 0 && in.Now.Sub(r.UpdatedAt) > in.TombstoneTTL
	}

	for _, id := range ids {
		loc, hasLocal := local[id]
		rem, hasRemote := remote[id]
		_, dirty := in.Dirty[id]

		if _, q := in.Quarantine[id]; q {
			plan.Decisions[id] = DecisionQuarantine
			switch {
			case hasRemote:
				plan.Drive = append(plan.Drive, rem.Clone())
			case hasLocal:
				plan.Drive = append(plan.Drive, loc.Sealed.Clone())
				plan.DriveChanged = true
			}
			continue
		}

		var remEntity model.Entity
		if hasRemote {
			e, err := in.Open(rem)
			if err != nil {
				plan.Decisions[id] = DecisionQuarantine
				plan.Corrupt[id] = err.Error()
				plan.Drive = append(plan.Drive, rem.Clone())
				continue
			}
			remEntity = e
		}

		var d Decision
		switch {
		case hasLocal && !hasRemote:
			d = DecisionKeepLocal
		case !hasLocal && hasRemote:
			d = DecisionTakeSnapshot
		case rem.UpdatedAt.After(loc.Sealed.UpdatedAt):
			d = DecisionTakeSnapshot
		case rem.UpdatedAt.Equal(loc.Sealed.UpdatedAt) && sameEntity(loc.Entity, remEntity):
			d = DecisionInSync
		default:
			d = DecisionKeepLocal
			if rem.UpdatedAt.Equal(loc.Sealed.UpdatedAt) {
				plan.Ties = append(plan.Ties, id)
			}
		}

		winner := rem
		if d == DecisionKeepLocal {
			winner = loc.Sealed
		}
		if expired(winner) {
			d = DecisionPurge
		}
		plan.Decisions[id] = d

		switch d {
		case DecisionKeepLocal:
			plan.Drive = append(plan.Drive, loc.Sealed.Clone())
			plan.DriveChanged = true
			if dirty {
				plan.Mirror = append(plan.Mirror, MirrorOp{Op: OpUpsert, Record: loc.Sealed.Clone()})
			}
		case DecisionTakeSnapshot:
			plan.Drive = append(plan.Drive, rem.Clone())
			plan.Cache = append(plan.Cache, CacheWrite{
				Item:      cache.Item{Entity: remEntity, Sealed: rem.Clone()},
				ExpectRev: loc.Rev,
			})
			plan.Mirror = append(plan.Mirror, MirrorOp{Op: OpUpsert, Record: rem.Clone()})
		case DecisionInSync:
			plan.Drive = append(plan.Drive, rem.Clone())
			if dirty {
				plan.Mirror = append(plan.Mirror, MirrorOp{Op: OpUpsert, Record: loc.Sealed.Clone()})
			}
		case DecisionPurge:
			if hasRemote {
				plan.DriveChanged = true
			}
			if hasLocal {
				plan.Remove = append(plan.Remove, CacheRemove{ID: id, ExpectRev: loc.Rev})
			}
			plan.Mirror = append(plan.Mirror, MirrorOp{Op: OpPurge, Record: winner.Clone()})
		}
	}

	slices.SortStableFunc(plan.Drive, func(a, b model.Record) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	slices.SortStableFunc(plan.Mirror, compareOps)
	return plan
}

// compareOps orders upserts before purges and tags before notes so notes never reference
// a tag the mirror has not seen yet.
func compareOps(a, b MirrorOp) int {
	if a.Op != b.Op {
		return int(a.Op) - int(b.Op)
	}
	ka, kb := slices.Index(model.Kinds, a.Record.Kind), slices.Index(model.Kinds, b.Record.Kind)
	if ka != kb {
		return ka - kb
	}
	return strings.Compare(a.Record.ID.String(), b.Record.ID.String())
}

func sameEntity(a, b model.Entity) bool {
	return a.Kind == b.Kind &&
		a.Deleted == b.Deleted &&
		a.Date == b.Date &&
		slices.Equal(a.TagIDs, b.TagIDs) &&
		maps.Equal(a.Fields, b.Fields)
}
