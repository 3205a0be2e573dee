package batch

import (
	"cmp"
	"slices"

	"github.com/dgnsrekt/unitsync/internal/unit"
)

// accumulator is the coalesced view of everything dequeued since the last
// successful flush. An id can sit in both updates and deletes.
type accumulator struct {
	updates map[uint64]unit.Unit
	deletes []uint64
}

func newAccumulator() *accumulator {
	return &accumulator{updates: make(map[uint64]unit.Unit)}
}

func (a *accumulator) add(u unit.Unit) {
	if u.Deleted {
		a.deletes = append(a.deletes, u.ID)
		return
	}
	a.updates[u.ID] = u
}

// pendingUpdates returns the pending updates ordered by id.
func (a *accumulator) pendingUpdates() []unit.Unit {
	units := make([]unit.Unit, 0, len(a.updates))
	for _, u := range a.updates {
		units = append(units, u)
	}
	slices.SortFunc(units, func(x, y unit.Unit) int { return cmp.Compare(x.ID, y.ID) })
	return units
}

func (a *accumulator) pendingDeletes() []uint64 {
	return slices.Clone(a.deletes)
}

func (a *accumulator) empty() bool {
	return len(a.updates) == 0 && len(a.deletes) == 0
}

func (a *accumulator) reset() {
	clear(a.updates)
	a.deletes = a.deletes[:0]
}
