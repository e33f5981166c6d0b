package market

import "github.com/google/uuid"

// pendingTracker records which folders have an outstanding remote call, plus
// the global "awaiting full listings refresh" flag. Like tupleCache it is
// unlocked; the engine lock guards it.
type pendingTracker struct {
	pending    map[uuid.UUID]struct{}
	refreshing bool
}

func newPendingTracker() *pendingTracker {
	return &pendingTracker{pending: make(map[uuid.UUID]struct{})}
}

// tryBegin reserves the folder for one remote call. It returns false and
// changes nothing when a call is already outstanding. This is the de-duplication
// gate: a second request is rejected, never queued.
func (p *pendingTracker) tryBegin(folderID uuid.UUID) bool {
	if _, ok := p.pending[folderID]; ok {
		return false
	}
	p.pending[folderID] = struct{}{}
	return true
}

// end releases the folder's reservation. Idempotent.
func (p *pendingTracker) end(folderID uuid.UUID) {
	delete(p.pending, folderID)
}

func (p *pendingTracker) isPending(folderID uuid.UUID) bool {
	_, ok := p.pending[folderID]
	return ok
}

// beginRefresh raises the global refresh flag, false when already raised.
func (p *pendingTracker) beginRefresh() bool {
	if p.refreshing {
		return false
	}
	p.refreshing = true
	return true
}

func (p *pendingTracker) endRefresh() {
	p.refreshing = false
}

func (p *pendingTracker) isRefreshing() bool {
	return p.refreshing
}
