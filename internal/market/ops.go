package market

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"marketsync/internal/model"
)

// CreateListing asks the marketplace to list folderID. Returns false when
// the folder is already tracked or a request for it is in flight; true means
// the request was dispatched, not that it succeeded. The cache gains a
// record only once the service confirms.
func (e *Engine) CreateListing(ctx context.Context, folderID uuid.UUID) bool {
	e.mu.Lock()
	if _, ok := e.cache.lookup(folderID); ok {
		e.mu.Unlock()
		return false
	}
	if !e.pending.tryBegin(folderID) {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	e.dispatch(func() {
		rec, err := e.client.CreateListing(ctx, folderID)
		e.settle("create", folderID, rec, err, e.cntCreated)
	})
	return true
}

// ActivateListing sets the listed/unlisted state of folderID's listing.
// A record that never received a listing ID has no marketplace row yet, so
// the change applies locally; otherwise it applies only after the service
// confirms the update.
func (e *Engine) ActivateListing(ctx context.Context, folderID uuid.UUID, activate bool) bool {
	e.mu.Lock()
	rec, ok := e.cache.lookup(folderID)
	if !ok || (activate && !rec.HasVersionFolder()) {
		e.mu.Unlock()
		return false
	}
	if rec.Active == activate {
		e.mu.Unlock()
		return true
	}
	if !rec.HasListingID() {
		rec.Active = activate
		e.applyLocked(rec)
		e.mu.Unlock()
		e.bus.ListingChanged(folderID)
		return true
	}
	if !e.pending.tryBegin(folderID) {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	e.dispatch(func() {
		updated, err := e.client.UpdateListing(ctx, rec.ListingID, rec.VersionFolderID, activate)
		e.settle("activate", folderID, updated, err, e.cntUpdated)
	})
	return true
}

// SetVersionFolder points folderID's listing at a new version folder.
// Passing uuid.Nil clears it, which also deactivates the listing.
func (e *Engine) SetVersionFolder(ctx context.Context, folderID, versionID uuid.UUID) bool {
	e.mu.Lock()
	rec, ok := e.cache.lookup(folderID)
	if !ok {
		e.mu.Unlock()
		return false
	}
	if rec.VersionFolderID == versionID {
		e.mu.Unlock()
		return true
	}
	if !rec.HasListingID() {
		rec.VersionFolderID = versionID
		e.applyLocked(rec)
		e.mu.Unlock()
		e.bus.ListingChanged(folderID)
		return true
	}
	if !e.pending.tryBegin(folderID) {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	active := rec.Active && versionID != uuid.Nil
	e.dispatch(func() {
		updated, err := e.client.UpdateListing(ctx, rec.ListingID, versionID, active)
		e.settle("set version folder", folderID, updated, err, e.cntUpdated)
	})
	return true
}

// AssociateListing binds an existing marketplace listing ID to folderID,
// the recovery path for listings whose local folder was lost. Rejected when
// the ID is already claimed by a different tracked folder.
func (e *Engine) AssociateListing(ctx context.Context, folderID uuid.UUID, listingID int) bool {
	if listingID == model.NoListingID {
		return false
	}
	e.mu.Lock()
	if _, ok := e.cache.lookup(folderID); !ok {
		e.mu.Unlock()
		return false
	}
	if owner, ok := e.cache.folderByListingID(listingID); ok && owner != folderID {
		e.mu.Unlock()
		return false
	}
	if !e.pending.tryBegin(folderID) {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	e.dispatch(func() {
		rec, err := e.client.AssociateListing(ctx, folderID, listingID)
		e.settle("associate", folderID, rec, err, e.cntUpdated)
	})
	return true
}

// ClearListing deletes folderID's listing from the marketplace and drops it
// from the cache once the service confirms. A record with no listing ID has
// nothing remote to delete and is dropped immediately.
func (e *Engine) ClearListing(ctx context.Context, folderID uuid.UUID) bool {
	e.mu.Lock()
	rec, ok := e.cache.lookup(folderID)
	if !ok {
		e.mu.Unlock()
		return false
	}
	if !rec.HasListingID() {
		e.cache.remove(folderID)
		e.dirty = true
		e.mu.Unlock()
		e.bus.ListingChanged(folderID)
		return true
	}
	if !e.pending.tryBegin(folderID) {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	e.dispatch(func() {
		err := e.client.DeleteListing(ctx, rec.ListingID)
		e.settleDelete(folderID, err)
	})
	return true
}

// GetListing refreshes folderID's record from the marketplace. Returns
// false when the folder is untracked, has no listing ID to query, or
// already has a request in flight.
func (e *Engine) GetListing(ctx context.Context, folderID uuid.UUID) bool {
	e.mu.Lock()
	rec, ok := e.cache.lookup(folderID)
	if !ok || !rec.HasListingID() {
		e.mu.Unlock()
		return false
	}
	if !e.pending.tryBegin(folderID) {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	e.dispatch(func() {
		fetched, err := e.client.GetListing(ctx, rec.ListingID)
		e.settle("get", folderID, fetched, err, e.cntUpdated)
	})
	return true
}

// RefreshListings replaces the cache contents with the full listing set
// from the marketplace. At most one refresh runs at a time; a second call
// while one is in flight returns false.
func (e *Engine) RefreshListings(ctx context.Context) bool {
	e.mu.Lock()
	if !e.pending.beginRefresh() {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	e.dispatch(func() {
		ctx, span := e.tracer.Start(ctx, spanRefresh)
		defer span.End()

		records, err := e.client.Listings(ctx)

		e.mu.Lock()
		e.pending.endRefresh()
		if err != nil {
			e.mu.Unlock()
			e.log.Error("refreshing listings failed", "error", err)
			e.reportFailure("refresh", err)
			return
		}
		for _, rec := range records {
			e.cache.insert(normalize(rec))
		}
		e.dirty = true
		e.mu.Unlock()

		e.cntRefresh.Add(ctx, 1)
		e.log.Info("listings refreshed", "count", len(records))
		e.bus.ListingsRefreshed()
	})
	return true
}

// settle is the shared continuation for calls that return a listing record.
// On success the confirmed record enters the cache; on failure the cache is
// left untouched and the error is surfaced on the status-report signal.
func (e *Engine) settle(op string, folderID uuid.UUID, rec model.Listing, err error, counter metric.Int64Counter) {
	e.mu.Lock()
	e.pending.end(folderID)
	if err != nil {
		e.mu.Unlock()
		e.log.Error("marketplace call failed", "operation", op, "folder", folderID, "error", err)
		e.reportFailure(op, err)
		return
	}
	rec.FolderID = folderID
	e.applyLocked(rec)
	e.mu.Unlock()

	counter.Add(context.Background(), 1)
	e.log.Debug("listing updated", "operation", op, "folder", folderID, "listing", rec.ListingID)
	e.bus.ListingChanged(folderID)
}

// settleDelete is the continuation for ClearListing.
func (e *Engine) settleDelete(folderID uuid.UUID, err error) {
	e.mu.Lock()
	e.pending.end(folderID)
	if err != nil {
		e.mu.Unlock()
		e.log.Error("marketplace call failed", "operation", "clear", "folder", folderID, "error", err)
		e.reportFailure("clear", err)
		return
	}
	e.cache.remove(folderID)
	e.dirty = true
	e.mu.Unlock()

	e.cntDeleted.Add(context.Background(), 1)
	e.log.Info("listing cleared", "folder", folderID)
	e.bus.ListingChanged(folderID)
}

// applyLocked normalizes rec and stores it, flagging counts as stale.
// Caller holds e.mu.
func (e *Engine) applyLocked(rec model.Listing) {
	e.cache.insert(normalize(rec))
	e.dirty = true
}
