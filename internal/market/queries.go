package market

import (
	"sort"

	"github.com/google/uuid"

	"marketsync/internal/model"
)

// IsListed reports whether folderID has a cached listing record.
func (e *Engine) IsListed(folderID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cache.lookup(folderID)
	return ok
}

// IsListedAndActive reports whether folderID's listing is live on the
// marketplace.
func (e *Engine) IsListedAndActive(folderID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.cache.lookup(folderID)
	return ok && rec.Active
}

// IsVersionFolder reports whether folderID is the version folder of any
// cached listing.
func (e *Engine) IsVersionFolder(folderID uuid.UUID) bool {
	if folderID == uuid.Nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	found := false
	e.cache.each(func(rec model.Listing) bool {
		if rec.VersionFolderID == folderID {
			found = true
			return false
		}
		return true
	})
	return found
}

// IsInActiveFolder reports whether objID sits inside the version folder of
// an active listing.
func (e *Engine) IsInActiveFolder(objID uuid.UUID) bool {
	return e.ActiveFolder(objID) != uuid.Nil
}

// ActiveFolder returns the active version folder containing objID, or
// uuid.Nil when there is none.
func (e *Engine) ActiveFolder(objID uuid.UUID) uuid.UUID {
	e.mu.Lock()
	var candidates []model.Listing
	e.cache.each(func(rec model.Listing) bool {
		if rec.Active && rec.HasVersionFolder() {
			candidates = append(candidates, rec)
		}
		return true
	})
	e.mu.Unlock()

	// Containment checks run outside the engine lock; the tree has its own.
	for _, rec := range candidates {
		if e.tree.Contains(rec.VersionFolderID, objID) {
			return rec.VersionFolderID
		}
	}
	return uuid.Nil
}

// IsUpdating reports whether folderID, a listing folder containing it, or
// the cache as a whole has a request in flight. UI uses it to show spinners
// and block edits.
func (e *Engine) IsUpdating(folderID uuid.UUID) bool {
	e.mu.Lock()
	if e.pending.isRefreshing() || e.pending.isPending(folderID) {
		e.mu.Unlock()
		return true
	}
	var tracked []uuid.UUID
	e.cache.each(func(rec model.Listing) bool {
		if e.pending.isPending(rec.FolderID) {
			tracked = append(tracked, rec.FolderID)
		}
		return true
	})
	e.mu.Unlock()

	for _, listingFolder := range tracked {
		if e.tree.Contains(listingFolder, folderID) {
			return true
		}
	}
	return false
}

// IsRefreshing reports whether a bulk refresh is in flight.
func (e *Engine) IsRefreshing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.isRefreshing()
}

// ListingID returns folderID's marketplace listing ID, or model.NoListingID.
func (e *Engine) ListingID(folderID uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.cache.lookup(folderID)
	if !ok {
		return model.NoListingID
	}
	return rec.ListingID
}

// VersionFolder returns folderID's version folder, or uuid.Nil.
func (e *Engine) VersionFolder(folderID uuid.UUID) uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.cache.lookup(folderID)
	if !ok {
		return uuid.Nil
	}
	return rec.VersionFolderID
}

// ActivationState returns the listed/unlisted state of folderID's listing.
func (e *Engine) ActivationState(folderID uuid.UUID) bool {
	return e.IsListedAndActive(folderID)
}

// ListingURL returns the marketplace edit URL for folderID, or "".
func (e *Engine) ListingURL(folderID uuid.UUID) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.cache.lookup(folderID)
	if !ok {
		return ""
	}
	return rec.EditURL
}

// ListingFolder resolves a marketplace listing ID back to its local folder,
// or uuid.Nil when the ID is untracked.
func (e *Engine) ListingFolder(listingID int) uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	folder, ok := e.cache.folderByListingID(listingID)
	if !ok {
		return uuid.Nil
	}
	return folder
}

// IsEmpty reports whether the cache holds no records.
func (e *Engine) IsEmpty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.size() == 0
}

// Listings returns a snapshot of every cached record, ordered by listing ID
// for stable output.
func (e *Engine) Listings() []model.Listing {
	e.mu.Lock()
	records := make([]model.Listing, 0, e.cache.size())
	e.cache.each(func(rec model.Listing) bool {
		records = append(records, rec)
		return true
	})
	e.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].ListingID != records[j].ListingID {
			return records[i].ListingID < records[j].ListingID
		}
		return records[i].FolderID.String() < records[j].FolderID.String()
	})
	return records
}
