package market

import (
	"github.com/google/uuid"

	"marketsync/internal/model"
)

// tupleCache maps listing folder IDs to their cached tuples. It is a plain
// data structure: callers (the engine) hold the engine lock, and records
// move in and out by value only.
type tupleCache struct {
	items map[uuid.UUID]model.Listing
}

func newTupleCache() *tupleCache {
	return &tupleCache{items: make(map[uuid.UUID]model.Listing)}
}

// insert adds or replaces the record keyed by its FolderID.
func (c *tupleCache) insert(rec model.Listing) {
	c.items[rec.FolderID] = rec
}

func (c *tupleCache) remove(folderID uuid.UUID) {
	delete(c.items, folderID)
}

func (c *tupleCache) lookup(folderID uuid.UUID) (model.Listing, bool) {
	rec, ok := c.items[folderID]
	return rec, ok
}

// folderByListingID reverse-maps a remote listing ID to its folder.
// Linear scan; the cache holds one record per listed folder, which is small.
func (c *tupleCache) folderByListingID(listingID int) (uuid.UUID, bool) {
	if listingID == model.NoListingID {
		return uuid.Nil, false
	}
	for folder, rec := range c.items {
		if rec.ListingID == listingID {
			return folder, true
		}
	}
	return uuid.Nil, false
}

// each calls fn for every record until fn returns false.
func (c *tupleCache) each(fn func(model.Listing) bool) {
	for _, rec := range c.items {
		if !fn(rec) {
			return
		}
	}
}

func (c *tupleCache) size() int {
	return len(c.items)
}
