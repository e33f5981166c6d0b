// Package model defines shared types used across the sync engine, the import
// status machine, and the SLM client.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// NoListingID is the sentinel for a record that has not been associated with
// a remote listing yet. The SLM service assigns listing IDs starting at 1.
const NoListingID = 0

// Listing is the cached tuple describing one listing folder's remote-facing
// state. The SLM database keys listings by ListingID; locally the folder ID
// is the cache key, so FolderID is authoritative for lookups and ListingID
// is what goes on the wire.
type Listing struct {
	// FolderID is the local inventory folder acting as the cache key.
	// Stable for the lifetime of the record.
	FolderID uuid.UUID

	// ListingID is the identifier assigned by the SLM service once the
	// folder is associated with a remote listing. NoListingID before that.
	ListingID int

	// VersionFolderID is the sub-folder holding the currently published
	// contents. uuid.Nil until a version folder is set.
	VersionFolderID uuid.UUID

	// Active reports whether the listing is live on the marketplace.
	// Invariant: only true while VersionFolderID is set.
	Active bool

	// EditURL is a deep link into the marketplace edit page, supplied by
	// the service. May be empty.
	EditURL string
}

// HasListingID reports whether the record has been associated with a remote
// listing.
func (l Listing) HasListingID() bool {
	return l.ListingID != NoListingID
}

// HasVersionFolder reports whether a version folder is set.
func (l Listing) HasVersionFolder() bool {
	return l.VersionFolderID != uuid.Nil
}

// String returns a compact form used in logs.
func (l Listing) String() string {
	return fmt.Sprintf("listing{folder=%s id=%d version=%s active=%t}",
		l.FolderID, l.ListingID, l.VersionFolderID, l.Active)
}
