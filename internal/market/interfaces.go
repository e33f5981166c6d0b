// Package market implements the marketplace tuple cache and its
// synchronization engine. The [Engine] owns every cached record, validates
// mutations, issues remote calls through the [Client] boundary, and applies
// the responses back into the cache under a single lock; response handlers
// are the only writers besides the public operations, which is how the
// single-writer discipline is enforced.
package market

import (
	"context"

	"github.com/google/uuid"

	"marketsync/internal/model"
)

// Client is the remote SLM boundary used by the engine.
// Implemented by [slm.Client].
type Client interface {
	Merchant(ctx context.Context) (bool, error)
	CreateListing(ctx context.Context, folderID uuid.UUID) (model.Listing, error)
	GetListing(ctx context.Context, listingID int) (model.Listing, error)
	Listings(ctx context.Context) ([]model.Listing, error)
	UpdateListing(ctx context.Context, listingID int, versionFolderID uuid.UUID, active bool) (model.Listing, error)
	AssociateListing(ctx context.Context, folderID uuid.UUID, listingID int) (model.Listing, error)
	DeleteListing(ctx context.Context, listingID int) error
}

// FolderTree answers folder-containment queries for the engine.
// Implemented by [inventory.Tree].
type FolderTree interface {
	Contains(ancestor, obj uuid.UUID) bool
}
