package slm

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"marketsync/internal/model"
)

// wireListing is the JSON shape the SLM service uses for one listing, both
// in requests and responses.
type wireListing struct {
	ID            int               `json:"id,omitempty"`
	IsListed      bool              `json:"is_listed"`
	EditURL       string            `json:"edit_url,omitempty"`
	InventoryInfo wireInventoryInfo `json:"inventory_info"`
}

// wireInventoryInfo nests the local folder bindings inside a listing.
type wireInventoryInfo struct {
	ListingFolderID string `json:"listing_folder_id,omitempty"`
	VersionFolderID string `json:"version_folder_id,omitempty"`
	Count           int    `json:"count,omitempty"`
}

// listingsEnvelope wraps every listings payload; single-record responses use
// a one-element array.
type listingsEnvelope struct {
	Listings []wireListing `json:"listings"`
}

// decodeEnvelope parses a listings response body.
func decodeEnvelope(r io.Reader) (listingsEnvelope, error) {
	var env listingsEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return env, fmt.Errorf("parsing listings response: %w", err)
	}
	return env, nil
}

// wireToListing converts a wire record to the cache tuple. Malformed UUIDs
// decode to uuid.Nil rather than failing the whole response; the service is
// authoritative and a bad field must not wedge the cache.
func wireToListing(w wireListing) model.Listing {
	return model.Listing{
		FolderID:        parseUUID(w.InventoryInfo.ListingFolderID),
		ListingID:       w.ID,
		VersionFolderID: parseUUID(w.InventoryInfo.VersionFolderID),
		Active:          w.IsListed,
		EditURL:         w.EditURL,
	}
}

func parseUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// uuidWire renders a UUID for the wire, mapping uuid.Nil to the empty string
// so cleared version folders serialize as absent.
func uuidWire(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
