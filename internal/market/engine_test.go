package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"marketsync/internal/inventory"
	"marketsync/internal/model"
	"marketsync/internal/notify"
	"marketsync/internal/slm"
)

type fixture struct {
	engine *Engine
	market *mockMarket
	tree   *inventory.Tree
	bus    *notify.Bus
	rec    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	market := newMockMarket()
	tree := inventory.NewTree()
	bus := notify.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		engine: NewEngine(market, tree, bus, logger),
		market: market,
		tree:   tree,
		bus:    bus,
		rec:    newRecorder(bus),
	}
}

// listFolder creates a listing for a fresh folder and settles the response.
func (f *fixture) listFolder(t *testing.T) uuid.UUID {
	t.Helper()
	folder := uuid.New()
	if !f.engine.CreateListing(context.Background(), folder) {
		t.Fatalf("CreateListing(%s) rejected", folder)
	}
	f.engine.Flush()
	if !f.engine.IsListed(folder) {
		t.Fatalf("folder %s not listed after create settled", folder)
	}
	return folder
}

func TestCreateListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := uuid.New()

	if !f.engine.CreateListing(ctx, folder) {
		t.Fatal("CreateListing rejected a fresh folder")
	}
	if f.engine.IsListed(folder) {
		t.Error("record visible before the response settled")
	}
	f.engine.Flush()

	if !f.engine.IsListed(folder) {
		t.Fatal("record missing after response settled")
	}
	if id := f.engine.ListingID(folder); id == model.NoListingID {
		t.Error("listing ID not applied from response")
	}
	if f.engine.IsListedAndActive(folder) {
		t.Error("new listing must start inactive")
	}
	if v := f.engine.VersionFolder(folder); v != uuid.Nil {
		t.Errorf("new listing has version folder %s, want none", v)
	}
	if url := f.engine.ListingURL(folder); url == "" {
		t.Error("edit URL not applied from response")
	}
	if got := f.rec.changed(folder); got != 1 {
		t.Errorf("ListingChanged fired %d times, want 1", got)
	}
	if !f.engine.CheckDirtyCount() {
		t.Error("dirty flag not set by create")
	}
}

func TestCreateListingRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := uuid.New()

	f.market.gate = make(chan struct{})
	if !f.engine.CreateListing(ctx, folder) {
		t.Fatal("first create rejected")
	}
	if f.engine.CreateListing(ctx, folder) {
		t.Error("second create accepted while the first is in flight")
	}
	if !f.engine.IsUpdating(folder) {
		t.Error("IsUpdating false while a request is in flight")
	}
	close(f.market.gate)
	f.engine.Flush()

	if got := f.market.callCount("create"); got != 1 {
		t.Errorf("remote create called %d times, want 1", got)
	}
	if f.engine.CreateListing(ctx, folder) {
		t.Error("create accepted for an already listed folder")
	}
}

func TestCreateListingFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := uuid.New()

	f.market.failWith = errors.New("connection refused")
	if !f.engine.CreateListing(ctx, folder) {
		t.Fatal("create rejected before the remote call")
	}
	f.engine.Flush()

	if f.engine.IsListed(folder) {
		t.Error("failed create left a record in the cache")
	}
	if f.engine.CheckDirtyCount() {
		t.Error("failed create set the dirty flag")
	}
	codes := f.rec.reportCodes()
	if len(codes) != 1 || codes[0] != uint32(model.ImportServerSiteDown) {
		t.Errorf("status reports = %v, want [%d]", codes, model.ImportServerSiteDown)
	}

	// Pending entry is released, the folder can be retried.
	f.market.failWith = nil
	if !f.engine.CreateListing(ctx, folder) {
		t.Error("retry rejected after the failure settled")
	}
	f.engine.Flush()
	if !f.engine.IsListed(folder) {
		t.Error("retry did not list the folder")
	}
}

func TestCreateListingServiceErrorCode(t *testing.T) {
	f := newFixture(t)
	f.market.failWith = &slm.APIError{Code: 400, Message: "malformed payload"}

	folder := uuid.New()
	f.engine.CreateListing(context.Background(), folder)
	f.engine.Flush()

	codes := f.rec.reportCodes()
	if len(codes) != 1 || codes[0] != 400 {
		t.Errorf("status reports = %v, want [400]", codes)
	}
}

func TestActivateListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.engine.ActivateListing(ctx, uuid.New(), true) {
		t.Error("activate accepted for an untracked folder")
	}

	folder := f.listFolder(t)
	if f.engine.ActivateListing(ctx, folder, true) {
		t.Error("activate accepted without a version folder")
	}

	version := uuid.New()
	if !f.engine.SetVersionFolder(ctx, folder, version) {
		t.Fatal("SetVersionFolder rejected")
	}
	f.engine.Flush()
	if got := f.engine.VersionFolder(folder); got != version {
		t.Fatalf("version folder = %s, want %s", got, version)
	}

	if !f.engine.ActivateListing(ctx, folder, true) {
		t.Fatal("activate rejected with a version folder set")
	}
	if f.engine.IsListedAndActive(folder) {
		t.Error("activation visible before the response settled")
	}
	f.engine.Flush()
	if !f.engine.IsListedAndActive(folder) {
		t.Error("listing not active after response settled")
	}

	// Matching state settles locally without a remote round trip.
	calls := f.market.callCount("update")
	if !f.engine.ActivateListing(ctx, folder, true) {
		t.Error("activate rejected when already active")
	}
	f.engine.Flush()
	if got := f.market.callCount("update"); got != calls {
		t.Errorf("no-op activate issued a remote update (%d calls, want %d)", got, calls)
	}
}

func TestSetVersionFolderClearDeactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := f.listFolder(t)
	version := uuid.New()

	f.engine.SetVersionFolder(ctx, folder, version)
	f.engine.Flush()
	f.engine.ActivateListing(ctx, folder, true)
	f.engine.Flush()
	if !f.engine.IsListedAndActive(folder) {
		t.Fatal("setup: listing not active")
	}

	if !f.engine.SetVersionFolder(ctx, folder, uuid.Nil) {
		t.Fatal("clearing the version folder rejected")
	}
	f.engine.Flush()

	if got := f.engine.VersionFolder(folder); got != uuid.Nil {
		t.Errorf("version folder = %s, want none", got)
	}
	if f.engine.IsListedAndActive(folder) {
		t.Error("listing still active with no version folder")
	}
}

func TestSetVersionFolderUnchangedIsLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := f.listFolder(t)

	calls := f.market.callCount("update")
	if !f.engine.SetVersionFolder(ctx, folder, uuid.Nil) {
		t.Error("unchanged version folder rejected")
	}
	f.engine.Flush()
	if got := f.market.callCount("update"); got != calls {
		t.Error("unchanged version folder issued a remote update")
	}
}

func TestClearListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.engine.ClearListing(ctx, uuid.New()) {
		t.Error("clear accepted for an untracked folder")
	}

	folder := f.listFolder(t)
	listingID := f.engine.ListingID(folder)

	if !f.engine.ClearListing(ctx, folder) {
		t.Fatal("clear rejected for a listed folder")
	}
	if !f.engine.IsListed(folder) {
		t.Error("record removed before the delete was confirmed")
	}
	f.engine.Flush()

	if f.engine.IsListed(folder) {
		t.Error("record still cached after confirmed delete")
	}
	if got := f.engine.ListingFolder(listingID); got != uuid.Nil {
		t.Errorf("reverse lookup still resolves to %s after clear", got)
	}
	if !f.engine.IsEmpty() {
		t.Error("cache not empty after its only record was cleared")
	}
}

func TestAssociateListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.engine.AssociateListing(ctx, uuid.New(), 500) {
		t.Error("associate accepted for an untracked folder")
	}

	// A record created from a response without a listing ID is the
	// association target.
	f.market.createOmitsID = true
	folder := f.listFolder(t)
	if f.engine.ListingID(folder) != model.NoListingID {
		t.Fatal("setup: folder unexpectedly has a listing ID")
	}

	version := uuid.New()
	f.market.seed(model.Listing{ListingID: 500, VersionFolderID: version, Active: true, EditURL: "https://marketplace.example.com/listings/500/edit"})

	if !f.engine.AssociateListing(ctx, folder, 500) {
		t.Fatal("associate rejected")
	}
	f.engine.Flush()

	if got := f.engine.ListingID(folder); got != 500 {
		t.Errorf("listing ID = %d, want 500", got)
	}
	if got := f.engine.VersionFolder(folder); got != version {
		t.Errorf("version folder = %s, want %s (server authoritative)", got, version)
	}
	if !f.engine.IsListedAndActive(folder) {
		t.Error("active state not applied from the association response")
	}

	// The ID is now claimed; a different folder cannot take it.
	other := f.listFolder(t)
	if f.engine.AssociateListing(ctx, other, 500) {
		t.Error("associate accepted an ID claimed by a different folder")
	}
}

func TestGetListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.engine.GetListing(ctx, uuid.New()) {
		t.Error("get accepted for an untracked folder")
	}

	folder := f.listFolder(t)
	listingID := f.engine.ListingID(folder)

	// Server-side change becomes visible only through a fetch.
	version := uuid.New()
	f.market.seed(model.Listing{FolderID: folder, ListingID: listingID, VersionFolderID: version, Active: true})

	f.market.gate = make(chan struct{})
	if !f.engine.GetListing(ctx, folder) {
		t.Fatal("get rejected for a listed folder")
	}
	if f.engine.GetListing(ctx, folder) {
		t.Error("second get accepted while the first is in flight")
	}
	close(f.market.gate)
	f.engine.Flush()

	if got := f.engine.VersionFolder(folder); got != version {
		t.Errorf("version folder = %s, want %s", got, version)
	}
	if !f.engine.IsListedAndActive(folder) {
		t.Error("active state not applied from the fetch")
	}
}

func TestRefreshListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folders := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, folder := range folders {
		f.market.seed(model.Listing{FolderID: folder, ListingID: 201 + i})
	}

	f.market.gate = make(chan struct{})
	if !f.engine.RefreshListings(ctx) {
		t.Fatal("refresh rejected")
	}
	if f.engine.RefreshListings(ctx) {
		t.Error("second refresh accepted while one is in flight")
	}
	if !f.engine.IsRefreshing() {
		t.Error("IsRefreshing false while the refresh is in flight")
	}
	close(f.market.gate)
	f.engine.Flush()

	if f.engine.IsRefreshing() {
		t.Error("IsRefreshing true after the refresh settled")
	}
	for _, folder := range folders {
		if !f.engine.IsListed(folder) {
			t.Errorf("folder %s missing after refresh", folder)
		}
	}
	if got := f.rec.refreshCount(); got != 1 {
		t.Errorf("ListingsRefreshed fired %d times, want 1", got)
	}
	if got := f.market.callCount("listings"); got != 1 {
		t.Errorf("remote listings called %d times, want 1", got)
	}

	// Listings are returned ordered by listing ID.
	records := f.engine.Listings()
	if len(records) != len(folders) {
		t.Fatalf("snapshot has %d records, want %d", len(records), len(folders))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].ListingID > records[i].ListingID {
			t.Fatalf("snapshot out of order: %d before %d", records[i-1].ListingID, records[i].ListingID)
		}
	}
}

func TestRefreshListingsFailure(t *testing.T) {
	f := newFixture(t)
	f.market.failWith = errors.New("connection refused")

	if !f.engine.RefreshListings(context.Background()) {
		t.Fatal("refresh rejected")
	}
	f.engine.Flush()

	if f.engine.IsRefreshing() {
		t.Error("refreshing flag stuck after a failed refresh")
	}
	if !f.engine.IsEmpty() {
		t.Error("failed refresh modified the cache")
	}
	if got := f.rec.refreshCount(); got != 0 {
		t.Errorf("ListingsRefreshed fired %d times after a failure, want 0", got)
	}
}

func TestInitializeConnection(t *testing.T) {
	cases := []struct {
		name     string
		merchant bool
		err      error
		want     model.Status
	}{
		{"merchant", true, nil, model.StatusMerchant},
		{"not merchant", false, nil, model.StatusNotMerchant},
		{"unreachable", false, errors.New("connection refused"), model.StatusConnectionFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.market.merchant = tc.merchant
			f.market.failWith = tc.err

			if got := f.engine.Status(); got != model.StatusNotInitialized {
				t.Fatalf("initial status = %s", got)
			}
			f.engine.InitializeConnection(context.Background())
			f.engine.Flush()
			if got := f.engine.Status(); got != tc.want {
				t.Errorf("status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestActiveFolderQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := f.listFolder(t)
	version := uuid.New()
	item := uuid.New()
	f.tree.SetParent(version, folder)
	f.tree.SetParent(item, version)

	f.engine.SetVersionFolder(ctx, folder, version)
	f.engine.Flush()

	if !f.engine.IsVersionFolder(version) {
		t.Error("IsVersionFolder false for the version folder")
	}
	if f.engine.IsInActiveFolder(item) {
		t.Error("item reported in an active folder while the listing is inactive")
	}

	f.engine.ActivateListing(ctx, folder, true)
	f.engine.Flush()

	if !f.engine.IsInActiveFolder(item) {
		t.Error("item not reported in the active version folder")
	}
	if got := f.engine.ActiveFolder(item); got != version {
		t.Errorf("ActiveFolder = %s, want %s", got, version)
	}
	if f.engine.IsInActiveFolder(uuid.New()) {
		t.Error("unrelated object reported in an active folder")
	}
}

func TestIsUpdatingCoversDescendants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := f.listFolder(t)
	child := uuid.New()
	f.tree.SetParent(child, folder)

	f.market.gate = make(chan struct{})
	if !f.engine.GetListing(ctx, folder) {
		t.Fatal("get rejected")
	}
	if !f.engine.IsUpdating(child) {
		t.Error("descendant of a pending listing folder not reported updating")
	}
	if f.engine.IsUpdating(uuid.New()) {
		t.Error("unrelated folder reported updating")
	}
	close(f.market.gate)
	f.engine.Flush()

	if f.engine.IsUpdating(child) {
		t.Error("still updating after the request settled")
	}
}

func TestCheckDirtyCount(t *testing.T) {
	f := newFixture(t)

	if f.engine.CheckDirtyCount() {
		t.Error("dirty flag set on a fresh engine")
	}
	f.engine.SetDirty()
	if !f.engine.CheckDirtyCount() {
		t.Error("dirty flag not observed after SetDirty")
	}
	if f.engine.CheckDirtyCount() {
		t.Error("dirty flag not cleared by the previous check")
	}
}
