package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"marketsync/internal/model"
	"marketsync/internal/notify"
	"marketsync/internal/slm"
)

// --- Mock marketplace service ------------------------------------------------

// mockMarket is an in-memory stand-in for the SLM listings API. When gate is
// set, every call blocks on it before answering, which lets tests hold a
// request in flight.
type mockMarket struct {
	mu       sync.Mutex
	merchant bool
	listings map[int]model.Listing // listing ID → record
	nextID   int

	failWith      error         // returned by every call when set
	gate          chan struct{} // calls block until closed when set
	createOmitsID bool          // create responses carry no listing ID
	calls         map[string]int
}

func newMockMarket() *mockMarket {
	return &mockMarket{
		merchant: true,
		listings: make(map[int]model.Listing),
		nextID:   100,
		calls:    make(map[string]int),
	}
}

// enter records the call, waits on the gate, and returns the scripted error.
func (m *mockMarket) enter(op string) error {
	m.mu.Lock()
	m.calls[op]++
	gate := m.gate
	err := m.failWith
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (m *mockMarket) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// seed installs a record server-side without going through the engine.
func (m *mockMarket) seed(rec model.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[rec.ListingID] = rec
}

func (m *mockMarket) Merchant(_ context.Context) (bool, error) {
	if err := m.enter("merchant"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merchant, nil
}

func (m *mockMarket) CreateListing(_ context.Context, folderID uuid.UUID) (model.Listing, error) {
	if err := m.enter("create"); err != nil {
		return model.Listing{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createOmitsID {
		return model.Listing{FolderID: folderID}, nil
	}
	m.nextID++
	rec := model.Listing{
		FolderID:  folderID,
		ListingID: m.nextID,
		EditURL:   fmt.Sprintf("https://marketplace.example.com/listings/%d/edit", m.nextID),
	}
	m.listings[rec.ListingID] = rec
	return rec, nil
}

func (m *mockMarket) GetListing(_ context.Context, listingID int) (model.Listing, error) {
	if err := m.enter("get"); err != nil {
		return model.Listing{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.listings[listingID]
	if !ok {
		return model.Listing{}, &slm.APIError{Code: 404, Message: "listing not found"}
	}
	return rec, nil
}

func (m *mockMarket) Listings(_ context.Context) ([]model.Listing, error) {
	if err := m.enter("listings"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Listing
	for _, rec := range m.listings {
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockMarket) UpdateListing(_ context.Context, listingID int, versionFolderID uuid.UUID, active bool) (model.Listing, error) {
	if err := m.enter("update"); err != nil {
		return model.Listing{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.listings[listingID]
	if !ok {
		return model.Listing{}, &slm.APIError{Code: 404, Message: "listing not found"}
	}
	rec.VersionFolderID = versionFolderID
	rec.Active = active && versionFolderID != uuid.Nil
	m.listings[listingID] = rec
	return rec, nil
}

func (m *mockMarket) AssociateListing(_ context.Context, folderID uuid.UUID, listingID int) (model.Listing, error) {
	if err := m.enter("associate"); err != nil {
		return model.Listing{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.listings[listingID]
	if !ok {
		return model.Listing{}, &slm.APIError{Code: 404, Message: "listing not found"}
	}
	rec.FolderID = folderID
	m.listings[listingID] = rec
	return rec, nil
}

func (m *mockMarket) DeleteListing(_ context.Context, listingID int) error {
	if err := m.enter("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.listings[listingID]; !ok {
		return &slm.APIError{Code: 404, Message: "listing not found"}
	}
	delete(m.listings, listingID)
	return nil
}

// --- Signal recorder ---------------------------------------------------------

// recorder subscribes to every bus signal and keeps counts for assertions.
type recorder struct {
	mu             sync.Mutex
	listingChanges []uuid.UUID
	refreshes      int
	statusUpdates  int
	reports        []uint32
}

func newRecorder(bus *notify.Bus) *recorder {
	r := &recorder{}
	bus.OnListingChanged(func(folderID uuid.UUID) {
		r.mu.Lock()
		r.listingChanges = append(r.listingChanges, folderID)
		r.mu.Unlock()
	})
	bus.OnListingsRefreshed(func() {
		r.mu.Lock()
		r.refreshes++
		r.mu.Unlock()
	})
	bus.OnStatusUpdated(func() {
		r.mu.Lock()
		r.statusUpdates++
		r.mu.Unlock()
	})
	bus.OnStatusReport(func(code uint32, _ map[string]any) {
		r.mu.Lock()
		r.reports = append(r.reports, code)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) changed(folderID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.listingChanges {
		if f == folderID {
			n++
		}
	}
	return n
}

func (r *recorder) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes
}

func (r *recorder) reportCodes() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.reports...)
}
