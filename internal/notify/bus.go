// Package notify implements the observer bus connecting the sync engine and
// the import machine to UI-side consumers. Callbacks fire synchronously on
// the goroutine that performed the triggering mutation, in registration
// order; downstream code depends on that ordering.
package notify

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// UnsubscribeFunc removes a previously registered observer. Safe to call
// more than once.
type UnsubscribeFunc func()

// Bus carries the five marketplace notification signals. The zero value is
// not usable; create one with New.
type Bus struct {
	mu sync.Mutex

	nextID int

	statusChanged map[int]func(importing bool)
	statusReport  map[int]func(code uint32, detail map[string]any)
	statusUpdated map[int]func()
	listing       map[int]func(folderID uuid.UUID)
	refreshed     map[int]func()
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		statusChanged: make(map[int]func(bool)),
		statusReport:  make(map[int]func(uint32, map[string]any)),
		statusUpdated: make(map[int]func()),
		listing:       make(map[int]func(uuid.UUID)),
		refreshed:     make(map[int]func()),
	}
}

func (b *Bus) register() int {
	b.nextID++
	return b.nextID
}

// OnStatusChanged registers a callback fired when the import-in-progress
// flag flips. The boolean argument is the new value.
func (b *Bus) OnStatusChanged(fn func(importing bool)) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.statusChanged[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.statusChanged, id)
	}
}

// OnStatusReport registers a callback for initialization errors and import
// job completion detail. code is one of the model.ImportCode values.
func (b *Bus) OnStatusReport(fn func(code uint32, detail map[string]any)) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.statusReport[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.statusReport, id)
	}
}

// OnStatusUpdated registers a payload-free "connection status changed,
// re-read it" callback.
func (b *Bus) OnStatusUpdated(fn func()) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.statusUpdated[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.statusUpdated, id)
	}
}

// OnListingChanged registers a per-record mutation hint carrying the
// affected listing folder.
func (b *Bus) OnListingChanged(fn func(folderID uuid.UUID)) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.listing[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listing, id)
	}
}

// OnListingsRefreshed registers a callback fired after a bulk listings
// refresh completes.
func (b *Bus) OnListingsRefreshed(fn func()) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.refreshed[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.refreshed, id)
	}
}

// snapshot copies the callbacks for one signal in registration order so the
// dispatch loop runs without holding the bus lock. Observers may therefore
// subscribe or unsubscribe from inside a callback.
func snapshot[T any](b *Bus, m map[int]T) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids) // registration order is subscription ID order
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// StatusChanged fires the import-in-progress signal.
func (b *Bus) StatusChanged(importing bool) {
	for _, fn := range snapshot(b, b.statusChanged) {
		fn(importing)
	}
}

// StatusReport fires the numeric status-report signal.
func (b *Bus) StatusReport(code uint32, detail map[string]any) {
	for _, fn := range snapshot(b, b.statusReport) {
		fn(code, detail)
	}
}

// StatusUpdated fires the connection-status signal.
func (b *Bus) StatusUpdated() {
	for _, fn := range snapshot(b, b.statusUpdated) {
		fn()
	}
}

// ListingChanged fires the per-record mutation hint.
func (b *Bus) ListingChanged(folderID uuid.UUID) {
	for _, fn := range snapshot(b, b.listing) {
		fn(folderID)
	}
}

// ListingsRefreshed fires the bulk-refresh signal.
func (b *Bus) ListingsRefreshed() {
	for _, fn := range snapshot(b, b.refreshed) {
		fn()
	}
}
