package market

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"marketsync/internal/model"
	"marketsync/internal/notify"
	"marketsync/internal/slm"
)

const (
	otelScope      = "marketsync/market"
	spanRefresh    = "market.refresh"
	metricCreated  = "marketsync.listings.created"
	metricUpdated  = "marketsync.listings.updated"
	metricDeleted  = "marketsync.listings.deleted"
	metricRefresh  = "marketsync.listings.refreshes"
	metricFailures = "marketsync.listings.errors"
)

// Engine is the session's marketplace data service. Construct one per
// session with [NewEngine] and inject it wherever the UI or the importer
// needs marketplace state; there is no package-level instance.
type Engine struct {
	client Client
	tree   FolderTree
	bus    *notify.Bus
	log    *slog.Logger

	mu      sync.Mutex
	cache   *tupleCache
	pending *pendingTracker
	status  model.Status
	dirty   bool

	inflight sync.WaitGroup

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntCreated  metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntRefresh  metric.Int64Counter
	cntFailures metric.Int64Counter
}

// NewEngine creates an Engine with an empty cache. tree answers containment
// queries; bus receives every notification the engine fires.
func NewEngine(client Client, tree FolderTree, bus *notify.Bus, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		client:  client,
		tree:    tree,
		bus:     bus,
		log:     logger,
		cache:   newTupleCache(),
		pending: newPendingTracker(),
		status:  model.StatusNotInitialized,

		tracer:      tracer,
		cntCreated:  mustCounter(metricCreated, "Listings created on the marketplace"),
		cntUpdated:  mustCounter(metricUpdated, "Listing records updated from marketplace responses"),
		cntDeleted:  mustCounter(metricDeleted, "Listings deleted from the marketplace"),
		cntRefresh:  mustCounter(metricRefresh, "Bulk listings refreshes completed"),
		cntFailures: mustCounter(metricFailures, "Remote listing calls that failed"),
	}
}

// dispatch runs a remote call plus its response continuation on its own
// goroutine. [Engine.Flush] waits for all of them.
func (e *Engine) dispatch(fn func()) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		fn()
	}()
}

// Flush blocks until every outstanding remote call has delivered its
// response. Called at shutdown, and by tests to settle the cache.
func (e *Engine) Flush() {
	e.inflight.Wait()
}

// Status returns the marketplace connection status.
func (e *Engine) Status() model.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// setStatus stores a new connection status and fires StatusUpdated when it
// actually changed.
func (e *Engine) setStatus(s model.Status) {
	e.mu.Lock()
	changed := e.status != s
	e.status = s
	e.mu.Unlock()
	if changed {
		e.bus.StatusUpdated()
	}
}

// InitializeConnection probes the merchant endpoint asynchronously and sets
// the connection status from the answer. Fires StatusUpdated on each
// transition. The importer drives this; it may be called again at any time
// to re-probe (the ConnectionFailure recovery path).
func (e *Engine) InitializeConnection(ctx context.Context) {
	e.setStatus(model.StatusInitializing)
	e.dispatch(func() {
		merchant, err := e.client.Merchant(ctx)
		if err != nil {
			e.log.Error("merchant probe failed", "error", err)
			e.reportFailure("merchant", err)
			e.setStatus(model.StatusConnectionFailure)
			return
		}
		if merchant {
			e.setStatus(model.StatusMerchant)
		} else {
			e.setStatus(model.StatusNotMerchant)
		}
	})
}

// SetDirty flags that displayed stock counts may be stale.
func (e *Engine) SetDirty() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
}

// CheckDirtyCount reads and clears the dirty flag in one step. It returns
// true at most once per dirty-triggering mutation.
func (e *Engine) CheckDirtyCount() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	was := e.dirty
	e.dirty = false
	return was
}

// reportFailure counts a failed remote call and surfaces it on the
// status-report signal. Transport failures that never reached the service
// carry no code of their own and are reported as a server-down 500.
func (e *Engine) reportFailure(op string, err error) {
	e.cntFailures.Add(context.Background(), 1)
	code, ok := slm.ErrorCode(err)
	if !ok {
		code = int(model.ImportServerSiteDown)
	}
	e.bus.StatusReport(uint32(code), map[string]any{
		"operation":         op,
		"error_description": err.Error(),
	})
}

// normalize enforces the activation invariant on any record entering the
// cache: a listing without a version folder cannot be active.
func normalize(rec model.Listing) model.Listing {
	if !rec.HasVersionFolder() {
		rec.Active = false
	}
	return rec
}
