// Package importer drives the marketplace bulk-import job and the connection
// status handshake around it. The [Importer] owns the in-progress flag, polls
// the job until a terminal code arrives, and records every run in the history
// log.
package importer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"marketsync/internal/model"
	"marketsync/internal/notify"
	"marketsync/internal/slm"
)

// Engine is the narrow view of the sync engine the importer needs: kick off
// the merchant probe and read the resulting connection status.
type Engine interface {
	InitializeConnection(ctx context.Context)
	Status() model.Status
}

// ImportClient issues the bulk-import calls. Implemented by [slm.Client].
type ImportClient interface {
	StartImport(ctx context.Context) (model.ImportCode, map[string]any, error)
	ImportStatus(ctx context.Context) (model.ImportCode, map[string]any, error)
}

// RunLog records import runs. Implemented by [history.Store]; may be nil,
// in which case nothing is recorded.
type RunLog interface {
	BeginRun(ctx context.Context, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, finishedAt time.Time, code model.ImportCode, detail string) error
}

// Importer is the import status machine. Construct one per session with
// [New]; there is no package-level instance.
type Importer struct {
	engine  Engine
	client  ImportClient
	bus     *notify.Bus
	runs    RunLog
	log     *slog.Logger
	timeout time.Duration

	mu            sync.Mutex
	initialized   bool
	inProgress    bool
	started       time.Time
	runID         int64
	autoTrigger   bool
	autoTriggered bool
	forceTrigger  bool

	now func() time.Time // stubbed in tests
}

// New wires an Importer to its collaborators and subscribes it to the
// engine's status-updated signal. importTimeout bounds how long a job may
// poll before it is declared dead; zero disables the bound.
func New(engine Engine, client ImportClient, bus *notify.Bus, runs RunLog, autoTrigger bool, importTimeout time.Duration, logger *slog.Logger) *Importer {
	im := &Importer{
		engine:      engine,
		client:      client,
		bus:         bus,
		runs:        runs,
		log:         logger,
		timeout:     importTimeout,
		autoTrigger: autoTrigger,
		now:         time.Now,
	}
	bus.OnStatusUpdated(im.onStatusUpdated)
	return im
}

// Initialize starts the connection handshake. The importer becomes
// initialized once the probe lands on Merchant, NotMerchant, or
// ConnectionFailure, via the status-updated signal.
func (im *Importer) Initialize(ctx context.Context) {
	im.engine.InitializeConnection(ctx)
}

// ReinitializeAndTriggerImport re-probes the connection from any state and
// forces one import once the probe lands on Merchant. This is the recovery
// path out of ConnectionFailure.
func (im *Importer) ReinitializeAndTriggerImport(ctx context.Context) {
	im.mu.Lock()
	im.forceTrigger = true
	im.mu.Unlock()
	im.engine.InitializeConnection(ctx)
}

// onStatusUpdated reacts to connection status transitions. Initializing is
// transient and ignored; any settled status marks the importer initialized,
// and Merchant may trigger an import when one was requested.
func (im *Importer) onStatusUpdated() {
	status := im.engine.Status()
	if status == model.StatusNotInitialized || status == model.StatusInitializing {
		return
	}

	im.mu.Lock()
	im.initialized = true
	trigger := false
	switch status {
	case model.StatusMerchant:
		trigger = im.forceTrigger || (im.autoTrigger && !im.autoTriggered)
		if trigger {
			im.forceTrigger = false
			im.autoTriggered = true
		}
	case model.StatusNotMerchant:
		// Not a merchant, nothing to import.
		im.forceTrigger = false
	case model.StatusConnectionFailure:
		// Keep forceTrigger armed for the next reinitialize.
	}
	im.mu.Unlock()

	im.log.Info("marketplace connection settled", "status", status.String())
	if trigger {
		im.TriggerImport(context.Background())
	}
}

// IsInitialized reports whether the connection handshake has settled at
// least once.
func (im *Importer) IsInitialized() bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.initialized
}

// InProgress reports whether an import job is running.
func (im *Importer) InProgress() bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.inProgress
}

// TriggerImport starts one bulk-import job. Rejected (false) while the
// handshake has not settled or a job is already running. A job the service
// turns down synchronously is reported and cleared, and also returns false.
func (im *Importer) TriggerImport(ctx context.Context) bool {
	im.mu.Lock()
	if !im.initialized || im.inProgress {
		im.mu.Unlock()
		return false
	}
	im.inProgress = true
	im.started = im.now()
	im.runID = 0
	im.mu.Unlock()

	im.openRun(ctx)
	im.bus.StatusChanged(true)

	code, detail, err := im.client.StartImport(ctx)
	if err != nil {
		im.log.Error("starting import failed", "error", err)
		im.finish(ctx, failureCode(err), detail)
		return false
	}
	if code.Terminal() {
		// The service completed the job synchronously.
		im.finish(ctx, code, detail)
		return true
	}
	if !code.Polling() {
		im.log.Warn("import rejected", "code", int(code))
		im.finish(ctx, code, detail)
		return false
	}

	im.log.Info("import started", "code", int(code))
	return true
}

// Update is the periodic tick. While a job is running it polls the status
// endpoint; terminal codes end the run, polling codes keep it alive, and a
// job that outlives the timeout is declared timed out.
func (im *Importer) Update(ctx context.Context) {
	im.mu.Lock()
	if !im.inProgress {
		im.mu.Unlock()
		return
	}
	expired := im.timeout > 0 && im.now().Sub(im.started) >= im.timeout
	im.mu.Unlock()

	if expired {
		im.log.Warn("import timed out", "timeout", im.timeout)
		im.finish(ctx, model.ImportJobTimeout, map[string]any{
			"error_description": "import did not finish within the configured timeout",
		})
		return
	}

	code, detail, err := im.client.ImportStatus(ctx)
	if err != nil {
		// The job may still be running server-side; report and keep polling.
		im.log.Error("polling import status failed", "error", err)
		im.bus.StatusReport(uint32(failureCode(err)), map[string]any{
			"error_description": err.Error(),
		})
		return
	}

	switch {
	case code.Terminal():
		im.finish(ctx, code, detail)
	case code.Polling():
		im.log.Debug("import in progress", "code", int(code))
	default:
		im.log.Warn("unexpected import status", "code", int(code))
		im.bus.StatusReport(uint32(code), detail)
	}
}

// openRun records the run start in the history log.
func (im *Importer) openRun(ctx context.Context) {
	if im.runs == nil {
		return
	}
	id, err := im.runs.BeginRun(ctx, im.now())
	if err != nil {
		im.log.Error("recording import start failed", "error", err)
		return
	}
	im.mu.Lock()
	im.runID = id
	im.mu.Unlock()
}

// finish ends the run: clears in-progress, closes the history row, and
// fires the completion signals.
func (im *Importer) finish(ctx context.Context, code model.ImportCode, detail map[string]any) {
	im.mu.Lock()
	im.inProgress = false
	runID := im.runID
	im.runID = 0
	im.mu.Unlock()

	if im.runs != nil && runID != 0 {
		if err := im.runs.FinishRun(ctx, runID, im.now(), code, encodeDetail(detail)); err != nil {
			im.log.Error("recording import result failed", "error", err)
		}
	}

	im.log.Info("import finished", "code", int(code))
	im.bus.StatusReport(uint32(code), detail)
	im.bus.StatusChanged(false)
}

// failureCode maps a call error to a job code: service answers keep their
// code, transport failures count as the server being down.
func failureCode(err error) model.ImportCode {
	if code, ok := slm.ErrorCode(err); ok {
		return model.ImportCode(code)
	}
	return model.ImportServerSiteDown
}

func encodeDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return ""
	}
	return string(b)
}
