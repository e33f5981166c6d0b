package importer

import (
	"context"
	"sync"
	"time"

	"marketsync/internal/model"
	"marketsync/internal/notify"
)

// --- Mock engine -------------------------------------------------------------

// mockEngine answers the merchant probe synchronously: every
// InitializeConnection lands on the scripted status and fires StatusUpdated.
type mockEngine struct {
	mu     sync.Mutex
	status model.Status
	probe  model.Status
	probes int
	bus    *notify.Bus
}

func newMockEngine(bus *notify.Bus, probe model.Status) *mockEngine {
	return &mockEngine{status: model.StatusNotInitialized, probe: probe, bus: bus}
}

func (e *mockEngine) InitializeConnection(_ context.Context) {
	e.mu.Lock()
	e.status = e.probe
	e.probes++
	e.mu.Unlock()
	e.bus.StatusUpdated()
}

func (e *mockEngine) Status() model.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *mockEngine) setProbe(s model.Status) {
	e.mu.Lock()
	e.probe = s
	e.mu.Unlock()
}

func (e *mockEngine) probeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.probes
}

// --- Mock import API ---------------------------------------------------------

type mockImportClient struct {
	mu        sync.Mutex
	startCode model.ImportCode
	startErr  error
	polls     []model.ImportCode // consumed front to back; last repeats
	pollErr   error

	startCalls int
	pollCalls  int
}

func newMockImportClient() *mockImportClient {
	return &mockImportClient{startCode: model.ImportProcessing}
}

func (c *mockImportClient) StartImport(_ context.Context) (model.ImportCode, map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls++
	if c.startErr != nil {
		return 0, nil, c.startErr
	}
	return c.startCode, map[string]any{"job": "started"}, nil
}

func (c *mockImportClient) ImportStatus(_ context.Context) (model.ImportCode, map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollCalls++
	if c.pollErr != nil {
		return 0, nil, c.pollErr
	}
	if len(c.polls) == 0 {
		return model.ImportProcessing, nil, nil
	}
	code := c.polls[0]
	if len(c.polls) > 1 {
		c.polls = c.polls[1:]
	}
	return code, map[string]any{"imported": 3}, nil
}

func (c *mockImportClient) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCalls
}

// --- Mock run log ------------------------------------------------------------

type finishedRun struct {
	id   int64
	code model.ImportCode
}

type mockRunLog struct {
	mu       sync.Mutex
	nextID   int64
	begins   int
	finishes []finishedRun
}

func (l *mockRunLog) BeginRun(_ context.Context, _ time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.begins++
	l.nextID++
	return l.nextID, nil
}

func (l *mockRunLog) FinishRun(_ context.Context, id int64, _ time.Time, code model.ImportCode, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishes = append(l.finishes, finishedRun{id: id, code: code})
	return nil
}

func (l *mockRunLog) finished() []finishedRun {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]finishedRun(nil), l.finishes...)
}

// --- Signal recorder ---------------------------------------------------------

type recorder struct {
	mu      sync.Mutex
	changes []bool // StatusChanged payloads in order
	reports []uint32
}

func newRecorder(bus *notify.Bus) *recorder {
	r := &recorder{}
	bus.OnStatusChanged(func(importing bool) {
		r.mu.Lock()
		r.changes = append(r.changes, importing)
		r.mu.Unlock()
	})
	bus.OnStatusReport(func(code uint32, _ map[string]any) {
		r.mu.Lock()
		r.reports = append(r.reports, code)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) changeLog() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.changes...)
}

func (r *recorder) reportCodes() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.reports...)
}
