package conductor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironclaw-dev/ironclaw/pkg/client"
	"github.com/ironclaw-dev/ironclaw/pkg/ids"
	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// stubLedger records every event the orchestrator emits and serves
// scripted order snapshots.
type stubLedger struct {
	mu     sync.Mutex
	events []models.CreateEventRequest
	orders map[string]*models.OrderSnapshot
}

func (l *stubLedger) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		var ev models.CreateEventRequest
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
		_ = json.NewEncoder(w).Encode(models.CreateEventResponse{
			Status: models.EventStatusCreated, EventID: ev.EventID,
		})
	})
	mux.HandleFunc("GET /orders/", func(w http.ResponseWriter, r *http.Request) {
		orderID := strings.TrimPrefix(r.URL.Path, "/orders/")
		l.mu.Lock()
		snap := l.orders[orderID]
		l.mu.Unlock()
		if snap == nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(snap)
	})
	return mux
}

func (l *stubLedger) eventTypes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]string, len(l.events))
	for i, ev := range l.events {
		types[i] = ev.EventType
	}
	return types
}

func (l *stubLedger) eventByType(eventType string) (models.CreateEventRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.EventType == eventType {
			return ev, true
		}
	}
	return models.CreateEventRequest{}, false
}

// stubVault provisions real temp directories so the orchestrator can read
// artifacts out of them.
type stubVault struct {
	root       string
	removed    bool
	failCreate bool
}

func (v *stubVault) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /worktrees", func(w http.ResponseWriter, r *http.Request) {
		if v.failCreate {
			http.Error(w, "vault on fire", http.StatusInternalServerError)
			return
		}
		var req models.WorktreeCreateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		path := filepath.Join(v.root, req.Theater, "worktrees", req.OrderID)
		if err := os.MkdirAll(path, 0o755); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(models.WorktreeResponse{
			OrderID: req.OrderID, Path: path, Exists: true, Created: true,
		})
	})
	mux.HandleFunc("POST /worktrees/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/remove") {
			http.NotFound(w, r)
			return
		}
		v.removed = true
		_ = json.NewEncoder(w).Encode(models.RemoveResponse{
			Status: "removed", ArchivePath: filepath.Join(v.root, "archive", "order.tar.gz"),
		})
	})
	return mux
}

// stubWorker writes the answer and AAR into the worktree before replying,
// the way the real worker leaves artifacts behind.
type stubWorker struct {
	status string
	answer string
}

func (wk *stubWorker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", func(w http.ResponseWriter, r *http.Request) {
		var req models.ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := models.ExecuteResponse{
			OrderID: req.OrderID, RunID: req.RunID, Status: wk.status,
		}
		if wk.status == models.StatusCompleted {
			outDir := filepath.Join(req.WorktreePath, "outputs")
			_ = os.MkdirAll(outDir, 0o755)
			_ = os.WriteFile(filepath.Join(outDir, "model_output.txt"), []byte(wk.answer), 0o644)
			aar, _ := json.Marshal(models.AAR{
				OrderID: req.OrderID, RunID: req.RunID, Attempt: req.Attempt,
				Status: models.StatusCompleted, Stage: models.StageDone,
				Artifacts: []models.Artifact{{Path: "outputs/model_output.txt", Type: "text/plain"}},
			})
			_ = os.WriteFile(filepath.Join(req.WorktreePath, "aar.json"), aar, 0o644)
			resp.OrderHead = "abc123def456"
		} else {
			resp.Stage = models.StageCallingModel
			resp.Error = "model exploded"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

type orchestratorFixture struct {
	orch   *Orchestrator
	ledger *stubLedger
	vault  *stubVault
	worker *stubWorker
	root   string
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	root := t.TempDir()
	writePolicy(t, root, "demo", testPolicyJSON)

	ledger := &stubLedger{orders: map[string]*models.OrderSnapshot{}}
	vault := &stubVault{root: root}
	worker := &stubWorker{status: models.StatusCompleted, answer: "the answer"}

	ledgerSrv := httptest.NewServer(ledger.handler())
	t.Cleanup(ledgerSrv.Close)
	vaultSrv := httptest.NewServer(vault.handler())
	t.Cleanup(vaultSrv.Close)
	workerSrv := httptest.NewServer(worker.handler())
	t.Cleanup(workerSrv.Close)

	cfg := Config{
		TheaterRoot:        root,
		Theater:            "demo",
		StallSeconds:       300,
		HardTimeoutSeconds: 900,
	}
	orch := NewOrchestrator(cfg,
		client.NewLedger(ledgerSrv.URL),
		client.NewVault(vaultSrv.URL),
		client.NewWorker(workerSrv.URL, 0),
	)
	return &orchestratorFixture{orch: orch, ledger: ledger, vault: vault, worker: worker, root: root}
}

func TestChatHappyPath(t *testing.T) {
	f := newOrchestratorFixture(t)

	resp, err := f.orch.Chat(context.Background(), models.ChatRequest{
		Message:   "summarize the call",
		RequestID: "req-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, resp.Status)
	assert.Equal(t, "the answer", resp.Answer)
	assert.Equal(t, "abc123def456", resp.OrderHead)
	assert.NotEmpty(t, resp.ArchivePath)
	assert.Empty(t, resp.WorktreePath)
	assert.True(t, f.vault.removed)

	runID, orderID, _ := ids.Derive("req-1")
	assert.Equal(t, runID, resp.RunID)
	assert.Equal(t, orderID, resp.OrderID)

	assert.Equal(t, []string{
		models.EventRunCreated,
		models.EventOrderCreated,
		models.EventOrderQueued,
		models.EventOrderWorktreeRequested,
		models.EventOrderWorktreeReady,
		models.EventOrderCompleted,
		models.EventRunCompleted,
		models.EventOrderArchived,
	}, f.ledger.eventTypes())

	// Terminal event ids follow the request-id scheme so a worker retry
	// collides with them at the ledger.
	completed, ok := f.ledger.eventByType(models.EventOrderCompleted)
	require.True(t, ok)
	assert.Equal(t, "req-1-completed", completed.EventID)
	assert.Equal(t, "the answer", completed.Payload["answer"])

	archived, ok := f.ledger.eventByType(models.EventOrderArchived)
	require.True(t, ok)
	assert.Equal(t, "the answer", archived.Payload["answer"])
	assert.NotEmpty(t, archived.Payload["archive_path"])
}

func TestChatKeepWorktree(t *testing.T) {
	f := newOrchestratorFixture(t)
	keep := true

	resp, err := f.orch.Chat(context.Background(), models.ChatRequest{
		Message:      "hello",
		RequestID:    "req-keep",
		KeepWorktree: &keep,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, resp.Status)
	assert.NotEmpty(t, resp.WorktreePath)
	assert.Empty(t, resp.ArchivePath)
	assert.False(t, f.vault.removed)
	assert.NotContains(t, f.ledger.eventTypes(), models.EventOrderArchived)
}

func TestChatWorkerFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.worker.status = models.StatusFailed

	resp, err := f.orch.Chat(context.Background(), models.ChatRequest{
		Message:   "hello",
		RequestID: "req-fail",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.Equal(t, "model exploded", resp.Error)

	types := f.ledger.eventTypes()
	assert.Contains(t, types, models.EventOrderFailed)
	assert.Contains(t, types, models.EventRunFailed)
	assert.NotContains(t, types, models.EventOrderCompleted)

	failed, ok := f.ledger.eventByType(models.EventOrderFailed)
	require.True(t, ok)
	assert.Equal(t, "req-fail-failed", failed.EventID)
	assert.Equal(t, models.StageCallingModel, failed.Payload["stage"])
}

func TestChatVaultFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.vault.failCreate = true

	resp, err := f.orch.Chat(context.Background(), models.ChatRequest{
		Message:   "hello",
		RequestID: "req-vault",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "HTTP 500")
	assert.Contains(t, f.ledger.eventTypes(), models.EventOrderFailed)
}

// A completed snapshot answers from the ledger alone: no vault call, no
// worker call, no new events.
func TestChatIdempotentShortCircuit(t *testing.T) {
	f := newOrchestratorFixture(t)
	_, orderID, _ := ids.Derive("req-replay")
	f.ledger.orders[orderID] = &models.OrderSnapshot{
		OrderID:   orderID,
		Status:    models.StatusCompleted,
		OrderHead: "cafebabe",
		Worktree:  models.SnapshotEmpty,
		Extra: map[string]any{
			"answer":       "cached answer",
			"archive_path": "/archive/order.tar.gz",
		},
	}

	resp, err := f.orch.Chat(context.Background(), models.ChatRequest{
		Message:   "same request again",
		RequestID: "req-replay",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, resp.Status)
	assert.Equal(t, "cached answer", resp.Answer)
	assert.Equal(t, "cafebabe", resp.OrderHead)
	assert.Equal(t, "/archive/order.tar.gz", resp.ArchivePath)
	assert.Empty(t, f.ledger.eventTypes())
	assert.False(t, f.vault.removed)
}

// When the snapshot has no cached answer but the worktree was kept, the
// answer is read back from disk.
func TestChatShortCircuitReadsKeptWorktree(t *testing.T) {
	f := newOrchestratorFixture(t)
	_, orderID, _ := ids.Derive("req-kept")

	wt := filepath.Join(f.root, "demo", "worktrees", orderID)
	require.NoError(t, os.MkdirAll(filepath.Join(wt, "outputs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wt, "outputs", "model_output.txt"), []byte("from disk"), 0o644))

	f.ledger.orders[orderID] = &models.OrderSnapshot{
		OrderID:  orderID,
		Status:   models.StatusCompleted,
		Worktree: wt,
		Extra:    map[string]any{},
	}

	resp, err := f.orch.Chat(context.Background(), models.ChatRequest{
		Message:   "same request again",
		RequestID: "req-kept",
	})
	require.NoError(t, err)
	assert.Equal(t, "from disk", resp.Answer)
}

func TestChatUnknownProfileIsBadRequest(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orch.Chat(context.Background(), models.ChatRequest{
		Message:      "hello",
		RequestID:    "req-bad",
		ModelProfile: "no_such_profile",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)

	// Policy violations leave no ledger trace.
	assert.Empty(t, f.ledger.eventTypes())
}

func TestChatDisallowedModelOverride(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orch.Chat(context.Background(), models.ChatRequest{
		Message:        "hello",
		RequestID:      "req-model",
		ModelOverrides: map[string]any{"model": "forbidden-model"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Empty(t, f.ledger.eventTypes())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 50))
	long := strings.Repeat("x", 60)
	assert.Equal(t, strings.Repeat("x", 50)+"...", truncate(long, 50))
}
