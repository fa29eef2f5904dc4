// Package conductor derives deterministic ids, performs the ledger-first
// idempotency check, resolves model policy, and drives the vault → worker
// → vault orchestration for one chat request.
package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/client"
	"github.com/ironclaw-dev/ironclaw/pkg/ids"
	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Orchestrator owns one chat lifecycle end to end. It never returns an
// error for domain failures: those are folded into status=failed
// responses with ORDER_FAILED/RUN_FAILED evidence in the ledger. The only
// error it surfaces is ErrBadRequest for policy violations.
type Orchestrator struct {
	cfg    Config
	ledger *client.Ledger
	vault  *client.Vault
	worker *client.Worker
}

// NewOrchestrator wires the three downstream clients.
func NewOrchestrator(cfg Config, ledger *client.Ledger, vault *client.Vault, worker *client.Worker) *Orchestrator {
	return &Orchestrator{cfg: cfg, ledger: ledger, vault: vault, worker: worker}
}

// Chat executes one chat request.
func (o *Orchestrator) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	theater := req.Theater
	if theater == "" {
		theater = o.cfg.Theater
	}

	runID, orderID, requestID := ids.Derive(req.RequestID)
	log := slog.With("run_id", runID, "order_id", orderID)

	// Ledger-first idempotency: a completed order answers from the
	// snapshot without touching vault or worker.
	if snap, err := o.ledger.GetOrder(ctx, orderID); err != nil {
		log.Warn("Idempotency check failed, proceeding", "error", err)
	} else if snap != nil && snap.Status == models.StatusCompleted {
		log.Info("Order already completed, short-circuiting")
		return o.cachedResponse(runID, orderID, snap), nil
	}

	// Policy violations are the caller's fault; resolve before any
	// lifecycle event exists so a 400 leaves no trace.
	policy, err := LoadPolicy(o.cfg.TheaterRoot, theater)
	if err != nil {
		return o.fail(ctx, runID, orderID, requestID, "policy", err), nil
	}
	resolved, err := policy.Resolve(req.ModelProfile, req.ModelOverrides)
	if err != nil {
		return models.ChatResponse{}, err
	}

	objective := req.Objective
	if objective == "" {
		objective = "Process chat: " + truncate(req.Message, 50)
	}
	keepWorktree := o.cfg.KeepWorktree
	if req.KeepWorktree != nil {
		keepWorktree = *req.KeepWorktree
	}

	missionType := MissionTypeFromOverrides(req.ModelOverrides)
	if pb, ok := PlaybookFor(missionType); ok {
		log.Info("Mission playbook selected", "mission_type", pb.MissionType)
		missionType = pb.WorkerMissionType
	}

	startedAt := utcNow()
	o.emit(ctx, runID, orderID, requestID, models.EventRunCreated, map[string]any{
		"message":    req.Message,
		"started_at": startedAt,
		"order_ids":  []string{orderID},
	})
	o.emit(ctx, runID, orderID, requestID, models.EventOrderCreated, map[string]any{
		"theater":    theater,
		"objective":  objective,
		"started_at": startedAt,
	})
	o.emit(ctx, runID, orderID, requestID, models.EventOrderQueued, map[string]any{
		"status": models.StatusQueued,
	})

	o.emit(ctx, runID, orderID, requestID, models.EventOrderWorktreeRequested, nil)
	wt, err := o.vault.CreateWorktree(ctx, theater, orderID, "")
	if err != nil {
		return o.fail(ctx, runID, orderID, requestID, "provision_worktree", err), nil
	}
	o.emit(ctx, runID, orderID, requestID, models.EventOrderWorktreeReady, map[string]any{
		"worktree": wt.Path,
	})

	stallSeconds := req.StallSeconds
	if stallSeconds == 0 {
		stallSeconds = o.cfg.StallSeconds
	}
	hardTimeout := req.HardTimeoutSeconds
	if hardTimeout == 0 {
		hardTimeout = o.cfg.HardTimeoutSeconds
	}

	workerResp, err := o.worker.Execute(ctx, models.ExecuteRequest{
		RunID:              runID,
		OrderID:            orderID,
		Attempt:            1,
		WorktreePath:       wt.Path,
		Objective:          objective,
		Prompt:             req.Message,
		PromptTemplate:     req.PromptTemplate,
		ResolvedModel:      resolved,
		MissionType:        missionType,
		StallSeconds:       stallSeconds,
		HardTimeoutSeconds: hardTimeout,
		RequestID:          requestID,
	})
	if err != nil {
		return o.fail(ctx, runID, orderID, requestID, "execute_worker", err), nil
	}
	if workerResp.Status != models.StatusCompleted {
		werr := workerResp.Error
		if werr == "" {
			werr = "worker failed without specific error"
		}
		o.emit(ctx, runID, orderID, requestID, models.EventOrderFailed, map[string]any{
			"status": models.StatusFailed,
			"error":  werr,
			"stage":  workerResp.Stage,
		})
		o.emit(ctx, runID, orderID, requestID, models.EventRunFailed, map[string]any{
			"status":   models.StatusFailed,
			"error":    werr,
			"ended_at": utcNow(),
		})
		return models.ChatResponse{
			RunID: runID, OrderID: orderID,
			Status: models.StatusFailed, Error: werr,
		}, nil
	}

	// Artifacts must be read before the worktree goes away.
	answer, err := readArtifact(wt.Path, "outputs/model_output.txt")
	if err != nil {
		return o.fail(ctx, runID, orderID, requestID, "read_artifacts", err), nil
	}
	var artifacts []models.Artifact
	if aar, ok := readAAR(wt.Path); ok {
		artifacts = aar.Artifacts
	}

	var archivePath string
	if !keepWorktree {
		removed, err := o.vault.RemoveWorktree(ctx, theater, orderID)
		if err != nil {
			return o.fail(ctx, runID, orderID, requestID, "cleanup_worktree", err), nil
		}
		archivePath = removed.ArchivePath
	}

	endedAt := utcNow()
	o.emit(ctx, runID, orderID, requestID, models.EventOrderCompleted, map[string]any{
		"status":       models.StatusCompleted,
		"order_head":   workerResp.OrderHead,
		"worktree":     wt.Path,
		"artifacts":    artifacts,
		"answer":       answer,
		"archive_path": archivePath,
		"ended_at":     endedAt,
	})
	o.emit(ctx, runID, orderID, requestID, models.EventRunCompleted, map[string]any{
		"status":     models.StatusCompleted,
		"order_head": workerResp.OrderHead,
		"ended_at":   endedAt,
	})
	if !keepWorktree {
		// The worker's terminal event usually wins the ORDER_COMPLETED
		// dedupe and carries no answer, so the archive event repeats it;
		// the snapshot's extra keeps the last value.
		o.emit(ctx, runID, orderID, requestID, models.EventOrderArchived, map[string]any{
			"archive_path": archivePath,
			"answer":       answer,
		})
	}

	log.Info("Chat completed", "order_head", workerResp.OrderHead, "archive", archivePath)

	resp := models.ChatResponse{
		RunID:       runID,
		OrderID:     orderID,
		Status:      models.StatusCompleted,
		Answer:      answer,
		OrderHead:   workerResp.OrderHead,
		ArchivePath: archivePath,
	}
	if keepWorktree {
		resp.WorktreePath = wt.Path
	}
	return resp, nil
}

// cachedResponse serves a completed order from its snapshot. The answer
// normally sits in extra; a kept worktree is the fallback source.
func (o *Orchestrator) cachedResponse(runID, orderID string, snap *models.OrderSnapshot) models.ChatResponse {
	answer, _ := snap.Extra["answer"].(string)
	archivePath, _ := snap.Extra["archive_path"].(string)
	if answer == "" && snap.Worktree != "" && snap.Worktree != models.SnapshotEmpty {
		if text, err := readArtifact(snap.Worktree, "outputs/model_output.txt"); err == nil {
			answer = text
		}
	}
	return models.ChatResponse{
		RunID:       runID,
		OrderID:     orderID,
		Status:      models.StatusCompleted,
		Answer:      answer,
		OrderHead:   snap.OrderHead,
		ArchivePath: archivePath,
	}
}

// fail records the orchestration failure on both the order and the run,
// then folds it into a status=failed response.
func (o *Orchestrator) fail(ctx context.Context, runID, orderID, requestID, stage string, cause error) models.ChatResponse {
	slog.Error("Orchestration failed", "run_id", runID, "order_id", orderID,
		"stage", stage, "error", cause)

	o.emit(ctx, runID, orderID, requestID, models.EventOrderFailed, map[string]any{
		"status": models.StatusFailed,
		"error":  cause.Error(),
		"stage":  stage,
	})
	o.emit(ctx, runID, orderID, requestID, models.EventRunFailed, map[string]any{
		"status":   models.StatusFailed,
		"error":    cause.Error(),
		"ended_at": utcNow(),
	})

	return models.ChatResponse{
		RunID:   runID,
		OrderID: orderID,
		Status:  models.StatusFailed,
		Error:   cause.Error(),
	}
}

// emit posts one lifecycle event with the deterministic event id shared
// with the worker. Emission is best-effort.
func (o *Orchestrator) emit(ctx context.Context, runID, orderID, requestID, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := o.ledger.EmitEvent(ctx, models.CreateEventRequest{
		EventID:   ids.EventID(requestID, eventType, runID, orderID, 1),
		RunID:     runID,
		OrderID:   orderID,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		slog.Warn("Ledger emission failed", "event_type", eventType,
			"order_id", orderID, "error", err)
	}
}

func readArtifact(worktree, rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(worktree, rel))
	if err != nil {
		return "", fmt.Errorf("artifact not found: %s: %w", rel, err)
	}
	return string(data), nil
}

func readAAR(worktree string) (*models.AAR, bool) {
	data, err := os.ReadFile(filepath.Join(worktree, "aar.json"))
	if err != nil {
		return nil, false
	}
	var aar models.AAR
	if err := json.Unmarshal(data, &aar); err != nil {
		return nil, false
	}
	return &aar, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
