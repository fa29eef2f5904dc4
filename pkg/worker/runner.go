// Package worker executes one mission attempt inside a vault worktree:
// prompt resolution, content-addressed model caching, atomic artifact
// promotion, and a single git commit per attempt, all reported through an
// after-action report and ledger events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/client"
	"github.com/ironclaw-dev/ironclaw/pkg/ids"
	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// ErrInvalidWorktree rejects execution requests whose worktree path fails
// the entry checks. It is the only error that escapes the runner; every
// later failure is folded into a status=failed response.
var ErrInvalidWorktree = errors.New("invalid worktree")

// Runner executes orders. Ledger emission is best-effort throughout: a
// slow or absent ledger never fails an attempt.
type Runner struct {
	theaterRoot string
	ledger      *client.Ledger
	model       *ModelCaller
}

// NewRunner canonicalizes the theater root once; every worktree path is
// checked against it.
func NewRunner(theaterRoot string, ledger *client.Ledger, model *ModelCaller) (*Runner, error) {
	abs, err := filepath.Abs(theaterRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve theater root: %w", err)
	}
	return &Runner{theaterRoot: filepath.Clean(abs), ledger: ledger, model: model}, nil
}

// validateWorktree canonicalizes the requested path, requires it to live
// under the theater root, and requires the .git marker a real worktree
// carries.
func (r *Runner) validateWorktree(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidWorktree, path)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(r.theaterRoot, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: outside theater root: %s", ErrInvalidWorktree, path)
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); err != nil {
		return "", fmt.Errorf("%w: no .git marker: %s", ErrInvalidWorktree, path)
	}
	return abs, nil
}

// Execute runs one attempt to completion. The returned error is non-nil
// only for entry-check failures; domain failures come back as a
// status=failed response.
func (r *Runner) Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResponse, error) {
	wt, err := r.validateWorktree(req.WorktreePath)
	if err != nil {
		return models.ExecuteResponse{}, err
	}
	if req.Attempt < 1 {
		req.Attempt = 1
	}
	if req.MissionType == "" {
		req.MissionType = MissionDefault
	}

	// Short-circuit: a completed AAR for this attempt means the work is
	// already on disk and committed. Re-emitting the terminal event is a
	// ledger no-op thanks to the event-id scheme.
	if aar, ok := readAAR(wt); ok && aar.Status == models.StatusCompleted && aar.Attempt == req.Attempt {
		head, _ := gitOut(ctx, wt, "rev-parse", "HEAD")
		r.emit(ctx, req, models.EventOrderCompleted, models.StatusCompleted, map[string]any{
			"order_head": head,
			"artifacts":  aar.Artifacts,
		})
		slog.Info("Attempt already completed, short-circuiting",
			"order_id", req.OrderID, "attempt", req.Attempt)
		return models.ExecuteResponse{
			OrderID:   req.OrderID,
			RunID:     req.RunID,
			Status:    models.StatusCompleted,
			OrderHead: head,
			Stage:     models.StageDone,
		}, nil
	}

	resp := r.run(ctx, req, wt)
	return resp, nil
}

func (r *Runner) run(ctx context.Context, req models.ExecuteRequest, wt string) models.ExecuteResponse {
	startedAt := utcNow()
	mission := missionFor(req.MissionType)

	writeHeartbeat(wt, models.StageStarting)
	r.emit(ctx, req, models.EventOrderRunning, models.StatusRunning, nil)

	// The hard timeout covers everything from prompt resolution through
	// the commit; filesystem work outside it is bounded.
	runCtx := ctx
	if req.HardTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.HardTimeoutSeconds)*time.Second)
		defer cancel()
	}

	writeHeartbeat(wt, models.StageInitializing)
	prompt, templatePath, templateCommit := r.resolvePrompt(runCtx, wt, req)
	if err := r.writeOrderFiles(wt, req, prompt); err != nil {
		return r.fail(ctx, req, wt, models.StageInitializing, startedAt, err)
	}

	promptHash := ids.HashText(prompt)
	fingerprint := Fingerprint(req.ResolvedModel.Model, req.ResolvedModel.ProfileName, prompt, templateCommit,
		map[string]any{
			"temperature": req.ResolvedModel.Temperature,
			"max_tokens":  req.ResolvedModel.MaxTokens,
		})

	theaterDir := filepath.Dir(filepath.Dir(wt))
	cache := NewCache(theaterDir)

	writeHeartbeat(wt, models.StageCallingModel)
	r.emit(ctx, req, models.EventModelCallStarted, models.StatusRunning, map[string]any{
		"profile_name":   req.ResolvedModel.ProfileName,
		"model_id":       req.ResolvedModel.Model,
		"prompt_hash":    promptHash,
		"artifact_paths": mission.PlannedOutputs(),
	})

	output, cacheHit, err := r.lookupOrCall(runCtx, mission, cache, req, wt, prompt, fingerprint)
	if err != nil {
		r.emit(ctx, req, models.EventModelCallFailed, models.StatusRunning, map[string]any{
			"error": err.Error(),
		})
		return r.fail(ctx, req, wt, models.StageCallingModel, startedAt, err)
	}
	responseHash := ids.HashText(output.Text)
	r.emit(ctx, req, models.EventModelCallCompleted, models.StatusRunning, map[string]any{
		"profile_name":  req.ResolvedModel.ProfileName,
		"model_id":      req.ResolvedModel.Model,
		"prompt_hash":   promptHash,
		"response_hash": responseHash,
		"latency_ms":    output.LatencyMS,
		"cache_hit":     cacheHit,
	})
	writeHeartbeat(wt, models.StageModelReturned)

	writeHeartbeat(wt, models.StageWritingArtifacts)
	artifacts, err := mission.WriteOutputs(wt, output.Text)
	if err != nil {
		return r.fail(ctx, req, wt, models.StageWritingArtifacts, startedAt, err)
	}
	localCopy := filepath.Join("outputs", "model_output."+fingerprint+".json")
	if err := writeJSONAtomic(filepath.Join(wt, localCopy), output); err != nil {
		return r.fail(ctx, req, wt, models.StageWritingArtifacts, startedAt, err)
	}

	writeHeartbeat(wt, models.StageCommitting)
	aar := models.AAR{
		OrderID:                 req.OrderID,
		RunID:                   req.RunID,
		Attempt:                 req.Attempt,
		Status:                  models.StatusCompleted,
		Stage:                   models.StageDone,
		StartedAt:               startedAt,
		EndedAt:                 utcNow(),
		ModelProfile:            req.ResolvedModel.ProfileName,
		ModelID:                 req.ResolvedModel.Model,
		PromptHash:              promptHash,
		ResponseHash:            responseHash,
		CacheHit:                cacheHit,
		LatencyMS:               output.LatencyMS,
		Usage:                   &output.Usage,
		Artifacts:               artifacts,
		PromptTemplatePath:      templatePath,
		PromptTemplateCommitSHA: templateCommit,
		MissionType:             mission.Name(),
	}
	if err := writeJSONAtomic(filepath.Join(wt, "aar.json"), aar); err != nil {
		return r.fail(ctx, req, wt, models.StageCommitting, startedAt, err)
	}

	// The final heartbeat lands before the commit so the committed tree
	// is the terminal state and a completed worktree stays clean.
	writeHeartbeat(wt, models.StageDone)
	orderHead, err := r.commit(runCtx, wt, req)
	if err != nil {
		return r.fail(ctx, req, wt, models.StageCommitting, startedAt, err)
	}

	r.emit(ctx, req, models.EventOrderCompleted, models.StatusCompleted, map[string]any{
		"order_head": orderHead,
		"artifacts":  artifacts,
	})
	slog.Info("Order completed", "order_id", req.OrderID, "attempt", req.Attempt,
		"order_head", orderHead, "cache_hit", cacheHit)

	return models.ExecuteResponse{
		OrderID:   req.OrderID,
		RunID:     req.RunID,
		Status:    models.StatusCompleted,
		OrderHead: orderHead,
		Stage:     models.StageDone,
	}
}

// lookupOrCall serves the model output from the theater cache when the
// fingerprint matches, calling the model only on a miss.
func (r *Runner) lookupOrCall(ctx context.Context, mission Mission, cache *Cache, req models.ExecuteRequest, wt, prompt, fingerprint string) (*models.ModelOutput, bool, error) {
	if cached, ok, err := cache.Lookup(fingerprint); err == nil && ok {
		slog.Info("Model cache hit", "order_id", req.OrderID, "fingerprint", fingerprint)
		return cached, true, nil
	} else if err != nil {
		slog.Warn("Model cache lookup failed, treating as miss", "error", err)
	}

	system, user, err := mission.ComposePrompt(wt, prompt)
	if err != nil {
		return nil, false, err
	}

	output, err := r.model.Complete(ctx, req.ResolvedModel, system, user)
	if err != nil {
		return nil, false, err
	}
	output.Fingerprint = fingerprint

	if err := cache.Store(output); err != nil {
		slog.Warn("Model cache store failed", "fingerprint", fingerprint, "error", err)
	}
	return output, false, nil
}

// resolvePrompt prefers a template from the worktree's prompts/ directory
// when one is named and present, capturing HEAD at that moment as the
// template version. The final prompt is persisted for the audit trail.
func (r *Runner) resolvePrompt(ctx context.Context, wt string, req models.ExecuteRequest) (prompt, templatePath, templateCommit string) {
	prompt = req.Prompt
	if req.PromptTemplate == "" {
		return prompt, "", ""
	}

	rel := filepath.Join("prompts", filepath.Base(req.PromptTemplate))
	data, err := os.ReadFile(filepath.Join(wt, rel))
	if err != nil {
		slog.Warn("Prompt template not found, using raw prompt",
			"template", req.PromptTemplate, "order_id", req.OrderID)
		return prompt, "", ""
	}

	commit, _ := gitOut(ctx, wt, "rev-parse", "HEAD")
	return string(data), rel, commit
}

// writeOrderFiles materializes the order manifest, the human-readable
// task note, and the resolved prompt.
func (r *Runner) writeOrderFiles(wt string, req models.ExecuteRequest, prompt string) error {
	order := map[string]any{
		"order_id":     req.OrderID,
		"run_id":       req.RunID,
		"attempt":      req.Attempt,
		"objective":    req.Objective,
		"prompt":       prompt,
		"mission_type": req.MissionType,
		"model":        req.ResolvedModel.Model,
		"temperature":  req.ResolvedModel.Temperature,
	}
	if err := writeJSONAtomic(filepath.Join(wt, "order.json"), order); err != nil {
		return err
	}
	task := fmt.Sprintf("# %s\n\n%s\n", req.OrderID, req.Objective)
	if err := writeTextAtomic(filepath.Join(wt, "task.md"), task); err != nil {
		return err
	}
	return writeTextAtomic(filepath.Join(wt, "inputs", "prompt.txt"), prompt)
}

// commit stages everything and commits unconditionally, so every attempt
// produces a distinct sha even when only the heartbeat changed.
func (r *Runner) commit(ctx context.Context, wt string, req models.ExecuteRequest) (string, error) {
	if out, err := gitOut(ctx, wt, "add", "."); err != nil {
		return "", fmt.Errorf("git add failed: %s: %w", out, err)
	}
	msg := fmt.Sprintf("worker: %s attempt %d", req.OrderID, req.Attempt)
	if out, err := gitOut(ctx, wt, "commit", "--allow-empty", "-m", msg); err != nil {
		return "", fmt.Errorf("git commit failed: %s: %w", out, err)
	}
	head, err := gitOut(ctx, wt, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return head, nil
}

// fail writes the failure AAR, marks the heartbeat, emits ORDER_FAILED,
// and folds the error into a 200-with-status=failed response.
func (r *Runner) fail(ctx context.Context, req models.ExecuteRequest, wt, stage, startedAt string, cause error) models.ExecuteResponse {
	slog.Error("Order failed", "order_id", req.OrderID, "attempt", req.Attempt,
		"stage", stage, "error", cause)

	aar := models.AAR{
		OrderID:   req.OrderID,
		RunID:     req.RunID,
		Attempt:   req.Attempt,
		Status:    models.StatusFailed,
		Stage:     stage,
		StartedAt: startedAt,
		EndedAt:   utcNow(),
		Error:     cause.Error(),
	}
	if err := writeJSONAtomic(filepath.Join(wt, "aar.json"), aar); err != nil {
		slog.Error("Failure AAR write failed", "order_id", req.OrderID, "error", err)
	}
	writeHeartbeat(wt, models.StageFailed)

	r.emit(ctx, req, models.EventOrderFailed, models.StatusFailed, map[string]any{
		"error": cause.Error(),
		"stage": stage,
	})

	return models.ExecuteResponse{
		OrderID: req.OrderID,
		RunID:   req.RunID,
		Status:  models.StatusFailed,
		Stage:   stage,
		Error:   cause.Error(),
	}
}

// emit posts a lifecycle event, best-effort. With a request id the shared
// deterministic scheme applies; without one the worker falls back to its
// order/attempt/status form.
func (r *Runner) emit(ctx context.Context, req models.ExecuteRequest, eventType, status string, extra map[string]any) {
	if r.ledger == nil {
		return
	}

	eventID := ids.WorkerEventID(req.OrderID, req.Attempt, status)
	if req.RequestID != "" {
		eventID = ids.EventID(req.RequestID, eventType, req.RunID, req.OrderID, req.Attempt)
	}

	payload := map[string]any{
		"status":   status,
		"attempt":  req.Attempt,
		"worktree": req.WorktreePath,
	}
	for k, v := range extra {
		payload[k] = v
	}

	_, err := r.ledger.EmitEvent(ctx, models.CreateEventRequest{
		EventID:   eventID,
		RunID:     req.RunID,
		OrderID:   req.OrderID,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		slog.Warn("Ledger emission failed", "event_type", eventType,
			"order_id", req.OrderID, "error", err)
	}
}

func readAAR(wt string) (*models.AAR, bool) {
	data, err := os.ReadFile(filepath.Join(wt, "aar.json"))
	if err != nil {
		return nil, false
	}
	var aar models.AAR
	if err := json.Unmarshal(data, &aar); err != nil {
		return nil, false
	}
	return &aar, true
}

// writeHeartbeat rewrites outputs/heartbeat.json at a stage transition.
// Heartbeats are best-effort; a failed write never fails the attempt.
func writeHeartbeat(wt, stage string) {
	hb := models.Heartbeat{TS: utcNow(), Stage: stage}
	if err := writeJSONAtomic(filepath.Join(wt, "outputs", "heartbeat.json"), hb); err != nil {
		slog.Warn("Heartbeat write failed", "stage", stage, "error", err)
	}
}

func gitOut(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
