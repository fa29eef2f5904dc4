package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Mission type names. The open set is dispatched by missionFor; unknown
// types fall back to the default single-shot mission.
const (
	MissionDefault     = "default"
	MissionCallSummary = "filesystem_agent.call_summary"
)

// Mission shapes one attempt: how the final prompt is composed from the
// worktree and how the model reply is materialized into artifacts.
type Mission interface {
	Name() string
	// PlannedOutputs lists the worktree-relative artifact paths the
	// mission will promote, announced in the model-call started event.
	PlannedOutputs() []string
	ComposePrompt(worktree, prompt string) (system, user string, err error)
	WriteOutputs(worktree, text string) ([]models.Artifact, error)
}

// missionFor dispatches on the requested mission type.
func missionFor(missionType string) Mission {
	switch missionType {
	case MissionCallSummary:
		return callSummaryMission{}
	default:
		return defaultMission{}
	}
}

// defaultMission is the single-shot prompt → single text artifact path.
type defaultMission struct{}

func (defaultMission) Name() string { return MissionDefault }

func (defaultMission) PlannedOutputs() []string {
	return []string{"outputs/model_output.txt"}
}

func (defaultMission) ComposePrompt(_, prompt string) (string, string, error) {
	return "", prompt, nil
}

func (defaultMission) WriteOutputs(worktree, text string) ([]models.Artifact, error) {
	if err := writeTextAtomic(filepath.Join(worktree, "outputs", "model_output.txt"), text); err != nil {
		return nil, err
	}
	return []models.Artifact{{Path: "outputs/model_output.txt", Type: "text/plain"}}, nil
}

// callSummaryMission turns a call transcript plus account context into a
// summary and an action-item list.
type callSummaryMission struct{}

func (callSummaryMission) Name() string { return MissionCallSummary }

func (callSummaryMission) PlannedOutputs() []string {
	return []string{"outputs/model_output.txt", "outputs/summary.md", "outputs/action_items.md"}
}

func (callSummaryMission) ComposePrompt(worktree, prompt string) (string, string, error) {
	call, err := os.ReadFile(filepath.Join(worktree, "inputs", "call.md"))
	if err != nil {
		return "", "", fmt.Errorf("call transcript missing: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("## Call transcript\n\n")
	sb.Write(call)

	if account, err := os.ReadFile(filepath.Join(worktree, "context", "account.json")); err == nil {
		sb.WriteString("\n\n## Account\n\n")
		sb.Write(account)
	}
	if playbook, err := os.ReadFile(filepath.Join(worktree, "context", "playbook.md")); err == nil {
		sb.WriteString("\n\n## Playbook\n\n")
		sb.Write(playbook)
	}
	if prompt != "" {
		sb.WriteString("\n\n## Instructions\n\n")
		sb.WriteString(prompt)
	}

	system := "You summarize customer calls. Reply with a concise summary, then a " +
		"section starting with the exact heading '# Action Items' listing follow-ups."
	return system, sb.String(), nil
}

func (callSummaryMission) WriteOutputs(worktree, text string) ([]models.Artifact, error) {
	summary, actionItems := splitSummary(text)

	outputs := []struct {
		path, content string
	}{
		{"outputs/model_output.txt", text},
		{"outputs/summary.md", summary},
		{"outputs/action_items.md", actionItems},
	}

	artifacts := make([]models.Artifact, 0, len(outputs))
	for _, out := range outputs {
		if err := writeTextAtomic(filepath.Join(worktree, out.path), out.content); err != nil {
			return nil, err
		}
		typ := "text/plain"
		if strings.HasSuffix(out.path, ".md") {
			typ = "text/markdown"
		}
		artifacts = append(artifacts, models.Artifact{Path: out.path, Type: typ})
	}
	return artifacts, nil
}

// splitSummary divides a reply at the "# Action Items" heading, falling
// back to the first "---" divider. With no marker the whole reply is the
// summary and the action-item list is empty.
func splitSummary(text string) (summary, actionItems string) {
	if idx := strings.Index(text, "# Action Items"); idx >= 0 {
		return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx:])
	}
	if before, after, found := strings.Cut(text, "\n---\n"); found {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	return strings.TrimSpace(text), ""
}

// writeTextAtomic writes content behind a temporary name and renames it
// into place so the canonical path never holds a partial file.
func writeTextAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), "_tmp_"+filepath.Base(path))
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("promote %s: %w", filepath.Base(path), err)
	}
	return nil
}
