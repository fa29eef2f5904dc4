package models

// Worker stage names, in execution order. The heartbeat file and the AAR
// record the stage the attempt last entered.
const (
	StageStarting         = "starting"
	StageInitializing     = "initializing"
	StageCallingModel     = "calling_model"
	StageModelReturned    = "model_returned"
	StageWritingArtifacts = "writing_artifacts"
	StageCommitting       = "committing"
	StageDone             = "done"
	StageFailed           = "failed"
)

// Artifact is a single promoted output file, path relative to the
// worktree root.
type Artifact struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// TokenUsage mirrors the usage block of a chat-completion response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AAR is the after-action report the worker promotes to aar.json in the
// worktree root. It is the on-disk short-circuit record: a completed AAR
// for (order_id, attempt) means the attempt does not run again.
type AAR struct {
	OrderID   string `json:"order_id"`
	RunID     string `json:"run_id"`
	Attempt   int    `json:"attempt"`
	Status    string `json:"status"` // completed | failed
	Stage     string `json:"stage"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`

	// Success fields.
	ModelProfile            string      `json:"model_profile,omitempty"`
	ModelID                 string      `json:"model_id,omitempty"`
	PromptHash              string      `json:"prompt_hash,omitempty"`
	ResponseHash            string      `json:"response_hash,omitempty"`
	CacheHit                bool        `json:"cache_hit"`
	LatencyMS               int64       `json:"latency_ms,omitempty"`
	Usage                   *TokenUsage `json:"usage,omitempty"`
	Artifacts               []Artifact  `json:"artifacts,omitempty"`
	PromptTemplatePath      string      `json:"prompt_template_path,omitempty"`
	PromptTemplateCommitSHA string      `json:"prompt_template_commit_sha,omitempty"`
	MissionType             string      `json:"mission_type,omitempty"`

	// Failure field.
	Error string `json:"error,omitempty"`
}

// Heartbeat is outputs/heartbeat.json, rewritten at every stage
// transition so the observer can detect stalls.
type Heartbeat struct {
	TS    string `json:"ts"`
	Stage string `json:"stage"`
}

// ModelOutput is the content-addressed cache entry stored under
// vault_cache/intelligence/output.<fingerprint>.json and copied into the
// worktree as outputs/model_output.<fingerprint>.json.
type ModelOutput struct {
	Text        string     `json:"text"`
	Usage       TokenUsage `json:"usage"`
	LatencyMS   int64      `json:"latency_ms"`
	Fingerprint string     `json:"fingerprint"`
	Timestamp   string     `json:"timestamp"`
}
