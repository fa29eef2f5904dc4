package models

// ModelConfig is the resolved model policy attached to a worker request.
// ProfileName may be absent when the policy file predates profile
// bookkeeping; readers must tolerate an empty value.
type ModelConfig struct {
	ProfileName string  `json:"profile_name,omitempty"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// WorktreeCreateRequest is the vault POST /worktrees body.
type WorktreeCreateRequest struct {
	Theater string `json:"theater" binding:"required"`
	OrderID string `json:"order_id" binding:"required"`
	BaseRef string `json:"base_ref,omitempty"`
}

// WorktreeResponse describes a worktree's presence. Created is true only
// when this call provisioned it; an existing tree returns created=false.
type WorktreeResponse struct {
	OrderID string `json:"order_id"`
	Path    string `json:"path"`
	Exists  bool   `json:"exists"`
	Created bool   `json:"created"`
}

// ArchiveResponse is returned by the explicit archive endpoint.
type ArchiveResponse struct {
	OrderID     string `json:"order_id"`
	ArchivePath string `json:"archive_path"`
	Success     bool   `json:"success"`
}

// RemoveResponse is returned by the remove endpoint. ArchivePath is always
// set: remove archives first, without exception.
type RemoveResponse struct {
	Status      string `json:"status"`
	ArchivePath string `json:"archive_path"`
}

// ExecuteRequest is the worker POST /execute body.
type ExecuteRequest struct {
	RunID        string `json:"run_id" binding:"required"`
	OrderID      string `json:"order_id" binding:"required"`
	Attempt      int    `json:"attempt"`
	WorktreePath string `json:"worktree_path" binding:"required"`

	Objective      string      `json:"objective"`
	Prompt         string      `json:"prompt"`
	PromptTemplate string      `json:"prompt_template,omitempty"`
	ResolvedModel  ModelConfig `json:"resolved_model_config"`
	MissionType    string      `json:"mission_type,omitempty"`

	StallSeconds       int `json:"stall_seconds"`
	HardTimeoutSeconds int `json:"hard_timeout_seconds"`

	// RequestID seeds the terminal event-id scheme so a retried worker
	// collides with itself at the ledger.
	RequestID string `json:"request_id,omitempty"`
}

// ExecuteResponse reports the attempt outcome. Domain failures still
// travel as HTTP 200 with status=failed.
type ExecuteResponse struct {
	OrderID   string `json:"order_id"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	OrderHead string `json:"order_head,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChatRequest is the conductor POST /chat body.
type ChatRequest struct {
	Message            string         `json:"message" binding:"required"`
	RequestID          string         `json:"request_id,omitempty"`
	Theater            string         `json:"theater,omitempty"`
	Objective          string         `json:"objective,omitempty"`
	ModelProfile       string         `json:"model_profile,omitempty"`
	ModelOverrides     map[string]any `json:"model_overrides,omitempty"`
	PromptTemplate     string         `json:"prompt_template,omitempty"`
	KeepWorktree       *bool          `json:"keep_worktree,omitempty"`
	StallSeconds       int            `json:"stall_seconds,omitempty"`
	HardTimeoutSeconds int            `json:"hard_timeout_seconds,omitempty"`
}

// ChatResponse is the conductor's reply. WorktreePath is only populated
// when the caller asked to keep the worktree.
type ChatResponse struct {
	RunID        string `json:"run_id"`
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	Answer       string `json:"answer,omitempty"`
	WorktreePath string `json:"worktree_path,omitempty"`
	OrderHead    string `json:"order_head,omitempty"`
	ArchivePath  string `json:"archive_path,omitempty"`
	Error        string `json:"error,omitempty"`
}
