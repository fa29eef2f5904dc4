package conductor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// DefaultProfile is used when the caller names no model profile.
const DefaultProfile = "executor_default"

// ErrBadRequest marks caller mistakes: unknown profile, model outside the
// allowlist. Handlers map it to HTTP 400.
var ErrBadRequest = errors.New("bad_request")

// Policy is the per-theater model policy file at
// <theater>/repo/policy/model_policy.json.
type Policy struct {
	Profiles        map[string]PolicyProfile `json:"profiles"`
	AllowlistModels []string                 `json:"allowlist_models"`
}

// PolicyProfile is one named model configuration.
type PolicyProfile struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// LoadPolicy reads the theater's policy file, falling back to the default
// theater's file when the theater carries none.
func LoadPolicy(theaterRoot, theater string) (*Policy, error) {
	candidates := []string{
		filepath.Join(theaterRoot, theater, "repo", "policy", "model_policy.json"),
		filepath.Join(theaterRoot, "default", "repo", "policy", "model_policy.json"),
	}

	var lastErr error
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		var p Policy
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse policy %s: %w", path, err)
		}
		return &p, nil
	}
	return nil, fmt.Errorf("no model policy for theater %s: %w", theater, lastErr)
}

// Resolve looks up a profile and merges the caller's overrides. A model
// override must be allowlisted; temperature and max_tokens pass through;
// anything else is ignored.
func (p *Policy) Resolve(profileName string, overrides map[string]any) (models.ModelConfig, error) {
	if profileName == "" {
		profileName = DefaultProfile
	}

	prof, ok := p.Profiles[profileName]
	if !ok {
		return models.ModelConfig{}, fmt.Errorf("%w: unknown model profile %q", ErrBadRequest, profileName)
	}

	cfg := models.ModelConfig{
		ProfileName: profileName,
		Model:       prof.Model,
		Temperature: prof.Temperature,
		MaxTokens:   prof.MaxTokens,
	}

	for key, val := range overrides {
		switch key {
		case "model":
			m, ok := val.(string)
			if !ok || !slices.Contains(p.AllowlistModels, m) {
				return models.ModelConfig{}, fmt.Errorf("%w: model %v not in allowlist", ErrBadRequest, val)
			}
			cfg.Model = m
		case "temperature":
			if t, ok := toFloat(val); ok {
				cfg.Temperature = float32(t)
			}
		case "max_tokens":
			if n, ok := toFloat(val); ok {
				cfg.MaxTokens = int(n)
			}
		}
		// Unknown keys (mission_type included) are not model config.
	}
	return cfg, nil
}

// toFloat accepts the numeric shapes JSON decoding can produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
