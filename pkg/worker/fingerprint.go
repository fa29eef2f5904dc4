package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Fingerprint addresses the per-theater model-output cache. It hashes the
// canonical JSON (sorted keys) of everything that determines the model's
// answer: the model, the profile, the normalized prompt, the template
// version, and any overrides beyond model/profile_name. Two orders with
// the same fingerprint legitimately share a cache entry.
func Fingerprint(modelID, profileName, prompt, templateCommit string, overrides map[string]any) string {
	filtered := map[string]any{}
	for k, v := range overrides {
		if k == "model" || k == "profile_name" {
			continue
		}
		filtered[k] = v
	}

	// json.Marshal emits map keys in sorted order, which gives us the
	// canonical form for free.
	canonical, _ := json.Marshal(map[string]any{
		"model_id":          modelID,
		"profile_name":      profileName,
		"normalized_prompt": normalizePrompt(prompt),
		"template_commit":   templateCommit,
		"overrides":         filtered,
	})

	h := sha256.Sum256(canonical)
	return hex.EncodeToString(h[:])
}

// normalizePrompt strips leading/trailing whitespace and unifies line
// endings so cosmetic differences do not defeat the cache.
func normalizePrompt(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
