package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	fp1 := Fingerprint("gpt-x", "executor_default", "say hi", "abc",
		map[string]any{"temperature": 0.2, "max_tokens": 800})
	fp2 := Fingerprint("gpt-x", "executor_default", "say hi", "abc",
		map[string]any{"max_tokens": 800, "temperature": 0.2})

	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func TestFingerprintNormalizesPrompt(t *testing.T) {
	fp1 := Fingerprint("gpt-x", "p", "say hi", "", nil)
	fp2 := Fingerprint("gpt-x", "p", "  say hi\r\n", "", nil)
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintIgnoresModelAndProfileOverrides(t *testing.T) {
	// model and profile_name already participate as top-level inputs;
	// their presence in overrides must not change the address.
	fp1 := Fingerprint("gpt-x", "p", "say hi", "", map[string]any{"temperature": 0.2})
	fp2 := Fingerprint("gpt-x", "p", "say hi", "",
		map[string]any{"temperature": 0.2, "model": "other", "profile_name": "other"})
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint("gpt-x", "p", "say hi", "c1", map[string]any{"temperature": 0.2})

	assert.NotEqual(t, base, Fingerprint("gpt-y", "p", "say hi", "c1", map[string]any{"temperature": 0.2}))
	assert.NotEqual(t, base, Fingerprint("gpt-x", "q", "say hi", "c1", map[string]any{"temperature": 0.2}))
	assert.NotEqual(t, base, Fingerprint("gpt-x", "p", "say bye", "c1", map[string]any{"temperature": 0.2}))
	assert.NotEqual(t, base, Fingerprint("gpt-x", "p", "say hi", "c2", map[string]any{"temperature": 0.2}))
	assert.NotEqual(t, base, Fingerprint("gpt-x", "p", "say hi", "c1", map[string]any{"temperature": 0.9}))
}
