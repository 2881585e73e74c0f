package gateway

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact_SecretKeys(t *testing.T) {
	args := map[string]any{
		"token":         "a",
		"access_token":  "b",
		"api_token":     "c",
		"apiToken":      "d",
		"client_secret": "e",
		"password":      "f",
		"passwd":        "g",
		"credential":    "h",
		"authorization": "i",
		"auth_header":   "j",
		"api_key":       "k",
		"api-key":       "l",
		"key":           "m",
	}

	out := Redact(args)
	for k := range args {
		assert.Equal(t, "[REDACTED]", out[k], "key %q must be redacted", k)
	}
}

func TestRedact_NonSecretKeysKept(t *testing.T) {
	args := map[string]any{
		"issue_key": "PROJ-1",
		"jql":       "project = PROJ",
		"monkey":    "kept", // "key" not at a word boundary
		"table":     "incident",
		"limit":     25,
	}

	out := Redact(args)
	assert.Equal(t, "project = PROJ", out["jql"])
	assert.Equal(t, "kept", out["monkey"])
	assert.Equal(t, "incident", out["table"])
	assert.Equal(t, 25, out["limit"])

	// "_key" suffix does match the pattern; better safe on identifiers that
	// look like key material.
	assert.Equal(t, "[REDACTED]", out["issue_key"])
}

func TestRedact_Nested(t *testing.T) {
	args := map[string]any{
		"fields": map[string]any{
			"summary":   "hello",
			"api_token": "secret",
			"tags":      []any{"a", map[string]any{"password": "x"}},
		},
	}

	out := Redact(args)
	fields := out["fields"].(map[string]any)
	assert.Equal(t, "hello", fields["summary"])
	assert.Equal(t, "[REDACTED]", fields["api_token"])

	tags := fields["tags"].([]any)
	assert.Equal(t, "a", tags[0])
	assert.Equal(t, "[REDACTED]", tags[1].(map[string]any)["password"])
}

func TestRedact_LongValueTruncated(t *testing.T) {
	long := strings.Repeat("x", 1000)
	out := Redact(map[string]any{"body": long})

	got := out["body"].(string)
	assert.Len(t, got, 256+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestRedact_DoesNotMutateInput(t *testing.T) {
	args := map[string]any{"api_token": "secret"}
	Redact(args)
	assert.Equal(t, "secret", args["api_token"])
}

func TestRedact_Nil(t *testing.T) {
	assert.Nil(t, Redact(nil))
	assert.Nil(t, RedactJSON(nil))
}

func TestRedactJSON_Roundtrip(t *testing.T) {
	raw := RedactJSON(map[string]any{"issue": "PROJ-1", "secret": "x"})

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "PROJ-1", out["issue"])
	assert.Equal(t, "[REDACTED]", out["secret"])
}

func TestRedactJSON_SizeCap(t *testing.T) {
	args := map[string]any{}
	for i := 0; i < 100; i++ {
		args["field_"+strings.Repeat("a", i)] = strings.Repeat("v", 200)
	}

	raw := RedactJSON(args)
	assert.LessOrEqual(t, len(raw), 4096)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "the capped output is still valid JSON")
}
