package gateway

import (
	"encoding/json"
	"regexp"
)

// secretKeyPattern matches argument keys that may carry credential material.
// Anything matching is redacted before the usage log sees it; the log is a
// long-lived plaintext audit record.
var secretKeyPattern = regexp.MustCompile(`(?i)(token|secret|password|passwd|credential|auth|(^|_|-)key)`)

const (
	redactedPlaceholder = "[REDACTED]"
	maxParamValueLen    = 256
	maxParamsBytes      = 4096
)

// Redact returns a copy of args safe for persistence: secret-looking fields
// are replaced, long values truncated, nested maps and slices walked.
func Redact(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if secretKeyPattern.MatchString(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Redact(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	case string:
		if len(val) > maxParamValueLen {
			return val[:maxParamValueLen] + "..."
		}
		return val
	default:
		return v
	}
}

// RedactJSON redacts args and marshals them, capping the result size so a
// pathological argument map cannot bloat the log.
func RedactJSON(args map[string]any) []byte {
	if args == nil {
		return nil
	}
	raw, err := json.Marshal(Redact(args))
	if err != nil {
		return []byte(`{"_redaction":"failed to encode parameters"}`)
	}
	if len(raw) > maxParamsBytes {
		return []byte(`{"_redaction":"parameters truncated, too large"}`)
	}
	return raw
}
