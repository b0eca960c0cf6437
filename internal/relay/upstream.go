package relay

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const maxTextError = 1024

// ParseUpstreamError extracts a human readable message from an upstream error
// body. It first tries JSON (detail, then error, then message, then the
// compacted document) and falls back to the raw text. An empty string means
// the body carried nothing usable and the caller should use its own message.
func ParseUpstreamError(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	if json.Valid(trimmed) {
		if msg := messageFromJSON(trimmed); msg != "" {
			return msg
		}
	}

	text := string(trimmed)
	if !utf8.ValidString(text) {
		return ""
	}
	return truncate(text, maxTextError)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func messageFromJSON(data []byte) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		// Arrays, strings and numbers are reported as they are.
		var s string
		if json.Unmarshal(data, &s) == nil {
			return s
		}
		return compact(data)
	}

	for _, key := range []string{"detail", "error", "message"} {
		raw, ok := doc[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		return compact(raw)
	}

	return compact(data)
}

func compact(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return strings.TrimSpace(string(data))
	}
	return buf.String()
}
