package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/menta2k/pontos/pkg/types"
)

// ParseAnalysisResult parses the text a vision model returned for one tile.
//
// Both {"objects": [...]} and a bare [...] array are accepted. A reply with
// no JSON at all is read as "nothing found"; JSON that cannot be decoded is
// an error.
func ParseAnalysisResult(raw string) (*types.AnalysisResult, error) {
	cleaned := trimFences(raw)
	if !json.Valid([]byte(cleaned)) {
		cleaned = SanitizeModelJSON(raw)
	}

	switch {
	case strings.HasPrefix(cleaned, "["):
		var objects []types.ModelObject
		if err := json.Unmarshal([]byte(cleaned), &objects); err != nil {
			return nil, fmt.Errorf("failed to parse model object list: %w", err)
		}
		return &types.AnalysisResult{Objects: objects}, nil
	case strings.HasPrefix(cleaned, "{"):
		var result types.AnalysisResult
		if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
			return nil, fmt.Errorf("failed to parse model response: %w", err)
		}
		return &result, nil
	default:
		return &types.AnalysisResult{Description: strings.TrimSpace(raw)}, nil
	}
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from a
// JSON response. Text inside string literals is never touched.
func SanitizeModelJSON(raw string) string {
	raw = stripOutsideStrings(trimFences(raw))

	// Keep only the outermost {...} or [...], whichever opens first
	obj := strings.Index(raw, "{")
	arr := strings.Index(raw, "[")
	open, closer := obj, "}"
	if arr >= 0 && (obj < 0 || arr < obj) {
		open, closer = arr, "]"
	}
	if open >= 0 {
		if end := strings.LastIndex(raw, closer); end > open {
			raw = raw[open : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// trimFences strips surrounding whitespace and triple-backtick fences
func trimFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	return strings.Trim(raw, "`")
}

// stripOutsideStrings drops // and /* */ comments and commas directly before
// a closing bracket, skipping over JSON string literals
func stripOutsideStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			nl := strings.IndexByte(s[i:], '\n')
			if nl < 0 {
				return b.String()
			}
			i += nl - 1
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		case c == ',' && closesNext(s[i+1:]):
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closesNext reports whether the first byte of s after whitespace and
// comments closes an object or array
func closesNext(s string) bool {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "//"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return false
			}
			s = s[nl:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s[2:], "*/")
			if end < 0 {
				return false
			}
			s = s[end+4:]
		default:
			return s != "" && (s[0] == '}' || s[0] == ']')
		}
	}
}
