package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const maxSummaryRunes = 200

var (
	pathKeys = []string{"path", "file_path", "filePath", "file", "target_file", "directory", "dir", "cwd"}
	urlKeys  = []string{"url", "targetUrl", "href", "uri"}
)

// Summarize derives a short description of a tool call from its sanitized
// parameters. It returns "" when nothing useful is present.
func Summarize(tool string, params map[string]any) string {
	var s string

	switch strings.ToLower(tool) {
	case "exec", "bash", "shell", "process":
		s = firstString(params, "command", "cmd", "action")
	case "read", "write", "edit":
		s = firstString(params, pathKeys...)
	case "apply_patch":
		s = firstString(params, pathKeys...)
		if s == "" {
			s = patchTarget(firstString(params, "input", "patch"))
		}
	case "web_fetch":
		s = firstString(params, urlKeys...)
	case "browser":
		s = joinNonEmpty(" ", firstString(params, "action"), firstString(params, urlKeys...))
	case "web_search":
		s = firstString(params, "query", "q")
	case "message":
		s = joinNonEmpty(" → ", firstString(params, "action"), firstString(params, "target", "to", "channel"))
	case "note":
		s = firstString(params, "text")
	default:
		s = firstString(params, "command", "path", "url", "query", "action", "name")
	}

	return truncateSummary(s)
}

// ExtractPaths collects file paths mentioned in params, in key order.
func ExtractPaths(params map[string]any) []string {
	var paths []string
	seen := map[string]bool{}
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	for _, k := range pathKeys {
		if s, ok := params[k].(string); ok {
			add(s)
		}
	}
	if list, ok := params["paths"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	return paths
}

// ExtractURL returns the first URL-like parameter.
func ExtractURL(params map[string]any) string {
	return firstString(params, urlKeys...)
}

// Fingerprint identifies a call by session, tool and sanitized params when
// the host gives no call id.
func Fingerprint(sessionKey, tool string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(sessionKey))
	h.Write([]byte{'|'})
	h.Write([]byte(tool))
	h.Write([]byte{'|'})
	if len(params) > 0 {
		// Map keys marshal sorted, so equal params hash equally.
		if data, err := json.Marshal(params); err == nil {
			h.Write(data)
		}
	}
	return "fp:" + hex.EncodeToString(h.Sum(nil))[:12]
}

func firstString(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := params[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// patchTarget returns the first file named in an apply_patch body.
func patchTarget(patch string) string {
	for _, line := range strings.Split(patch, "\n") {
		for _, prefix := range []string{"*** Update File: ", "*** Add File: ", "*** Delete File: "} {
			if rest, ok := strings.CutPrefix(strings.TrimSpace(line), prefix); ok {
				return strings.TrimSpace(rest)
			}
		}
	}
	return ""
}

func truncateSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxSummaryRunes {
		return s
	}
	return string(r[:maxSummaryRunes-1]) + "…"
}
