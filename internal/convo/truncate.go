package convo

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pai-platform/pai/pkg/models"
)

// Truncation ceilings.
const (
	MaxToolResultChars = 40_000
	MaxImageDataChars  = 100_000

	maxListItems    = 50
	maxListItemSize = 2_000

	truncationSuffix = "\n... [truncated]"
	imageSentinel    = "[image data omitted]"
)

// largePayloadKeys are dict keys known to carry oversized values.
var largePayloadKeys = []string{"data", "data_url", "markdown", "content", "base64"}

// TruncateToolOutput bounds a tool's output before it becomes a tool_result
// block. Strings are cut at the char ceiling; dict-shaped outputs truncate
// known large keys with an image sentinel where the value resembles image
// data; list-shaped outputs cap item count and per-item size.
func TruncateToolOutput(output any) any {
	switch v := output.(type) {
	case string:
		return truncateString(v, MaxToolResultChars)
	case map[string]any:
		return truncateDict(v)
	case []any:
		return truncateList(v)
	default:
		return output
	}
}

// TruncateToolResultText bounds the string form of a tool result.
func TruncateToolResultText(text string) string {
	return truncateString(text, MaxToolResultChars)
}

func truncateString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + truncationSuffix
}

func truncateDict(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, key := range largePayloadKeys {
		raw, ok := out[key]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if looksLikeImageData(key, s) && len(s) > MaxImageDataChars {
			out[key] = imageSentinel
			continue
		}
		out[key] = truncateString(s, MaxToolResultChars)
	}
	return out
}

func truncateList(items []any) []any {
	n := len(items)
	if n > maxListItems {
		n = maxListItems
	}
	out := make([]any, 0, n)
	for _, item := range items[:n] {
		if s, ok := item.(string); ok {
			out = append(out, truncateString(s, maxListItemSize))
			continue
		}
		out = append(out, item)
	}
	if len(items) > maxListItems {
		out = append(out, fmt.Sprintf("... [%d more items omitted]", len(items)-maxListItems))
	}
	return out
}

// looksLikeImageData reports whether a value is plausibly base64 or data-URL
// image content.
func looksLikeImageData(key, value string) bool {
	if key == "base64" || key == "data_url" {
		return true
	}
	if strings.HasPrefix(value, "data:image/") {
		return true
	}
	// Long unbroken base64-ish runs.
	if len(value) > 10_000 && !strings.ContainsAny(value[:1_000], " \n\t") {
		return true
	}
	return false
}

// StringifyOutput coerces an arbitrary tool output into text for a
// tool_result block.
func StringifyOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// SafeTruncationIndex returns the smallest index >= want such that
// history[index:] does not begin with an orphaned tool_result, so a
// tool_use/tool_result pair is never split. If no safe index exists the
// whole history is kept.
func SafeTruncationIndex(history []models.Message, want int) int {
	if want <= 0 {
		return 0
	}
	if want >= len(history) {
		return len(history)
	}
	for idx := want; idx < len(history); idx++ {
		if !history[idx].HasToolResult() {
			return idx
		}
	}
	return 0
}
