package client

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/detailseg/pkg/types"
)

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseVerdict decodes a model answer into a verdict. Answers that carry no
// usable JSON yield a zero-confidence verdict tagged "fallback" rather than
// an error, so callers keep their geometric classification.
func ParseVerdict(raw string) *types.BannerVerdict {
	raw = SanitizeModelJSON(raw)

	if !strings.HasPrefix(raw, "{") {
		return fallback("model returned non-JSON response", "non-json")
	}

	var verdict types.BannerVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return fallback("failed to parse model response", "parse-error")
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	verdict.Tags = NormalizeTags(verdict.Tags)
	return &verdict
}

func fallback(description, tag string) *types.BannerVerdict {
	return &types.BannerVerdict{
		Description: description,
		Tags:        []string{tag, "fallback"},
	}
}

// SanitizeModelJSON removes code fences, comments and trailing commas and
// keeps only the outermost {...}.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// NormalizeTags lowercases, trims and de-duplicates tags, keeping at most 5.
func NormalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
