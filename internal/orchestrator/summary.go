package orchestrator

import "strings"

// Severity buckets, worst first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
	SeverityUnknown  = "unknown"
)

// severityAliases coerces the zoo of severity spellings workers emit into
// the canonical buckets.
var severityAliases = map[string]string{
	"critical":      SeverityCritical,
	"fatal":         SeverityCritical,
	"blocker":       SeverityCritical,
	"high":          SeverityHigh,
	"error":         SeverityHigh,
	"severe":        SeverityHigh,
	"medium":        SeverityMedium,
	"moderate":      SeverityMedium,
	"warn":          SeverityMedium,
	"warning":       SeverityMedium,
	"low":           SeverityLow,
	"minor":         SeverityLow,
	"info":          SeverityInfo,
	"informational": SeverityInfo,
	"note":          SeverityInfo,
	"notice":        SeverityInfo,
}

// NormalizeSeverity maps a raw severity string to a canonical bucket.
func NormalizeSeverity(raw string) string {
	if canonical, ok := severityAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return canonical
	}
	return SeverityUnknown
}

// Summary is the lightweight description persisted next to a result.
type Summary struct {
	Status        string         `json:"status"`
	TotalFindings int            `json:"total_findings"`
	BySeverity    map[string]int `json:"by_severity"`
	ByTool        map[string]int `json:"by_tool"`
}

// Summarize walks a merged result tree and counts findings by severity and
// by tool. A finding is any object carrying a severity field; the owning
// tool is read from tool_name or tool when present.
func Summarize(status string, tree map[string]any) Summary {
	s := Summary{
		Status:     status,
		BySeverity: map[string]int{},
		ByTool:     map[string]int{},
	}
	countFindings(tree, &s)
	return s
}

func countFindings(v any, s *Summary) {
	switch typed := v.(type) {
	case map[string]any:
		if raw, ok := typed["severity"].(string); ok {
			s.TotalFindings++
			s.BySeverity[NormalizeSeverity(raw)]++
			if tool := findingTool(typed); tool != "" {
				s.ByTool[tool]++
			}
			return
		}
		for _, child := range typed {
			countFindings(child, s)
		}
	case []any:
		for _, child := range typed {
			countFindings(child, s)
		}
	}
}

func findingTool(finding map[string]any) string {
	if tool, ok := finding["tool_name"].(string); ok {
		return tool
	}
	if tool, ok := finding["tool"].(string); ok {
		return tool
	}
	return ""
}
