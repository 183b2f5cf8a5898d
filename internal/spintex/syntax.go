package spintex

import "strings"

// WarningCode classifies a template syntax finding. The renderer never
// fails on any of these; they exist so the UI can flag sloppy templates
// before a campaign goes out.
type WarningCode string

const (
	WarnUnbalancedBraces WarningCode = "unbalanced_braces"
	WarnEmptyGroup       WarningCode = "empty_group"
	WarnSingleOption     WarningCode = "single_option_group"
	WarnNestedGroup      WarningCode = "nested_group"
)

type Warning struct {
	Code    WarningCode `json:"code"`
	Detail  string      `json:"detail"`
	Snippet string      `json:"snippet,omitempty"`
}

// CheckSyntax inspects a template for variation-group problems. It
// works on the masked form so {{var}} placeholders are not reported as
// brace noise.
func CheckSyntax(tpl string) []Warning {
	masked, _ := maskPlaceholders(tpl)
	var warns []Warning

	depth, maxDepth, unbalanced := 0, 0, false
	for _, r := range masked {
		switch r {
		case '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}':
			if depth == 0 {
				unbalanced = true
				continue
			}
			depth--
		}
	}
	if depth != 0 {
		unbalanced = true
	}
	if unbalanced {
		warns = append(warns, Warning{
			Code:   WarnUnbalancedBraces,
			Detail: "template has unbalanced braces; stray braces render literally",
		})
	}
	if maxDepth > 1 {
		warns = append(warns, Warning{
			Code:   WarnNestedGroup,
			Detail: "nested variation groups resolve innermost first; combination counts treat groups as flat",
		})
	}

	for _, m := range groupPattern.FindAllStringSubmatch(masked, -1) {
		inner := m[1]
		if strings.TrimSpace(inner) == "" {
			warns = append(warns, Warning{
				Code:    WarnEmptyGroup,
				Detail:  "empty variation group renders as empty text",
				Snippet: m[0],
			})
			continue
		}
		if !strings.Contains(inner, "|") {
			warns = append(warns, Warning{
				Code:    WarnSingleOption,
				Detail:  "variation group has a single option and never varies",
				Snippet: m[0],
			})
		}
	}
	return warns
}
