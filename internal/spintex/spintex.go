// Package spintex renders campaign message bodies: {{name}} variable
// substitution followed by {option1|option2} variation expansion. All
// functions are pure; malformed input degrades instead of erroring.
package spintex

import (
	"math/rand"
	"regexp"
	"strings"
)

var varPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// one single-brace group with no nested braces inside
var groupPattern = regexp.MustCompile(`\{([^{}]*)\}`)

const (
	// spinPasses bounds nested-group resolution so pathological input
	// cannot loop forever.
	spinPasses = 10
	// sampleAttemptsPerWanted bounds the distinct-sample search when a
	// template has fewer distinct renderings than requested.
	sampleAttemptsPerWanted = 10
)

// Render substitutes variables and then resolves variation groups.
// Substituted values are inserted verbatim: braces inside a value never
// take part in variation parsing.
func Render(tpl string, vars map[string]string) string {
	masked, tokens := maskPlaceholders(tpl)
	spun := Spin(masked)
	return unmaskPlaceholders(spun, tokens, vars)
}

// Substitute replaces each {{name}} with its value. Placeholders
// without a supplied value stay verbatim; missing variables are a
// caller-visible condition (ValidateVariables), not a render fault.
func Substitute(tpl string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(tpl, func(tok string) string {
		name := varPattern.FindStringSubmatch(tok)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return tok
	})
}

// Spin resolves every {a|b|c} group, choosing one option uniformly at
// random, independently per group. An empty group yields empty text; a
// lone unbalanced brace stays literal. Nested groups resolve innermost
// first, up to a bounded number of passes.
func Spin(text string) string {
	for i := 0; i < spinPasses; i++ {
		replaced := false
		text = groupPattern.ReplaceAllStringFunc(text, func(g string) string {
			replaced = true
			opts := strings.Split(g[1:len(g)-1], "|")
			return opts[rand.Intn(len(opts))]
		})
		if !replaced {
			break
		}
	}
	return text
}

// ExtractVariables returns the distinct variable names referenced by
// the template, in first-appearance order.
func ExtractVariables(tpl string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range varPattern.FindAllStringSubmatch(tpl, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ValidateVariables reports every variable the template references
// whose supplied value is absent or empty.
func ValidateVariables(tpl string, vars map[string]string) []string {
	var missing []string
	for _, name := range ExtractVariables(tpl) {
		if v, ok := vars[name]; !ok || v == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Combinations is the total number of distinct variation outcomes: the
// product of each group's option count, capped to avoid overflow on
// absurd templates. Groups are parsed flat; a nested template's count
// covers the innermost groups only, and CheckSyntax flags nesting.
func Combinations(tpl string) int64 {
	const capAt = int64(1) << 40
	masked, _ := maskPlaceholders(tpl)
	total := int64(1)
	for _, seg := range parseSegments(masked) {
		if seg.opts == nil {
			continue
		}
		total *= int64(len(seg.opts))
		if total >= capAt {
			return capAt
		}
	}
	return total
}

// Samples renders the template up to n times, keeping only distinct
// outputs. Attempts are bounded so templates with fewer than n distinct
// renderings terminate.
func Samples(tpl string, vars map[string]string, n int) []string {
	if n <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, n)
	var out []string
	for attempts := 0; len(out) < n && attempts < n*sampleAttemptsPerWanted; attempts++ {
		r := Render(tpl, vars)
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Enumerate returns every distinct variation of the template when the
// combination count is at or below ceiling, in a deterministic order.
// Above the ceiling it falls back to bounded random sampling and
// reports exhaustive=false.
func Enumerate(tpl string, vars map[string]string, ceiling int64) (outs []string, exhaustive bool) {
	total := Combinations(tpl)
	if total > ceiling {
		return Samples(tpl, vars, int(ceiling)), false
	}

	masked, tokens := maskPlaceholders(tpl)
	segs := parseSegments(masked)

	counters := make([]int, len(segs))
	for i := int64(0); i < total; i++ {
		var b strings.Builder
		for si, seg := range segs {
			if seg.opts == nil {
				b.WriteString(seg.lit)
				continue
			}
			b.WriteString(seg.opts[counters[si]])
		}
		outs = append(outs, unmaskPlaceholders(b.String(), tokens, vars))

		// odometer over the group counters
		for si := len(segs) - 1; si >= 0; si-- {
			if segs[si].opts == nil {
				continue
			}
			counters[si]++
			if counters[si] < len(segs[si].opts) {
				break
			}
			counters[si] = 0
		}
	}
	return dedup(outs), true
}

// segment is either a literal run (opts nil) or a variation group.
type segment struct {
	lit  string
	opts []string
}

func parseSegments(masked string) []segment {
	var segs []segment
	rest := masked
	for {
		loc := groupPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		if loc[0] > 0 {
			segs = append(segs, segment{lit: rest[:loc[0]]})
		}
		segs = append(segs, segment{opts: strings.Split(rest[loc[2]:loc[3]], "|")})
		rest = rest[loc[1]:]
	}
	if rest != "" {
		segs = append(segs, segment{lit: rest})
	}
	return segs
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
