package spintex

import (
	"fmt"
	"strings"
)

// Variable placeholders are swapped for sentinel runes before variation
// parsing so that neither the {{ }} braces nor braces inside a supplied
// value are ever read as variation groups. The sentinel uses a unit
// separator control character that cannot appear in message content.
const sentinel = "\x1f"

func maskToken(i int) string {
	return fmt.Sprintf("%sv%d%s", sentinel, i, sentinel)
}

// maskPlaceholders replaces every {{name}} occurrence with an opaque
// token and returns the original placeholder texts for restoration.
func maskPlaceholders(tpl string) (string, []string) {
	var tokens []string
	masked := varPattern.ReplaceAllStringFunc(tpl, func(tok string) string {
		tokens = append(tokens, tok)
		return maskToken(len(tokens) - 1)
	})
	return masked, tokens
}

// unmaskPlaceholders restores masked tokens: matched variables become
// their supplied value, unmatched ones revert to the original {{name}}
// text verbatim.
func unmaskPlaceholders(text string, tokens []string, vars map[string]string) string {
	for i, tok := range tokens {
		name := varPattern.FindStringSubmatch(tok)[1]
		repl := tok
		if v, ok := vars[name]; ok {
			repl = v
		}
		text = strings.ReplaceAll(text, maskToken(i), repl)
	}
	return text
}
