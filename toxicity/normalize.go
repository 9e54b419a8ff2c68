package toxicity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Applied in order, letters first. Dropping separators can expose a ".."
// that the last step then removes.
var leetReplacements = [...][2]string{
	{"@", "a"},
	{"4", "a"},
	{"3", "e"},
	{"1", "i"},
	{"!", "i"},
	{"0", "o"},
	{"$", "s"},
	{"5", "s"},
	{"7", "t"},
	{"+", "t"},
	{"*", "u"},
	{"_", ""},
	{"-", ""},
	{"..", ""},
}

// NormalizeText folds common obfuscation so that rule patterns see a
// canonical form: "Fück  y0uuuu" becomes "fuck youu".
func NormalizeText(text string) string {
	// transform chains are stateful, so build one per call
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	folded, _, err := transform.String(fold, lower)
	if err != nil {
		folded = lower
	}
	replaced := folded
	for _, r := range leetReplacements {
		replaced = strings.ReplaceAll(replaced, r[0], r[1])
	}

	var sb strings.Builder
	sb.Grow(len(replaced))
	var last rune
	run := 0
	for _, c := range replaced {
		if c == last {
			run++
			if run > 2 {
				continue
			}
		} else {
			last = c
			run = 1
		}
		sb.WriteRune(c)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// contextMultiplier damps scores for text that is likely quoting, sharing
// links or code rather than addressing someone.
func contextMultiplier(content string) float64 {
	m := 1.0
	if len(strings.TrimSpace(content)) < 10 {
		m *= 0.8
	}
	if (strings.HasPrefix(content, `"`) && strings.HasSuffix(content, `"`)) ||
		(strings.HasPrefix(content, "'") && strings.HasSuffix(content, "'")) {
		m *= 0.5
	}
	if strings.Contains(content, "```") || strings.Contains(content, "function") ||
		strings.Contains(content, "class ") || strings.Contains(content, "def ") {
		m *= 0.6
	}
	if strings.Contains(content, "http://") || strings.Contains(content, "https://") ||
		strings.Contains(content, "www.") {
		m *= 0.7
	}
	if strings.Contains(content, "@") && strings.Contains(content, " ") {
		m *= 0.8
	}
	return m
}

func (rs *RuleSet) isWhitelisted(content string) bool {
	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if w == "" {
			continue
		}
		if !rs.whitelist[w] {
			return false
		}
	}
	return true
}
