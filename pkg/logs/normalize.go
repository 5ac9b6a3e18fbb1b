package logs

import (
	"regexp"
	"strings"
)

// Placeholders substituted for volatile tokens.
const (
	PlaceholderTimestamp = "<TS>"
	PlaceholderUUID      = "<UUID>"
	PlaceholderIP        = "<IP>"
	PlaceholderID        = "<ID>"
	PlaceholderHex       = "<HEX>"
	PlaceholderDuration  = "<DUR>"
	PlaceholderNumber    = "<NUM>"
)

// maxPasses bounds the fixpoint loop in Normalize. Two passes settle every
// line seen in practice.
const maxPasses = 8

type substitution struct {
	re          *regexp.Regexp
	replacement string
	// keep, when set, vetoes a match that only looks like the token.
	keep func(match string) bool
}

// The order is fixed: timestamps contain numbers and IPs contain dotted numbers,
// so the wider tokens must be replaced first. The last rule catches digit runs
// glued to letters, as in node1 or master0.
var substitutions = []substitution{
	{re: regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`), replacement: PlaceholderTimestamp},
	{re: regexp.MustCompile(`\b([IWEF])\d{4} \d{2}:\d{2}:\d{2}\.\d+`), replacement: "${1}" + PlaceholderTimestamp},
	{re: regexp.MustCompile(`\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) +\d{1,2} \d{2}:\d{2}:\d{2}\b`), replacement: PlaceholderTimestamp},
	{re: regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(?:\.\d+)?\b`), replacement: PlaceholderTimestamp},
	{re: regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), replacement: PlaceholderUUID},
	{re: regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d{1,5})?(?:/\d{1,2})?\b`), replacement: PlaceholderIP},
	{re: regexp.MustCompile(`-[a-z0-9]{8,10}-[a-z0-9]{5}\b`), replacement: "-" + PlaceholderID, keep: isMixedSuffix},
	{re: regexp.MustCompile(`-[a-z0-9]{5}\b`), replacement: "-" + PlaceholderID, keep: isMixedSuffix},
	{re: regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`), replacement: PlaceholderHex},
	{re: regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`), replacement: PlaceholderHex},
	{re: regexp.MustCompile(`\b\d+(?:\.\d+)?(?:ns|us|µs|ms|s|m|h)(?:\d+(?:\.\d+)?(?:ns|us|µs|ms|s|m|h))*\b`), replacement: PlaceholderDuration},
	{re: regexp.MustCompile(`\b\d+(?:\.\d+)?\b`), replacement: PlaceholderNumber},
	{re: regexp.MustCompile(`\d+`), replacement: PlaceholderNumber},
}

// Normalize reduces a log line to its template by replacing volatile tokens
// with placeholders. It is idempotent: Normalize(Normalize(s)) == Normalize(s).
//
// Replacing a digit run inside a word can expose a new token boundary, so the
// substitutions are applied until the line stops changing. Every pass that
// changes the line turns raw characters into placeholders, which no rule
// matches again.
func Normalize(line string) string {
	s := strings.TrimSpace(line)
	for i := 0; i < maxPasses; i++ {
		next := normalizeOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func normalizeOnce(s string) string {
	for _, sub := range substitutions {
		if sub.keep == nil {
			s = sub.re.ReplaceAllString(s, sub.replacement)
			continue
		}
		re, replacement, keep := sub.re, sub.replacement, sub.keep
		s = re.ReplaceAllStringFunc(s, func(match string) string {
			if !keep(match) {
				return match
			}
			return re.ReplaceAllString(match, replacement)
		})
	}
	return s
}

// isMixedSuffix accepts generated name suffixes holding both letters and
// digits. Letter-only suffixes are indistinguishable from words (dial-https)
// and digit-only ones are left for the number placeholder.
func isMixedSuffix(s string) bool {
	return strings.IndexAny(s, "0123456789") >= 0 && strings.IndexAny(s, "abcdefghijklmnopqrstuvwxyz") >= 0
}
