package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ternarybob/labnex/internal/services/selectors"
)

var (
	urlPattern = regexp.MustCompile(`(?i)\b(?:https?|file)://[^\s'"<>]+|\blocalhost(?::\d+)?(?:/[^\s'"<>]*)?|\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}(?::\d+)?(?:/[^\s'"<>]*)?`)

	quotedPattern = regexp.MustCompile("'([^']+)'|\"([^\"]+)\"|`([^`]+)`|“([^”]+)”|‘([^’]+)’")

	// #id, .class, [attr=...] optionally prefixed by a tag, chained, with pseudo-classes
	selectorPattern = regexp.MustCompile(`(?:^|\s)((?:[a-zA-Z][\w-]*)?(?:[#.][a-zA-Z_-][\w-]*|\[[^\]]+\])+(?::{1,2}[a-zA-Z-]+(?:\([^)]*\))?)*)`)

	valueMarker = regexp.MustCompile("(?i)\\b(?:with|value)\\s+(?:'([^']*)'|\"([^\"]*)\"|`([^`]*)`)")

	typeBareValue   = regexp.MustCompile(`(?i)\b(?:type|enter|input|fill(?:\s+in)?)\s+(\S+(?:\s+\S+)*?)\s+(?:into|in|on)\b`)
	selectBareValue = regexp.MustCompile(`(?i)\b(?:select|choose|pick)\s+(\S+(?:\s+\S+)*?)\s+(?:from|in|on)\b`)

	intoPreposition = regexp.MustCompile(`(?i)\b(?:into|in|on)\s+(.+)$`)
	fromPreposition = regexp.MustCompile(`(?i)\b(?:from|in)\s+(.+)$`)

	durationPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(ms|milliseconds?|millis|seconds?|secs?|s)\b`)

	dropdownWord    = regexp.MustCompile(`(?i)\b(?:dropdown|drop-down|drop\s+down)\b`)
	scrollDirection = regexp.MustCompile(`(?i)\b(top|bottom|up|down)\b`)

	leadingFiller  = regexp.MustCompile(`(?i)^(?:on|to|the|a|an|at)\s+`)
	trailingPunct  = regexp.MustCompile(`[\s.,;:!?]+$`)
	assertLead     = regexp.MustCompile(`(?i)^(?:that|if|whether|there\s+is|there|the\s+page|page|it|user|we|contains?|shows?|displays?|has|have|includes?|see|sees|reads?|text)\b\s*`)
	assertTail     = regexp.MustCompile(`(?i)\s*\b(?:to\s+)?(?:be\s+|is\s+)?(?:appears?|visible|displayed|shown|present|exists?|there)(?:\s+on\s+(?:the\s+)?(?:page|screen))?\s*[.!]?$`)
	assertModifier = regexp.MustCompile(`(?i)\s+(?:should|must|will)$`)
)

// fieldLocators map input-field keywords to CSS locators, checked in order
var fieldLocators = []struct {
	keyword *regexp.Regexp
	locator string
}{
	{regexp.MustCompile(`(?i)\b(?:username|user\s+name|login\s+name)\b`), `input[name*="user" i], input[id*="user" i], input[autocomplete="username"]`},
	{regexp.MustCompile(`(?i)\b(?:password|passcode)\b`), `input[type="password"]`},
	{regexp.MustCompile(`(?i)\b(?:e-?mail)\b`), `input[type="email"], input[name*="email" i], input[id*="email" i]`},
	{regexp.MustCompile(`(?i)\b(?:phone|telephone|mobile)\b`), `input[type="tel"], input[name*="phone" i], input[id*="phone" i]`},
	{regexp.MustCompile(`(?i)\b(?:address)\b`), `input[name*="address" i], textarea[name*="address" i], input[id*="address" i]`},
	{regexp.MustCompile(`(?i)\b(?:search)\b`), `input[type="search"], input[name="q"], input[name*="search" i]`},
	{regexp.MustCompile(`(?i)\b(?:name)\b`), `input[name*="name" i], input[id*="name" i]`},
}

// NormalizeURL prefixes scheme-less targets with https://
func NormalizeURL(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	lower := strings.ToLower(target)
	if strings.Contains(lower, "://") || strings.HasPrefix(lower, "about:") || strings.HasPrefix(lower, "data:") {
		return target
	}
	return "https://" + target
}

func firstURL(text string) string {
	m := urlPattern.FindString(text)
	return strings.TrimRight(m, ".,;:!?)")
}

func firstQuoted(text string) string {
	m := quotedPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return firstGroup(m)
}

func firstGroup(m []string) string {
	for _, group := range m[1:] {
		if group != "" {
			return strings.TrimSpace(group)
		}
	}
	return ""
}

// blankQuoted replaces quoted segments with spaces of the same byte length so
// their contents are not mistaken for keywords or selectors; offsets are preserved
func blankQuoted(text string) string {
	return quotedPattern.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
}

func firstSelector(text string) string {
	m := selectorPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// extractValue reads a payload from with/value markers, then the first quoted
// substring, then the bare "verb X into Y" form. It also returns text with the
// value's span blanked, so the target search never sees the value.
func extractValue(text string, bare *regexp.Regexp) (string, string) {
	if idx := valueMarker.FindStringSubmatchIndex(text); idx != nil {
		for g := 1; g*2+1 < len(idx); g++ {
			if start, end := idx[g*2], idx[g*2+1]; start >= 0 && end > start {
				return text[start:end], blankSpan(text, idx[0], idx[1])
			}
		}
	}
	if idx := quotedPattern.FindStringSubmatchIndex(text); idx != nil {
		for g := 1; g*2+1 < len(idx); g++ {
			if start, end := idx[g*2], idx[g*2+1]; start >= 0 && end > start {
				return strings.TrimSpace(text[start:end]), blankSpan(text, idx[0], idx[1])
			}
		}
	}
	if idx := bare.FindStringSubmatchIndex(text); idx != nil {
		return strings.Trim(text[idx[2]:idx[3]], `'"`), blankSpan(text, idx[2], idx[3])
	}
	return "", text
}

// blankSpan replaces text[start:end] with spaces, preserving offsets
func blankSpan(text string, start, end int) string {
	return text[:start] + strings.Repeat(" ", end-start) + text[end:]
}

// explicitTarget returns a quoted selector left in the instruction, else the
// first remaining quoted phrase, else an unquoted selector
func explicitTarget(rest string) string {
	phrase := ""
	for _, m := range quotedPattern.FindAllStringSubmatch(rest, -1) {
		quoted := firstGroup(m)
		if quoted == "" {
			continue
		}
		if selectors.LooksLikeSelector(quoted) {
			return quoted
		}
		if phrase == "" {
			phrase = quoted
		}
	}
	if phrase != "" {
		return phrase
	}
	return firstSelector(blankQuoted(rest))
}

func inferFieldLocator(text string) string {
	haystack := blankQuoted(text)
	for _, field := range fieldLocators {
		if field.keyword.MatchString(haystack) {
			return field.locator
		}
	}
	return ""
}

func phraseAfterPreposition(text string, pattern *regexp.Regexp) string {
	m := pattern.FindStringSubmatch(blankQuoted(text))
	if m == nil {
		return ""
	}
	return cleanPhrase(m[1])
}

func phraseAfter(text string, offset int) string {
	if offset >= len(text) {
		return ""
	}
	return cleanPhrase(text[offset:])
}

// cleanPhrase strips leading articles/prepositions and trailing punctuation
func cleanPhrase(phrase string) string {
	phrase = strings.TrimSpace(phrase)
	for {
		stripped := leadingFiller.ReplaceAllString(phrase, "")
		if stripped == phrase {
			break
		}
		phrase = stripped
	}
	return strings.TrimSpace(trailingPunct.ReplaceAllString(phrase, ""))
}

// assertionPhrase removes the verb plus "appears"/"is visible" style tails.
// When nothing follows the verb ("Welcome should appear") the text before it is used.
func assertionPhrase(text string, verbStart, verbEnd int) string {
	rest := strings.TrimSpace(text[verbEnd:])
	for {
		stripped := strings.TrimSpace(assertLead.ReplaceAllString(rest, ""))
		if stripped == rest {
			break
		}
		rest = stripped
	}
	rest = cleanPhrase(assertTail.ReplaceAllString(rest, ""))
	if rest != "" {
		return rest
	}

	before := assertModifier.ReplaceAllString(strings.TrimSpace(text[:verbStart]), "")
	return cleanPhrase(assertTail.ReplaceAllString(before, ""))
}

// extractDurationMs returns the wait length in milliseconds, DefaultWaitMs when absent
func extractDurationMs(text string) int {
	m := durationPattern.FindStringSubmatch(text)
	if m == nil {
		return defaultWaitMs
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n < 0 {
		return defaultWaitMs
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "m") {
		return int(n)
	}
	return int(n * 1000)
}
