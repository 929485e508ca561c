package selectors

import (
	"fmt"
	"regexp"
	"strings"
)

// knownTags are element names accepted as selectors on their own
var knownTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true,
	"form": true, "img": true, "label": true, "option": true, "iframe": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"nav": true, "header": true, "footer": true, "main": true, "section": true,
	"article": true, "aside": true, "div": true, "span": true, "p": true,
	"ul": true, "ol": true, "li": true, "table": true, "tr": true, "td": true, "th": true,
	"dialog": true, "summary": true, "details": true,
}

var (
	tagPrefix     = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9]*)(?:$|[\[.#:,> ])`)
	attributeName = regexp.MustCompile(`\[[a-z-]+`)

	// words that describe the kind of element rather than identify it
	fillerWords = map[string]bool{
		"the": true, "a": true, "an": true, "button": true, "btn": true, "link": true,
		"field": true, "box": true, "input": true, "textbox": true, "text": true,
		"icon": true, "element": true, "area": true, "on": true, "in": true, "into": true,
	}
)

// fieldClass is a family of common form controls recognised by keyword
type fieldClass struct {
	keyword    *regexp.Regexp
	candidates []string
}

var fieldClasses = []fieldClass{
	{regexp.MustCompile(`\bsearch\b`), []string{
		`input[name="q"]`, `input[type="search"]`, `[aria-label*="search" i]`,
		`input[placeholder*="search" i]`, `[role="search"] input`,
	}},
	{regexp.MustCompile(`\b(?:submit|log\s*in|sign\s*in|sign\s*up|register|continue|send)\b`), []string{
		`button[type="submit"]`, `input[type="submit"]`, `form button:not([type="button"])`,
	}},
	{regexp.MustCompile(`\b(?:username|user\s+name|user)\b`), []string{
		`input[autocomplete="username"]`, `input[name*="user" i]`, `input[id*="user" i]`,
	}},
	{regexp.MustCompile(`\b(?:password|passcode)\b`), []string{
		`input[type="password"]`,
	}},
	{regexp.MustCompile(`\be-?mail\b`), []string{
		`input[type="email"]`, `input[name*="email" i]`, `input[id*="email" i]`, `input[placeholder*="email" i]`,
	}},
	{regexp.MustCompile(`\b(?:phone|telephone|mobile)\b`), []string{
		`input[type="tel"]`, `input[name*="phone" i]`, `input[id*="phone" i]`,
	}},
	{regexp.MustCompile(`\baddress\b`), []string{
		`input[name*="address" i]`, `textarea[name*="address" i]`, `input[autocomplete*="address" i]`,
	}},
	{regexp.MustCompile(`\bname\b`), []string{
		`input[name*="name" i]`, `input[id*="name" i]`, `input[autocomplete*="name" i]`,
	}},
	{regexp.MustCompile(`\b(?:dropdown|drop-down|select)\b`), []string{
		`select`,
	}},
	{regexp.MustCompile(`\bcheckbox\b`), []string{
		`input[type="checkbox"]`, `[role="checkbox"]`,
	}},
	{regexp.MustCompile(`\bradio\b`), []string{
		`input[type="radio"]`, `[role="radio"]`,
	}},
}

// LooksLikeSelector reports whether the phrase is already a CSS selector or XPath
func LooksLikeSelector(phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	switch phrase[0] {
	case '#', '.', '[', '/':
		return true
	}
	if strings.HasPrefix(phrase, "(/") {
		return true
	}
	m := tagPrefix.FindStringSubmatch(phrase)
	if m == nil {
		return false
	}
	if !knownTags[strings.ToLower(m[1])] {
		return false
	}
	// "button" alone, "input[...]" or "form > input"; "button Sign in" is prose
	rest := phrase[len(m[1]):]
	if rest == "" || !strings.HasPrefix(rest, " ") {
		return true
	}
	rest = strings.TrimSpace(rest)
	return strings.HasPrefix(rest, ">") || strings.HasPrefix(rest, "+") || strings.HasPrefix(rest, "~")
}

func literalSelector(phrase string) []string {
	if LooksLikeSelector(phrase) {
		return []string{phrase}
	}
	return nil
}

func fieldHeuristics(phrase string) []string {
	lower := strings.ToLower(phrase)
	if LooksLikeSelector(phrase) {
		// only ids, classes and attribute values carry meaning, not attribute names
		lower = attributeName.ReplaceAllString(lower, "[")
	}
	var out []string
	for _, class := range fieldClasses {
		if class.keyword.MatchString(lower) {
			out = append(out, class.candidates...)
		}
	}
	return out
}

// textProbes match clickable elements and labels by their visible text
func textProbes(phrase string) []string {
	core := corePhrase(phrase)
	if core == "" {
		return nil
	}
	lower := strings.ToLower(phrase)
	contains := xpathContainsText(core)

	var out []string
	if strings.Contains(lower, "link") {
		out = append(out, fmt.Sprintf(`//a[%s]`, contains))
	}
	out = append(out,
		fmt.Sprintf(`//button[%s]`, contains),
		fmt.Sprintf(`//*[@role="button"][%s]`, contains),
		fmt.Sprintf(`//a[%s]`, contains),
		fmt.Sprintf(`//input[@type="submit" or @type="button"][contains(translate(@value, %s), %s)]`, xpathLowerArgs, xpathLiteral(core)),
		fmt.Sprintf(`//label[%s]`, contains),
	)
	return out
}

var genericAttributes = []string{"data-testid", "data-test", "id", "name", "placeholder", "aria-label", "title", "value", "alt"}

// slugAttributes are identifier-like attributes where multi-word phrases are usually joined
var slugAttributes = map[string]bool{"data-testid": true, "data-test": true, "id": true, "name": true}

func attributeProbes(phrase string) []string {
	core := corePhrase(phrase)
	if core == "" {
		return nil
	}
	quoted := cssString(core)

	var out []string
	for _, attr := range genericAttributes {
		out = append(out, fmt.Sprintf(`[%s*=%s i]`, attr, quoted))
		if slugAttributes[attr] && strings.Contains(core, " ") {
			out = append(out,
				fmt.Sprintf(`[%s*=%s i]`, attr, cssString(strings.ReplaceAll(core, " ", "-"))),
				fmt.Sprintf(`[%s*=%s i]`, attr, cssString(strings.ReplaceAll(core, " ", "_"))),
			)
		}
	}
	return out
}

// corePhrase lower-cases the phrase and drops words describing the element kind
func corePhrase(phrase string) string {
	words := strings.Fields(strings.ToLower(phrase))
	kept := words[:0]
	for _, w := range words {
		w = strings.Trim(w, `.,;:!?'"`)
		if w == "" || fillerWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func cssString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

const (
	upperAlpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlpha = "abcdefghijklmnopqrstuvwxyz"
)

var xpathLowerArgs = fmt.Sprintf(`"%s", "%s"`, upperAlpha, lowerAlpha)

func xpathContainsText(core string) string {
	return fmt.Sprintf(`contains(translate(normalize-space(.), %s), %s)`, xpathLowerArgs, xpathLiteral(core))
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+part+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
