// Package parser turns free-text test instructions into typed steps.
package parser

import (
	"regexp"
	"strings"

	"github.com/ternarybob/labnex/internal/models"
)

// family is one keyword family in classification priority order
type family struct {
	action  models.StepAction
	trigger *regexp.Regexp
	extract func(text string, verbStart, verbEnd int) models.ParsedStep
}

const defaultWaitMs = models.DefaultWaitMs

var families = []family{
	{models.ActionNavigate, regexp.MustCompile(`(?i)\b(?:navigate|go\s+to|open|visit)\b`), parseNavigate},
	{models.ActionClick, regexp.MustCompile(`(?i)\b(?:click|press|tap)\b`), parseClick},
	{models.ActionType, regexp.MustCompile(`(?i)\b(?:type|enter|input|fill)\b`), parseType},
	{models.ActionWait, regexp.MustCompile(`(?i)\b(?:wait|pause|delay)\b`), parseWait},
	{models.ActionAssert, regexp.MustCompile(`(?i)\b(?:verify|check|assert|should|expect)\b`), parseAssert},
	{models.ActionSelect, regexp.MustCompile(`(?i)\b(?:select|choose|pick)\b`), parseSelect},
	{models.ActionScroll, regexp.MustCompile(`(?i)\b(?:scroll|swipe)\b`), parseScroll},
	{models.ActionHover, regexp.MustCompile(`(?i)\b(?:hover|mouseover)\b`), parseHover},
}

// Parse converts one instruction into a ParsedStep. It never fails: the first
// matching keyword family wins, and text matching no family becomes a click
// whose target is the whole instruction.
func Parse(instruction string) models.ParsedStep {
	text := strings.TrimSpace(instruction)
	masked := blankQuoted(text)

	for _, f := range families {
		loc := f.trigger.FindStringIndex(masked)
		if loc == nil {
			continue
		}
		step := f.extract(text, loc[0], loc[1])
		step.Action = f.action
		step.OriginalText = instruction
		return step
	}

	return models.ParsedStep{
		Action:       models.ActionClick,
		Target:       text,
		OriginalText: instruction,
	}
}

// ParseAll parses every instruction of a test case, preserving order
func ParseAll(instructions []string) []models.ParsedStep {
	steps := make([]models.ParsedStep, 0, len(instructions))
	for _, instruction := range instructions {
		steps = append(steps, Parse(instruction))
	}
	return steps
}

func parseNavigate(text string, _, verbEnd int) models.ParsedStep {
	target := firstURL(text)
	if target == "" {
		target = firstQuoted(text)
	}
	if target == "" {
		target = phraseAfter(text, verbEnd)
	}
	return models.ParsedStep{Target: NormalizeURL(target)}
}

func parseClick(text string, _, verbEnd int) models.ParsedStep {
	target := firstSelector(blankQuoted(text))
	if target == "" {
		target = firstQuoted(text)
	}
	if target == "" {
		target = phraseAfter(text, verbEnd)
	}
	return models.ParsedStep{Target: target}
}

func parseType(text string, _, _ int) models.ParsedStep {
	value, rest := extractValue(text, typeBareValue)

	target := explicitTarget(rest)
	if target == "" {
		target = inferFieldLocator(rest)
	}
	if target == "" {
		target = phraseAfterPreposition(rest, intoPreposition)
	}
	return models.ParsedStep{Target: target, Value: value}
}

func parseWait(text string, _, _ int) models.ParsedStep {
	return models.ParsedStep{TimeoutMs: extractDurationMs(text)}
}

func parseAssert(text string, verbStart, verbEnd int) models.ParsedStep {
	target := firstQuoted(text)
	if target == "" {
		target = firstSelector(text)
	}
	if target == "" {
		target = assertionPhrase(text, verbStart, verbEnd)
	}
	return models.ParsedStep{Target: target}
}

func parseSelect(text string, _, _ int) models.ParsedStep {
	value, rest := extractValue(text, selectBareValue)

	target := explicitTarget(rest)
	if target == "" && dropdownWord.MatchString(rest) {
		target = "select"
	}
	if target == "" {
		target = phraseAfterPreposition(rest, fromPreposition)
	}
	return models.ParsedStep{Target: target, Value: value}
}

func parseScroll(text string, _, _ int) models.ParsedStep {
	if m := scrollDirection.FindStringSubmatch(text); m != nil {
		return models.ParsedStep{Target: strings.ToLower(m[1])}
	}
	return models.ParsedStep{Target: models.ScrollDown}
}

func parseHover(text string, _, verbEnd int) models.ParsedStep {
	target := firstSelector(blankQuoted(text))
	if target == "" {
		target = firstQuoted(text)
	}
	if target == "" {
		target = phraseAfter(text, verbEnd)
	}
	return models.ParsedStep{Target: target}
}

// HasBrowserIntent reports whether an instruction contains a navigation or
// interaction keyword, i.e. whether it needs a real browser to execute
func HasBrowserIntent(instruction string) bool {
	masked := blankQuoted(strings.TrimSpace(instruction))
	for _, f := range families {
		switch f.action {
		case models.ActionWait, models.ActionAssert:
			continue
		}
		if f.trigger.MatchString(masked) {
			return true
		}
	}
	return false
}
