package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/interfaces"
)

const defaultMaxHTMLBytes = 60 * 1024

// ErrNoSuggestion is returned when the model could not name an element
var ErrNoSuggestion = errors.New("no selector suggested")

const suggestSystemPrompt = `You locate elements on web pages for an automated browser test.
Given a short phrase from a test step and the page HTML, reply with exactly one CSS selector
(or an XPath expression starting with /) that identifies the element the phrase refers to.
Reply with the selector only, no explanation and no code fences.
If no element matches, reply NONE.`

// SelectorSuggester asks an LLM for one locator when the heuristic cascade is exhausted
type SelectorSuggester struct {
	llm          interfaces.LLMService
	maxHTMLBytes int
	logger       arbor.ILogger
}

var _ interfaces.SelectorSuggester = (*SelectorSuggester)(nil)

// NewSelectorSuggester wraps an LLM client. maxHTMLBytes <= 0 uses the default.
func NewSelectorSuggester(llm interfaces.LLMService, maxHTMLBytes int, logger arbor.ILogger) *SelectorSuggester {
	if maxHTMLBytes <= 0 {
		maxHTMLBytes = defaultMaxHTMLBytes
	}
	return &SelectorSuggester{llm: llm, maxHTMLBytes: maxHTMLBytes, logger: logger}
}

// SuggestSelector returns a selector for phrase on the page described by html
func (s *SelectorSuggester) SuggestSelector(ctx context.Context, phrase, html string) (string, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return "", ErrNoSuggestion
	}

	page, err := TrimHTML(html, s.maxHTMLBytes)
	if err != nil {
		return "", err
	}

	reply, err := s.llm.Chat(ctx, []interfaces.Message{
		{Role: interfaces.RoleSystem, Content: suggestSystemPrompt},
		{Role: interfaces.RoleUser, Content: fmt.Sprintf("Phrase: %s\n\nHTML:\n%s", phrase, page)},
	})
	if err != nil {
		return "", fmt.Errorf("%s selector suggestion failed: %w", s.llm.Name(), err)
	}

	selector := cleanSuggestion(reply)
	if selector == "" {
		return "", ErrNoSuggestion
	}

	s.logger.Debug().
		Str("provider", s.llm.Name()).
		Str("phrase", phrase).
		Str("selector", selector).
		Int("html_bytes", len(page)).
		Msg("Selector suggested")

	return selector, nil
}

// TrimHTML drops non-structural markup and caps the result at maxBytes
func TrimHTML(html string, maxBytes int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page html: %w", err)
	}

	doc.Find("head, script, style, noscript, template, svg, iframe, link, meta").Remove()
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		for _, node := range sel.Nodes {
			kept := node.Attr[:0]
			for _, attr := range node.Attr {
				if attr.Key == "style" || strings.HasPrefix(attr.Key, "on") || strings.HasPrefix(attr.Val, "data:") {
					continue
				}
				kept = append(kept, attr)
			}
			node.Attr = kept
		}
	})

	body := doc.Find("body")
	var out string
	if body.Length() > 0 {
		out, err = body.Html()
	} else {
		out, err = doc.Html()
	}
	if err != nil {
		return "", fmt.Errorf("render trimmed html: %w", err)
	}

	out = strings.Join(strings.Fields(out), " ")
	if maxBytes > 0 && len(out) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out, nil
}

// cleanSuggestion extracts the selector from a model reply
func cleanSuggestion(reply string) string {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		for _, prefix := range []string{"Selector:", "selector:", "CSS:", "XPath:"} {
			line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
		line = strings.Trim(line, "`\"'")
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "NONE") {
			return ""
		}
		return line
	}
	return ""
}
