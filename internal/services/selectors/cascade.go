// Package selectors expands a human-readable target phrase into an ordered
// list of DOM locator candidates. Candidates are CSS selectors, or XPath
// expressions when they start with "/".
package selectors

import (
	"strings"
)

// stage produces one group of candidates on demand
type stage func(phrase string) []string

// Cascade lazily yields de-duplicated locator candidates in priority order.
// Later stages are only computed when earlier candidates have been consumed.
type Cascade struct {
	phrase  string
	stages  []stage
	next    int
	pending []string
	seen    map[string]struct{}
	yielded int
}

// Resolve builds the candidate cascade for a target phrase
func Resolve(phrase string) *Cascade {
	phrase = strings.TrimSpace(phrase)
	c := &Cascade{
		phrase: phrase,
		seen:   make(map[string]struct{}),
	}
	if phrase == "" {
		return c
	}

	c.stages = []stage{literalSelector, fieldHeuristics}
	if !LooksLikeSelector(phrase) {
		c.stages = append(c.stages, textProbes, attributeProbes)
	}
	return c
}

// Next returns the next untried candidate, false once the cascade is exhausted
func (c *Cascade) Next() (string, bool) {
	for {
		for len(c.pending) > 0 {
			candidate := c.pending[0]
			c.pending = c.pending[1:]
			if candidate == "" {
				continue
			}
			if _, dup := c.seen[candidate]; dup {
				continue
			}
			c.seen[candidate] = struct{}{}
			c.yielded++
			return candidate, true
		}

		if c.next >= len(c.stages) {
			return "", false
		}
		c.pending = c.stages[c.next](c.phrase)
		c.next++
	}
}

// Phrase returns the phrase the cascade was built for
func (c *Cascade) Phrase() string {
	return c.phrase
}

// Yielded returns how many candidates have been handed out so far
func (c *Cascade) Yielded() int {
	return c.yielded
}

// Candidates drains a fresh cascade, for diagnostics and logging
func Candidates(phrase string) []string {
	c := Resolve(phrase)
	var out []string
	for {
		candidate, ok := c.Next()
		if !ok {
			return out
		}
		out = append(out, candidate)
	}
}

// IsXPath reports whether a candidate must be evaluated as XPath
func IsXPath(candidate string) bool {
	return strings.HasPrefix(candidate, "/") || strings.HasPrefix(candidate, "(/")
}
