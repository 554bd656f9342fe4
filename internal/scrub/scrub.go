// Package scrub turns post markup into plain text for the full-text index.
package scrub

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var markupReplacer = strings.NewReplacer(
	"<br/>", "\n",
	"<br>", "\n",
	"<span class='quote'>", "> ",
)

// Scrubber strips markup and decodes entities. It is safe for concurrent use.
type Scrubber struct {
	policy *bluemonday.Policy
}

// New builds a Scrubber backed by the bluemonday strict policy, which removes
// every tag and keeps only text.
func New() *Scrubber {
	return &Scrubber{policy: bluemonday.StrictPolicy()}
}

// Text converts line breaks and quote spans, drops all remaining tags, and
// decodes numeric and named entities.
func (s *Scrubber) Text(markup string) string {
	if markup == "" {
		return ""
	}
	out := markupReplacer.Replace(markup)
	out = s.policy.Sanitize(out)
	return html.UnescapeString(out)
}
