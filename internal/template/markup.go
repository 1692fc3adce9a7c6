package template

import (
	"bytes"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// Body and footer text only becomes markup through this file. FormatHTML
// input is reduced to the allow-list below; FormatMarkdown input is converted
// by goldmark (raw HTML omitted) and then reduced to the same allow-list.

var (
	markupPolicyOnce sync.Once
	markupPolicy     *bluemonday.Policy

	markdown = goldmark.New()
)

// allowedElements lists the elements that survive FormatHTML and
// FormatMarkdown sanitization.
var allowedElements = []string{
	"p", "br", "strong", "em", "b", "i", "u", "s",
	"a", "ul", "ol", "li", "blockquote", "span",
	"h1", "h2", "h3", "h4", "hr", "code", "pre",
}

func sanitizer() *bluemonday.Policy {
	markupPolicyOnce.Do(func() {
		policy := bluemonday.NewPolicy()
		policy.AllowElements(allowedElements...)

		policy.AllowAttrs("href", "title").OnElements("a")
		policy.AllowURLSchemes("http", "https", "mailto")
		policy.RequireParseableURLs(true)
		policy.RequireNoFollowOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)

		markupPolicy = policy
	})
	return markupPolicy
}

// sanitizeMarkup reduces s to the allow-listed HTML subset.
func sanitizeMarkup(s string) string {
	return strings.TrimSpace(sanitizer().Sanitize(s))
}

// renderMarkdown converts CommonMark to sanitized HTML. On a conversion error
// the text falls back to plain escaping so Render never fails.
func renderMarkdown(s string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(s), &buf); err != nil {
		return escapeMultiline(s)
	}
	return sanitizeMarkup(buf.String())
}
