package template

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	plainPolicy = bluemonday.StrictPolicy()

	blockBreaks = strings.NewReplacer(
		"<br>", "\n", "<br/>", "\n", "<br />", "\n",
		"</p>", "\n\n", "</li>", "\n", "</ul>", "\n", "</ol>", "\n", "</blockquote>", "\n\n",
		"</h1>", "\n\n", "</h2>", "\n\n", "</h3>", "\n\n", "</h4>", "\n\n",
		"<hr>", "\n\n", "<hr/>", "\n\n", "</pre>", "\n\n",
	)
)

// PlainText renders the model as readable text for the text/plain
// alternative of a mail message. Markup formats are reduced to their text.
func PlainText(m Model) string {
	var parts []string

	if t := m.Title(); t != "" {
		parts = append(parts, t)
	}
	if body := plainBlock(m.Body(), m.Format()); body != "" {
		parts = append(parts, body)
	}
	for _, img := range m.Images() {
		parts = append(parts, "["+ImageAlt+": "+img.URL+"]")
	}
	if footer := plainBlock(m.Footer(), m.Format()); footer != "" {
		parts = append(parts, "--\n"+footer)
	}

	return strings.Join(parts, "\n\n") + "\n"
}

func plainBlock(s string, format BodyFormat) string {
	switch format {
	case FormatHTML:
		return stripMarkup(sanitizeMarkup(s))
	case FormatMarkdown:
		return stripMarkup(renderMarkdown(s))
	default:
		return strings.TrimSpace(s)
	}
}

// stripMarkup expects sanitized markup. Newlines between tags carry no
// meaning in HTML and are dropped before block ends become line breaks.
func stripMarkup(s string) string {
	s = strings.ReplaceAll(s, ">\n<", "><")
	text := html.UnescapeString(plainPolicy.Sanitize(blockBreaks.Replace(s)))

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
