package template

import (
	"html"
	"strings"
)

// StylesheetVersion identifies the inline stylesheet embedded in every
// document. Bump it whenever stylesheet changes.
const StylesheetVersion = "1"

const stylesheet = `/* mailforge stylesheet v` + StylesheetVersion + ` */
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; margin: 0; padding: 0; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.title { font-size: 24px; font-weight: bold; margin-bottom: 20px; }
.content { margin-bottom: 20px; }
.footer { font-size: 14px; color: #666; border-top: 1px solid #eee; padding-top: 20px; }
img { max-width: 100%; height: auto; margin: 10px 0; }`

const imageStyle = "max-width: 100%; height: auto; margin: 10px 0;"

// Stylesheet returns the inline stylesheet shared by all rendered documents.
func Stylesheet() string {
	return stylesheet
}

// Render returns the canonical HTML document for m. It has no side effects and
// identical models always produce identical output.
func Render(m Model) string {
	var b strings.Builder
	b.Grow(1024 + len(m.body) + len(m.footer) + 128*len(m.images))

	title := escapeText(m.title)

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("<meta charset=\"UTF-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	b.WriteString("<title>")
	b.WriteString(title)
	b.WriteString("</title>\n<style>\n")
	b.WriteString(stylesheet)
	b.WriteString("\n</style>\n</head>\n<body>\n<div class=\"container\">\n")

	b.WriteString("<div class=\"title\">")
	b.WriteString(title)
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"content\">")
	b.WriteString(renderBlock(m.body, m.Format()))
	for _, img := range m.images {
		b.WriteString(renderImage(img))
	}
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"footer\">")
	b.WriteString(renderBlock(m.footer, m.Format()))
	b.WriteString("</div>\n")

	b.WriteString("</div>\n</body>\n</html>\n")
	return b.String()
}

func renderImage(img ImageRef) string {
	return "<img src=\"" + html.EscapeString(img.URL) + "\" alt=\"" + ImageAlt + "\" style=\"" + imageStyle + "\">"
}

// renderBlock turns body or footer text into markup according to format.
func renderBlock(s string, format BodyFormat) string {
	if s == "" {
		return ""
	}
	switch format {
	case FormatHTML:
		return sanitizeMarkup(s)
	case FormatMarkdown:
		return renderMarkdown(s)
	default:
		return escapeMultiline(s)
	}
}

// escapeText escapes the five characters significant in HTML text and
// attribute contexts: & < > " '.
func escapeText(s string) string {
	return html.EscapeString(s)
}

var lineBreaks = strings.NewReplacer("\r\n", "<br>\n", "\r", "<br>\n", "\n", "<br>\n")

// escapeMultiline escapes s and converts line breaks into explicit <br> markers.
func escapeMultiline(s string) string {
	return lineBreaks.Replace(escapeText(s))
}

// LayoutTitle is the placeholder title of the layout skeleton.
const LayoutTitle = "Email Title"

// Layout returns the document skeleton the editor starts from: the canonical
// document for a template with only a placeholder title.
func Layout() string {
	title := LayoutTitle
	return Render(MustNormalize(Input{Title: &title}))
}
