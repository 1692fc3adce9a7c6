package template

import (
	"strings"
	"testing"
)

func TestSanitizeMarkup(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		contains  []string
		forbidden []string
	}{
		{
			name:     "allowed formatting survives",
			in:       "<p>Hello <strong>world</strong></p>",
			contains: []string{"<p>Hello <strong>world</strong></p>"},
		},
		{
			name:      "script removed",
			in:        `<p>hi</p><script>alert(1)</script>`,
			contains:  []string{"<p>hi</p>"},
			forbidden: []string{"<script", "alert(1)"},
		},
		{
			name:      "event handlers removed",
			in:        `<span onclick="steal()">x</span><img src=x onerror="steal()">`,
			forbidden: []string{"onclick", "onerror", "<img", "steal()"},
		},
		{
			name:      "javascript links removed",
			in:        `<a href="javascript:alert(1)">click</a>`,
			forbidden: []string{"javascript:"},
		},
		{
			name:      "inline styles removed",
			in:        `<p style="position:fixed">x</p>`,
			contains:  []string{"<p>x</p>"},
			forbidden: []string{"style="},
		},
		{
			name:     "external links hardened",
			in:       `<a href="https://example.com">site</a>`,
			contains: []string{`href="https://example.com"`, "nofollow", `target="_blank"`},
		},
		{
			name:      "iframes removed",
			in:        `<iframe src="https://evil.example.com"></iframe>`,
			forbidden: []string{"<iframe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeMarkup(tt.in)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("sanitizeMarkup() = %q, want it to contain %q", got, want)
				}
			}
			for _, bad := range tt.forbidden {
				if strings.Contains(got, bad) {
					t.Errorf("sanitizeMarkup() = %q, must not contain %q", got, bad)
				}
			}
		})
	}
}

func TestRender_HTMLFormat(t *testing.T) {
	body := `<p>Sale <em>today</em></p><script>alert(1)</script>`
	out := Render(MustNormalize(Input{Title: strPtr("t"), Body: &body, Format: "html"}))

	if !strings.Contains(out, "<p>Sale <em>today</em></p>") {
		t.Error("allowed markup was not kept")
	}
	if strings.Contains(out, "<script") {
		t.Error("script survived html format")
	}
}

func TestRender_MarkdownFormat(t *testing.T) {
	body := "# Big news\n\nThis is **important**.\n\n<script>alert(1)</script>"
	out := Render(MustNormalize(Input{Title: strPtr("t"), Body: &body, Format: "markdown"}))

	for _, want := range []string{"<h1>Big news</h1>", "<strong>important</strong>"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown output missing %q", want)
		}
	}
	if strings.Contains(out, "<script") || strings.Contains(out, "alert(1)") {
		t.Error("raw html in markdown was rendered")
	}
}

func TestRender_TextFormatKeepsMarkupLiteral(t *testing.T) {
	body := "<b>not bold</b>"
	out := Render(MustNormalize(Input{Title: strPtr("t"), Body: &body}))

	if strings.Contains(out, "<b>") {
		t.Error("text format passed markup through")
	}
	if !strings.Contains(out, "&lt;b&gt;not bold&lt;/b&gt;") {
		t.Error("text format did not escape markup")
	}
}
