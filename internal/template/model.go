// Package template composes email templates into self-contained HTML documents.
//
// A template goes through two steps. Normalize validates raw caller input and
// produces an immutable Model. Render turns a Model into the canonical HTML
// document; Export wraps the same document with download metadata. Every call
// site (HTTP preview, HTTP export, CLI, test sends) goes through Render, so the
// previewed and the exported documents are always byte-identical.
package template

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// ImageAlt is the alt text attached to every rendered image.
const ImageAlt = "Email content"

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("invalid template")

// BodyFormat controls how body and footer text are turned into markup.
type BodyFormat string

const (
	// FormatText escapes everything and turns line breaks into <br>.
	FormatText BodyFormat = "text"
	// FormatHTML keeps an allow-listed subset of HTML.
	FormatHTML BodyFormat = "html"
	// FormatMarkdown converts CommonMark and then applies the FormatHTML allow-list.
	FormatMarkdown BodyFormat = "markdown"
)

// ParseBodyFormat maps a raw format name to a BodyFormat. The empty string
// selects FormatText.
func ParseBodyFormat(s string) (BodyFormat, bool) {
	switch BodyFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, true
	case FormatHTML:
		return FormatHTML, true
	case FormatMarkdown:
		return FormatMarkdown, true
	}
	return "", false
}

// ImageRef is a single image reference embedded in a template.
type ImageRef struct {
	URL string `json:"url"`
}

// Validate checks that the reference is a usable absolute or root-relative URL.
func (r ImageRef) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return errors.New("url is empty")
	}
	for _, c := range r.URL {
		if unicode.IsControl(c) {
			return errors.New("url contains control characters")
		}
	}
	// Browsers read /\host like //host, a protocol-relative URL
	if strings.HasPrefix(r.URL, "/") {
		if strings.HasPrefix(r.URL, "//") || strings.HasPrefix(r.URL, "/\\") {
			return errors.New("url must be absolute or start with a single /")
		}
		return nil
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("url is malformed: %v", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return errors.New("url has no host")
		}
		return nil
	case "":
		return errors.New("url must be absolute or start with /")
	default:
		return fmt.Errorf("url scheme %q is not allowed", u.Scheme)
	}
}

// ValidationError describes why raw input could not become a Model.
type ValidationError struct {
	Field  string
	Index  int // position in images, -1 for other fields
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s[%d]: %s", e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Input carries raw, unvalidated template fields. A nil pointer means the
// field was not supplied at all.
type Input struct {
	Title  *string
	Body   *string
	Footer *string
	Images []string
	Format string
}

// Model is a validated template. It is a value type: copies are independent
// and no method mutates the receiver.
type Model struct {
	title  string
	body   string
	footer string
	format BodyFormat
	images []ImageRef
}

// Normalize validates raw input and returns a Model. The first problem found
// is returned as a *ValidationError and no Model is produced.
func Normalize(in Input) (Model, error) {
	var title string
	if in.Title != nil {
		title = strings.TrimSpace(*in.Title)
	}
	if title == "" {
		return Model{}, &ValidationError{Field: "title", Index: -1, Reason: "title is required"}
	}

	format, ok := ParseBodyFormat(in.Format)
	if !ok {
		return Model{}, &ValidationError{
			Field:  "format",
			Index:  -1,
			Reason: fmt.Sprintf("unknown format %q (must be text, html or markdown)", in.Format),
		}
	}

	m := Model{
		title:  title,
		format: format,
		images: make([]ImageRef, 0, len(in.Images)),
	}
	if in.Body != nil {
		m.body = *in.Body
	}
	if in.Footer != nil {
		m.footer = *in.Footer
	}

	for i, raw := range in.Images {
		ref := ImageRef{URL: raw}
		if err := ref.Validate(); err != nil {
			return Model{}, &ValidationError{Field: "images", Index: i, Reason: err.Error()}
		}
		m.images = append(m.images, ref)
	}

	return m, nil
}

// MustNormalize is like Normalize but panics on invalid input. Intended for
// fixed, known-good values such as the layout skeleton and tests.
func MustNormalize(in Input) Model {
	m, err := Normalize(in)
	if err != nil {
		panic(err)
	}
	return m
}

// Title returns the trimmed title.
func (m Model) Title() string { return m.title }

// Body returns the body text.
func (m Model) Body() string { return m.body }

// Footer returns the footer text.
func (m Model) Footer() string { return m.footer }

// Format returns how body and footer are interpreted.
func (m Model) Format() BodyFormat {
	if m.format == "" {
		return FormatText
	}
	return m.format
}

// Images returns a copy of the image references in rendering order.
func (m Model) Images() []ImageRef {
	out := make([]ImageRef, len(m.images))
	copy(out, m.images)
	return out
}

// ImageURLs returns the image URLs in rendering order.
func (m Model) ImageURLs() []string {
	out := make([]string, len(m.images))
	for i, img := range m.images {
		out[i] = img.URL
	}
	return out
}

// WithImage returns a new Model with ref appended. The receiver is unchanged.
func (m Model) WithImage(ref ImageRef) (Model, error) {
	if err := ref.Validate(); err != nil {
		return Model{}, &ValidationError{Field: "images", Index: len(m.images), Reason: err.Error()}
	}
	images := make([]ImageRef, len(m.images), len(m.images)+1)
	copy(images, m.images)
	m.images = append(images, ref)
	return m, nil
}

// Equal reports whether both models have identical fields, including image order.
func (m Model) Equal(o Model) bool {
	if m.title != o.title || m.body != o.body || m.footer != o.footer || m.Format() != o.Format() {
		return false
	}
	if len(m.images) != len(o.images) {
		return false
	}
	for i := range m.images {
		if m.images[i] != o.images[i] {
			return false
		}
	}
	return true
}
