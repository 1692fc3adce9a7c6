package template

import (
	"mime"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// MIMEType is the content type of exported documents.
	MIMEType = "text/html; charset=utf-8"
	// DefaultFileName is used when the title yields no usable file name.
	DefaultFileName = "email-template"
	// FileExtension is appended to every exported file name.
	FileExtension = ".html"

	maxFileNameRunes = 200
)

// Download is a rendered document packaged for delivery.
type Download struct {
	FileName string
	MIMEType string
	Bytes    []byte
}

// Export renders m and attaches download metadata. Bytes is exactly Render(m).
func Export(m Model) Download {
	return Download{
		FileName: FileName(m.Title()),
		MIMEType: MIMEType,
		Bytes:    []byte(Render(m)),
	}
}

// ContentDisposition returns an attachment header value for the download.
// Non-ASCII names are encoded per RFC 2231.
func (d Download) ContentDisposition() string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": d.FileName})
	if v == "" {
		return `attachment; filename="` + DefaultFileName + FileExtension + `"`
	}
	return v
}

// ContentLength returns the byte length as a header value.
func (d Download) ContentLength() string {
	return strconv.Itoa(len(d.Bytes))
}

// FileName derives a safe file name from a title. Path separators, control
// characters and characters reserved on common file systems become "-".
func FileName(title string) string {
	name := norm.NFC.String(strings.TrimSpace(title))

	var b strings.Builder
	lastDash := false
	runes := 0
	for _, r := range name {
		if runes >= maxFileNameRunes {
			break
		}
		if unsafeFileRune(r) {
			if lastDash {
				continue
			}
			r = '-'
		}
		lastDash = r == '-'
		b.WriteRune(r)
		runes++
	}

	base := strings.Trim(b.String(), "-. ")
	if base == "" {
		base = DefaultFileName
	}
	return base + FileExtension
}

func unsafeFileRune(r rune) bool {
	if unicode.IsControl(r) {
		return true
	}
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}
