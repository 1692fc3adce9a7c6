package template

import (
	"strings"
	"sync"
	"testing"
)

func TestRender_Escaping(t *testing.T) {
	payload := `<script>alert("x") & 'y'</script>`
	m := MustNormalize(Input{
		Title:  &payload,
		Body:   &payload,
		Footer: &payload,
	})

	out := Render(m)

	for _, raw := range []string{"<script", "</script>", `alert("x")`, "'y'", " & "} {
		if strings.Contains(out, raw) {
			t.Errorf("Render() output contains unescaped %q", raw)
		}
	}

	escaped := "&lt;script&gt;alert(&#34;x&#34;) &amp; &#39;y&#39;&lt;/script&gt;"
	if got := strings.Count(out, escaped); got != 4 {
		t.Errorf("escaped payload appears %d times, want 4 (title tag, heading, body, footer)", got)
	}
}

func TestRender_LineBreaks(t *testing.T) {
	body := "one\ntwo\r\nthree\rfour"
	m := MustNormalize(Input{Title: strPtr("t"), Body: &body})

	out := Render(m)
	want := "one<br>\ntwo<br>\nthree<br>\nfour"
	if !strings.Contains(out, want) {
		t.Errorf("Render() body = %q, want it to contain %q", out, want)
	}
}

func TestRender_Deterministic(t *testing.T) {
	body := "**bold** and <em>html</em>"
	for _, format := range []string{"text", "html", "markdown"} {
		t.Run(format, func(t *testing.T) {
			m := MustNormalize(Input{
				Title:  strPtr("Weekly digest"),
				Body:   &body,
				Footer: strPtr("Unsubscribe at https://example.com/u"),
				Images: []string{"https://cdn.example.com/1.png", "/uploads/2.png"},
				Format: format,
			})

			first := Render(m)
			for i := 0; i < 100; i++ {
				if got := Render(m); got != first {
					t.Fatalf("Render() call %d differs from first call", i)
				}
			}

			same := MustNormalize(Input{
				Title:  strPtr("Weekly digest"),
				Body:   &body,
				Footer: strPtr("Unsubscribe at https://example.com/u"),
				Images: []string{"https://cdn.example.com/1.png", "/uploads/2.png"},
				Format: format,
			})
			if Render(same) != first {
				t.Error("equal models rendered differently")
			}
		})
	}
}

func TestRender_ImageOrder(t *testing.T) {
	permutations := [][]string{
		{"/a.png", "/b.png", "/c.png"},
		{"/a.png", "/c.png", "/b.png"},
		{"/b.png", "/a.png", "/c.png"},
		{"/b.png", "/c.png", "/a.png"},
		{"/c.png", "/a.png", "/b.png"},
		{"/c.png", "/b.png", "/a.png"},
	}

	for _, images := range permutations {
		t.Run(strings.Join(images, ","), func(t *testing.T) {
			out := Render(MustNormalize(Input{Title: strPtr("t"), Images: images}))

			last := -1
			for _, url := range images {
				idx := strings.Index(out, `<img src="`+url+`"`)
				if idx < 0 {
					t.Fatalf("image %s not rendered", url)
				}
				if idx <= last {
					t.Fatalf("image %s rendered out of order", url)
				}
				last = idx
			}
		})
	}
}

func TestRender_DuplicateImagesKept(t *testing.T) {
	out := Render(MustNormalize(Input{Title: strPtr("t"), Images: []string{"/a.png", "/a.png"}}))
	if got := strings.Count(out, `<img src="/a.png"`); got != 2 {
		t.Errorf("duplicate image rendered %d times, want 2", got)
	}
}

func TestRender_ImageMarkup(t *testing.T) {
	out := Render(MustNormalize(Input{Title: strPtr("t"), Images: []string{"https://cdn.example.com/x.png?a=1&b=2"}}))

	want := `<img src="https://cdn.example.com/x.png?a=1&amp;b=2" alt="Email content" style="max-width: 100%; height: auto; margin: 10px 0;">`
	if !strings.Contains(out, want) {
		t.Errorf("Render() missing image markup %q", want)
	}
}

func TestRender_EmptyContent(t *testing.T) {
	out := Render(MustNormalize(Input{Title: strPtr("Only a title")}))

	if !strings.HasPrefix(out, "<!DOCTYPE html>") {
		t.Error("document does not start with a doctype")
	}
	if !strings.Contains(out, `<div class="content"></div>`) {
		t.Error("content region is not empty")
	}
	if !strings.Contains(out, `<div class="footer"></div>`) {
		t.Error("footer region is not empty")
	}
	for _, literal := range []string{"undefined", "null", "<nil>", "<img"} {
		if strings.Contains(out, literal) {
			t.Errorf("empty document contains %q", literal)
		}
	}
}

func TestRender_RegionOrder(t *testing.T) {
	out := Render(MustNormalize(Input{
		Title:  strPtr("TITLE"),
		Body:   strPtr("BODY"),
		Footer: strPtr("FOOTER"),
		Images: []string{"/img.png"},
	}))

	order := []string{
		"<style>",
		`<div class="title">TITLE</div>`,
		`<div class="content">BODY<img src="/img.png"`,
		`<div class="footer">FOOTER</div>`,
	}
	last := -1
	for _, part := range order {
		idx := strings.Index(out, part)
		if idx <= last {
			t.Fatalf("%q missing or out of order", part)
		}
		last = idx
	}
}

func TestRender_NoExternalReferences(t *testing.T) {
	out := Render(MustNormalize(Input{Title: strPtr("t"), Body: strPtr("x")}))
	for _, ref := range []string{"<link", "<script", "@import", "src=", "href="} {
		if strings.Contains(out, ref) {
			t.Errorf("document contains external reference %q", ref)
		}
	}
}

func TestRender_StylesheetVersioned(t *testing.T) {
	out := Render(MustNormalize(Input{Title: strPtr("t")}))
	if !strings.Contains(out, Stylesheet()) {
		t.Error("document does not embed the shared stylesheet")
	}
	if !strings.Contains(Stylesheet(), "v"+StylesheetVersion) {
		t.Error("stylesheet does not carry its version")
	}
}

func TestRender_ZeroModel(t *testing.T) {
	out := Render(Model{})
	if !strings.Contains(out, `<div class="title"></div>`) {
		t.Error("zero model did not render an empty title region")
	}
}

func TestRender_Concurrent(t *testing.T) {
	m := MustNormalize(Input{
		Title:  strPtr("t"),
		Body:   strPtr("<b>hi</b>"),
		Images: []string{"/a.png"},
		Format: "html",
	})
	want := Render(m)

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Render(m)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if got != want {
			t.Errorf("concurrent Render() %d differs", i)
		}
	}
}

func TestLayout(t *testing.T) {
	out := Layout()
	if !strings.Contains(out, `<div class="title">`+LayoutTitle+`</div>`) {
		t.Error("Layout() is missing the placeholder title")
	}
	if !strings.Contains(out, `<div class="content"></div>`) {
		t.Error("Layout() content region is not empty")
	}
	if !strings.Contains(out, Stylesheet()) {
		t.Error("Layout() does not embed the stylesheet")
	}
}
