package renderd

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// markdownTemplate wraps goldmark's fragment output in a printable document.
// The font stack covers CJK so generated reports render without tofu.
const markdownTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Document</title>
<style>
body { font-family: -apple-system, "Segoe UI", "Noto Sans", "Noto Sans CJK SC", "WenQuanYi Micro Hei", sans-serif; line-height: 1.6; margin: 2em; color: #24292f; }
pre { padding: 1em; overflow-x: auto; border-radius: 6px; }
code { font-family: "SFMono-Regular", Consolas, "Liberation Mono", monospace; }
table { border-collapse: collapse; }
th, td { border: 1px solid #d0d7de; padding: 6px 13px; }
img { max-width: 100%%; }
</style>
</head>
<body>
%s
</body>
</html>`

// markdownConverter turns Markdown into a standalone HTML document.
type markdownConverter struct {
	md goldmark.Markdown
}

// newMarkdownConverter creates a converter with GFM, footnotes and inline
// syntax highlighting. Raw HTML in the source is not passed through.
func newMarkdownConverter() *markdownConverter {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(false), // inline styles, no stylesheet to ship
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
	return &markdownConverter{md: md}
}

// ToHTML converts Markdown content to an HTML document.
// Goldmark has no context support, so conversion runs in a goroutine and
// the caller stops waiting when ctx is done.
func (c *markdownConverter) ToHTML(ctx context.Context, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		var buf bytes.Buffer
		if err := c.md.Convert([]byte(content), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrHTMLConversion, err)}
			return
		}
		done <- result{html: fmt.Sprintf(markdownTemplate, buf.String())}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.html, r.err
	}
}

// fenceMarker matches a Markdown fence marker, with an optional html info
// string and the rest of its line.
var fenceMarker = regexp.MustCompile("(?i)```(?:html)?[ \\t]*\\r?\\n?")

// StripCodeFences removes Markdown code fence markers from generated HTML,
// as language models tend to produce:
//
//	Here is the report:
//	```html
//	<html>...</html>
//	```
//
// Every ``` or ```html marker is dropped wherever it appears; the text
// around it is kept. The result is trimmed.
func StripCodeFences(markup string) string {
	return strings.TrimSpace(fenceMarker.ReplaceAllString(markup, ""))
}
