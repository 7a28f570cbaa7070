package render

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Fixed text of the greeting page.
const (
	// PageTitle is the document title.
	PageTitle = "Hello, hello!"
	// GreetingText precedes the visitor name in the h1 heading.
	GreetingText = "Hello, world!!! How are you, "
	// TimestampText precedes the serialized instant in the h3 line.
	TimestampText = "The time now is: "
)

// textEscaper escapes text node content. Quotes are only special inside
// attribute values, so they pass through.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeText escapes s for use as HTML text content.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

// Page is the greeting document for rc.
func Page(rc RenderContext) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		parts := [...]string{
			"<html><head><title>", EscapeText(PageTitle), "</title></head><body>",
			"<h1>", EscapeText(GreetingText), EscapeText(rc.Name), "?</h1>",
			"<h3>", EscapeText(TimestampText), EscapeText(rc.Timestamp), "</h3>",
			"</body></html>",
		}
		for _, p := range parts {
			if _, err := io.WriteString(w, p); err != nil {
				return err
			}
		}
		return nil
	})
}
