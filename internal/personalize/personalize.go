// Package personalize fills {{field}} placeholders in campaign and sequence
// content from a per-recipient variable map.
package personalize

import (
	"html"
	"regexp"

	"github.com/ignite/mailpipe/internal/domain"
)

// placeholder matches {{key}} with optional inner whitespace. Keys may not
// contain braces or whitespace.
var placeholder = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// Substitute replaces every {{key}} in text with vars[key]. Keys are matched
// case-sensitively. Placeholders without a value become the empty string
// rather than being left in place. Values are inserted verbatim.
func Substitute(text string, vars map[string]string) string {
	return replace(text, vars, func(s string) string { return s })
}

// SubstituteHTML is Substitute for HTML bodies: every value is HTML-escaped
// before insertion so contact-supplied fields cannot inject markup.
func SubstituteHTML(text string, vars map[string]string) string {
	return replace(text, vars, html.EscapeString)
}

func replace(text string, vars map[string]string, encode func(string) string) string {
	if text == "" {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		return encode(vars[key])
	})
}

// ContactVars returns the variables available to templates for a contact.
func ContactVars(c domain.Contact) map[string]string {
	return map[string]string{
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"email":      c.Email,
	}
}

// Rendered is personalized content ready for the transport client.
type Rendered struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// Render personalizes subject, html and text for one recipient. Nil bodies
// stay empty.
func Render(subject string, htmlBody, textBody *string, vars map[string]string) Rendered {
	r := Rendered{Subject: Substitute(subject, vars)}
	if htmlBody != nil {
		r.HTMLBody = SubstituteHTML(*htmlBody, vars)
	}
	if textBody != nil {
		r.TextBody = Substitute(*textBody, vars)
	}
	return r
}
