package personalize

import (
	"testing"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name string
		text string
		vars map[string]string
		want string
	}{
		{"present key", "Hi {{first_name}}", map[string]string{"first_name": "Ann"}, "Hi Ann"},
		{"absent key becomes empty", "Hi {{first_name}}", map[string]string{}, "Hi "},
		{"nil map", "Hi {{first_name}}!", nil, "Hi !"},
		{"inner spaces tolerated", "Hi {{ first_name }}", map[string]string{"first_name": "Ann"}, "Hi Ann"},
		{"case sensitive", "Hi {{First_Name}}", map[string]string{"first_name": "Ann"}, "Hi "},
		{"repeated", "{{email}} / {{email}}", map[string]string{"email": "a@b.co"}, "a@b.co / a@b.co"},
		{"unknown placeholder dropped", "{{coupon}}-{{last_name}}", map[string]string{"last_name": "Lee"}, "-Lee"},
		{"no placeholders", "plain text", map[string]string{"x": "y"}, "plain text"},
		{"single braces untouched", "{first_name}", map[string]string{"first_name": "Ann"}, "{first_name}"},
		{"values are verbatim", "{{first_name}}", map[string]string{"first_name": "<b>Ann</b>"}, "<b>Ann</b>"},
		{"empty text", "", map[string]string{"a": "b"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.text, tt.vars))
		})
	}
}

func TestSubstituteHTMLEscapesValues(t *testing.T) {
	vars := map[string]string{"first_name": `<script>alert("x")</script>`}
	got := SubstituteHTML("<p>Hi {{first_name}}</p>", vars)
	assert.Equal(t, "<p>Hi &lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;</p>", got)
}

func TestContactVars(t *testing.T) {
	vars := ContactVars(domain.Contact{Email: "ann@example.com", FirstName: "Ann", LastName: "Lee"})
	assert.Equal(t, map[string]string{
		"first_name": "Ann",
		"last_name":  "Lee",
		"email":      "ann@example.com",
	}, vars)
}

func TestRender(t *testing.T) {
	html := "<p>Hello {{first_name}} &amp; welcome</p>"
	vars := map[string]string{"first_name": "Tom & Jerry"}

	r := Render("Hey {{first_name}}", &html, nil, vars)

	assert.Equal(t, "Hey Tom & Jerry", r.Subject)
	assert.Equal(t, "<p>Hello Tom &amp; Jerry &amp; welcome</p>", r.HTMLBody)
	assert.Empty(t, r.TextBody)
}
