package diff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinks(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/news/1">one</a>
		<a href="https://other.example/page">absolute</a>
		<a href="/news/1">duplicate</a>
		<a href="#section">fragment</a>
		<a href="javascript:void(0)">script</a>
		<a href="two.html">relative</a>
	</body></html>`

	links := Links(html, "https://gov.example.com/news/")
	require.Equal(t, []string{
		"https://gov.example.com/news/1",
		"https://other.example/page",
		"https://gov.example.com/news/two.html",
	}, links)
}

func TestNewLinksFirstFetchReturnsAll(t *testing.T) {
	t.Parallel()

	html := `<a href="/a">a</a><a href="/b">b</a>`
	fresh := NewLinks("", html, "https://x.test")
	require.Len(t, fresh, 2)
}

func TestNewLinksSetDifference(t *testing.T) {
	t.Parallel()

	oldHTML := `<a href="/a">a</a><a href="/b">b</a>`
	newHTML := `<a href="/b">b</a><a href="/c">c</a>`

	fresh := NewLinks(oldHTML, newHTML, "https://x.test")
	require.Equal(t, []string{"https://x.test/c"}, fresh)
}

func TestTextChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		hadSnapshot bool
		oldText     string
		newText     string
		want        bool
	}{
		{name: "no prior snapshot counts as changed", hadSnapshot: false, oldText: "", newText: "anything", want: true},
		{name: "identical text unchanged", hadSnapshot: true, oldText: "same body", newText: "same body", want: false},
		{name: "whitespace churn unchanged", hadSnapshot: true, oldText: "same   body\n", newText: " same body", want: false},
		{name: "textual difference changed", hadSnapshot: true, oldText: "old body", newText: "new body", want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, TextChanged(tt.hadSnapshot, tt.oldText, tt.newText))
		})
	}
}
