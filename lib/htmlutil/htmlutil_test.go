package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	require.Equal(t, "★★★½", CleanText("\n\t  ★★★½  \n"))
	require.Equal(t, "a b", CleanText("a \n\t  b"))
	require.Equal(t, "", CleanText("  \n "))
}

func TestAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<ul>
			<li><a href="/alice/">  Alice   A.  </a></li>
			<li><a href="/bob/films/">Bob</a></li>
			<li><a>no href</a></li>
		</ul>
	`))
	require.NoError(t, err)

	anchors := Anchors(doc.Find("a[href]"))
	require.Equal(t, []Anchor{
		{Name: "Alice A.", Href: "/alice/"},
		{Name: "Bob", Href: "/bob/films/"},
	}, anchors)
}

func TestGetText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<p>watched <span>and</span> rated</p>`,
	))
	require.NoError(t, err)

	sel := doc.Find("p")
	require.Len(t, sel.Nodes, 1)
	require.Equal(t, "watched and rated", GetText(sel.Nodes[0]))
}
