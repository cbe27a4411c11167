package boxd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"boxdharvest-backend/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const filmsPageHtml = `
<html><body>
<ul class="poster-list">
	<li class="poster-container film-watched">
		<div class="film-poster" data-film-slug="nosferatu-2024" data-film-id="35995"></div>
		<p class="poster-viewingdata">
			<span class="rating rated-8">★★★★</span>
		</p>
	</li>
	<li class="poster-container film-watched">
		<div class="film-poster" data-film-slug="the-substance" data-film-id="714666"></div>
		<p class="poster-viewingdata">
			<span class="rating rated-7">★★★½</span>
		</p>
	</li>
	<li class="poster-container film-watched">
		<div class="film-poster" data-film-slug="perfect-days-2023" data-film-id="778839"></div>
		<p class="poster-viewingdata"></p>
	</li>
</ul>
</body></html>`

const membersPageHtml = `
<html><body>
<section class="section col-17 col-main">
	<table class="person-table">
		<tbody>
			<tr><td><h3 class="title-3"><a href="/alice/">Alice</a></h3></td></tr>
			<tr><td><h3 class="title-3"><a href="/bob/">Bob</a></h3></td></tr>
			<tr><td><h3 class="title-3"><a href="/carol/films/">Carol</a></h3></td></tr>
		</tbody>
	</table>
</section>
</body></html>`

func TestParseFilmsPage(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(filmsPageHtml))
	require.NoError(t, err)

	observations := parseFilmsPage(doc)
	require.Equal(t, []FilmObservation{
		{Slug: "nosferatu-2024", ExternalId: "35995", RawRating: "★★★★"},
		{Slug: "the-substance", ExternalId: "714666", RawRating: "★★★½"},
		{Slug: "perfect-days-2023", ExternalId: "778839", RawRating: ""},
	}, observations)
}

func TestParseMembersPage(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(membersPageHtml))
	require.NoError(t, err)

	usernames := parseMembersPage(doc)
	require.Equal(t, []string{"alice", "bob", "carol"}, usernames)
}

func TestFilmsPage(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:scrapers/boxd")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ma7cus/films/by/date/page/1/":
			w.Write([]byte(filmsPageHtml))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseUrl: server.URL, RetryCount: 1})

	observations, err := client.FilmsPage(context.Background(), "ma7cus", 1)
	require.NoError(t, err)
	require.Len(t, observations, 3)
	require.Equal(t, "nosferatu-2024", observations[0].Slug)

	// pages past the end come back 404 and read as empty, not as errors
	observations, err = client.FilmsPage(context.Background(), "ma7cus", 2)
	require.NoError(t, err)
	require.Len(t, observations, 0)
}
