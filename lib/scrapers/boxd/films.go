package boxd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"boxdharvest-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FilmObservation is one film entry on a user's watched-films page.
type FilmObservation struct {
	// url-safe human readable key, e.g. "nosferatu-2024"
	Slug string
	// the site's own numeric film id, e.g. "35995". may be empty when
	// the markup omits it.
	ExternalId string
	// the star glyphs as displayed, e.g. "★★★½". empty when the film
	// was watched but not rated.
	RawRating string
}

// FilmsPage fetches one page of a user's watched-films listing. An empty
// result with a nil error means the page exists but lists no films,
// which marks the end of pagination. A 404 is treated the same way since
// the site serves it for pages past the last one.
func (c Client) FilmsPage(ctx context.Context, username string, page int) ([]FilmObservation, error) {
	ctx, span := tracer.Start(ctx, "client:FilmsPage")
	defer span.End()
	span.SetAttributes(
		attribute.String("username", username),
		attribute.Int("page", page),
	)

	res, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/%s/films/by/date/page/%d/", username, page))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch films page")
		return nil, err
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if res.StatusCode() != http.StatusOK {
		err := statusError{status: res.StatusCode(), url: res.Request.URL}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status for films page")
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse films page html")
		return nil, err
	}

	return parseFilmsPage(doc), nil
}

func parseFilmsPage(doc *goquery.Document) []FilmObservation {
	var observations []FilmObservation

	doc.Find("li.poster-container").Each(func(_ int, item *goquery.Selection) {
		poster := item.Find("div.film-poster")
		if poster.Length() == 0 {
			return
		}
		slug := poster.AttrOr("data-film-slug", "")
		if slug == "" {
			return
		}

		observations = append(observations, FilmObservation{
			Slug:       slug,
			ExternalId: poster.AttrOr("data-film-id", ""),
			RawRating:  htmlutil.CleanText(item.Find("p.poster-viewingdata").Text()),
		})
	})

	return observations
}
