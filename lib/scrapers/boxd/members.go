package boxd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"boxdharvest-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PopularMembers fetches one page of the ranked popular-members listing
// and returns the usernames on it in page order. An empty result means
// the listing has run out.
func (c Client) PopularMembers(ctx context.Context, page int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "client:PopularMembers")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page))

	path := "/members/popular/"
	if page > 1 {
		path = fmt.Sprintf("/members/popular/page/%d/", page)
	}

	res, err := c.http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch members page")
		return nil, err
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if res.StatusCode() != http.StatusOK {
		err := statusError{status: res.StatusCode(), url: res.Request.URL}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status for members page")
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse members page html")
		return nil, err
	}

	return parseMembersPage(doc), nil
}

func parseMembersPage(doc *goquery.Document) []string {
	var usernames []string

	doc.Find("table.person-table tbody tr").Each(func(_ int, row *goquery.Selection) {
		anchors := htmlutil.Anchors(row.Find("h3.title-3 a[href]"))
		if len(anchors) == 0 {
			return
		}
		// profile links are "/<username>/"
		username := strings.SplitN(strings.Trim(anchors[0].Href, "/"), "/", 2)[0]
		if username == "" {
			return
		}
		usernames = append(usernames, username)
	})

	return usernames
}
