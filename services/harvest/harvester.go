package harvest

import (
	"context"
	"log/slog"
	"sync"

	"boxdharvest-backend/lib/scrapers/boxd"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PageFetcher retrieves one page of a user's watched-films history. An
// empty result with a nil error means the page lists no films.
type PageFetcher interface {
	FilmsPage(ctx context.Context, username string, page int) ([]boxd.FilmObservation, error)
}

// Harvester pulls a user's complete watched-films history by fetching
// listing pages several at a time.
type Harvester struct {
	fetcher PageFetcher
	// number of page fetches concurrently in flight
	workers int
	// number of pages submitted per window
	window int
	// stop once this many consecutive pages came back empty
	emptyRun int
}

func NewHarvester(fetcher PageFetcher, workers, window, emptyRun int) Harvester {
	if workers <= 0 {
		workers = 5
	}
	if window <= 0 {
		window = workers
	}
	if emptyRun <= 0 {
		emptyRun = window
	}
	return Harvester{
		fetcher:  fetcher,
		workers:  workers,
		window:   window,
		emptyRun: emptyRun,
	}
}

// HarvestResult is the outcome of one user's harvest.
type HarvestResult struct {
	Observations []boxd.FilmObservation
	// pages that returned at least one film
	PagesWithFilms int
	// pages whose fetch failed, counted as empty for termination but
	// reported separately so an unreachable site doesn't read as a user
	// with no films
	FailedPages int
}

type pageResult struct {
	page         int
	observations []boxd.FilmObservation
	err          error
}

// User fetches the user's listing pages window by window until the run
// of consecutive empty pages reaches the configured threshold. The run
// is tracked in completion order: fetches land out of submission order
// and any page with films resets the run whenever it arrives.
// Observations collected before a failed page are always kept.
func (h Harvester) User(ctx context.Context, username string) (HarvestResult, error) {
	ctx, span := tracer.Start(ctx, "harvester:User")
	defer span.End()
	span.SetAttributes(attribute.String("username", username))

	var out HarvestResult
	sem := make(chan struct{}, h.workers)
	page := 1
	emptyRun := 0

	for {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "harvest interrupted")
			return out, err
		}

		results := make(chan pageResult, h.window)
		wg := sync.WaitGroup{}
		for i := 0; i < h.window; i++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				observations, err := h.fetcher.FilmsPage(ctx, username, p)
				results <- pageResult{page: p, observations: observations, err: err}
			}(page)
			page++
		}
		go func() {
			wg.Wait()
			close(results)
		}()

		stop := false
		for res := range results {
			switch {
			case res.err != nil:
				// not the same thing as the end of pagination, but it
				// still counts toward it so a dead site cannot spin the
				// harvest forever
				slog.WarnContext(ctx, "failed to fetch films page",
					"username", username,
					"page", res.page,
					"err", res.err,
				)
				out.FailedPages++
				emptyRun++
			case len(res.observations) == 0:
				slog.DebugContext(ctx, "films page empty",
					"username", username,
					"page", res.page,
				)
				emptyRun++
			default:
				out.Observations = append(out.Observations, res.observations...)
				out.PagesWithFilms++
				emptyRun = 0
			}
			if emptyRun >= h.emptyRun {
				stop = true
			}
		}
		if stop {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("observations", len(out.Observations)),
		attribute.Int("failed_pages", out.FailedPages),
	)
	return out, nil
}
