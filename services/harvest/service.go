// Package harvest implements the incremental scraping pipeline: user
// discovery, concurrent per-user page harvesting, identity resolution
// and the batch merge into the persisted corpus.
package harvest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"boxdharvest-backend/services/harvest/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/harvest")

// Mode selects whether a run extends the persisted corpus or starts
// over from nothing.
type Mode string

const (
	// ModeNew wipes the ratings, the identity mappings and the update
	// log before running. Ids restart from 1.
	ModeNew Mode = "new"
	// ModeContinue loads all persisted state and extends it.
	ModeContinue Mode = "continue"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeNew, ModeContinue:
		return Mode(raw), nil
	}
	return "", fmt.Errorf("unknown mode %q (want %q or %q)", raw, ModeNew, ModeContinue)
}

type Options struct {
	// concurrent page fetches per user
	PageWorkers int
	// pages submitted per pagination window
	PageWindow int
	// consecutive empty pages before a user's harvest stops
	EmptyPageRun int
	// concurrent user harvests
	UserWorkers int
	// known users whose last harvest is older than this are picked up
	// again by discovery. zero disables re-harvesting.
	RefreshAfter time.Duration
	// directory for the csv exports; empty disables them
	ExportDir string
	// also write a timestamped snapshot of the raw ratings each batch
	Versioned bool
}

type Service struct {
	db        *sql.DB
	qry       *db.Queries
	members   MemberLister
	harvester Harvester
	opts      Options
}

func NewService(database *sql.DB, fetcher PageFetcher, members MemberLister, opts Options) Service {
	if opts.UserWorkers <= 0 {
		opts.UserWorkers = 5
	}
	return Service{
		db:        database,
		qry:       db.New(database),
		members:   members,
		harvester: NewHarvester(fetcher, opts.PageWorkers, opts.PageWindow, opts.EmptyPageRun),
		opts:      opts,
	}
}

// Reset wipes every persisted table. Only ModeNew calls this.
func (s Service) Reset(ctx context.Context) error {
	return s.qry.ResetCorpus(ctx)
}

// RunBatches drives the full pipeline: discover users, harvest them
// concurrently, merge, export. A failed merge halts the run and reports
// how far it got; everything committed by earlier batches stays intact.
func (s Service) RunBatches(ctx context.Context, mode Mode, batches, batchSize int) error {
	ctx, span := tracer.Start(ctx, "RunBatches")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("batches", batches),
		attribute.Int("batch_size", batchSize),
	)

	if mode == ModeNew {
		slog.InfoContext(ctx, "starting new dataset")
		err := s.Reset(ctx)
		if err != nil {
			return fmt.Errorf("reset corpus: %w", err)
		}
	}

	reg, err := LoadRegistry(ctx, s.qry)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if mode == ModeContinue {
		slog.InfoContext(ctx, "resuming corpus", "known_users", len(reg.userIdByName))
	}

	usersDone := 0
	pagesDone := 0
	for i := 0; i < batches; i++ {
		slog.InfoContext(ctx, "starting batch", "batch", i+1, "of", batches)
		start := time.Now()

		usernames, err := s.discoverUsers(ctx, reg, batchSize)
		if err != nil {
			return fmt.Errorf("batch %d/%d failed during discovery after %d users and %d pages merged: %w",
				i+1, batches, usersDone, pagesDone, err)
		}
		if len(usernames) == 0 {
			slog.InfoContext(ctx, "no more new users found, stopping early")
			break
		}

		harvests, pagesWithFilms, failedPages := s.harvestUsers(ctx, usernames)

		stats, err := s.Merge(ctx, reg, harvests, time.Now())
		if err != nil {
			return fmt.Errorf("batch %d/%d failed during merge after %d users and %d pages merged: %w",
				i+1, batches, usersDone, pagesDone, err)
		}
		usersDone += stats.UsersMerged
		pagesDone += pagesWithFilms

		if s.opts.ExportDir != "" {
			err = s.Export(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("batch %d/%d failed during export after %d users and %d pages merged: %w",
					i+1, batches, usersDone, pagesDone, err)
			}
		}

		slog.InfoContext(ctx, "batch complete",
			"batch", i+1,
			"users_merged", stats.UsersMerged,
			"dropped_observations", stats.DroppedObservations,
			"corpus_rows", stats.CorpusRows,
			"failed_pages", failedPages,
			"duration", time.Since(start).String(),
		)
	}

	return nil
}

type harvestTally struct {
	pagesWithFilms int
	failedPages    int
}

// harvestUsers runs the per-user harvester for each username, several
// users at a time. Page-level failures never fail the batch: whatever a
// user's harvest collected is carried into the merge. The page tallies
// are reported back so a later fault can say how far the batch got.
func (s Service) harvestUsers(ctx context.Context, usernames []string) ([]UserHarvest, int, int) {
	ctx, span := tracer.Start(ctx, "harvestUsers")
	defer span.End()
	span.SetAttributes(attribute.Int("users", len(usernames)))

	results := make(chan UserHarvest, len(usernames))
	tallies := make(chan harvestTally, len(usernames))
	sem := make(chan struct{}, s.opts.UserWorkers)
	wg := sync.WaitGroup{}

	for _, username := range usernames {
		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.harvester.User(ctx, username)
			if err != nil {
				slog.WarnContext(ctx, "user harvest interrupted",
					"username", username, "err", err)
				return
			}
			tallies <- harvestTally{
				pagesWithFilms: res.PagesWithFilms,
				failedPages:    res.FailedPages,
			}
			slog.InfoContext(ctx, "harvested user",
				"username", username,
				"observations", len(res.Observations),
				"pages_with_films", res.PagesWithFilms,
				"failed_pages", res.FailedPages,
			)
			results <- UserHarvest{Username: username, Observations: res.Observations}
		}(username)
	}
	wg.Wait()
	close(results)
	close(tallies)

	var harvests []UserHarvest
	for h := range results {
		harvests = append(harvests, h)
	}
	pagesWithFilms := 0
	failedPages := 0
	for t := range tallies {
		pagesWithFilms += t.pagesWithFilms
		failedPages += t.failedPages
	}
	return harvests, pagesWithFilms, failedPages
}

// HarvestUser scrapes and merges a single user, the one-off equivalent
// of a batch run. Exports go to per-user files.
func (s Service) HarvestUser(ctx context.Context, username string) error {
	ctx, span := tracer.Start(ctx, "HarvestUser")
	defer span.End()
	span.SetAttributes(attribute.String("username", username))

	reg, err := LoadRegistry(ctx, s.qry)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	res, err := s.harvester.User(ctx, username)
	if err != nil {
		return err
	}
	if len(res.Observations) == 0 {
		slog.InfoContext(ctx, "no films found for user", "username", username)
		return nil
	}

	stats, err := s.Merge(ctx, reg, []UserHarvest{
		{Username: username, Observations: res.Observations},
	}, time.Now())
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "merged user",
		"username", username,
		"dropped_observations", stats.DroppedObservations,
		"corpus_rows", stats.CorpusRows,
	)
	if stats.UsersMerged == 0 {
		// every observation was unrated, so the user holds no id and
		// has nothing to export
		slog.InfoContext(ctx, "no rated films for user, nothing to export", "username", username)
		return nil
	}

	if s.opts.ExportDir != "" {
		return s.ExportUser(ctx, reg, username)
	}
	return nil
}

// UserStaleness is one row of the staleness report.
type UserStaleness struct {
	Username    string
	LastUpdated time.Time
}

// StalenessReport lists every known user with the time of their last
// successful harvest, oldest first.
func (s Service) StalenessReport(ctx context.Context) ([]UserStaleness, error) {
	ctx, span := tracer.Start(ctx, "StalenessReport")
	defer span.End()

	reg, err := LoadRegistry(ctx, s.qry)
	if err != nil {
		return nil, err
	}
	updates, err := s.qry.GetUserUpdates(ctx)
	if err != nil {
		return nil, err
	}

	report := make([]UserStaleness, 0, len(updates))
	for _, u := range updates {
		username, err := reg.Username(u.UserID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "update log references unknown user")
			return nil, err
		}
		report = append(report, UserStaleness{
			Username:    username,
			LastUpdated: time.Unix(u.LastUpdated, 0),
		})
	}
	slices.SortFunc(report, func(a, b UserStaleness) int {
		return a.LastUpdated.Compare(b.LastUpdated)
	})
	return report, nil
}
