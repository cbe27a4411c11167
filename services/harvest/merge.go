package harvest

import (
	"context"
	"log/slog"
	"time"

	"boxdharvest-backend/lib/scrapers/boxd"
	"boxdharvest-backend/lib/starrating"
	"boxdharvest-backend/services/harvest/db"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// UserHarvest is one user's worth of freshly scraped observations,
// still keyed by external identities.
type UserHarvest struct {
	Username     string
	Observations []boxd.FilmObservation
}

type MergeStats struct {
	// users that contributed at least one rated film
	UsersMerged int
	// observations dropped because their rating string carried no rating
	DroppedObservations int
	// total raw rows after the merge
	CorpusRows int
}

// Merge folds a batch of harvested observations into the corpus inside
// one transaction:
//
//  1. observations with no parseable rating are dropped before any
//     identity is resolved, so they never cause an allocation on their
//     own
//  2. external identities resolve to numeric ids through the registry
//  3. raw rows upsert by (user_id, film_id), last write wins
//  4. the translated table is rebuilt wholesale from the merged raw
//     rows plus the registry
//
// Any identity conflict or storage error rolls the whole batch back,
// leaving the previously committed corpus untouched.
func (s Service) Merge(ctx context.Context, reg *Registry, batch []UserHarvest, now time.Time) (MergeStats, error) {
	ctx, span := tracer.Start(ctx, "Merge")
	defer span.End()

	var stats MergeStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for _, user := range batch {
		kept := 0
		var userId int64

		for _, obs := range user.Observations {
			rating, ok := starrating.Parse(obs.RawRating)
			if !ok {
				stats.DroppedObservations++
				continue
			}

			if kept == 0 {
				userId = reg.ResolveUser(user.Username)
			}
			filmId, err := reg.ResolveFilm(obs.Slug, obs.ExternalId)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return stats, err
			}

			err = txqry.UpsertRawRating(ctx, db.UpsertRawRatingParams{
				UserID: userId,
				FilmID: filmId,
				Rating: rating,
			})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return stats, err
			}
			kept++
		}

		if kept == 0 {
			slog.InfoContext(ctx, "no rated films for user, skipping", "username", user.Username)
			continue
		}

		err = txqry.UpsertUserUpdate(ctx, db.UpsertUserUpdateParams{
			UserID:      userId,
			LastUpdated: now.Unix(),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return stats, err
		}
		stats.UsersMerged++
	}

	err = reg.writeNew(ctx, txqry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}

	rows, err := s.regenerateTranslated(ctx, txqry, reg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}
	stats.CorpusRows = rows

	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}
	reg.clearPending()

	span.SetAttributes(
		attribute.Int("users_merged", stats.UsersMerged),
		attribute.Int("dropped_observations", stats.DroppedObservations),
		attribute.Int("corpus_rows", stats.CorpusRows),
	)
	return stats, nil
}

// regenerateTranslated rebuilds the translated table from scratch: it
// is a derived view of the raw rows and the registry, never patched in
// place, so the two representations cannot drift apart.
func (s Service) regenerateTranslated(ctx context.Context, txqry *db.Queries, reg *Registry) (int, error) {
	err := txqry.DeleteTranslatedRatings(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := txqry.GetRawRatings(ctx)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		username, err := reg.Username(row.UserID)
		if err != nil {
			return 0, err
		}
		title, err := reg.FilmTitle(row.FilmID)
		if err != nil {
			return 0, err
		}
		err = txqry.CreateTranslatedRating(ctx, db.CreateTranslatedRatingParams{
			Username:  username,
			FilmTitle: title,
			Rating:    row.Rating,
		})
		if err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}
