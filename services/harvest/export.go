package harvest

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// File names of the flat exports. The "latest" files are overwritten on
// every batch; snapshots get a timestamp suffix and are written once.
const (
	RawRatingsFile        = "latest_raw_user_ratings.csv"
	TranslatedRatingsFile = "latest_translated_user_ratings.csv"
	UserMappingsFile      = "latest_user_mappings.csv"
	FilmMappingsFile      = "latest_film_mappings.csv"
	UserUpdatesFile       = "latest_user_updates.csv"

	rawSnapshotPrefix = "raw_ratings"
	snapshotTimeFmt   = "20060102-150405"
)

func writeCsv(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write(header)
	if err != nil {
		return err
	}
	err = w.WriteAll(rows)
	if err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func formatRating(rating float64) string {
	return strconv.FormatFloat(rating, 'g', -1, 64)
}

// Export writes the flat-file views of the corpus: latest raw and
// translated ratings, both mapping tables, the update log, and (when
// versioning is on) a write-once timestamped snapshot of the raw
// ratings. Runs after the merge transaction committed, so a failed
// export never leaves the database inconsistent; it is still fatal for
// the batch because the files on disk would be stale.
func (s Service) Export(ctx context.Context, now time.Time) error {
	ctx, span := tracer.Start(ctx, "Export")
	defer span.End()

	err := os.MkdirAll(s.opts.ExportDir, 0755)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	raws, err := s.qry.GetRawRatings(ctx)
	if err != nil {
		return err
	}
	rawRows := make([][]string, len(raws))
	for i, r := range raws {
		rawRows[i] = []string{
			strconv.FormatInt(r.UserID, 10),
			strconv.FormatInt(r.FilmID, 10),
			formatRating(r.Rating),
		}
	}
	rawHeader := []string{"user_id", "film_id", "rating"}
	err = writeCsv(filepath.Join(s.opts.ExportDir, RawRatingsFile), rawHeader, rawRows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if s.opts.Versioned {
		snapshot := filepath.Join(
			s.opts.ExportDir,
			fmt.Sprintf("%s_%s.csv", rawSnapshotPrefix, now.Format(snapshotTimeFmt)),
		)
		slog.InfoContext(ctx, "saving versioned raw snapshot", "path", snapshot)
		err = writeCsv(snapshot, rawHeader, rawRows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	translated, err := s.qry.GetTranslatedRatings(ctx)
	if err != nil {
		return err
	}
	translatedRows := make([][]string, len(translated))
	for i, t := range translated {
		translatedRows[i] = []string{t.Username, t.FilmTitle, formatRating(t.Rating)}
	}
	err = writeCsv(
		filepath.Join(s.opts.ExportDir, TranslatedRatingsFile),
		[]string{"username", "film_title", "rating"},
		translatedRows,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	users, err := s.qry.GetUserMappings(ctx)
	if err != nil {
		return err
	}
	userRows := make([][]string, len(users))
	for i, u := range users {
		userRows[i] = []string{u.Username, strconv.FormatInt(u.UserID, 10)}
	}
	err = writeCsv(
		filepath.Join(s.opts.ExportDir, UserMappingsFile),
		[]string{"username", "user_id"},
		userRows,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	films, err := s.qry.GetFilmMappings(ctx)
	if err != nil {
		return err
	}
	filmRows := make([][]string, len(films))
	for i, f := range films {
		filmRows[i] = []string{f.FilmSlug, strconv.FormatInt(f.FilmID, 10)}
	}
	err = writeCsv(
		filepath.Join(s.opts.ExportDir, FilmMappingsFile),
		[]string{"film_slug", "film_id"},
		filmRows,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	updates, err := s.qry.GetUserUpdates(ctx)
	if err != nil {
		return err
	}
	updateRows := make([][]string, len(updates))
	for i, u := range updates {
		updateRows[i] = []string{
			strconv.FormatInt(u.UserID, 10),
			time.Unix(u.LastUpdated, 0).UTC().Format("2006-01-02"),
		}
	}
	err = writeCsv(
		filepath.Join(s.opts.ExportDir, UserUpdatesFile),
		[]string{"user_id", "last_updated"},
		updateRows,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	slog.InfoContext(ctx, "exports written", "dir", s.opts.ExportDir)
	return nil
}

// ExportUser writes one user's slice of the corpus to per-user raw and
// translated csv files.
func (s Service) ExportUser(ctx context.Context, reg *Registry, username string) error {
	ctx, span := tracer.Start(ctx, "ExportUser")
	defer span.End()

	err := os.MkdirAll(s.opts.ExportDir, 0755)
	if err != nil {
		return err
	}

	userId, ok := reg.UserId(username)
	if !ok {
		return fmt.Errorf("%w: username %q", ErrUnknownIdentity, username)
	}
	rows, err := s.qry.GetRawRatingsByUser(ctx, userId)
	if err != nil {
		return err
	}

	rawRows := make([][]string, len(rows))
	translatedRows := make([][]string, len(rows))
	for i, r := range rows {
		title, err := reg.FilmTitle(r.FilmID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		rawRows[i] = []string{
			strconv.FormatInt(r.UserID, 10),
			strconv.FormatInt(r.FilmID, 10),
			formatRating(r.Rating),
		}
		translatedRows[i] = []string{username, title, formatRating(r.Rating)}
	}

	rawPath := filepath.Join(s.opts.ExportDir, fmt.Sprintf("user_%s_raw.csv", username))
	err = writeCsv(rawPath, []string{"user_id", "film_id", "rating"}, rawRows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	translatedPath := filepath.Join(s.opts.ExportDir, fmt.Sprintf("user_%s_translated.csv", username))
	err = writeCsv(translatedPath, []string{"username", "film_title", "rating"}, translatedRows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	slog.InfoContext(ctx, "user exports written", "raw", rawPath, "translated", translatedPath)
	return nil
}
