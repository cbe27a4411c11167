package harvest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"boxdharvest-backend/lib/scrapers/boxd"
	"boxdharvest-backend/lib/telemetry"
	"boxdharvest-backend/services/harvest/db"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type fakeLister struct {
	pages map[int][]string
}

func (f *fakeLister) PopularMembers(ctx context.Context, page int) ([]string, error) {
	return f.pages[page], nil
}

func setupService(t *testing.T, fetcher PageFetcher, members MemberLister, opts Options) Service {
	cleanup := telemetry.SetupForTesting("test:services/harvest")
	t.Cleanup(cleanup)

	sqlite, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	_, err = sqlite.Exec(db.Schema)
	require.NoError(t, err)

	return NewService(sqlite, fetcher, members, opts)
}

func TestMergeReplacesRating(t *testing.T) {
	s := setupService(t, nil, nil, Options{})
	ctx := context.Background()

	reg, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)

	_, err = s.Merge(ctx, reg, []UserHarvest{{
		Username: "alice",
		Observations: []boxd.FilmObservation{
			observation("nosferatu-2024", "10", "★★★"),
		},
	}}, time.Now())
	require.NoError(t, err)

	// a later scrape of the same pair overwrites, it never duplicates
	_, err = s.Merge(ctx, reg, []UserHarvest{{
		Username: "alice",
		Observations: []boxd.FilmObservation{
			observation("nosferatu-2024", "10", "★★★★"),
		},
	}}, time.Now())
	require.NoError(t, err)

	rows, err := s.qry.GetRawRatings(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 1, rows[0].UserID)
	require.EqualValues(t, 10, rows[0].FilmID)
	require.Equal(t, 4.0, rows[0].Rating)
}

func TestMergeIdempotent(t *testing.T) {
	s := setupService(t, nil, nil, Options{})
	ctx := context.Background()

	reg, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)

	batch := []UserHarvest{
		{
			Username: "alice",
			Observations: []boxd.FilmObservation{
				observation("nosferatu-2024", "35995", "★★★★"),
				observation("the-substance", "714666", "★★★½"),
			},
		},
		{
			Username: "bob",
			Observations: []boxd.FilmObservation{
				observation("nosferatu-2024", "35995", "½"),
			},
		},
	}

	_, err = s.Merge(ctx, reg, batch, time.Now())
	require.NoError(t, err)
	first, err := s.qry.GetRawRatings(ctx)
	require.NoError(t, err)

	_, err = s.Merge(ctx, reg, batch, time.Now())
	require.NoError(t, err)
	second, err := s.qry.GetRawRatings(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, second, 3)
}

func TestMergeTranslatedConsistency(t *testing.T) {
	s := setupService(t, nil, nil, Options{})
	ctx := context.Background()

	reg, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)

	_, err = s.Merge(ctx, reg, []UserHarvest{
		{
			Username: "alice",
			Observations: []boxd.FilmObservation{
				observation("nosferatu-2024", "35995", "★★★★"),
				observation("the-substance", "714666", "★★★½"),
			},
		},
		{
			Username: "bob",
			Observations: []boxd.FilmObservation{
				observation("the-substance", "714666", "★★"),
			},
		},
	}, time.Now())
	require.NoError(t, err)

	raws, err := s.qry.GetRawRatings(ctx)
	require.NoError(t, err)
	translated, err := s.qry.GetTranslatedRatings(ctx)
	require.NoError(t, err)
	require.Equal(t, len(raws), len(translated))

	// every raw row has exactly one translated counterpart under the
	// current registry
	type key struct {
		username string
		title    string
		rating   float64
	}
	remaining := map[key]int{}
	for _, tr := range translated {
		remaining[key{tr.Username, tr.FilmTitle, tr.Rating}]++
	}
	for _, raw := range raws {
		username, err := reg.Username(raw.UserID)
		require.NoError(t, err)
		title, err := reg.FilmTitle(raw.FilmID)
		require.NoError(t, err)
		k := key{username, title, raw.Rating}
		require.Greater(t, remaining[k], 0, "missing translated row for %v", k)
		remaining[k]--
	}
}

func TestMergeDropsUnrated(t *testing.T) {
	s := setupService(t, nil, nil, Options{})
	ctx := context.Background()

	reg, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)

	stats, err := s.Merge(ctx, reg, []UserHarvest{
		{
			Username: "alice",
			Observations: []boxd.FilmObservation{
				observation("nosferatu-2024", "35995", "★★★★"),
				// watched but never rated: contributes nothing
				observation("perfect-days-2023", "778839", ""),
			},
		},
		{
			// nothing rated at all: no id gets burned on this user
			Username: "lurker",
			Observations: []boxd.FilmObservation{
				observation("the-substance", "714666", ""),
			},
		},
	}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, stats.UsersMerged)
	require.Equal(t, 2, stats.DroppedObservations)

	rows, err := s.qry.GetRawRatings(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	translated, err := s.qry.GetTranslatedRatings(ctx)
	require.NoError(t, err)
	require.Len(t, translated, 1)
	require.Equal(t, "alice", translated[0].Username)

	require.False(t, reg.KnownUser("lurker"))
	_, err = reg.FilmTitle(778839)
	require.ErrorIs(t, err, ErrUnknownIdentity)
	_, err = reg.FilmTitle(714666)
	require.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestContinuePreservesIds(t *testing.T) {
	s := setupService(t, nil, nil, Options{})
	ctx := context.Background()

	reg, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)
	_, err = s.Merge(ctx, reg, []UserHarvest{{
		Username: "alice",
		Observations: []boxd.FilmObservation{
			observation("nosferatu-2024", "35995", "★★★★"),
		},
	}}, time.Now())
	require.NoError(t, err)
	aliceId, ok := reg.UserId("alice")
	require.True(t, ok)

	// a later run loads a fresh registry from the same store
	reg2, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)
	require.Equal(t, aliceId, reg2.ResolveUser("alice"))

	_, err = s.Merge(ctx, reg2, []UserHarvest{{
		Username: "bob",
		Observations: []boxd.FilmObservation{
			observation("nosferatu-2024", "35995", "★★"),
		},
	}}, time.Now())
	require.NoError(t, err)

	bobId, ok := reg2.UserId("bob")
	require.True(t, ok)
	require.Greater(t, bobId, aliceId)

	// alice's mapping survived untouched
	users, err := s.qry.GetUserMappings(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, db.UserMapping{UserID: aliceId, Username: "alice"}, users[0])
}

func TestDiscoverUsersSkipsKnown(t *testing.T) {
	lister := &fakeLister{pages: map[int][]string{
		1: {"alice", "bob", "carol"},
		2: {"dave", "erin"},
	}}
	s := setupService(t, nil, lister, Options{})
	ctx := context.Background()

	reg, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)
	reg.ResolveUser("bob")

	found, err := s.discoverUsers(ctx, reg, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "carol", "dave"}, found)
}

func TestDiscoverUsersListingExhausted(t *testing.T) {
	lister := &fakeLister{pages: map[int][]string{
		1: {"alice"},
	}}
	s := setupService(t, nil, lister, Options{})
	ctx := context.Background()

	reg, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)

	found, err := s.discoverUsers(ctx, reg, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, found)
}

func TestRunBatchesEndToEnd(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]map[int][]boxd.FilmObservation{
			"alice": {
				1: {
					observation("nosferatu-2024", "35995", "★★★★"),
					observation("the-substance", "714666", "★★★½"),
				},
			},
			"bob": {
				1: {observation("nosferatu-2024", "35995", "★★")},
			},
		},
	}
	lister := &fakeLister{pages: map[int][]string{
		1: {"alice", "bob"},
	}}

	exportDir := t.TempDir()
	s := setupService(t, fetcher, lister, Options{
		PageWorkers:  2,
		PageWindow:   2,
		EmptyPageRun: 2,
		UserWorkers:  2,
		ExportDir:    exportDir,
		Versioned:    true,
	})
	ctx := context.Background()

	err := s.RunBatches(ctx, ModeNew, 1, 10)
	require.NoError(t, err)

	rows, err := s.qry.GetRawRatings(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for _, name := range []string{
		RawRatingsFile,
		TranslatedRatingsFile,
		UserMappingsFile,
		FilmMappingsFile,
		UserUpdatesFile,
	} {
		_, err := os.Stat(filepath.Join(exportDir, name))
		require.NoError(t, err, "missing export %s", name)
	}
	snapshots, err := filepath.Glob(filepath.Join(exportDir, "raw_ratings_*.csv"))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	// a continue run over the same listing finds nothing new and
	// leaves the corpus exactly as it was
	err = s.RunBatches(ctx, ModeContinue, 1, 10)
	require.NoError(t, err)

	again, err := s.qry.GetRawRatings(ctx)
	require.NoError(t, err)
	require.Equal(t, rows, again)
}

func TestHarvestUserAllUnrated(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]map[int][]boxd.FilmObservation{
			"lurker": {
				1: {observation("the-substance", "714666", "")},
			},
		},
	}
	exportDir := t.TempDir()
	s := setupService(t, fetcher, nil, Options{
		PageWorkers:  2,
		PageWindow:   2,
		EmptyPageRun: 2,
		ExportDir:    exportDir,
	})
	ctx := context.Background()

	// a user whose every observation is watched-but-unrated holds no
	// id; the single-user run is a no-op, not an integrity error
	err := s.HarvestUser(ctx, "lurker")
	require.NoError(t, err)

	rows, err := s.qry.GetRawRatings(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)

	entries, err := os.ReadDir(exportDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunBatchesReportsProgressOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]map[int][]boxd.FilmObservation{
			"alice": {
				1: {observation("nosferatu-2024", "35995", "★★★★")},
			},
		},
	}
	lister := &fakeLister{pages: map[int][]string{1: {"alice"}}}

	// a plain file where the export directory should be makes the
	// export step fail after the merge committed
	blocked := filepath.Join(t.TempDir(), "exports")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0644))

	s := setupService(t, fetcher, lister, Options{
		PageWorkers:  2,
		PageWindow:   2,
		EmptyPageRun: 2,
		ExportDir:    blocked,
	})
	ctx := context.Background()

	err := s.RunBatches(ctx, ModeNew, 1, 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed during export after 1 users and 1 pages merged")
}

func TestStalenessReport(t *testing.T) {
	s := setupService(t, nil, nil, Options{})
	ctx := context.Background()

	reg, err := LoadRegistry(ctx, s.qry)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour * 48)
	_, err = s.Merge(ctx, reg, []UserHarvest{{
		Username: "alice",
		Observations: []boxd.FilmObservation{
			observation("nosferatu-2024", "35995", "★★★★"),
		},
	}}, past)
	require.NoError(t, err)

	_, err = s.Merge(ctx, reg, []UserHarvest{{
		Username: "bob",
		Observations: []boxd.FilmObservation{
			observation("the-substance", "714666", "★★"),
		},
	}}, time.Now())
	require.NoError(t, err)

	report, err := s.StalenessReport(ctx)
	require.NoError(t, err)
	require.Len(t, report, 2)
	require.Equal(t, "alice", report[0].Username)
	require.Equal(t, "bob", report[1].Username)
	require.True(t, report[0].LastUpdated.Before(report[1].LastUpdated))
}
