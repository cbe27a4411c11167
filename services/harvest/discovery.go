package harvest

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// MemberLister retrieves one page of the ranked popular-members
// listing.
type MemberLister interface {
	PopularMembers(ctx context.Context, page int) ([]string, error)
}

// discoverUsers walks the popular-members listing and collects up to
// count usernames worth harvesting: users the registry has never seen,
// plus known users whose last harvest is older than RefreshAfter. The
// listing site is polled politely with a randomized delay between
// pages. A listing fetch failure ends discovery early with whatever was
// found so far, it does not fail the batch.
func (s Service) discoverUsers(ctx context.Context, reg *Registry, count int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "discoverUsers")
	defer span.End()
	span.SetAttributes(attribute.Int("count", count))

	var found []string
	seen := map[string]bool{}

	for page := 1; len(found) < count; page++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		usernames, err := s.members.PopularMembers(ctx, page)
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch members page, ending discovery early",
				"page", page, "err", err)
			break
		}
		if len(usernames) == 0 {
			slog.InfoContext(ctx, "members listing exhausted", "pages", page)
			break
		}

		for _, username := range usernames {
			if seen[username] {
				continue
			}
			seen[username] = true

			if reg.KnownUser(username) {
				stale, err := s.userIsStale(ctx, reg, username)
				if err != nil {
					return found, err
				}
				if !stale {
					continue
				}
				slog.DebugContext(ctx, "re-harvesting stale user", "username", username)
			}

			found = append(found, username)
			if len(found) >= count {
				break
			}
		}

		if len(found) < count {
			politeSleep(ctx)
		}
	}

	span.SetAttributes(attribute.Int("found", len(found)))
	return found, nil
}

// userIsStale consults the update log for a known user. A known user
// with no update-log entry never finished a harvest and counts as
// stale.
func (s Service) userIsStale(ctx context.Context, reg *Registry, username string) (bool, error) {
	if s.opts.RefreshAfter <= 0 {
		return false, nil
	}
	userId, ok := reg.UserId(username)
	if !ok {
		return false, nil
	}
	entry, err := s.qry.GetUserUpdate(ctx, userId)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return time.Since(time.Unix(entry.LastUpdated, 0)) > s.opts.RefreshAfter, nil
}

// politeSleep waits a short randomized interval between listing pages
// so the discovery pass doesn't hammer the site.
func politeSleep(ctx context.Context) {
	delay := 500*time.Millisecond + time.Duration(rand.Int63n(int64(time.Second)))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
