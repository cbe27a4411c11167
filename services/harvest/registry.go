package harvest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"boxdharvest-backend/services/harvest/db"
)

// ErrIdentityConflict is returned when a mapping would stop being
// injective: one external key with two ids, or one id with two external
// keys. It marks corrupt state and always aborts the current batch.
var ErrIdentityConflict = fmt.Errorf("identity mapping conflict")

// ErrUnknownIdentity is returned by reverse lookups for ids that were
// never assigned.
var ErrUnknownIdentity = fmt.Errorf("unknown identity")

// Registry holds the bidirectional username<->user_id and
// film_slug<->film_id mappings for one batch. It is the only authority
// on whether an entity is new and which id it carries.
//
// Mappings are append-only: existing entries are never altered, new ids
// are strictly greater than every id assigned before them, and ids are
// never reused. Entries assigned since the last load are kept aside so
// the merge can persist exactly the new rows.
//
// Harvests of several users run concurrently and may discover the same
// film at the same time, so every resolve goes through one mutex.
type Registry struct {
	mu sync.Mutex

	userIdByName map[string]int64
	nameByUserId map[int64]string
	filmIdBySlug map[string]int64
	slugByFilmId map[int64]string

	maxUserId int64
	maxFilmId int64

	newUsers []db.UserMapping
	newFilms []db.FilmMapping
}

func NewRegistry() *Registry {
	return &Registry{
		userIdByName: map[string]int64{},
		nameByUserId: map[int64]string{},
		filmIdBySlug: map[string]int64{},
		slugByFilmId: map[int64]string{},
	}
}

// LoadRegistry restores the registry from the persisted mapping tables,
// verifying injectivity and restoring the allocation counters as
// max(existing ids) so they keep growing where they left off.
func LoadRegistry(ctx context.Context, qry *db.Queries) (*Registry, error) {
	r := NewRegistry()

	users, err := qry.GetUserMappings(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if _, exists := r.userIdByName[u.Username]; exists {
			return nil, fmt.Errorf("%w: username %q appears twice", ErrIdentityConflict, u.Username)
		}
		if _, exists := r.nameByUserId[u.UserID]; exists {
			return nil, fmt.Errorf("%w: user id %d appears twice", ErrIdentityConflict, u.UserID)
		}
		r.userIdByName[u.Username] = u.UserID
		r.nameByUserId[u.UserID] = u.Username
		if u.UserID > r.maxUserId {
			r.maxUserId = u.UserID
		}
	}

	films, err := qry.GetFilmMappings(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range films {
		if _, exists := r.filmIdBySlug[f.FilmSlug]; exists {
			return nil, fmt.Errorf("%w: film slug %q appears twice", ErrIdentityConflict, f.FilmSlug)
		}
		if _, exists := r.slugByFilmId[f.FilmID]; exists {
			return nil, fmt.Errorf("%w: film id %d appears twice", ErrIdentityConflict, f.FilmID)
		}
		r.filmIdBySlug[f.FilmSlug] = f.FilmID
		r.slugByFilmId[f.FilmID] = f.FilmSlug
		if f.FilmID > r.maxFilmId {
			r.maxFilmId = f.FilmID
		}
	}

	return r, nil
}

// ResolveUser returns the id mapped to username, assigning the next
// unused id on first sight. Calling it again with the same name always
// returns the same id.
func (r *Registry) ResolveUser(username string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.userIdByName[username]; ok {
		return id
	}

	r.maxUserId++
	id := r.maxUserId
	r.userIdByName[username] = id
	r.nameByUserId[id] = username
	r.newUsers = append(r.newUsers, db.UserMapping{UserID: id, Username: username})
	return id
}

// KnownUser reports whether username already has an id, without
// assigning one.
func (r *Registry) KnownUser(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.userIdByName[username]
	return ok
}

// UserId looks up the id for a username without assigning one.
func (r *Registry) UserId(username string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.userIdByName[username]
	return id, ok
}

// ResolveFilm returns the id mapped to slug, assigning one on first
// sight. The site's own numeric id is trusted when present; when it is
// absent or malformed a surrogate above every id seen so far is
// allocated instead. A site id that is already bound to a different
// slug means the upstream identifier was reused, which breaks the film
// identity invariant and fails the batch.
func (r *Registry) ResolveFilm(slug, externalId string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.filmIdBySlug[slug]; ok {
		return id, nil
	}

	var id int64
	if external, err := strconv.ParseInt(externalId, 10, 64); err == nil && external > 0 {
		if other, taken := r.slugByFilmId[external]; taken {
			return 0, fmt.Errorf(
				"%w: film id %d claimed by both %q and %q",
				ErrIdentityConflict, external, other, slug,
			)
		}
		id = external
	} else {
		id = r.maxFilmId + 1
	}

	r.filmIdBySlug[slug] = id
	r.slugByFilmId[id] = slug
	if id > r.maxFilmId {
		r.maxFilmId = id
	}
	r.newFilms = append(r.newFilms, db.FilmMapping{FilmID: id, FilmSlug: slug})
	return id, nil
}

// Username is the reverse lookup used when regenerating the translated
// view.
func (r *Registry) Username(id int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.nameByUserId[id]
	if !ok {
		return "", fmt.Errorf("%w: user id %d", ErrUnknownIdentity, id)
	}
	return name, nil
}

// FilmTitle returns the slug mapped to a film id.
func (r *Registry) FilmTitle(id int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slug, ok := r.slugByFilmId[id]
	if !ok {
		return "", fmt.Errorf("%w: film id %d", ErrUnknownIdentity, id)
	}
	return slug, nil
}

// writeNew writes the mappings assigned since load (or since the last
// committed merge). Called inside the merge transaction so new
// identities and the ratings referencing them commit together; the
// pending lists are only cleared once that transaction commits.
func (r *Registry) writeNew(ctx context.Context, qry *db.Queries) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.newUsers {
		err := qry.CreateUserMapping(ctx, db.CreateUserMappingParams(u))
		if err != nil {
			return err
		}
	}
	for _, f := range r.newFilms {
		err := qry.CreateFilmMapping(ctx, db.CreateFilmMappingParams(f))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) clearPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newUsers = nil
	r.newFilms = nil
}
