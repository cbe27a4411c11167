package db

import (
	"context"
)

const getUserMappings = `
SELECT user_id, username FROM user_mappings ORDER BY user_id
`

func (q *Queries) GetUserMappings(ctx context.Context) ([]UserMapping, error) {
	rows, err := q.db.QueryContext(ctx, getUserMappings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UserMapping
	for rows.Next() {
		var i UserMapping
		if err := rows.Scan(&i.UserID, &i.Username); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getFilmMappings = `
SELECT film_id, film_slug FROM film_mappings ORDER BY film_id
`

func (q *Queries) GetFilmMappings(ctx context.Context) ([]FilmMapping, error) {
	rows, err := q.db.QueryContext(ctx, getFilmMappings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FilmMapping
	for rows.Next() {
		var i FilmMapping
		if err := rows.Scan(&i.FilmID, &i.FilmSlug); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createUserMapping = `
INSERT INTO user_mappings (user_id, username) VALUES (?, ?)
`

type CreateUserMappingParams struct {
	UserID   int64
	Username string
}

func (q *Queries) CreateUserMapping(ctx context.Context, arg CreateUserMappingParams) error {
	_, err := q.db.ExecContext(ctx, createUserMapping, arg.UserID, arg.Username)
	return err
}

const createFilmMapping = `
INSERT INTO film_mappings (film_id, film_slug) VALUES (?, ?)
`

type CreateFilmMappingParams struct {
	FilmID   int64
	FilmSlug string
}

func (q *Queries) CreateFilmMapping(ctx context.Context, arg CreateFilmMappingParams) error {
	_, err := q.db.ExecContext(ctx, createFilmMapping, arg.FilmID, arg.FilmSlug)
	return err
}

const upsertRawRating = `
INSERT INTO raw_ratings (user_id, film_id, rating) VALUES (?, ?, ?)
ON CONFLICT (user_id, film_id) DO UPDATE SET rating = excluded.rating
`

type UpsertRawRatingParams struct {
	UserID int64
	FilmID int64
	Rating float64
}

func (q *Queries) UpsertRawRating(ctx context.Context, arg UpsertRawRatingParams) error {
	_, err := q.db.ExecContext(ctx, upsertRawRating, arg.UserID, arg.FilmID, arg.Rating)
	return err
}

const getRawRatings = `
SELECT user_id, film_id, rating FROM raw_ratings ORDER BY user_id, film_id
`

func (q *Queries) GetRawRatings(ctx context.Context) ([]RawRating, error) {
	rows, err := q.db.QueryContext(ctx, getRawRatings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RawRating
	for rows.Next() {
		var i RawRating
		if err := rows.Scan(&i.UserID, &i.FilmID, &i.Rating); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getRawRatingsByUser = `
SELECT user_id, film_id, rating FROM raw_ratings WHERE user_id = ? ORDER BY film_id
`

func (q *Queries) GetRawRatingsByUser(ctx context.Context, userID int64) ([]RawRating, error) {
	rows, err := q.db.QueryContext(ctx, getRawRatingsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RawRating
	for rows.Next() {
		var i RawRating
		if err := rows.Scan(&i.UserID, &i.FilmID, &i.Rating); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteTranslatedRatings = `
DELETE FROM translated_ratings
`

func (q *Queries) DeleteTranslatedRatings(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteTranslatedRatings)
	return err
}

const createTranslatedRating = `
INSERT INTO translated_ratings (username, film_title, rating) VALUES (?, ?, ?)
`

type CreateTranslatedRatingParams struct {
	Username  string
	FilmTitle string
	Rating    float64
}

func (q *Queries) CreateTranslatedRating(ctx context.Context, arg CreateTranslatedRatingParams) error {
	_, err := q.db.ExecContext(ctx, createTranslatedRating, arg.Username, arg.FilmTitle, arg.Rating)
	return err
}

const getTranslatedRatings = `
SELECT username, film_title, rating FROM translated_ratings ORDER BY username, film_title
`

func (q *Queries) GetTranslatedRatings(ctx context.Context) ([]TranslatedRating, error) {
	rows, err := q.db.QueryContext(ctx, getTranslatedRatings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TranslatedRating
	for rows.Next() {
		var i TranslatedRating
		if err := rows.Scan(&i.Username, &i.FilmTitle, &i.Rating); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const upsertUserUpdate = `
INSERT INTO user_updates (user_id, last_updated) VALUES (?, ?)
ON CONFLICT (user_id) DO UPDATE SET last_updated = excluded.last_updated
`

type UpsertUserUpdateParams struct {
	UserID      int64
	LastUpdated int64
}

func (q *Queries) UpsertUserUpdate(ctx context.Context, arg UpsertUserUpdateParams) error {
	_, err := q.db.ExecContext(ctx, upsertUserUpdate, arg.UserID, arg.LastUpdated)
	return err
}

const getUserUpdates = `
SELECT user_id, last_updated FROM user_updates ORDER BY user_id
`

func (q *Queries) GetUserUpdates(ctx context.Context) ([]UserUpdate, error) {
	rows, err := q.db.QueryContext(ctx, getUserUpdates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UserUpdate
	for rows.Next() {
		var i UserUpdate
		if err := rows.Scan(&i.UserID, &i.LastUpdated); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getUserUpdate = `
SELECT user_id, last_updated FROM user_updates WHERE user_id = ?
`

func (q *Queries) GetUserUpdate(ctx context.Context, userID int64) (UserUpdate, error) {
	row := q.db.QueryRowContext(ctx, getUserUpdate, userID)
	var i UserUpdate
	err := row.Scan(&i.UserID, &i.LastUpdated)
	return i, err
}

const resetCorpus = `
DELETE FROM raw_ratings;
DELETE FROM translated_ratings;
DELETE FROM user_mappings;
DELETE FROM film_mappings;
DELETE FROM user_updates;
`

// ResetCorpus wipes every table. Used by "new" mode only.
func (q *Queries) ResetCorpus(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, resetCorpus)
	return err
}
