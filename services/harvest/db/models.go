package db

type UserMapping struct {
	UserID   int64
	Username string
}

type FilmMapping struct {
	FilmID   int64
	FilmSlug string
}

type RawRating struct {
	UserID int64
	FilmID int64
	Rating float64
}

type TranslatedRating struct {
	Username  string
	FilmTitle string
	Rating    float64
}

type UserUpdate struct {
	UserID      int64
	LastUpdated int64
}
