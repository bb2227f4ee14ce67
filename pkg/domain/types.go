package domain

import "time"

type BookStatus string

const (
	StatusToRead   BookStatus = "to-read"
	StatusReading  BookStatus = "reading"
	StatusFinished BookStatus = "finished"
)

// Statuses lists every valid book status.
var Statuses = []BookStatus{StatusToRead, StatusReading, StatusFinished}

// Valid reports whether the status is one of the known values.
func (s BookStatus) Valid() bool {
	switch s {
	case StatusToRead, StatusReading, StatusFinished:
		return true
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Book struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"ownerId"`
	Title             string     `json:"title"`
	Author            string     `json:"author"`
	FavoriteCharacter string     `json:"favoriteCharacter,omitempty"`
	Genre             string     `json:"genre,omitempty"`
	StartDate         *time.Time `json:"startDate"`
	EndDate           *time.Time `json:"endDate"`
	Status            BookStatus `json:"status"`
	Rating            *float64   `json:"rating"`
	Summary           string     `json:"summary,omitempty"`
	Quotes            []string   `json:"quotes"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Stats aggregates a single owner's shelf.
// AverageRating is nil when no book has a rating.
type Stats struct {
	Total          int                `json:"total"`
	CountsByStatus map[BookStatus]int `json:"countsByStatus"`
	AverageRating  *float64           `json:"averageRating"`
	RatedCount     int                `json:"ratedCount"`
}

// NewStats returns an empty Stats with every status present at zero.
func NewStats() Stats {
	counts := make(map[BookStatus]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	return Stats{CountsByStatus: counts}
}
