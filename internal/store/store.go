package store

import "veras/pkg/domain"

// BookSort selects the ordering of a book listing.
type BookSort int

const (
	// SortNewestFirst orders by creation time, newest first.
	SortNewestFirst BookSort = iota
	SortRatingDesc
	SortRatingAsc
)

// BookFilter narrows a listing. Zero value means "everything the owner has,
// newest first". Query matches title, author, or genre case-insensitively.
type BookFilter struct {
	Status domain.BookStatus
	Query  string
	Sort   BookSort
}

// Change keys accepted by UpdateBookForOwner. Values carry domain types:
// strings for text columns, domain.BookStatus for status, *float64 for
// rating (nil clears), *time.Time for dates (nil clears), []string for
// quotes. Stores stamp updated_at themselves.
const (
	FieldTitle             = "title"
	FieldAuthor            = "author"
	FieldFavoriteCharacter = "favorite_character"
	FieldGenre             = "genre"
	FieldStartDate         = "start_date"
	FieldEndDate           = "end_date"
	FieldStatus            = "status"
	FieldRating            = "rating"
	FieldSummary           = "summary"
	FieldQuotes            = "quotes"
)

// Store defines persistence for users and owner-scoped books.
//
// Every book mutation takes both id and owner and must apply the ownership
// check and the write as one atomic operation, so a book cannot be touched
// between the check and the mutation.
type Store interface {
	// users
	CreateUser(u domain.User) error
	HasUserConflict(username, email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// books
	CreateBook(b domain.Book) error
	ListBooksByOwner(ownerID string, f BookFilter) ([]domain.Book, error)
	UpdateBookForOwner(id, ownerID string, changes map[string]any) (domain.Book, bool, error)
	DeleteBookForOwner(id, ownerID string) (bool, error)
	OwnerStats(ownerID string) (domain.Stats, error)
}
