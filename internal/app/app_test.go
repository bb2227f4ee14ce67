package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veras/internal/auth"
	"veras/internal/store"
	"veras/internal/util"
	"veras/pkg/domain"
)

func newTestApp(t *testing.T, st store.Store) *App {
	t.Helper()
	a, err := New(Config{Store: st, TokenSecret: "test-secret"})
	require.NoError(t, err)
	return a
}

// seedUser bypasses Register to keep bcrypt out of book-focused tests.
func seedUser(t *testing.T, st store.Store, username string) domain.User {
	t.Helper()
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "not-a-real-hash",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.CreateUser(user))
	return user
}

func ptrFloat(v float64) *float64 { return &v }

func TestRegisterThenLogin(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())

	registered, token, err := a.Register("reader", "Reader@Example.com", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "reader", registered.Username)
	require.Equal(t, "reader@example.com", registered.Email)
	require.NotEqual(t, "hunter22", registered.PasswordHash)

	loggedIn, loginToken, err := a.Login("reader@example.com", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, loginToken)
	require.Equal(t, registered.ID, loggedIn.ID)

	resolved, err := a.Authenticate(loginToken)
	require.NoError(t, err)
	require.Equal(t, registered.ID, resolved.ID)
}

func TestRegisterValidatesRequiredFields(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())

	_, _, err := a.Register("", "", "")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Violations, 3)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())

	_, _, err := a.Register("reader", "reader@example.com", "hunter22")
	require.NoError(t, err)

	// Same email with a different username still conflicts.
	_, _, err = a.Register("other", "reader@example.com", "hunter22")
	require.ErrorIs(t, err, ErrUserExists)

	_, _, err = a.Register("reader", "other@example.com", "hunter22")
	require.ErrorIs(t, err, ErrUserExists)
}

func TestLoginNeverSaysWhichPartWasWrong(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())

	_, _, err := a.Register("reader", "reader@example.com", "hunter22")
	require.NoError(t, err)

	_, _, unknownEmailErr := a.Login("ghost@example.com", "hunter22")
	_, _, wrongPasswordErr := a.Login("reader@example.com", "wrong")
	require.ErrorIs(t, unknownEmailErr, ErrInvalidCredentials)
	require.ErrorIs(t, wrongPasswordErr, ErrInvalidCredentials)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)

	_, err := a.Authenticate("")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = a.Authenticate("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	other := newTestApp(t, st)
	other.tokens = mustTokenManager(t, "different-secret")
	foreignToken, err := other.tokens.Issue("user-1")
	require.NoError(t, err)
	_, err = a.Authenticate(foreignToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	ghostToken, err := a.tokens.Issue("no-such-user")
	require.NoError(t, err)
	_, err = a.Authenticate(ghostToken)
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestCreateBookForcesOwnerAndDefaults(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	book, err := a.CreateBook(owner, BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)
	require.Equal(t, owner.ID, book.OwnerID)
	require.Equal(t, domain.StatusToRead, book.Status)
	require.NotNil(t, book.Quotes)
	require.Empty(t, book.Quotes)
	require.Nil(t, book.Rating)
	require.NotEmpty(t, book.ID)
	require.False(t, book.CreatedAt.IsZero())
}

func TestCreateBookValidation(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	_, err := a.CreateBook(owner, BookInput{
		Status: "абвгд",
		Rating: ptrFloat(11),
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Violations, 4) // title, author, status, rating
}

func TestCreateThenListRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	created, err := a.CreateBook(owner, BookInput{
		Title:             "The Alchemist",
		Author:            "Paulo Coelho",
		FavoriteCharacter: "Santiago",
		Genre:             "fiction",
		StartDate:         &start,
		Status:            "reading",
		Rating:            ptrFloat(8),
		Summary:           "A shepherd chases his personal legend.",
		Quotes:            []string{"Listen to your heart."},
	})
	require.NoError(t, err)

	books, err := a.ListBooks(owner, ListQuery{})
	require.NoError(t, err)
	require.Len(t, books, 1)
	require.Equal(t, created, books[0])
}

func TestOwnershipIsolation(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	book, err := a.CreateBook(bob, BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)

	title := "Hijacked"
	_, err = a.UpdateBook(alice, book.ID, BookPatch{Title: &title})
	require.ErrorIs(t, err, ErrBookNotFound)

	err = a.DeleteBook(alice, book.ID)
	require.ErrorIs(t, err, ErrBookNotFound)

	_, err = a.UpdateRating(alice, book.ID, ptrFloat(1))
	require.ErrorIs(t, err, ErrBookNotFound)

	_, err = a.UpdateStatus(alice, book.ID, "finished")
	require.ErrorIs(t, err, ErrBookNotFound)

	books, err := a.ListBooks(alice, ListQuery{})
	require.NoError(t, err)
	require.Empty(t, books)

	// Bob's book is untouched.
	bobsBooks, err := a.ListBooks(bob, ListQuery{})
	require.NoError(t, err)
	require.Len(t, bobsBooks, 1)
	require.Equal(t, "Dune", bobsBooks[0].Title)
}

func TestUpdateRatingBounds(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	book, err := a.CreateBook(owner, BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)

	var validationErr *ValidationError
	_, err = a.UpdateRating(owner, book.ID, ptrFloat(11))
	require.ErrorAs(t, err, &validationErr)
	_, err = a.UpdateRating(owner, book.ID, ptrFloat(-1))
	require.ErrorAs(t, err, &validationErr)

	updated, err := a.UpdateRating(owner, book.ID, ptrFloat(0))
	require.NoError(t, err)
	require.Equal(t, 0.0, *updated.Rating)

	updated, err = a.UpdateRating(owner, book.ID, ptrFloat(10))
	require.NoError(t, err)
	require.Equal(t, 10.0, *updated.Rating)

	updated, err = a.UpdateRating(owner, book.ID, nil)
	require.NoError(t, err)
	require.Nil(t, updated.Rating)
}

func TestClearRatingIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	book, err := a.CreateBook(owner, BookInput{
		Title:  "Dune",
		Author: "Frank Herbert",
		Rating: ptrFloat(9),
	})
	require.NoError(t, err)

	cleared, err := a.ClearRating(owner, book.ID)
	require.NoError(t, err)
	require.Nil(t, cleared.Rating)

	clearedAgain, err := a.ClearRating(owner, book.ID)
	require.NoError(t, err)
	require.Nil(t, clearedAgain.Rating)
}

func TestUpdateStatusValidatesEnum(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	book, err := a.CreateBook(owner, BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)

	var validationErr *ValidationError
	_, err = a.UpdateStatus(owner, book.ID, "read-later")
	require.ErrorAs(t, err, &validationErr)

	updated, err := a.UpdateStatus(owner, book.ID, "finished")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFinished, updated.Status)
}

func TestUpdateBookMergesOnlyProvidedFields(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	book, err := a.CreateBook(owner, BookInput{
		Title:   "Dune",
		Author:  "Frank Herbert",
		Genre:   "sci-fi",
		Summary: "Spice.",
		Rating:  ptrFloat(7),
	})
	require.NoError(t, err)

	title := "Dune Messiah"
	updated, err := a.UpdateBook(owner, book.ID, BookPatch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, "Dune Messiah", updated.Title)
	require.Equal(t, "Frank Herbert", updated.Author)
	require.Equal(t, "sci-fi", updated.Genre)
	require.Equal(t, "Spice.", updated.Summary)
	require.Equal(t, 7.0, *updated.Rating)
	require.Equal(t, owner.ID, updated.OwnerID)
}

func TestListBooksFiltersAndSorts(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	mustCreate := func(in BookInput) domain.Book {
		book, err := a.CreateBook(owner, in)
		require.NoError(t, err)
		return book
	}
	mustCreate(BookInput{Title: "The Alchemist", Author: "Paulo Coelho", Genre: "fiction", Status: "finished", Rating: ptrFloat(9)})
	mustCreate(BookInput{Title: "Dune", Author: "Frank Herbert", Genre: "sci-fi", Status: "reading", Rating: ptrFloat(7)})
	mustCreate(BookInput{Title: "Unrated", Author: "Nobody", Genre: "alchemistic essays"})

	// Case-insensitive substring match across title, author, genre.
	byQuery, err := a.ListBooks(owner, ListQuery{Query: "ALCHEMist"})
	require.NoError(t, err)
	require.Len(t, byQuery, 2)

	byAuthor, err := a.ListBooks(owner, ListQuery{Query: "herbert"})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	require.Equal(t, "Dune", byAuthor[0].Title)

	byStatus, err := a.ListBooks(owner, ListQuery{Status: "finished"})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, "The Alchemist", byStatus[0].Title)

	// Unrecognized status values leave the listing unfiltered.
	ignored, err := a.ListBooks(owner, ListQuery{Status: "okunmadi"})
	require.NoError(t, err)
	require.Len(t, ignored, 3)

	sorted, err := a.ListBooks(owner, ListQuery{Sort: "puan_desc"})
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	require.Equal(t, "The Alchemist", sorted[0].Title)
	require.Equal(t, "Dune", sorted[1].Title)
	require.Equal(t, "Unrated", sorted[2].Title)

	sortedAsc, err := a.ListBooks(owner, ListQuery{Sort: "puan_asc"})
	require.NoError(t, err)
	require.Equal(t, "Unrated", sortedAsc[0].Title)
	require.Equal(t, "Dune", sortedAsc[1].Title)
	require.Equal(t, "The Alchemist", sortedAsc[2].Title)

	// Default order is newest first.
	newest, err := a.ListBooks(owner, ListQuery{})
	require.NoError(t, err)
	require.Equal(t, "Unrated", newest[0].Title)
}

func TestStatsOnFreshAccount(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")

	stats, err := a.Stats(owner)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Total)
	require.Equal(t, 0, stats.RatedCount)
	require.Nil(t, stats.AverageRating)
	require.Equal(t, map[domain.BookStatus]int{
		domain.StatusToRead:   0,
		domain.StatusReading:  0,
		domain.StatusFinished: 0,
	}, stats.CountsByStatus)
}

func TestStatsAggregation(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	owner := seedUser(t, st, "reader")
	other := seedUser(t, st, "someone-else")

	_, err := a.CreateBook(owner, BookInput{Title: "A", Author: "X", Status: "finished", Rating: ptrFloat(8)})
	require.NoError(t, err)
	_, err = a.CreateBook(owner, BookInput{Title: "B", Author: "Y", Status: "finished", Rating: ptrFloat(6)})
	require.NoError(t, err)
	_, err = a.CreateBook(owner, BookInput{Title: "C", Author: "Z", Status: "reading"})
	require.NoError(t, err)
	// Another user's shelf must not leak into the aggregates.
	_, err = a.CreateBook(other, BookInput{Title: "D", Author: "W", Rating: ptrFloat(1)})
	require.NoError(t, err)

	stats, err := a.Stats(owner)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.CountsByStatus[domain.StatusFinished])
	require.Equal(t, 1, stats.CountsByStatus[domain.StatusReading])
	require.Equal(t, 0, stats.CountsByStatus[domain.StatusToRead])
	require.Equal(t, 2, stats.RatedCount)
	require.NotNil(t, stats.AverageRating)
	require.InDelta(t, 7.0, *stats.AverageRating, 1e-9)
}

func mustTokenManager(t *testing.T, secret string) *auth.TokenManager {
	t.Helper()
	m, err := auth.NewTokenManager(secret, 0, auth.TokenOptions{})
	require.NoError(t, err)
	return m
}
