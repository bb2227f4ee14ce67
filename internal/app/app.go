package app

import (
	"fmt"
	"strings"
	"time"

	"veras/internal/auth"
	"veras/internal/store"
	"veras/internal/util"
	"veras/pkg/domain"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	TokenSecret string
	TokenTTL    time.Duration
}

// App wires storage, credential checking, and the book operations. All book
// operations take the authenticated owner explicitly; client payloads never
// choose the owner.
type App struct {
	store  store.Store
	tokens *auth.TokenManager
}

// New constructs the application with database storage and session tokens.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	tokens, err := auth.NewTokenManager(cfg.TokenSecret, cfg.TokenTTL, auth.TokenOptions{})
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}
	return &App{store: dataStore, tokens: tokens}, nil
}

// Register creates a user and issues a session token.
func (a *App) Register(username, email, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))

	var violations []string
	if username == "" {
		violations = append(violations, "username is required")
	}
	if email == "" {
		violations = append(violations, "email is required")
	}
	if password == "" {
		violations = append(violations, "password is required")
	}
	if len(violations) > 0 {
		return domain.User{}, "", newValidationError(violations...)
	}

	conflict, err := a.store.HasUserConflict(username, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check user conflict: %w", err)
	}
	if conflict {
		return domain.User{}, "", ErrUserExists
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	var violations []string
	if email == "" {
		violations = append(violations, "email is required")
	}
	if password == "" {
		violations = append(violations, "password is required")
	}
	if len(violations) > 0 {
		return domain.User{}, "", newValidationError(violations...)
	}

	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to a user. Verification fails closed:
// any malformed, expired, or mis-signed token is rejected.
func (a *App) Authenticate(token string) (domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, ErrMissingToken
	}
	userID, err := a.tokens.Verify(token)
	if err != nil {
		return domain.User{}, ErrInvalidToken
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnknownUser
	}
	return user, nil
}

// BookInput carries the fields accepted when creating a book. Owner is
// always the caller; an owner in the payload is ignored upstream.
type BookInput struct {
	Title             string
	Author            string
	FavoriteCharacter string
	Genre             string
	StartDate         *time.Time
	EndDate           *time.Time
	Status            string
	Rating            *float64
	Summary           string
	Quotes            []string
}

// CreateBook validates input and stores a book owned by owner.
func (a *App) CreateBook(owner domain.User, in BookInput) (domain.Book, error) {
	title := strings.TrimSpace(in.Title)
	author := strings.TrimSpace(in.Author)

	var violations []string
	if title == "" {
		violations = append(violations, "title is required")
	}
	if author == "" {
		violations = append(violations, "author is required")
	}
	status := domain.StatusToRead
	if in.Status != "" {
		parsed, ok := parseStatus(in.Status)
		if !ok {
			violations = append(violations, "status must be one of to-read, reading, finished")
		} else {
			status = parsed
		}
	}
	if !ratingInRange(in.Rating) {
		violations = append(violations, "rating must be between 0 and 10")
	}
	if len(violations) > 0 {
		return domain.Book{}, newValidationError(violations...)
	}

	now := time.Now().UTC()
	quotes := in.Quotes
	if quotes == nil {
		quotes = []string{}
	}
	book := domain.Book{
		ID:                util.NewID(),
		OwnerID:           owner.ID,
		Title:             title,
		Author:            author,
		FavoriteCharacter: in.FavoriteCharacter,
		Genre:             in.Genre,
		StartDate:         in.StartDate,
		EndDate:           in.EndDate,
		Status:            status,
		Rating:            in.Rating,
		Summary:           in.Summary,
		Quotes:            quotes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := a.store.CreateBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// ListQuery carries raw listing parameters as they arrive on the wire.
type ListQuery struct {
	Status string
	Query  string
	Sort   string
}

// ListBooks returns the owner's books. Unrecognized status values leave the
// listing unfiltered rather than erroring; unrecognized sort values fall
// back to newest-first.
func (a *App) ListBooks(owner domain.User, q ListQuery) ([]domain.Book, error) {
	filter := store.BookFilter{Query: q.Query}
	if status, ok := parseStatus(q.Status); ok {
		filter.Status = status
	}
	switch q.Sort {
	case "puan_desc":
		filter.Sort = store.SortRatingDesc
	case "puan_asc":
		filter.Sort = store.SortRatingAsc
	default:
		filter.Sort = store.SortNewestFirst
	}
	books, err := a.store.ListBooksByOwner(owner.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// BookPatch describes a partial update. Nil pointers leave a field
// unchanged; the Set flags distinguish "clear" from "absent" for fields
// that are nullable on the wire.
type BookPatch struct {
	Title             *string
	Author            *string
	FavoriteCharacter *string
	Genre             *string
	Summary           *string
	Status            *string
	Rating            *float64
	RatingSet         bool
	StartDate         *time.Time
	StartDateSet      bool
	EndDate           *time.Time
	EndDateSet        bool
	Quotes            []string
	QuotesSet         bool
}

// UpdateBook merges the provided fields into the owner's book. Ownership is
// immutable; the patch has no owner field to honor.
func (a *App) UpdateBook(owner domain.User, id string, patch BookPatch) (domain.Book, error) {
	changes := make(map[string]any)
	var violations []string

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			violations = append(violations, "title must not be empty")
		} else {
			changes[store.FieldTitle] = title
		}
	}
	if patch.Author != nil {
		author := strings.TrimSpace(*patch.Author)
		if author == "" {
			violations = append(violations, "author must not be empty")
		} else {
			changes[store.FieldAuthor] = author
		}
	}
	if patch.Status != nil {
		status, ok := parseStatus(*patch.Status)
		if !ok {
			violations = append(violations, "status must be one of to-read, reading, finished")
		} else {
			changes[store.FieldStatus] = status
		}
	}
	if patch.RatingSet {
		if !ratingInRange(patch.Rating) {
			violations = append(violations, "rating must be between 0 and 10")
		} else {
			changes[store.FieldRating] = patch.Rating
		}
	}
	if len(violations) > 0 {
		return domain.Book{}, newValidationError(violations...)
	}

	if patch.FavoriteCharacter != nil {
		changes[store.FieldFavoriteCharacter] = *patch.FavoriteCharacter
	}
	if patch.Genre != nil {
		changes[store.FieldGenre] = *patch.Genre
	}
	if patch.Summary != nil {
		changes[store.FieldSummary] = *patch.Summary
	}
	if patch.StartDateSet {
		changes[store.FieldStartDate] = patch.StartDate
	}
	if patch.EndDateSet {
		changes[store.FieldEndDate] = patch.EndDate
	}
	if patch.QuotesSet {
		quotes := patch.Quotes
		if quotes == nil {
			quotes = []string{}
		}
		changes[store.FieldQuotes] = quotes
	}

	book, found, err := a.store.UpdateBookForOwner(id, owner.ID, changes)
	if err != nil {
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	if !found {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// DeleteBook removes the owner's book.
func (a *App) DeleteBook(owner domain.User, id string) error {
	deleted, err := a.store.DeleteBookForOwner(id, owner.ID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if !deleted {
		return ErrBookNotFound
	}
	return nil
}

// UpdateRating sets or clears (nil) the rating on the owner's book.
func (a *App) UpdateRating(owner domain.User, id string, rating *float64) (domain.Book, error) {
	if !ratingInRange(rating) {
		return domain.Book{}, newValidationError("rating must be between 0 and 10")
	}
	book, found, err := a.store.UpdateBookForOwner(id, owner.ID, map[string]any{
		store.FieldRating: rating,
	})
	if err != nil {
		return domain.Book{}, fmt.Errorf("update rating: %w", err)
	}
	if !found {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// ClearRating removes the rating from the owner's book.
func (a *App) ClearRating(owner domain.User, id string) (domain.Book, error) {
	return a.UpdateRating(owner, id, nil)
}

// UpdateStatus moves the owner's book to another reading status.
func (a *App) UpdateStatus(owner domain.User, id, status string) (domain.Book, error) {
	parsed, ok := parseStatus(status)
	if !ok {
		return domain.Book{}, newValidationError("status must be one of to-read, reading, finished")
	}
	book, found, err := a.store.UpdateBookForOwner(id, owner.ID, map[string]any{
		store.FieldStatus: parsed,
	})
	if err != nil {
		return domain.Book{}, fmt.Errorf("update status: %w", err)
	}
	if !found {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// Stats aggregates the owner's shelf.
func (a *App) Stats(owner domain.User) (domain.Stats, error) {
	stats, err := a.store.OwnerStats(owner.ID)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	return stats, nil
}

func parseStatus(raw string) (domain.BookStatus, bool) {
	status := domain.BookStatus(strings.TrimSpace(raw))
	if !status.Valid() {
		return "", false
	}
	return status, true
}

func ratingInRange(rating *float64) bool {
	if rating == nil {
		return true
	}
	return *rating >= 0 && *rating <= 10
}
