package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"veras/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and mirrors the
// GormStore contract, including atomic owner-scoped mutations (the mutex
// spans check and write).
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
	books map[string]domain.Book
	order []string // book insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		books: make(map[string]domain.Book),
	}
}

// CreateUser registers a user.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// HasUserConflict reports whether username or email is already taken.
func (m *MemoryStore) HasUserConflict(username, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// CreateBook stores a book and tracks insertion order.
func (m *MemoryStore) CreateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// ListBooksByOwner returns the owner's books, filtered and sorted.
func (m *MemoryStore) ListBooksByOwner(ownerID string, f BookFilter) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(f.Query))
	res := make([]domain.Book, 0)
	// Walk newest-first so the default order falls out of insertion order.
	for i := len(m.order) - 1; i >= 0; i-- {
		b, ok := m.books[m.order[i]]
		if !ok || b.OwnerID != ownerID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if query != "" && !matchesQuery(b, query) {
			continue
		}
		res = append(res, b)
	}

	switch f.Sort {
	case SortRatingDesc:
		sort.SliceStable(res, func(i, j int) bool {
			return ratingLess(res[j].Rating, res[i].Rating)
		})
	case SortRatingAsc:
		sort.SliceStable(res, func(i, j int) bool {
			return ratingLess(res[i].Rating, res[j].Rating)
		})
	}
	return res, nil
}

// UpdateBookForOwner applies changes only when the book belongs to ownerID.
func (m *MemoryStore) UpdateBookForOwner(id, ownerID string, changes map[string]any) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok || b.OwnerID != ownerID {
		return domain.Book{}, false, nil
	}
	for key, value := range changes {
		applyChange(&b, key, value)
	}
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return b, true, nil
}

// DeleteBookForOwner removes the book only when it belongs to ownerID.
func (m *MemoryStore) DeleteBookForOwner(id, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok || b.OwnerID != ownerID {
		return false, nil
	}
	delete(m.books, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return true, nil
}

// OwnerStats aggregates counts and ratings over the owner's books.
func (m *MemoryStore) OwnerStats(ownerID string) (domain.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := domain.NewStats()
	var sum float64
	for _, b := range m.books {
		if b.OwnerID != ownerID {
			continue
		}
		stats.Total++
		if _, known := stats.CountsByStatus[b.Status]; known {
			stats.CountsByStatus[b.Status]++
		}
		if b.Rating != nil {
			stats.RatedCount++
			sum += *b.Rating
		}
	}
	if stats.RatedCount > 0 {
		avg := sum / float64(stats.RatedCount)
		stats.AverageRating = &avg
	}
	return stats, nil
}

func matchesQuery(b domain.Book, query string) bool {
	return strings.Contains(strings.ToLower(b.Title), query) ||
		strings.Contains(strings.ToLower(b.Author), query) ||
		strings.Contains(strings.ToLower(b.Genre), query)
}

// ratingLess orders nil below any value, matching the SQL NULLS placement.
func ratingLess(a, b *float64) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return *a < *b
}

func applyChange(b *domain.Book, key string, value any) {
	switch key {
	case FieldTitle:
		if v, ok := value.(string); ok {
			b.Title = v
		}
	case FieldAuthor:
		if v, ok := value.(string); ok {
			b.Author = v
		}
	case FieldFavoriteCharacter:
		if v, ok := value.(string); ok {
			b.FavoriteCharacter = v
		}
	case FieldGenre:
		if v, ok := value.(string); ok {
			b.Genre = v
		}
	case FieldSummary:
		if v, ok := value.(string); ok {
			b.Summary = v
		}
	case FieldStatus:
		if v, ok := value.(domain.BookStatus); ok {
			b.Status = v
		}
	case FieldRating:
		if v, ok := value.(*float64); ok {
			b.Rating = copyFloat(v)
		}
	case FieldStartDate:
		if v, ok := value.(*time.Time); ok {
			b.StartDate = copyTime(v)
		}
	case FieldEndDate:
		if v, ok := value.(*time.Time); ok {
			b.EndDate = copyTime(v)
		}
	case FieldQuotes:
		if v, ok := value.([]string); ok {
			quotes := make([]string, len(v))
			copy(quotes, v)
			b.Quotes = quotes
		}
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
