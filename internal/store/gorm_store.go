package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"veras/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &BookModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateUser inserts a new user. Unique indexes on username and email back
// the pre-insert conflict check.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Create(&model).Error
}

// HasUserConflict reports whether username or email is already taken.
func (s *GormStore) HasUserConflict(username, email string) (bool, error) {
	var count int64
	err := s.db.Model(&UserModel{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateBook inserts a new book.
func (s *GormStore) CreateBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Create(&model).Error
}

// ListBooksByOwner returns the owner's books, filtered and sorted.
func (s *GormStore) ListBooksByOwner(ownerID string, f BookFilter) ([]domain.Book, error) {
	tx := s.db.Where("owner_id = ?", ownerID)
	if f.Status != "" {
		tx = tx.Where("status = ?", string(f.Status))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		tx = tx.Where("(title ILIKE ? OR author ILIKE ? OR genre ILIKE ?)", pattern, pattern, pattern)
	}
	tx = tx.Order(orderClause(f.Sort))

	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// UpdateBookForOwner applies changes to the book only when it belongs to
// ownerID. Ownership check and write are a single conditional UPDATE; the
// second return value is false when no owned row matched.
func (s *GormStore) UpdateBookForOwner(id, ownerID string, changes map[string]any) (domain.Book, bool, error) {
	cols := make(map[string]any, len(changes)+1)
	for key, value := range changes {
		cols[key] = columnValue(value)
	}
	cols["updated_at"] = time.Now().UTC()

	res := s.db.Model(&BookModel{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(cols)
	if res.Error != nil {
		return domain.Book{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Book{}, false, nil
	}

	var model BookModel
	if err := s.db.First(&model, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// DeleteBookForOwner removes the book only when it belongs to ownerID.
func (s *GormStore) DeleteBookForOwner(id, ownerID string) (bool, error) {
	res := s.db.Delete(&BookModel{}, "id = ? AND owner_id = ?", id, ownerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// OwnerStats aggregates counts and ratings over the owner's books.
func (s *GormStore) OwnerStats(ownerID string) (domain.Stats, error) {
	stats := domain.NewStats()

	var total int64
	if err := s.db.Model(&BookModel{}).Where("owner_id = ?", ownerID).Count(&total).Error; err != nil {
		return domain.Stats{}, err
	}
	stats.Total = int(total)

	var byStatus []struct {
		Status string
		Count  int
	}
	err := s.db.Model(&BookModel{}).
		Select("status, COUNT(*) AS count").
		Where("owner_id = ?", ownerID).
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return domain.Stats{}, err
	}
	for _, row := range byStatus {
		status := domain.BookStatus(row.Status)
		if _, known := stats.CountsByStatus[status]; known {
			stats.CountsByStatus[status] = row.Count
		}
	}

	// COUNT(rating) skips NULLs, AVG(rating) is NULL when nothing is rated.
	var rated struct {
		Average *float64
		Rated   int
	}
	err = s.db.Model(&BookModel{}).
		Select("AVG(rating) AS average, COUNT(rating) AS rated").
		Where("owner_id = ?", ownerID).
		Scan(&rated).Error
	if err != nil {
		return domain.Stats{}, err
	}
	stats.AverageRating = rated.Average
	stats.RatedCount = rated.Rated

	return stats, nil
}

func orderClause(sort BookSort) string {
	switch sort {
	case SortRatingDesc:
		// Unrated books sort after rated ones on descending,
		// before them on ascending.
		return "rating DESC NULLS LAST, created_at DESC"
	case SortRatingAsc:
		return "rating ASC NULLS FIRST, created_at DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

func columnValue(value any) any {
	switch v := value.(type) {
	case domain.BookStatus:
		return string(v)
	case *float64:
		if v == nil {
			return nil
		}
		return *v
	case *time.Time:
		if v == nil {
			return nil
		}
		return *v
	case []string:
		return quotesToJSON(v)
	default:
		return value
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
