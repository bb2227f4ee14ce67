package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"veras/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type BookModel struct {
	ID                string `gorm:"primaryKey"`
	OwnerID           string `gorm:"not null;index"`
	Title             string `gorm:"not null"`
	Author            string `gorm:"not null"`
	FavoriteCharacter string
	Genre             string
	StartDate         *time.Time
	EndDate           *time.Time
	Status            string `gorm:"not null"`
	Rating            *float64
	Summary           string
	Quotes            datatypes.JSON
	CreatedAt         time.Time `gorm:"not null;index"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:                b.ID,
		OwnerID:           b.OwnerID,
		Title:             b.Title,
		Author:            b.Author,
		FavoriteCharacter: b.FavoriteCharacter,
		Genre:             b.Genre,
		StartDate:         b.StartDate,
		EndDate:           b.EndDate,
		Status:            string(b.Status),
		Rating:            b.Rating,
		Summary:           b.Summary,
		Quotes:            quotesToJSON(b.Quotes),
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:                m.ID,
		OwnerID:           m.OwnerID,
		Title:             m.Title,
		Author:            m.Author,
		FavoriteCharacter: m.FavoriteCharacter,
		Genre:             m.Genre,
		StartDate:         m.StartDate,
		EndDate:           m.EndDate,
		Status:            domain.BookStatus(m.Status),
		Rating:            m.Rating,
		Summary:           m.Summary,
		Quotes:            quotesFromJSON(m.Quotes),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func quotesToJSON(quotes []string) datatypes.JSON {
	if quotes == nil {
		quotes = []string{}
	}
	raw, err := json.Marshal(quotes)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

func quotesFromJSON(raw datatypes.JSON) []string {
	quotes := []string{}
	if len(raw) == 0 {
		return quotes
	}
	if err := json.Unmarshal(raw, &quotes); err != nil {
		return []string{}
	}
	return quotes
}
