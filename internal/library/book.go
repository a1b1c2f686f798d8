package library

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownField is returned by ParseField for names other than title and author.
var ErrUnknownField = errors.New("unknown draft field")

// Book is one catalog entry. ID never changes once assigned.
type Book struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	Category Category `json:"category"`
}

// Draft is the add form's in-progress entry. It is not part of the catalog.
type Draft struct {
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	Category Category `json:"category"`
}

// Field names a free-text draft field.
type Field string

const (
	FieldTitle  Field = "title"
	FieldAuthor Field = "author"
)

func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldTitle, FieldAuthor:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
}

// IDFunc produces a fresh book id on every call.
type IDFunc func() string

// NewBookID is the default IDFunc.
func NewBookID() string {
	return "b_" + uuid.NewString()
}

// Seed returns the books every new catalog starts with.
func Seed() []Book {
	return []Book{
		{ID: "1", Title: "The Great Gatsby", Author: "F. Scott Fitzgerald", Category: CategoryBookCase},
		{ID: "2", Title: "1984", Author: "George Orwell", Category: CategoryNoNoise},
		{ID: "3", Title: "The Catcher in the Rye", Author: "J.D. Salinger", Category: CategorySports},
	}
}
