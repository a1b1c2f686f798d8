package library

import (
	"errors"
	"fmt"
)

// ErrUnknownCategory is returned by ParseCategory for labels outside the set.
var ErrUnknownCategory = errors.New("unknown category")

// Category is one of a closed set of shelf labels.
type Category string

const (
	CategoryBookCase Category = "Book Case"
	CategoryNoNoise  Category = "No Noise"
	CategorySports   Category = "Sports"
)

// DefaultCategory is preselected in a fresh draft.
const DefaultCategory = CategoryBookCase

var categories = []Category{CategoryBookCase, CategoryNoNoise, CategorySports}

// Categories returns the labels in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Valid reports whether c is one of the known labels.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory matches s exactly against the known labels.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}
