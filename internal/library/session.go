// Package library holds the book catalog of a single session: the seeded
// list, the add form's draft and the search query that filters the list.
package library

import (
	"strings"

	"golang.org/x/text/cases"
)

const maxIDAttempts = 8

var folder = cases.Fold()

// Session owns one catalog. It is not safe for concurrent use; callers that
// share a Session across goroutines must serialise access.
type Session struct {
	books []Book
	ids   map[string]struct{}
	draft Draft
	query string
	newID IDFunc
}

type Option func(*Session)

// WithIDFunc replaces the book id generator.
func WithIDFunc(fn IDFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithBooks replaces the seed catalog.
func WithBooks(books []Book) Option {
	return func(s *Session) {
		s.books = append([]Book(nil), books...)
	}
}

func NewSession(opts ...Option) *Session {
	s := &Session{
		books: Seed(),
		draft: Draft{Category: DefaultCategory},
		newID: NewBookID,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ids = make(map[string]struct{}, len(s.books))
	for _, b := range s.books {
		s.ids[b.ID] = struct{}{}
	}
	return s
}

// Add commits the draft as a new book at the end of the catalog. It does
// nothing unless both title and author are non-empty. On success the draft's
// title and author are cleared; its category is kept.
func (s *Session) Add() (Book, bool) {
	if s.draft.Title == "" || s.draft.Author == "" {
		return Book{}, false
	}

	b := Book{
		ID:       s.uniqueID(),
		Title:    s.draft.Title,
		Author:   s.draft.Author,
		Category: s.draft.Category,
	}
	s.books = append(s.books, b)
	s.ids[b.ID] = struct{}{}

	s.draft.Title = ""
	s.draft.Author = ""
	return b, true
}

func (s *Session) uniqueID() string {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if _, taken := s.ids[id]; !taken && id != "" {
			return id
		}
	}
	for {
		id := NewBookID()
		if _, taken := s.ids[id]; !taken {
			return id
		}
	}
}

func (s *Session) SetQuery(q string) { s.query = q }

func (s *Session) Query() string { return s.query }

// SetDraftField assigns a free-text draft field. Unknown fields are ignored.
func (s *Session) SetDraftField(f Field, value string) {
	switch f {
	case FieldTitle:
		s.draft.Title = value
	case FieldAuthor:
		s.draft.Author = value
	}
}

func (s *Session) SetDraftCategory(c Category) { s.draft.Category = c }

func (s *Session) Draft() Draft { return s.draft }

// Books returns a copy of the whole catalog in insertion order.
func (s *Session) Books() []Book {
	return append([]Book(nil), s.books...)
}

func (s *Session) Len() int { return len(s.books) }

// Visible returns the books matching the current query.
func (s *Session) Visible() []Book {
	return Filter(s.books, s.query)
}

// Filter returns, in order, the books whose title contains query, ignoring
// case. An empty query matches every book.
func Filter(books []Book, query string) []Book {
	needle := fold(query)
	out := make([]Book, 0, len(books))
	for _, b := range books {
		if strings.Contains(fold(b.Title), needle) {
			out = append(out, b)
		}
	}
	return out
}

func fold(s string) string {
	return folder.String(s)
}
