// Package app holds the service layer and HTTP surface. The Service owns all
// business rules; handlers translate HTTP to service calls and back.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"storyforge/api/internal/config"
	"storyforge/api/internal/identity"
	"storyforge/api/internal/llm"
	"storyforge/api/internal/store"
	"storyforge/api/internal/util"
)

// Identity is the authenticated caller attached to each request.
type Identity struct {
	UserID        string `json:"userId"`
	Subject       string `json:"subject"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	Username      string `json:"username"`
}

type identityResolver interface {
	Resolve(ctx context.Context, token string) (identity.Identity, error)
}

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureUserBySubject(ctx context.Context, id, subject, email, username string) (store.User, error)

	GetBook(ctx context.Context, bookID string) (store.Book, error)
	ListBooks(ctx context.Context, userID string) ([]store.BookListing, error)
	InsertBook(ctx context.Context, book store.Book) error
	UpdateBookTitle(ctx context.Context, bookID, title string) error
	DeleteBook(ctx context.Context, bookID string) error

	GetChapter(ctx context.Context, chapterID string) (store.Chapter, error)
	InsertChapter(ctx context.Context, chapter store.Chapter) error
	UpdateChapter(ctx context.Context, chapterID, title, content string, wordCount int) error
	DeleteChapter(ctx context.Context, bookID, chapterID string) error
	ListChapters(ctx context.Context, bookID string) ([]store.ChapterListing, error)
	ListChapterIDs(ctx context.Context, bookID string) ([]string, error)
	MinChapterID(ctx context.Context, bookID string) (string, error)

	MoveChapter(ctx context.Context, params store.MoveChapterParams) error
	ApplyBookOrder(ctx context.Context, bookID string, order []string, partOrders map[string][]string, unassigned []string) error
	GetPart(ctx context.Context, partID string) (store.Part, error)
	ListParts(ctx context.Context, bookID string) ([]store.Part, error)
	InsertPart(ctx context.Context, part store.Part) error
	RenamePart(ctx context.Context, partID, name string) error
	DeletePart(ctx context.Context, partID string) error

	GetChapterSummary(ctx context.Context, chapterID string) (*store.ChapterSummary, error)
	UpsertChapterSummary(ctx context.Context, summary store.ChapterSummary) error
	ListSummaryContexts(ctx context.Context, bookID, excludeChapterID string) ([]store.SummaryContext, error)

	GetSystemProfileByTone(ctx context.Context, toneKey string) (store.AIProfile, error)
	ListAIProfiles(ctx context.Context, userID string) ([]store.AIProfile, error)
	GetCustomProfile(ctx context.Context, profileID string) (store.CustomReviewerProfile, error)
	ListCustomProfiles(ctx context.Context, userID string) ([]store.CustomReviewerProfile, error)
	InsertCustomProfile(ctx context.Context, profile store.CustomReviewerProfile) error
	DeleteCustomProfile(ctx context.Context, profileID string) error
	UpsertReview(ctx context.Context, review store.Review) error
	ListReviews(ctx context.Context, chapterID string) ([]store.Review, error)

	ListWikiPages(ctx context.Context, bookID string) ([]store.WikiPage, error)
	GetWikiPage(ctx context.Context, pageID string) (store.WikiPage, error)
	GetWikiPageByName(ctx context.Context, bookID, name string) (*store.WikiPage, error)
	InsertWikiPage(ctx context.Context, page store.WikiPage) error
	UpdateWikiPage(ctx context.Context, page store.WikiPage) error
	DeleteWikiPage(ctx context.Context, pageID string) error
	InsertWikiUpdate(ctx context.Context, update store.WikiUpdate) error
	ListWikiUpdates(ctx context.Context, pageID string) ([]store.WikiUpdate, error)
	UpsertMention(ctx context.Context, mention store.ChapterWikiMention) error
	UpsertBookCharacter(ctx context.Context, id, bookID, name, firstChapterID string) error
	SetBookCharacterPage(ctx context.Context, bookID, name, wikiPageID string) error
	ListBookCharacters(ctx context.Context, bookID string) ([]store.BookCharacter, error)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	model  llm.Generator
	ident  identityResolver
	logger *slog.Logger

	maint sync.WaitGroup
}

func NewService(cfg config.Config, dataStore dataStore, model llm.Generator, ident identityResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		model:  model,
		ident:  ident,
		logger: logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DrainMaintenance blocks until all in-flight wiki maintenance passes finish.
// Called on shutdown and from tests.
func (s *Service) DrainMaintenance() {
	s.maint.Wait()
}

// Authenticate verifies the token and ensures a user row exists for the
// caller's subject.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	ident, err := s.ident.Resolve(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	user, err := s.store.EnsureUserBySubject(ctx, util.NewID("usr"), ident.Subject, ident.Email, ident.Username)
	if err != nil {
		return Identity{}, fmt.Errorf("ensure user: %w", err)
	}
	return Identity{
		UserID:        user.ID,
		Subject:       ident.Subject,
		Email:         ident.Email,
		EmailVerified: ident.EmailVerified,
		Username:      ident.Username,
	}, nil
}

// bookForOwner loads a book and enforces ownership. Missing rows surface as
// sql.ErrNoRows for the 404 mapping; a wrong owner is a 403.
func (s *Service) bookForOwner(ctx context.Context, userID, bookID string) (store.Book, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return store.Book{}, err
	}
	if book.UserID != userID {
		return store.Book{}, domainError(http.StatusForbidden, "FORBIDDEN", "You do not own this book", nil)
	}
	return book, nil
}

func (s *Service) chapterForOwner(ctx context.Context, userID, chapterID string) (store.Chapter, store.Book, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return store.Chapter{}, store.Book{}, err
	}
	book, err := s.bookForOwner(ctx, userID, chapter.BookID)
	if err != nil {
		return store.Chapter{}, store.Book{}, err
	}
	return chapter, book, nil
}

type UpsertBookInput struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (s *Service) UpsertBook(ctx context.Context, userID string, input UpsertBookInput) (store.Book, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Book{}, domainError(http.StatusBadRequest, "VALIDATION", "Title is required", nil)
	}

	if input.ID == "" {
		book := store.Book{
			ID:           util.NewID("bk"),
			UserID:       userID,
			Title:        title,
			ChapterOrder: []string{},
		}
		if err := s.store.InsertBook(ctx, book); err != nil {
			return store.Book{}, fmt.Errorf("insert book: %w", err)
		}
		return book, nil
	}

	book, err := s.bookForOwner(ctx, userID, input.ID)
	if err != nil {
		return store.Book{}, err
	}
	if err := s.store.UpdateBookTitle(ctx, book.ID, title); err != nil {
		return store.Book{}, fmt.Errorf("update book: %w", err)
	}
	book.Title = title
	return book, nil
}

func (s *Service) ListBooks(ctx context.Context, userID string) ([]store.BookListing, error) {
	books, err := s.store.ListBooks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

func (s *Service) DeleteBook(ctx context.Context, userID, bookID string) error {
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return err
	}
	if err := s.store.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

type UpsertChapterInput struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Service) UpsertChapter(ctx context.Context, userID, bookID string, input UpsertChapterInput) (store.Chapter, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Chapter{}, domainError(http.StatusBadRequest, "VALIDATION", "Title is required", nil)
	}
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return store.Chapter{}, err
	}

	wordCount := countWords(input.Content)

	if input.ID == "" {
		chapter := store.Chapter{
			ID:        util.NewID("ch"),
			BookID:    bookID,
			Title:     title,
			Content:   input.Content,
			WordCount: wordCount,
		}
		if err := s.store.InsertChapter(ctx, chapter); err != nil {
			return store.Chapter{}, fmt.Errorf("insert chapter: %w", err)
		}
		return chapter, nil
	}

	chapter, err := s.store.GetChapter(ctx, input.ID)
	if err != nil {
		return store.Chapter{}, err
	}
	if chapter.BookID != bookID {
		return store.Chapter{}, domainError(http.StatusNotFound, "NOT_FOUND", "Chapter not found in this book", nil)
	}
	if err := s.store.UpdateChapter(ctx, chapter.ID, title, input.Content, wordCount); err != nil {
		return store.Chapter{}, fmt.Errorf("update chapter: %w", err)
	}
	chapter.Title = title
	chapter.Content = input.Content
	chapter.WordCount = wordCount
	return chapter, nil
}

// ChapterDetail is a chapter with its summary, when one exists.
type ChapterDetail struct {
	Chapter store.Chapter
	Summary *store.ChapterSummary
}

func (s *Service) GetChapter(ctx context.Context, userID, chapterID string) (ChapterDetail, error) {
	chapter, _, err := s.chapterForOwner(ctx, userID, chapterID)
	if err != nil {
		return ChapterDetail{}, err
	}
	summary, err := s.store.GetChapterSummary(ctx, chapterID)
	if err != nil {
		return ChapterDetail{}, fmt.Errorf("get chapter summary: %w", err)
	}
	return ChapterDetail{Chapter: chapter, Summary: summary}, nil
}

func (s *Service) DeleteChapter(ctx context.Context, userID, chapterID string) error {
	chapter, _, err := s.chapterForOwner(ctx, userID, chapterID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteChapter(ctx, chapter.BookID, chapter.ID); err != nil {
		return fmt.Errorf("delete chapter: %w", err)
	}
	return nil
}

// ChapterView is a listing row with positions resolved against the book's and
// part's order arrays. Position is the zero-based index in the book order;
// PartPosition is one-based within the part, zero when unassigned.
type ChapterView struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	WordCount    int     `json:"wordCount"`
	PartID       *string `json:"partId"`
	PartName     string  `json:"partName,omitempty"`
	HasSummary   bool    `json:"hasSummary"`
	Position     int     `json:"position"`
	PartPosition int     `json:"partPosition,omitempty"`
}

func (s *Service) ListChapters(ctx context.Context, userID, bookID string) ([]ChapterView, error) {
	book, err := s.bookForOwner(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	listings, err := s.store.ListChapters(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	parts, err := s.store.ListParts(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}

	globalPos := make(map[string]int, len(book.ChapterOrder))
	for i, id := range book.ChapterOrder {
		globalPos[id] = i
	}
	partPos := make(map[string]int)
	for _, part := range parts {
		for i, id := range part.ChapterOrder {
			partPos[id] = i + 1
		}
	}

	views := make([]ChapterView, 0, len(listings))
	for _, listing := range listings {
		view := ChapterView{
			ID:         listing.ID,
			Title:      listing.Title,
			WordCount:  listing.WordCount,
			PartID:     listing.PartID,
			PartName:   listing.PartName,
			HasSummary: listing.HasSummary,
		}
		if pos, ok := globalPos[listing.ID]; ok {
			view.Position = pos
		} else {
			view.Position = len(book.ChapterOrder)
		}
		if listing.PartID != nil {
			view.PartPosition = partPos[listing.ID]
		}
		views = append(views, view)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Position < views[j].Position
	})
	return views, nil
}

func countWords(content string) int {
	return len(strings.Fields(content))
}
