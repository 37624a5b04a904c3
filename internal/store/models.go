package store

import "time"

type User struct {
	ID          string
	Subject     string
	Email       string
	DisplayName string
	Username    string
	CreatedAt   time.Time
}

type Book struct {
	ID           string
	UserID       string
	Title        string
	ChapterOrder []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BookListing is a Book annotated with aggregates for list views.
type BookListing struct {
	Book
	ChapterCount int
	WordCount    int
}

type Part struct {
	ID           string
	BookID       string
	Name         string
	ChapterOrder []string
}

type Chapter struct {
	ID        string
	BookID    string
	PartID    *string
	Title     string
	Content   string
	WordCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChapterSummary struct {
	ChapterID  string
	POV        string
	Characters []string
	Beats      []string
	Spoilers   bool
	Summary    string
	UpdatedAt  time.Time
}

// SummaryContext is the slice of a chapter's summary used as prior context
// when reviewing another chapter of the same book.
type SummaryContext struct {
	ChapterID string
	Title     string
	Summary   string
}

// ChapterListing is a Chapter row annotated for book-level listings; positions
// within the order arrays are filled in by the caller.
type ChapterListing struct {
	ID         string
	Title      string
	WordCount  int
	PartID     *string
	PartName   string
	HasSummary bool
}

type AIProfile struct {
	ID           string
	UserID       *string
	Name         string
	ToneKey      string
	SystemPrompt string
}

type CustomReviewerProfile struct {
	ID        string
	UserID    string
	Name      string
	Persona   string
	CreatedAt time.Time
}

// Review references exactly one of AIProfileID and CustomProfileID; the schema
// enforces the exclusion with a CHECK constraint.
type Review struct {
	ID              string
	ChapterID       string
	AIProfileID     *string
	CustomProfileID *string
	Content         string
	Prompt          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type WikiPage struct {
	ID          string
	BookID      string
	Name        string
	PageType    string
	Content     string
	Summary     string
	Aliases     []string
	Tags        []string
	IsMajor     bool
	AIGenerated bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WikiUpdate rows are append-only; nothing mutates them after insertion.
type WikiUpdate struct {
	ID              int64
	WikiPageID      string
	ChapterID       *string
	UpdateType      string
	PreviousContent string
	NewContent      string
	Contradiction   string
	CreatedAt       time.Time
}

type ChapterWikiMention struct {
	ChapterID  string
	WikiPageID string
	Context    string
}

type BookCharacter struct {
	ID             string
	BookID         string
	Name           string
	MentionCount   int
	FirstChapterID *string
	WikiPageID     *string
}
