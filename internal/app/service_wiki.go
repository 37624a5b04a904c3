package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"storyforge/api/internal/store"
	"storyforge/api/internal/util"
)

var allowedPageTypes = map[string]struct{}{
	"character": {},
	"location":  {},
	"concept":   {},
	"other":     {},
}

func (s *Service) ListWikiPages(ctx context.Context, userID, bookID string) ([]store.WikiPage, error) {
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return nil, err
	}
	pages, err := s.store.ListWikiPages(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list wiki pages: %w", err)
	}
	return pages, nil
}

func (s *Service) wikiPageForOwner(ctx context.Context, userID, pageID string) (store.WikiPage, error) {
	page, err := s.store.GetWikiPage(ctx, pageID)
	if err != nil {
		return store.WikiPage{}, err
	}
	if _, err := s.bookForOwner(ctx, userID, page.BookID); err != nil {
		return store.WikiPage{}, err
	}
	return page, nil
}

func (s *Service) GetWikiPage(ctx context.Context, userID, pageID string) (store.WikiPage, error) {
	return s.wikiPageForOwner(ctx, userID, pageID)
}

type CreateWikiPageInput struct {
	Name     string   `json:"name"`
	PageType string   `json:"pageType"`
	Content  string   `json:"content"`
	Summary  string   `json:"summary"`
	Aliases  []string `json:"aliases"`
	Tags     []string `json:"tags"`
	IsMajor  bool     `json:"isMajor"`
}

func (s *Service) CreateWikiPage(ctx context.Context, userID, bookID string, input CreateWikiPageInput) (store.WikiPage, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.WikiPage{}, domainError(http.StatusBadRequest, "VALIDATION", "Name is required", nil)
	}
	pageType := input.PageType
	if pageType == "" {
		pageType = "character"
	}
	if _, ok := allowedPageTypes[pageType]; !ok {
		return store.WikiPage{}, domainError(http.StatusBadRequest, "VALIDATION", "Unknown page type", map[string]string{"pageType": pageType})
	}
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return store.WikiPage{}, err
	}
	existing, err := s.store.GetWikiPageByName(ctx, bookID, name)
	if err != nil {
		return store.WikiPage{}, fmt.Errorf("check wiki page name: %w", err)
	}
	if existing != nil {
		return store.WikiPage{}, domainError(http.StatusBadRequest, "VALIDATION", "A page with this name already exists", nil)
	}

	page := store.WikiPage{
		ID:       util.NewID("pg"),
		BookID:   bookID,
		Name:     name,
		PageType: pageType,
		Content:  input.Content,
		Summary:  input.Summary,
		Aliases:  orEmpty(input.Aliases),
		Tags:     orEmpty(input.Tags),
		IsMajor:  input.IsMajor,
	}
	if err := s.store.InsertWikiPage(ctx, page); err != nil {
		return store.WikiPage{}, fmt.Errorf("insert wiki page: %w", err)
	}
	return page, nil
}

type UpdateWikiPageInput struct {
	Name     *string   `json:"name"`
	PageType *string   `json:"pageType"`
	Content  *string   `json:"content"`
	Summary  *string   `json:"summary"`
	Aliases  *[]string `json:"aliases"`
	Tags     *[]string `json:"tags"`
	IsMajor  *bool     `json:"isMajor"`
}

// UpdateWikiPage applies a partial edit. A content change appends exactly one
// manual_edit row to the page's update trail; edits that leave content alone
// leave the trail alone.
func (s *Service) UpdateWikiPage(ctx context.Context, userID, pageID string, input UpdateWikiPageInput) (store.WikiPage, error) {
	page, err := s.wikiPageForOwner(ctx, userID, pageID)
	if err != nil {
		return store.WikiPage{}, err
	}

	previousContent := page.Content
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return store.WikiPage{}, domainError(http.StatusBadRequest, "VALIDATION", "Name cannot be empty", nil)
		}
		page.Name = name
	}
	if input.PageType != nil {
		if _, ok := allowedPageTypes[*input.PageType]; !ok {
			return store.WikiPage{}, domainError(http.StatusBadRequest, "VALIDATION", "Unknown page type", map[string]string{"pageType": *input.PageType})
		}
		page.PageType = *input.PageType
	}
	if input.Content != nil {
		page.Content = *input.Content
	}
	if input.Summary != nil {
		page.Summary = *input.Summary
	}
	if input.Aliases != nil {
		page.Aliases = orEmpty(*input.Aliases)
	}
	if input.Tags != nil {
		page.Tags = orEmpty(*input.Tags)
	}
	if input.IsMajor != nil {
		page.IsMajor = *input.IsMajor
	}

	if err := s.store.UpdateWikiPage(ctx, page); err != nil {
		return store.WikiPage{}, fmt.Errorf("update wiki page: %w", err)
	}

	if page.Content != previousContent {
		update := store.WikiUpdate{
			WikiPageID:      page.ID,
			UpdateType:      "manual_edit",
			PreviousContent: previousContent,
			NewContent:      page.Content,
		}
		if err := s.store.InsertWikiUpdate(ctx, update); err != nil {
			return store.WikiPage{}, fmt.Errorf("log wiki update: %w", err)
		}
	}
	return page, nil
}

func (s *Service) DeleteWikiPage(ctx context.Context, userID, pageID string) error {
	page, err := s.wikiPageForOwner(ctx, userID, pageID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteWikiPage(ctx, page.ID); err != nil {
		return fmt.Errorf("delete wiki page: %w", err)
	}
	return nil
}

func (s *Service) ListWikiUpdates(ctx context.Context, userID, pageID string) ([]store.WikiUpdate, error) {
	page, err := s.wikiPageForOwner(ctx, userID, pageID)
	if err != nil {
		return nil, err
	}
	updates, err := s.store.ListWikiUpdates(ctx, page.ID)
	if err != nil {
		return nil, fmt.Errorf("list wiki updates: %w", err)
	}
	return updates, nil
}

type FindReplaceInput struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

type FindReplaceResult struct {
	PagesChanged int `json:"pagesChanged"`
}

// FindReplace substitutes a literal needle, case-insensitively, across every
// page's name, summary, and content in the book.
func (s *Service) FindReplace(ctx context.Context, userID, bookID string, input FindReplaceInput) (FindReplaceResult, error) {
	if input.Find == "" {
		return FindReplaceResult{}, domainError(http.StatusBadRequest, "VALIDATION", "Find text is required", nil)
	}
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return FindReplaceResult{}, err
	}
	pages, err := s.store.ListWikiPages(ctx, bookID)
	if err != nil {
		return FindReplaceResult{}, fmt.Errorf("list wiki pages: %w", err)
	}

	needle := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(input.Find))
	result := FindReplaceResult{}
	for _, page := range pages {
		newName := needle.ReplaceAllLiteralString(page.Name, input.Replace)
		newSummary := needle.ReplaceAllLiteralString(page.Summary, input.Replace)
		newContent := needle.ReplaceAllLiteralString(page.Content, input.Replace)
		if newName == page.Name && newSummary == page.Summary && newContent == page.Content {
			continue
		}
		previousContent := page.Content
		page.Name = newName
		page.Summary = newSummary
		page.Content = newContent
		if err := s.store.UpdateWikiPage(ctx, page); err != nil {
			return result, fmt.Errorf("update wiki page: %w", err)
		}
		if page.Content != previousContent {
			update := store.WikiUpdate{
				WikiPageID:      page.ID,
				UpdateType:      "manual_edit",
				PreviousContent: previousContent,
				NewContent:      page.Content,
			}
			if err := s.store.InsertWikiUpdate(ctx, update); err != nil {
				return result, fmt.Errorf("log wiki update: %w", err)
			}
		}
		result.PagesChanged++
	}
	return result, nil
}

// ListBookCharacters returns the character roster maintained by the wiki
// pass, most-mentioned first.
func (s *Service) ListBookCharacters(ctx context.Context, userID, bookID string) ([]store.BookCharacter, error) {
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return nil, err
	}
	characters, err := s.store.ListBookCharacters(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list book characters: %w", err)
	}
	return characters, nil
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

const characterProfilePrompt = `You maintain a story wiki for the author. Respond with a single JSON
object and nothing else, with keys:
  "content": a wiki article about the character based only on the chapter,
  "summary": one sentence describing the character,
  "aliases": array of other names the character goes by in the chapter,
  "isMajor": boolean, true when the character drives the chapter's events.`

const reconcilePrompt = `You maintain a story wiki for the author. Compare the existing article with
the new chapter. Respond with a single JSON object and nothing else, with keys:
  "changed": boolean, true only when the chapter adds or contradicts information,
  "content": the full revised article (required when changed is true),
  "summary": one sentence describing the character,
  "contradiction": a short note when the chapter contradicts the article, else "".`

type generatedProfile struct {
	Content string   `json:"content"`
	Summary string   `json:"summary"`
	Aliases []string `json:"aliases"`
	IsMajor bool     `json:"isMajor"`
}

type reconcileOutcome struct {
	Changed       bool   `json:"changed"`
	Content       string `json:"content"`
	Summary       string `json:"summary"`
	Contradiction string `json:"contradiction"`
}

// scheduleWikiMaintenance runs the maintenance pass on its own goroutine. The
// triggering request never waits on it and never sees its errors.
func (s *Service) scheduleWikiMaintenance(book store.Book, chapter store.Chapter, characters []string) {
	s.maint.Add(1)
	go func() {
		defer s.maint.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("wiki maintenance panicked", "book_id", book.ID, "chapter_id", chapter.ID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.runWikiMaintenance(ctx, book, chapter, characters)
	}()
}

// runWikiMaintenance reconciles the book's wiki with a freshly summarized
// chapter. Every failure is logged and swallowed: a broken wiki pass must not
// surface anywhere.
func (s *Service) runWikiMaintenance(ctx context.Context, book store.Book, chapter store.Chapter, characters []string) {
	for _, name := range characters {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := s.store.UpsertBookCharacter(ctx, util.NewID("bc"), book.ID, name, chapter.ID); err != nil {
			s.logger.Warn("wiki maintenance: character roster upsert failed", "book_id", book.ID, "name", name, "error", err)
		}

		page, err := s.store.GetWikiPageByName(ctx, book.ID, name)
		if err != nil {
			s.logger.Warn("wiki maintenance: page lookup failed", "book_id", book.ID, "name", name, "error", err)
			continue
		}

		var pageID string
		if page == nil {
			pageID = s.createCharacterPage(ctx, book, chapter, name)
			if pageID == "" {
				continue
			}
			if err := s.store.SetBookCharacterPage(ctx, book.ID, name, pageID); err != nil {
				s.logger.Warn("wiki maintenance: link character page failed", "book_id", book.ID, "name", name, "error", err)
			}
		} else {
			pageID = page.ID
			s.reconcileCharacterPage(ctx, chapter, *page)
		}

		mention := store.ChapterWikiMention{
			ChapterID:  chapter.ID,
			WikiPageID: pageID,
			Context:    fmt.Sprintf("Appears in %q", chapter.Title),
		}
		if err := s.store.UpsertMention(ctx, mention); err != nil {
			s.logger.Warn("wiki maintenance: mention upsert failed", "chapter_id", chapter.ID, "page_id", pageID, "error", err)
		}
	}
}

// createCharacterPage builds a new character page from the chapter, falling
// back to a minimal stub when the model cannot produce a profile. Returns the
// new page id, or "" when even the stub could not be written.
func (s *Service) createCharacterPage(ctx context.Context, book store.Book, chapter store.Chapter, name string) string {
	profile := generatedProfile{
		Content: fmt.Sprintf("%s appears in %q.", name, chapter.Title),
		Summary: fmt.Sprintf("A character in %s.", book.Title),
		Aliases: []string{},
	}

	prompt := fmt.Sprintf("Character: %s\nChapter: %s\n\n%s", name, chapter.Title, chapter.Content)
	raw, err := s.model.GenerateJSON(ctx, characterProfilePrompt, prompt)
	if err != nil {
		s.logger.Warn("wiki maintenance: profile generation failed, using stub", "name", name, "error", err)
	} else if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		s.logger.Warn("wiki maintenance: profile response malformed, using stub", "name", name, "error", err)
	}

	page := store.WikiPage{
		ID:          util.NewID("pg"),
		BookID:      book.ID,
		Name:        name,
		PageType:    "character",
		Content:     profile.Content,
		Summary:     profile.Summary,
		Aliases:     orEmpty(profile.Aliases),
		Tags:        []string{},
		IsMajor:     profile.IsMajor,
		AIGenerated: true,
	}
	if err := s.store.InsertWikiPage(ctx, page); err != nil {
		s.logger.Warn("wiki maintenance: page insert failed", "name", name, "error", err)
		return ""
	}

	update := store.WikiUpdate{
		WikiPageID: page.ID,
		ChapterID:  &chapter.ID,
		UpdateType: "created",
		NewContent: page.Content,
	}
	if err := s.store.InsertWikiUpdate(ctx, update); err != nil {
		s.logger.Warn("wiki maintenance: created update log failed", "page_id", page.ID, "error", err)
	}
	return page.ID
}

// reconcileCharacterPage asks the model whether the chapter changes what the
// page says, and when it does, overwrites the page and logs the change.
func (s *Service) reconcileCharacterPage(ctx context.Context, chapter store.Chapter, page store.WikiPage) {
	prompt := fmt.Sprintf("Existing article for %s:\n%s\n\nNew chapter %q:\n%s",
		page.Name, page.Content, chapter.Title, chapter.Content)
	raw, err := s.model.GenerateJSON(ctx, reconcilePrompt, prompt)
	if err != nil {
		s.logger.Warn("wiki maintenance: reconcile failed", "page_id", page.ID, "error", err)
		return
	}
	var outcome reconcileOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		s.logger.Warn("wiki maintenance: reconcile response malformed", "page_id", page.ID, "error", err)
		return
	}
	if !outcome.Changed || strings.TrimSpace(outcome.Content) == "" {
		return
	}

	previousContent := page.Content
	page.Content = outcome.Content
	if strings.TrimSpace(outcome.Summary) != "" {
		page.Summary = outcome.Summary
	}
	if err := s.store.UpdateWikiPage(ctx, page); err != nil {
		s.logger.Warn("wiki maintenance: page update failed", "page_id", page.ID, "error", err)
		return
	}

	updateType := "updated"
	if strings.TrimSpace(outcome.Contradiction) != "" {
		updateType = "contradiction_noted"
	}
	update := store.WikiUpdate{
		WikiPageID:      page.ID,
		ChapterID:       &chapter.ID,
		UpdateType:      updateType,
		PreviousContent: previousContent,
		NewContent:      page.Content,
		Contradiction:   outcome.Contradiction,
	}
	if err := s.store.InsertWikiUpdate(ctx, update); err != nil {
		s.logger.Warn("wiki maintenance: update log failed", "page_id", page.ID, "error", err)
	}
}
