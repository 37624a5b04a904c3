package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"storyforge/api/internal/store"
	"storyforge/api/internal/util"
)

const summarySystemPrompt = `You are an assistant that summarizes fiction chapters for the author's
private notes. Respond with a single JSON object and nothing else, using
exactly these keys:
  "pov": the point-of-view character's name, or "unknown",
  "characters": array of character names appearing in the chapter,
  "beats": array of at least 4 short strings, the chapter's story beats in order,
  "spoilers": boolean, true when the chapter reveals a major plot twist,
  "summary": one paragraph summarizing the chapter.`

type generatedSummary struct {
	POV        string   `json:"pov"`
	Characters []string `json:"characters"`
	Beats      []string `json:"beats"`
	Spoilers   bool     `json:"spoilers"`
	Summary    string   `json:"summary"`
}

// GenerateSummary asks the model for a structured summary of the chapter,
// stores it, and kicks off the wiki maintenance pass. One model call, no
// retries: a bad response is the caller's 500.
func (s *Service) GenerateSummary(ctx context.Context, userID, chapterID string) (store.ChapterSummary, error) {
	chapter, book, err := s.chapterForOwner(ctx, userID, chapterID)
	if err != nil {
		return store.ChapterSummary{}, err
	}

	minID, err := s.store.MinChapterID(ctx, chapter.BookID)
	if err != nil {
		return store.ChapterSummary{}, fmt.Errorf("find first chapter: %w", err)
	}
	isFirst := minID == chapter.ID

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Book: %s\nChapter: %s\n", book.Title, chapter.Title)
	if isFirst {
		prompt.WriteString("This is the opening chapter; introduce every named character in the characters list.\n")
	}
	prompt.WriteString("\n")
	prompt.WriteString(chapter.Content)

	raw, err := s.model.GenerateJSON(ctx, summarySystemPrompt, prompt.String())
	if err != nil {
		s.logger.Error("summary generation failed", "chapter_id", chapter.ID, "error", err)
		return store.ChapterSummary{}, domainError(http.StatusInternalServerError, "MODEL_ERROR", "The model did not return a summary", err.Error())
	}

	var generated generatedSummary
	if err := json.Unmarshal([]byte(raw), &generated); err != nil {
		s.logger.Error("summary response malformed", "chapter_id", chapter.ID, "error", err)
		return store.ChapterSummary{}, domainError(http.StatusInternalServerError, "MODEL_ERROR", "The model returned malformed output", err.Error())
	}
	if strings.TrimSpace(generated.Summary) == "" {
		return store.ChapterSummary{}, domainError(http.StatusInternalServerError, "MODEL_ERROR", "The model returned an empty summary", nil)
	}

	summary := store.ChapterSummary{
		ChapterID:  chapter.ID,
		POV:        generated.POV,
		Characters: generated.Characters,
		Beats:      generated.Beats,
		Spoilers:   generated.Spoilers,
		Summary:    generated.Summary,
	}
	if err := s.store.UpsertChapterSummary(ctx, summary); err != nil {
		return store.ChapterSummary{}, fmt.Errorf("upsert summary: %w", err)
	}

	s.scheduleWikiMaintenance(book, chapter, generated.Characters)
	return summary, nil
}

// ReviewerRef names the reviewing persona: exactly one of Tone (a system
// profile key) or CustomProfileID must be set.
type ReviewerRef struct {
	Tone            string `json:"tone"`
	CustomProfileID string `json:"customProfileId"`
}

func (s *Service) GenerateReview(ctx context.Context, userID, chapterID string, ref ReviewerRef) (store.Review, error) {
	if (ref.Tone == "") == (ref.CustomProfileID == "") {
		return store.Review{}, domainError(http.StatusBadRequest, "VALIDATION", "Provide exactly one of tone or customProfileId", nil)
	}

	chapter, book, err := s.chapterForOwner(ctx, userID, chapterID)
	if err != nil {
		return store.Review{}, err
	}

	var systemPrompt string
	review := store.Review{
		ID:        util.NewID("rv"),
		ChapterID: chapter.ID,
	}
	if ref.Tone != "" {
		profile, err := s.store.GetSystemProfileByTone(ctx, ref.Tone)
		if err != nil {
			return store.Review{}, err
		}
		review.AIProfileID = &profile.ID
		systemPrompt = profile.SystemPrompt
	} else {
		profile, err := s.store.GetCustomProfile(ctx, ref.CustomProfileID)
		if err != nil {
			return store.Review{}, err
		}
		if profile.UserID != userID {
			return store.Review{}, domainError(http.StatusNotFound, "NOT_FOUND", "Reviewer profile not found", nil)
		}
		review.CustomProfileID = &profile.ID
		systemPrompt = fmt.Sprintf("You are %s. %s\nReview the chapter in this voice.", profile.Name, profile.Persona)
	}

	contexts, err := s.store.ListSummaryContexts(ctx, chapter.BookID, chapter.ID)
	if err != nil {
		return store.Review{}, fmt.Errorf("list summary contexts: %w", err)
	}

	prompt := buildReviewPrompt(book, chapter, contexts)
	content, err := s.model.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		s.logger.Error("review generation failed", "chapter_id", chapter.ID, "error", err)
		return store.Review{}, domainError(http.StatusInternalServerError, "MODEL_ERROR", "The model did not return a review", err.Error())
	}

	review.Content = content
	review.Prompt = prompt
	if err := s.store.UpsertReview(ctx, review); err != nil {
		return store.Review{}, fmt.Errorf("upsert review: %w", err)
	}
	return review, nil
}

func buildReviewPrompt(book store.Book, chapter store.Chapter, contexts []store.SummaryContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Book: %s\n", book.Title)
	if len(contexts) > 0 {
		b.WriteString("\nPreviously in this book:\n")
		for _, c := range contexts {
			fmt.Fprintf(&b, "- %s: %s\n", c.Title, c.Summary)
		}
	}
	fmt.Fprintf(&b, "\nChapter to review: %s\n\n%s", chapter.Title, chapter.Content)
	return b.String()
}

func (s *Service) ListReviews(ctx context.Context, userID, chapterID string) ([]store.Review, error) {
	chapter, _, err := s.chapterForOwner(ctx, userID, chapterID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.store.ListReviews(ctx, chapter.ID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

func (s *Service) ListAIProfiles(ctx context.Context, userID string) ([]store.AIProfile, error) {
	profiles, err := s.store.ListAIProfiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list ai profiles: %w", err)
	}
	return profiles, nil
}

type CustomProfileInput struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

func (s *Service) CreateCustomProfile(ctx context.Context, userID string, input CustomProfileInput) (store.CustomReviewerProfile, error) {
	name := strings.TrimSpace(input.Name)
	persona := strings.TrimSpace(input.Persona)
	if name == "" || persona == "" {
		return store.CustomReviewerProfile{}, domainError(http.StatusBadRequest, "VALIDATION", "Name and persona are required", nil)
	}
	profile := store.CustomReviewerProfile{
		ID:      util.NewID("cp"),
		UserID:  userID,
		Name:    name,
		Persona: persona,
	}
	if err := s.store.InsertCustomProfile(ctx, profile); err != nil {
		return store.CustomReviewerProfile{}, fmt.Errorf("insert custom profile: %w", err)
	}
	return profile, nil
}

func (s *Service) ListCustomProfiles(ctx context.Context, userID string) ([]store.CustomReviewerProfile, error) {
	profiles, err := s.store.ListCustomProfiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list custom profiles: %w", err)
	}
	return profiles, nil
}

func (s *Service) DeleteCustomProfile(ctx context.Context, userID, profileID string) error {
	profile, err := s.store.GetCustomProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if profile.UserID != userID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Reviewer profile not found", nil)
	}
	if err := s.store.DeleteCustomProfile(ctx, profile.ID); err != nil {
		return fmt.Errorf("delete custom profile: %w", err)
	}
	return nil
}
