package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"

	"storyforge/api/internal/store"
)

func seedSystemProfile(mem *memStore, id, toneKey string) {
	mem.aiProfiles[id] = store.AIProfile{
		ID:           id,
		Name:         "Profile " + toneKey,
		ToneKey:      toneKey,
		SystemPrompt: "You review chapters as " + toneKey + ".",
	}
}

func TestGenerateSummaryStoresModelOutput(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 2)
	model := &fakeLLM{generateJSONFn: func(_, _ string) (string, error) {
		return `{"pov":"Mara","characters":["Mara","Tomas"],"beats":["a","b","c","d"],"spoilers":true,"summary":"Mara finds the letter."}`, nil
	}}
	svc := newTestService(t, mem, model)

	summary, err := svc.GenerateSummary(context.Background(), "usr_1", "ch_2")
	if err != nil {
		t.Fatalf("generate summary: %v", err)
	}
	svc.DrainMaintenance()

	if summary.POV != "Mara" || !summary.Spoilers {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	stored, ok := mem.summaries["ch_2"]
	if !ok || stored.Summary != "Mara finds the letter." {
		t.Fatalf("summary not persisted: %+v", stored)
	}
	if len(stored.Beats) != 4 {
		t.Fatalf("beats = %v", stored.Beats)
	}
}

func TestGenerateSummaryFirstChapterHint(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 2)
	var prompts []string
	model := &fakeLLM{generateJSONFn: func(_, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return `{"pov":"x","characters":[],"beats":[],"spoilers":false,"summary":"s"}`, nil
	}}
	svc := newTestService(t, mem, model)
	ctx := context.Background()

	if _, err := svc.GenerateSummary(ctx, "usr_1", "ch_1"); err != nil {
		t.Fatalf("summary ch_1: %v", err)
	}
	if _, err := svc.GenerateSummary(ctx, "usr_1", "ch_2"); err != nil {
		t.Fatalf("summary ch_2: %v", err)
	}
	svc.DrainMaintenance()

	if !strings.Contains(prompts[0], "opening chapter") {
		t.Fatalf("first chapter prompt missing opening hint:\n%s", prompts[0])
	}
	if strings.Contains(prompts[1], "opening chapter") {
		t.Fatalf("later chapter prompt should not carry the opening hint")
	}
}

func TestGenerateSummaryMalformedModelOutput(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 1)
	model := &fakeLLM{generateJSONFn: func(_, _ string) (string, error) {
		return "sorry, I cannot do that", nil
	}}
	svc := newTestService(t, mem, model)

	_, err := svc.GenerateSummary(context.Background(), "usr_1", "ch_1")
	requireDomainError(t, err, http.StatusInternalServerError, "MODEL_ERROR")
	if _, ok := mem.summaries["ch_1"]; ok {
		t.Fatalf("malformed output must not be persisted")
	}
}

func TestGenerateReviewRequiresExactlyOneProfile(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 1)
	svc := newTestService(t, mem, nil)
	ctx := context.Background()

	_, err := svc.GenerateReview(ctx, "usr_1", "ch_1", ReviewerRef{})
	requireDomainError(t, err, http.StatusBadRequest, "VALIDATION")

	_, err = svc.GenerateReview(ctx, "usr_1", "ch_1", ReviewerRef{Tone: "developmental", CustomProfileID: "cp_1"})
	requireDomainError(t, err, http.StatusBadRequest, "VALIDATION")
}

func TestGenerateReviewUnknownToneIsNotFound(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 1)
	svc := newTestService(t, mem, nil)

	_, err := svc.GenerateReview(context.Background(), "usr_1", "ch_1", ReviewerRef{Tone: "sarcastic"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestGenerateReviewHidesForeignCustomProfile(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 1)
	mem.customProfiles["cp_1"] = store.CustomReviewerProfile{ID: "cp_1", UserID: "usr_other", Name: "X", Persona: "y"}
	svc := newTestService(t, mem, nil)

	_, err := svc.GenerateReview(context.Background(), "usr_1", "ch_1", ReviewerRef{CustomProfileID: "cp_1"})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestGenerateReviewIncludesPriorSummaries(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 3)
	seedSystemProfile(mem, "aip_dev", "developmental")
	mem.summaries["ch_1"] = store.ChapterSummary{ChapterID: "ch_1", Summary: "The heist is planned."}
	mem.summaries["ch_3"] = store.ChapterSummary{ChapterID: "ch_3", Summary: "The heist goes wrong."}

	var captured llmCall
	model := &fakeLLM{generateFn: func(system, prompt string) (string, error) {
		captured = llmCall{system: system, prompt: prompt}
		return "A thoughtful review.", nil
	}}
	svc := newTestService(t, mem, model)

	review, err := svc.GenerateReview(context.Background(), "usr_1", "ch_2", ReviewerRef{Tone: "developmental"})
	if err != nil {
		t.Fatalf("generate review: %v", err)
	}

	if captured.system != "You review chapters as developmental." {
		t.Fatalf("system prompt = %q", captured.system)
	}
	if !strings.Contains(captured.prompt, "The heist is planned.") || !strings.Contains(captured.prompt, "The heist goes wrong.") {
		t.Fatalf("prior summaries missing from prompt:\n%s", captured.prompt)
	}
	if strings.Contains(captured.prompt, "Chapter to review: Chapter 1") {
		t.Fatalf("target chapter leaked into the context block")
	}
	if review.Prompt != captured.prompt {
		t.Fatalf("persisted prompt differs from the one sent to the model")
	}
	if review.Content != "A thoughtful review." {
		t.Fatalf("review content = %q", review.Content)
	}
}

func TestGenerateReviewReplacesPriorReview(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 1)
	seedSystemProfile(mem, "aip_dev", "developmental")
	seedSystemProfile(mem, "aip_line", "line_editor")

	content := "first take"
	model := &fakeLLM{generateFn: func(_, _ string) (string, error) { return content, nil }}
	svc := newTestService(t, mem, model)
	ctx := context.Background()

	if _, err := svc.GenerateReview(ctx, "usr_1", "ch_1", ReviewerRef{Tone: "developmental"}); err != nil {
		t.Fatalf("first review: %v", err)
	}
	content = "second take"
	if _, err := svc.GenerateReview(ctx, "usr_1", "ch_1", ReviewerRef{Tone: "developmental"}); err != nil {
		t.Fatalf("second review: %v", err)
	}
	if _, err := svc.GenerateReview(ctx, "usr_1", "ch_1", ReviewerRef{Tone: "line_editor"}); err != nil {
		t.Fatalf("other tone review: %v", err)
	}

	reviews, _ := svc.ListReviews(ctx, "usr_1", "ch_1")
	if len(reviews) != 2 {
		t.Fatalf("got %d reviews, want 2 (one per profile)", len(reviews))
	}
	for _, review := range reviews {
		if review.AIProfileID != nil && *review.AIProfileID == "aip_dev" && review.Content != "second take" {
			t.Fatalf("rerun did not replace the developmental review: %q", review.Content)
		}
	}
}

func TestGenerateReviewModelFailure(t *testing.T) {
	mem := newMemStore()
	seedBook(mem, "usr_1", "bk_1", 1)
	seedSystemProfile(mem, "aip_dev", "developmental")
	model := &fakeLLM{generateFn: func(_, _ string) (string, error) {
		return "", errors.New("upstream timeout")
	}}
	svc := newTestService(t, mem, model)

	_, err := svc.GenerateReview(context.Background(), "usr_1", "ch_1", ReviewerRef{Tone: "developmental"})
	requireDomainError(t, err, http.StatusInternalServerError, "MODEL_ERROR")
	if len(mem.reviews) != 0 {
		t.Fatalf("failed review was persisted")
	}
	if model.callCount() != 1 {
		t.Fatalf("model called %d times, want 1 (no retries)", model.callCount())
	}
}

func TestCustomProfileLifecycle(t *testing.T) {
	mem := newMemStore()
	svc := newTestService(t, mem, nil)
	ctx := context.Background()

	_, err := svc.CreateCustomProfile(ctx, "usr_1", CustomProfileInput{Name: " ", Persona: "p"})
	requireDomainError(t, err, http.StatusBadRequest, "VALIDATION")

	profile, err := svc.CreateCustomProfile(ctx, "usr_1", CustomProfileInput{Name: "Grumpy Critic", Persona: "Never satisfied."})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if !strings.HasPrefix(profile.ID, "cp_") {
		t.Fatalf("profile id = %q", profile.ID)
	}

	err = svc.DeleteCustomProfile(ctx, "usr_other", profile.ID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	if err := svc.DeleteCustomProfile(ctx, "usr_1", profile.ID); err != nil {
		t.Fatalf("delete profile: %v", err)
	}
	if len(mem.customProfiles) != 0 {
		t.Fatalf("profile not deleted")
	}
}
