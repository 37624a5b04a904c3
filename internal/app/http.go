package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"storyforge/api/internal/auth"
	"storyforge/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	// No request deadline here: review generation on a long chapter can
	// legitimately outlive any middleware timeout, so cancellation is left
	// to the client and the driver.
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.corsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)

		api.Group(func(protected chi.Router) {
			protected.Use(s.authenticate)

			protected.Get("/me", s.handleMe)

			protected.Get("/books", s.handleListBooks)
			protected.Post("/books", s.handleUpsertBook)
			protected.Delete("/books/{bookID}", s.handleDeleteBook)

			protected.Get("/books/{bookID}/chapters", s.handleListChapters)
			protected.Post("/books/{bookID}/chapters", s.handleUpsertChapter)
			protected.Get("/chapters/{chapterID}", s.handleGetChapter)
			protected.Delete("/chapters/{chapterID}", s.handleDeleteChapter)

			protected.Post("/chapters/{chapterID}/move", s.handleMoveChapter)
			protected.Post("/books/{bookID}/order", s.handleApplyBookOrder)

			protected.Get("/books/{bookID}/parts", s.handleListParts)
			protected.Post("/books/{bookID}/parts", s.handleCreatePart)
			protected.Put("/parts/{partID}", s.handleRenamePart)
			protected.Delete("/parts/{partID}", s.handleDeletePart)

			protected.Post("/chapters/{chapterID}/summary", s.handleGenerateSummary)
			protected.Post("/chapters/{chapterID}/reviews", s.handleGenerateReview)
			protected.Get("/chapters/{chapterID}/reviews", s.handleListReviews)

			protected.Get("/profiles", s.handleListAIProfiles)
			protected.Get("/reviewer-profiles", s.handleListCustomProfiles)
			protected.Post("/reviewer-profiles", s.handleCreateCustomProfile)
			protected.Delete("/reviewer-profiles/{profileID}", s.handleDeleteCustomProfile)

			protected.Get("/books/{bookID}/characters", s.handleListBookCharacters)
			protected.Get("/books/{bookID}/wiki", s.handleListWikiPages)
			protected.Post("/books/{bookID}/wiki", s.handleCreateWikiPage)
			protected.Post("/books/{bookID}/wiki/replace", s.handleFindReplace)
			protected.Get("/wiki/{pageID}", s.handleGetWikiPage)
			protected.Patch("/wiki/{pageID}", s.handleUpdateWikiPage)
			protected.Delete("/wiki/{pageID}", s.handleDeleteWikiPage)
			protected.Get("/wiki/{pageID}/updates", s.handleListWikiUpdates)
		})
	})

	return r
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(writer, r)
		s.logger.Info("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type identityKey struct{}

// authenticate resolves the bearer token to an Identity and rejects the
// request otherwise. Expired tokens get their own message so clients can
// prompt for a fresh login.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization required", nil)
			return
		}
		ident, err := s.service.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Session expired", nil)
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", nil)
			default:
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
			}
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerIdentity(r *http.Request) Identity {
	ident, _ := r.Context().Value(identityKey{}).(Identity)
	return ident
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, callerIdentity(r))
}

func (s *HTTPServer) handleListBooks(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	books, err := s.service.ListBooks(r.Context(), ident.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(books))
	for _, book := range books {
		payload = append(payload, map[string]any{
			"id":           book.ID,
			"title":        book.Title,
			"chapterCount": book.ChapterCount,
			"wordCount":    book.WordCount,
			"chapterOrder": book.ChapterOrder,
			"createdAt":    book.CreatedAt,
			"updatedAt":    book.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": payload})
}

func (s *HTTPServer) handleUpsertBook(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input UpsertBookInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created := input.ID == ""
	book, err := s.service.UpsertBook(r.Context(), ident.UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"id":           book.ID,
		"title":        book.Title,
		"chapterOrder": book.ChapterOrder,
	})
}

func (s *HTTPServer) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	if err := s.service.DeleteBook(r.Context(), ident.UserID, chi.URLParam(r, "bookID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleListChapters(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	chapters, err := s.service.ListChapters(r.Context(), ident.UserID, chi.URLParam(r, "bookID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapters": chapters})
}

func (s *HTTPServer) handleUpsertChapter(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input UpsertChapterInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created := input.ID == ""
	chapter, err := s.service.UpsertChapter(r.Context(), ident.UserID, chi.URLParam(r, "bookID"), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"id":        chapter.ID,
		"bookId":    chapter.BookID,
		"title":     chapter.Title,
		"wordCount": chapter.WordCount,
	})
}

func (s *HTTPServer) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	detail, err := s.service.GetChapter(r.Context(), ident.UserID, chi.URLParam(r, "chapterID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := map[string]any{
		"id":        detail.Chapter.ID,
		"bookId":    detail.Chapter.BookID,
		"partId":    detail.Chapter.PartID,
		"title":     detail.Chapter.Title,
		"content":   detail.Chapter.Content,
		"wordCount": detail.Chapter.WordCount,
		"createdAt": detail.Chapter.CreatedAt,
		"updatedAt": detail.Chapter.UpdatedAt,
	}
	if detail.Summary != nil {
		payload["summary"] = map[string]any{
			"pov":        detail.Summary.POV,
			"characters": detail.Summary.Characters,
			"beats":      detail.Summary.Beats,
			"spoilers":   detail.Summary.Spoilers,
			"summary":    detail.Summary.Summary,
			"updatedAt":  detail.Summary.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleDeleteChapter(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	if err := s.service.DeleteChapter(r.Context(), ident.UserID, chi.URLParam(r, "chapterID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleMoveChapter(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input MoveChapterInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.MoveChapter(r.Context(), ident.UserID, chi.URLParam(r, "chapterID"), input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moved": true})
}

func (s *HTTPServer) handleApplyBookOrder(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input ApplyBookOrderInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.ApplyBookOrder(r.Context(), ident.UserID, chi.URLParam(r, "bookID"), input); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": true})
}

func (s *HTTPServer) handleListParts(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	parts, err := s.service.ListParts(r.Context(), ident.UserID, chi.URLParam(r, "bookID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(parts))
	for _, part := range parts {
		payload = append(payload, map[string]any{
			"id":           part.ID,
			"name":         part.Name,
			"chapterOrder": part.ChapterOrder,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"parts": payload})
}

func (s *HTTPServer) handleCreatePart(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input PartInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	part, err := s.service.CreatePart(r.Context(), ident.UserID, chi.URLParam(r, "bookID"), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   part.ID,
		"name": part.Name,
	})
}

func (s *HTTPServer) handleRenamePart(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input PartInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	part, err := s.service.RenamePart(r.Context(), ident.UserID, chi.URLParam(r, "partID"), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":   part.ID,
		"name": part.Name,
	})
}

func (s *HTTPServer) handleDeletePart(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	if err := s.service.DeletePart(r.Context(), ident.UserID, chi.URLParam(r, "partID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	summary, err := s.service.GenerateSummary(r.Context(), ident.UserID, chi.URLParam(r, "chapterID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chapterId":  summary.ChapterID,
		"pov":        summary.POV,
		"characters": summary.Characters,
		"beats":      summary.Beats,
		"spoilers":   summary.Spoilers,
		"summary":    summary.Summary,
	})
}

func (s *HTTPServer) handleGenerateReview(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var ref ReviewerRef
	if err := decodeBody(r, &ref); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	review, err := s.service.GenerateReview(r.Context(), ident.UserID, chi.URLParam(r, "chapterID"), ref)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewPayload(review))
}

func (s *HTTPServer) handleListReviews(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	reviews, err := s.service.ListReviews(r.Context(), ident.UserID, chi.URLParam(r, "chapterID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(reviews))
	for _, review := range reviews {
		payload = append(payload, reviewPayload(review))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": payload})
}

func (s *HTTPServer) handleListAIProfiles(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	profiles, err := s.service.ListAIProfiles(r.Context(), ident.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(profiles))
	for _, profile := range profiles {
		payload = append(payload, map[string]any{
			"id":     profile.ID,
			"name":   profile.Name,
			"tone":   profile.ToneKey,
			"system": profile.UserID == nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": payload})
}

func (s *HTTPServer) handleListCustomProfiles(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	profiles, err := s.service.ListCustomProfiles(r.Context(), ident.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(profiles))
	for _, profile := range profiles {
		payload = append(payload, map[string]any{
			"id":        profile.ID,
			"name":      profile.Name,
			"persona":   profile.Persona,
			"createdAt": profile.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": payload})
}

func (s *HTTPServer) handleCreateCustomProfile(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input CustomProfileInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	profile, err := s.service.CreateCustomProfile(r.Context(), ident.UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      profile.ID,
		"name":    profile.Name,
		"persona": profile.Persona,
	})
}

func (s *HTTPServer) handleDeleteCustomProfile(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	if err := s.service.DeleteCustomProfile(r.Context(), ident.UserID, chi.URLParam(r, "profileID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleListBookCharacters(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	characters, err := s.service.ListBookCharacters(r.Context(), ident.UserID, chi.URLParam(r, "bookID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(characters))
	for _, character := range characters {
		payload = append(payload, map[string]any{
			"id":             character.ID,
			"name":           character.Name,
			"mentionCount":   character.MentionCount,
			"firstChapterId": character.FirstChapterID,
			"wikiPageId":     character.WikiPageID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"characters": payload})
}

func (s *HTTPServer) handleListWikiPages(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	pages, err := s.service.ListWikiPages(r.Context(), ident.UserID, chi.URLParam(r, "bookID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(pages))
	for _, page := range pages {
		payload = append(payload, wikiPagePayload(page, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": payload})
}

func (s *HTTPServer) handleCreateWikiPage(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input CreateWikiPageInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	page, err := s.service.CreateWikiPage(r.Context(), ident.UserID, chi.URLParam(r, "bookID"), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wikiPagePayload(page, true))
}

func (s *HTTPServer) handleGetWikiPage(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	page, err := s.service.GetWikiPage(r.Context(), ident.UserID, chi.URLParam(r, "pageID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wikiPagePayload(page, true))
}

func (s *HTTPServer) handleUpdateWikiPage(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input UpdateWikiPageInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	page, err := s.service.UpdateWikiPage(r.Context(), ident.UserID, chi.URLParam(r, "pageID"), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wikiPagePayload(page, true))
}

func (s *HTTPServer) handleDeleteWikiPage(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	if err := s.service.DeleteWikiPage(r.Context(), ident.UserID, chi.URLParam(r, "pageID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleListWikiUpdates(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	updates, err := s.service.ListWikiUpdates(r.Context(), ident.UserID, chi.URLParam(r, "pageID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(updates))
	for _, update := range updates {
		payload = append(payload, map[string]any{
			"id":              update.ID,
			"chapterId":       update.ChapterID,
			"updateType":      update.UpdateType,
			"previousContent": update.PreviousContent,
			"newContent":      update.NewContent,
			"contradiction":   update.Contradiction,
			"createdAt":       update.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": payload})
}

func (s *HTTPServer) handleFindReplace(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	var input FindReplaceInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.FindReplace(r.Context(), ident.UserID, chi.URLParam(r, "bookID"), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func reviewPayload(review store.Review) map[string]any {
	return map[string]any{
		"id":              review.ID,
		"chapterId":       review.ChapterID,
		"aiProfileId":     review.AIProfileID,
		"customProfileId": review.CustomProfileID,
		"content":         review.Content,
		"createdAt":       review.CreatedAt,
		"updatedAt":       review.UpdatedAt,
	}
}

func wikiPagePayload(page store.WikiPage, full bool) map[string]any {
	payload := map[string]any{
		"id":          page.ID,
		"bookId":      page.BookID,
		"name":        page.Name,
		"pageType":    page.PageType,
		"summary":     page.Summary,
		"isMajor":     page.IsMajor,
		"aiGenerated": page.AIGenerated,
		"updatedAt":   page.UpdatedAt,
	}
	if full {
		payload["content"] = page.Content
		payload["aliases"] = page.Aliases
		payload["tags"] = page.Tags
		payload["createdAt"] = page.CreatedAt
	}
	return payload
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "Session expired", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", err.Error()
}
