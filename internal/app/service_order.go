package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"storyforge/api/internal/store"
	"storyforge/api/internal/util"
)

// unassignedKey marks the group of chapters outside any part in a batch
// reorder payload.
const unassignedKey = "none"

type MoveChapterInput struct {
	PartID         *string `json:"partId"`
	ClearPart      bool    `json:"clearPart"`
	PartPosition   *int    `json:"partPosition"`
	GlobalPosition *int    `json:"globalPosition"`
}

func (s *Service) MoveChapter(ctx context.Context, userID, chapterID string, input MoveChapterInput) error {
	chapter, _, err := s.chapterForOwner(ctx, userID, chapterID)
	if err != nil {
		return err
	}

	setPart := input.ClearPart || input.PartID != nil
	if !setPart && input.GlobalPosition == nil {
		return domainError(http.StatusBadRequest, "VALIDATION", "Nothing to move: provide a part change or a position", nil)
	}
	if input.ClearPart && input.PartID != nil {
		return domainError(http.StatusBadRequest, "VALIDATION", "Cannot both assign and clear the part", nil)
	}
	if input.PartPosition != nil {
		if input.PartID == nil {
			return domainError(http.StatusBadRequest, "VALIDATION", "partPosition requires partId", nil)
		}
		if *input.PartPosition < 1 {
			return domainError(http.StatusBadRequest, "VALIDATION", "partPosition starts at 1", nil)
		}
	}
	if input.GlobalPosition != nil && *input.GlobalPosition < 0 {
		return domainError(http.StatusBadRequest, "VALIDATION", "globalPosition cannot be negative", nil)
	}
	if input.PartID != nil {
		part, err := s.store.GetPart(ctx, *input.PartID)
		if err != nil {
			return err
		}
		if part.BookID != chapter.BookID {
			return domainError(http.StatusBadRequest, "VALIDATION", "Part belongs to a different book", nil)
		}
	}

	params := store.MoveChapterParams{
		BookID:         chapter.BookID,
		ChapterID:      chapter.ID,
		SetPart:        setPart,
		PartID:         input.PartID,
		PartPosition:   input.PartPosition,
		GlobalPosition: input.GlobalPosition,
	}
	if err := s.store.MoveChapter(ctx, params); err != nil {
		return fmt.Errorf("move chapter: %w", err)
	}
	return nil
}

type ApplyBookOrderInput struct {
	Order      []string            `json:"order"`
	PartOrders map[string][]string `json:"partOrders"`
}

// ApplyBookOrder replaces the book's whole ordering at once. The order must be
// an exact permutation of the book's chapters, and every listed part must
// belong to the book.
func (s *Service) ApplyBookOrder(ctx context.Context, userID, bookID string, input ApplyBookOrderInput) error {
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return err
	}

	existing, err := s.store.ListChapterIDs(ctx, bookID)
	if err != nil {
		return fmt.Errorf("list chapter ids: %w", err)
	}
	if err := checkPermutation(existing, input.Order); err != nil {
		return err
	}

	parts, err := s.store.ListParts(ctx, bookID)
	if err != nil {
		return fmt.Errorf("list parts: %w", err)
	}
	knownParts := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		knownParts[part.ID] = struct{}{}
	}

	inOrder := make(map[string]struct{}, len(input.Order))
	for _, id := range input.Order {
		inOrder[id] = struct{}{}
	}

	partOrders := make(map[string][]string, len(input.PartOrders))
	assigned := make(map[string]string)
	for partID, chapterIDs := range input.PartOrders {
		if partID == unassignedKey {
			continue
		}
		if _, ok := knownParts[partID]; !ok {
			return domainError(http.StatusBadRequest, "VALIDATION", "Unknown part in order payload", map[string]string{"partId": partID})
		}
		for _, chapterID := range chapterIDs {
			if _, ok := inOrder[chapterID]; !ok {
				return domainError(http.StatusBadRequest, "VALIDATION", "Part order references a chapter outside the book order", map[string]string{"chapterId": chapterID})
			}
			if prev, taken := assigned[chapterID]; taken {
				return domainError(http.StatusBadRequest, "VALIDATION", "Chapter listed in two parts", map[string]string{"chapterId": chapterID, "partId": prev})
			}
			assigned[chapterID] = partID
		}
		partOrders[partID] = chapterIDs
	}

	unassigned := make([]string, 0)
	for _, chapterID := range input.Order {
		if _, ok := assigned[chapterID]; !ok {
			unassigned = append(unassigned, chapterID)
		}
	}

	if err := s.store.ApplyBookOrder(ctx, bookID, input.Order, partOrders, unassigned); err != nil {
		return fmt.Errorf("apply book order: %w", err)
	}
	return nil
}

func checkPermutation(existing, proposed []string) error {
	if len(existing) != len(proposed) {
		return domainError(http.StatusBadRequest, "VALIDATION", "Order must list every chapter exactly once", map[string]int{
			"expected": len(existing),
			"got":      len(proposed),
		})
	}
	a := append([]string(nil), existing...)
	b := append([]string(nil), proposed...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return domainError(http.StatusBadRequest, "VALIDATION", "Order must list every chapter exactly once", map[string]string{"mismatch": b[i]})
		}
	}
	return nil
}

type PartInput struct {
	Name string `json:"name"`
}

func (s *Service) CreatePart(ctx context.Context, userID, bookID string, input PartInput) (store.Part, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Part{}, domainError(http.StatusBadRequest, "VALIDATION", "Name is required", nil)
	}
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return store.Part{}, err
	}
	part := store.Part{
		ID:           util.NewID("pt"),
		BookID:       bookID,
		Name:         name,
		ChapterOrder: []string{},
	}
	if err := s.store.InsertPart(ctx, part); err != nil {
		return store.Part{}, fmt.Errorf("insert part: %w", err)
	}
	return part, nil
}

func (s *Service) partForOwner(ctx context.Context, userID, partID string) (store.Part, error) {
	part, err := s.store.GetPart(ctx, partID)
	if err != nil {
		return store.Part{}, err
	}
	if _, err := s.bookForOwner(ctx, userID, part.BookID); err != nil {
		return store.Part{}, err
	}
	return part, nil
}

func (s *Service) RenamePart(ctx context.Context, userID, partID string, input PartInput) (store.Part, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Part{}, domainError(http.StatusBadRequest, "VALIDATION", "Name is required", nil)
	}
	part, err := s.partForOwner(ctx, userID, partID)
	if err != nil {
		return store.Part{}, err
	}
	if err := s.store.RenamePart(ctx, part.ID, name); err != nil {
		return store.Part{}, fmt.Errorf("rename part: %w", err)
	}
	part.Name = name
	return part, nil
}

func (s *Service) DeletePart(ctx context.Context, userID, partID string) error {
	part, err := s.partForOwner(ctx, userID, partID)
	if err != nil {
		return err
	}
	if err := s.store.DeletePart(ctx, part.ID); err != nil {
		return fmt.Errorf("delete part: %w", err)
	}
	return nil
}

func (s *Service) ListParts(ctx context.Context, userID, bookID string) ([]store.Part, error) {
	if _, err := s.bookForOwner(ctx, userID, bookID); err != nil {
		return nil, err
	}
	parts, err := s.store.ListParts(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	return parts, nil
}
