package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"storyforge/api/internal/config"
	"storyforge/api/internal/identity"
	"storyforge/api/internal/store"
)

// memStore is an in-memory dataStore for service tests. Error injection goes
// through the fail* fields.
type memStore struct {
	mu sync.Mutex

	users          map[string]store.User
	books          map[string]store.Book
	parts          map[string]store.Part
	chapters       map[string]store.Chapter
	summaries      map[string]store.ChapterSummary
	aiProfiles     map[string]store.AIProfile
	customProfiles map[string]store.CustomReviewerProfile
	reviews        []store.Review
	wikiPages      map[string]store.WikiPage
	wikiUpdates    []store.WikiUpdate
	mentions       map[string]store.ChapterWikiMention
	characters     map[string]store.BookCharacter

	failInsertWikiPage    error
	failUpsertMention     error
	failGetWikiPageByName error
	failListBooks         error
}

func newMemStore() *memStore {
	return &memStore{
		users:          map[string]store.User{},
		books:          map[string]store.Book{},
		parts:          map[string]store.Part{},
		chapters:       map[string]store.Chapter{},
		summaries:      map[string]store.ChapterSummary{},
		aiProfiles:     map[string]store.AIProfile{},
		customProfiles: map[string]store.CustomReviewerProfile{},
		wikiPages:      map[string]store.WikiPage{},
		mentions:       map[string]store.ChapterWikiMention{},
		characters:     map[string]store.BookCharacter{},
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) EnsureUserBySubject(_ context.Context, id, subject, email, username string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[subject]; ok {
		return user, nil
	}
	user := store.User{ID: id, Subject: subject, Email: email, Username: username}
	m.users[subject] = user
	return user, nil
}

func (m *memStore) GetBook(_ context.Context, bookID string) (store.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[bookID]
	if !ok {
		return store.Book{}, sql.ErrNoRows
	}
	return book, nil
}

func (m *memStore) ListBooks(_ context.Context, userID string) ([]store.BookListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListBooks != nil {
		return nil, m.failListBooks
	}
	listings := make([]store.BookListing, 0)
	for _, book := range m.books {
		if book.UserID != userID {
			continue
		}
		listing := store.BookListing{Book: book}
		for _, chapter := range m.chapters {
			if chapter.BookID == book.ID {
				listing.ChapterCount++
				listing.WordCount += chapter.WordCount
			}
		}
		listings = append(listings, listing)
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	return listings, nil
}

func (m *memStore) InsertBook(_ context.Context, book store.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[book.ID] = book
	return nil
}

func (m *memStore) UpdateBookTitle(_ context.Context, bookID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[bookID]
	if !ok {
		return sql.ErrNoRows
	}
	book.Title = title
	m.books[bookID] = book
	return nil
}

func (m *memStore) DeleteBook(_ context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, bookID)
	for id, chapter := range m.chapters {
		if chapter.BookID == bookID {
			delete(m.chapters, id)
		}
	}
	return nil
}

func (m *memStore) GetChapter(_ context.Context, chapterID string) (store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter, ok := m.chapters[chapterID]
	if !ok {
		return store.Chapter{}, sql.ErrNoRows
	}
	return chapter, nil
}

func (m *memStore) InsertChapter(_ context.Context, chapter store.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chapters[chapter.ID] = chapter
	book := m.books[chapter.BookID]
	found := false
	for _, id := range book.ChapterOrder {
		if id == chapter.ID {
			found = true
		}
	}
	if !found {
		book.ChapterOrder = append(book.ChapterOrder, chapter.ID)
		m.books[chapter.BookID] = book
	}
	return nil
}

func (m *memStore) UpdateChapter(_ context.Context, chapterID, title, content string, wordCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter, ok := m.chapters[chapterID]
	if !ok {
		return sql.ErrNoRows
	}
	chapter.Title = title
	chapter.Content = content
	chapter.WordCount = wordCount
	m.chapters[chapterID] = chapter
	return nil
}

func (m *memStore) DeleteChapter(_ context.Context, bookID, chapterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chapters, chapterID)
	book := m.books[bookID]
	order := make([]string, 0, len(book.ChapterOrder))
	for _, id := range book.ChapterOrder {
		if id != chapterID {
			order = append(order, id)
		}
	}
	book.ChapterOrder = order
	m.books[bookID] = book
	return nil
}

func (m *memStore) ListChapters(_ context.Context, bookID string) ([]store.ChapterListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	listings := make([]store.ChapterListing, 0)
	for _, chapter := range m.chapters {
		if chapter.BookID != bookID {
			continue
		}
		listing := store.ChapterListing{
			ID:        chapter.ID,
			Title:     chapter.Title,
			WordCount: chapter.WordCount,
			PartID:    chapter.PartID,
		}
		if chapter.PartID != nil {
			listing.PartName = m.parts[*chapter.PartID].Name
		}
		if _, ok := m.summaries[chapter.ID]; ok {
			listing.HasSummary = true
		}
		listings = append(listings, listing)
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	return listings, nil
}

func (m *memStore) ListChapterIDs(_ context.Context, bookID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for _, chapter := range m.chapters {
		if chapter.BookID == bookID {
			ids = append(ids, chapter.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) MinChapterID(_ context.Context, bookID string) (string, error) {
	ids, _ := m.ListChapterIDs(context.Background(), bookID)
	if len(ids) == 0 {
		return "", sql.ErrNoRows
	}
	return ids[0], nil
}

func (m *memStore) MoveChapter(_ context.Context, params store.MoveChapterParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter, ok := m.chapters[params.ChapterID]
	if !ok || chapter.BookID != params.BookID {
		return sql.ErrNoRows
	}
	if params.SetPart {
		if chapter.PartID != nil {
			part := m.parts[*chapter.PartID]
			part.ChapterOrder = without(part.ChapterOrder, chapter.ID)
			m.parts[part.ID] = part
		}
		if params.PartID != nil {
			part := m.parts[*params.PartID]
			index := len(part.ChapterOrder)
			if params.PartPosition != nil && *params.PartPosition-1 < index {
				index = *params.PartPosition - 1
			}
			order := without(part.ChapterOrder, chapter.ID)
			order = append(order[:index], append([]string{chapter.ID}, order[index:]...)...)
			part.ChapterOrder = order
			m.parts[part.ID] = part
		}
		chapter.PartID = params.PartID
		m.chapters[chapter.ID] = chapter
	}
	if params.GlobalPosition != nil {
		book := m.books[params.BookID]
		order := without(book.ChapterOrder, chapter.ID)
		index := *params.GlobalPosition
		if index > len(order) {
			index = len(order)
		}
		order = append(order[:index], append([]string{chapter.ID}, order[index:]...)...)
		book.ChapterOrder = order
		m.books[book.ID] = book
	}
	return nil
}

func (m *memStore) ApplyBookOrder(_ context.Context, bookID string, order []string, partOrders map[string][]string, unassigned []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book := m.books[bookID]
	book.ChapterOrder = order
	m.books[bookID] = book
	for partID, partOrder := range partOrders {
		part := m.parts[partID]
		part.ChapterOrder = partOrder
		m.parts[partID] = part
		for _, chapterID := range partOrder {
			chapter := m.chapters[chapterID]
			id := partID
			chapter.PartID = &id
			m.chapters[chapterID] = chapter
		}
	}
	for _, chapterID := range unassigned {
		chapter := m.chapters[chapterID]
		chapter.PartID = nil
		m.chapters[chapterID] = chapter
	}
	return nil
}

func (m *memStore) GetPart(_ context.Context, partID string) (store.Part, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	part, ok := m.parts[partID]
	if !ok {
		return store.Part{}, sql.ErrNoRows
	}
	return part, nil
}

func (m *memStore) ListParts(_ context.Context, bookID string) ([]store.Part, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := make([]store.Part, 0)
	for _, part := range m.parts {
		if part.BookID == bookID {
			parts = append(parts, part)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	return parts, nil
}

func (m *memStore) InsertPart(_ context.Context, part store.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parts[part.ID] = part
	return nil
}

func (m *memStore) RenamePart(_ context.Context, partID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	part, ok := m.parts[partID]
	if !ok {
		return sql.ErrNoRows
	}
	part.Name = name
	m.parts[partID] = part
	return nil
}

func (m *memStore) DeletePart(_ context.Context, partID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parts, partID)
	for id, chapter := range m.chapters {
		if chapter.PartID != nil && *chapter.PartID == partID {
			chapter.PartID = nil
			m.chapters[id] = chapter
		}
	}
	return nil
}

func (m *memStore) GetChapterSummary(_ context.Context, chapterID string) (*store.ChapterSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary, ok := m.summaries[chapterID]
	if !ok {
		return nil, nil
	}
	return &summary, nil
}

func (m *memStore) UpsertChapterSummary(_ context.Context, summary store.ChapterSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[summary.ChapterID] = summary
	return nil
}

func (m *memStore) ListSummaryContexts(_ context.Context, bookID, excludeChapterID string) ([]store.SummaryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contexts := make([]store.SummaryContext, 0)
	for chapterID, summary := range m.summaries {
		chapter, ok := m.chapters[chapterID]
		if !ok || chapter.BookID != bookID || chapterID == excludeChapterID {
			continue
		}
		contexts = append(contexts, store.SummaryContext{
			ChapterID: chapterID,
			Title:     chapter.Title,
			Summary:   summary.Summary,
		})
	}
	sort.Slice(contexts, func(i, j int) bool { return contexts[i].ChapterID < contexts[j].ChapterID })
	return contexts, nil
}

func (m *memStore) GetSystemProfileByTone(_ context.Context, toneKey string) (store.AIProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, profile := range m.aiProfiles {
		if profile.UserID == nil && profile.ToneKey == toneKey {
			return profile, nil
		}
	}
	return store.AIProfile{}, sql.ErrNoRows
}

func (m *memStore) ListAIProfiles(_ context.Context, userID string) ([]store.AIProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profiles := make([]store.AIProfile, 0)
	for _, profile := range m.aiProfiles {
		if profile.UserID == nil || *profile.UserID == userID {
			profiles = append(profiles, profile)
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

func (m *memStore) GetCustomProfile(_ context.Context, profileID string) (store.CustomReviewerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.customProfiles[profileID]
	if !ok {
		return store.CustomReviewerProfile{}, sql.ErrNoRows
	}
	return profile, nil
}

func (m *memStore) ListCustomProfiles(_ context.Context, userID string) ([]store.CustomReviewerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profiles := make([]store.CustomReviewerProfile, 0)
	for _, profile := range m.customProfiles {
		if profile.UserID == userID {
			profiles = append(profiles, profile)
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

func (m *memStore) InsertCustomProfile(_ context.Context, profile store.CustomReviewerProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customProfiles[profile.ID] = profile
	return nil
}

func (m *memStore) DeleteCustomProfile(_ context.Context, profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customProfiles, profileID)
	return nil
}

func (m *memStore) UpsertReview(_ context.Context, review store.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.reviews {
		if existing.ChapterID != review.ChapterID {
			continue
		}
		sameAI := existing.AIProfileID != nil && review.AIProfileID != nil && *existing.AIProfileID == *review.AIProfileID
		sameCustom := existing.CustomProfileID != nil && review.CustomProfileID != nil && *existing.CustomProfileID == *review.CustomProfileID
		if sameAI || sameCustom {
			existing.Content = review.Content
			existing.Prompt = review.Prompt
			m.reviews[i] = existing
			return nil
		}
	}
	m.reviews = append(m.reviews, review)
	return nil
}

func (m *memStore) ListReviews(_ context.Context, chapterID string) ([]store.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reviews := make([]store.Review, 0)
	for _, review := range m.reviews {
		if review.ChapterID == chapterID {
			reviews = append(reviews, review)
		}
	}
	return reviews, nil
}

func (m *memStore) ListWikiPages(_ context.Context, bookID string) ([]store.WikiPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := make([]store.WikiPage, 0)
	for _, page := range m.wikiPages {
		if page.BookID == bookID {
			pages = append(pages, page)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	return pages, nil
}

func (m *memStore) GetWikiPage(_ context.Context, pageID string) (store.WikiPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.wikiPages[pageID]
	if !ok {
		return store.WikiPage{}, sql.ErrNoRows
	}
	return page, nil
}

func (m *memStore) GetWikiPageByName(_ context.Context, bookID, name string) (*store.WikiPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetWikiPageByName != nil {
		return nil, m.failGetWikiPageByName
	}
	for _, page := range m.wikiPages {
		if page.BookID == bookID && page.Name == name {
			found := page
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertWikiPage(_ context.Context, page store.WikiPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertWikiPage != nil {
		return m.failInsertWikiPage
	}
	m.wikiPages[page.ID] = page
	return nil
}

func (m *memStore) UpdateWikiPage(_ context.Context, page store.WikiPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wikiPages[page.ID]; !ok {
		return sql.ErrNoRows
	}
	m.wikiPages[page.ID] = page
	return nil
}

func (m *memStore) DeleteWikiPage(_ context.Context, pageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wikiPages, pageID)
	return nil
}

func (m *memStore) InsertWikiUpdate(_ context.Context, update store.WikiUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	update.ID = int64(len(m.wikiUpdates) + 1)
	m.wikiUpdates = append(m.wikiUpdates, update)
	return nil
}

func (m *memStore) ListWikiUpdates(_ context.Context, pageID string) ([]store.WikiUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updates := make([]store.WikiUpdate, 0)
	for i := len(m.wikiUpdates) - 1; i >= 0; i-- {
		if m.wikiUpdates[i].WikiPageID == pageID {
			updates = append(updates, m.wikiUpdates[i])
		}
	}
	return updates, nil
}

func (m *memStore) UpsertMention(_ context.Context, mention store.ChapterWikiMention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsertMention != nil {
		return m.failUpsertMention
	}
	m.mentions[mention.ChapterID+"|"+mention.WikiPageID] = mention
	return nil
}

func (m *memStore) UpsertBookCharacter(_ context.Context, id, bookID, name, firstChapterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bookID + "|" + name
	if existing, ok := m.characters[key]; ok {
		existing.MentionCount++
		m.characters[key] = existing
		return nil
	}
	first := firstChapterID
	m.characters[key] = store.BookCharacter{
		ID:             id,
		BookID:         bookID,
		Name:           name,
		MentionCount:   1,
		FirstChapterID: &first,
	}
	return nil
}

func (m *memStore) SetBookCharacterPage(_ context.Context, bookID, name, wikiPageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bookID + "|" + name
	character, ok := m.characters[key]
	if !ok {
		return nil
	}
	page := wikiPageID
	character.WikiPageID = &page
	m.characters[key] = character
	return nil
}

func (m *memStore) ListBookCharacters(_ context.Context, bookID string) ([]store.BookCharacter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	characters := make([]store.BookCharacter, 0)
	for _, character := range m.characters {
		if character.BookID == bookID {
			characters = append(characters, character)
		}
	}
	sort.Slice(characters, func(i, j int) bool { return characters[i].Name < characters[j].Name })
	return characters, nil
}

func without(order []string, id string) []string {
	out := make([]string, 0, len(order))
	for _, existing := range order {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

type llmCall struct {
	system string
	prompt string
	json   bool
}

type fakeLLM struct {
	mu             sync.Mutex
	calls          []llmCall
	generateFn     func(system, prompt string) (string, error)
	generateJSONFn func(system, prompt string) (string, error)
}

func (f *fakeLLM) Generate(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, llmCall{system: system, prompt: prompt})
	fn := f.generateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(system, prompt)
	}
	return "generated text", nil
}

func (f *fakeLLM) GenerateJSON(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, llmCall{system: system, prompt: prompt, json: true})
	fn := f.generateJSONFn
	f.mu.Unlock()
	if fn != nil {
		return fn(system, prompt)
	}
	return "{}", nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeResolver struct {
	identity identity.Identity
	err      error
}

func (f *fakeResolver) Resolve(context.Context, string) (identity.Identity, error) {
	if f.err != nil {
		return identity.Identity{}, f.err
	}
	return f.identity, nil
}

func newTestService(t *testing.T, mem *memStore, model *fakeLLM) *Service {
	t.Helper()
	if mem == nil {
		mem = newMemStore()
	}
	if model == nil {
		model = &fakeLLM{}
	}
	resolver := &fakeResolver{identity: identity.Identity{Subject: "auth0|tester", Email: "tester@example.com", Username: "tester"}}
	return NewService(config.Config{}, mem, model, resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// seedBook creates a book owned by userID with n chapters ch_1..ch_n.
func seedBook(mem *memStore, userID, bookID string, n int) []string {
	order := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		order = append(order, fmt.Sprintf("ch_%d", i))
	}
	mem.books[bookID] = store.Book{ID: bookID, UserID: userID, Title: "Book", ChapterOrder: order}
	for i, id := range order {
		mem.chapters[id] = store.Chapter{
			ID:        id,
			BookID:    bookID,
			Title:     fmt.Sprintf("Chapter %d", i+1),
			Content:   "some words here",
			WordCount: 3,
		}
	}
	return order
}
