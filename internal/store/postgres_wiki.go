package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const wikiPageColumns = `id, book_id, name, page_type, content, summary, aliases, tags, is_major, ai_generated, created_at, updated_at`

func scanWikiPage(row interface{ Scan(...any) error }) (WikiPage, error) {
	var page WikiPage
	var aliasesRaw, tagsRaw []byte
	err := row.Scan(&page.ID, &page.BookID, &page.Name, &page.PageType, &page.Content, &page.Summary,
		&aliasesRaw, &tagsRaw, &page.IsMajor, &page.AIGenerated, &page.CreatedAt, &page.UpdatedAt)
	if err != nil {
		return WikiPage{}, err
	}
	page.Aliases = decodeList(aliasesRaw)
	page.Tags = decodeList(tagsRaw)
	return page, nil
}

func (s *PostgresStore) ListWikiPages(ctx context.Context, bookID string) ([]WikiPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+wikiPageColumns+`
		FROM wiki_pages
		WHERE book_id=$1
		ORDER BY is_major DESC, page_type ASC, name ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list wiki pages: %w", err)
	}
	defer rows.Close()

	items := make([]WikiPage, 0)
	for rows.Next() {
		page, err := scanWikiPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wiki page: %w", err)
		}
		items = append(items, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wiki pages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWikiPage(ctx context.Context, pageID string) (WikiPage, error) {
	return scanWikiPage(s.db.QueryRowContext(ctx, `
		SELECT `+wikiPageColumns+` FROM wiki_pages WHERE id=$1
	`, pageID))
}

// GetWikiPageByName returns nil when no page with that name exists in the book.
func (s *PostgresStore) GetWikiPageByName(ctx context.Context, bookID, name string) (*WikiPage, error) {
	page, err := scanWikiPage(s.db.QueryRowContext(ctx, `
		SELECT `+wikiPageColumns+` FROM wiki_pages WHERE book_id=$1 AND name=$2
	`, bookID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wiki page by name: %w", err)
	}
	return &page, nil
}

func (s *PostgresStore) InsertWikiPage(ctx context.Context, page WikiPage) error {
	aliases, err := encodeList(page.Aliases)
	if err != nil {
		return err
	}
	tags, err := encodeList(page.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wiki_pages (id, book_id, name, page_type, content, summary, aliases, tags, is_major, ai_generated)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10)
	`, page.ID, page.BookID, page.Name, page.PageType, page.Content, page.Summary, aliases, tags, page.IsMajor, page.AIGenerated)
	if err != nil {
		return fmt.Errorf("insert wiki page: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWikiPage(ctx context.Context, page WikiPage) error {
	aliases, err := encodeList(page.Aliases)
	if err != nil {
		return err
	}
	tags, err := encodeList(page.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE wiki_pages
		SET name=$2, page_type=$3, content=$4, summary=$5, aliases=$6::jsonb, tags=$7::jsonb,
		    is_major=$8, ai_generated=$9, updated_at=NOW()
		WHERE id=$1
	`, page.ID, page.Name, page.PageType, page.Content, page.Summary, aliases, tags, page.IsMajor, page.AIGenerated)
	if err != nil {
		return fmt.Errorf("update wiki page: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteWikiPage(ctx context.Context, pageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wiki_pages WHERE id=$1`, pageID)
	if err != nil {
		return fmt.Errorf("delete wiki page: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertWikiUpdate(ctx context.Context, update WikiUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wiki_updates (wiki_page_id, chapter_id, update_type, previous_content, new_content, contradiction)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, update.WikiPageID, update.ChapterID, update.UpdateType, update.PreviousContent, update.NewContent, update.Contradiction)
	if err != nil {
		return fmt.Errorf("insert wiki update: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWikiUpdates(ctx context.Context, pageID string) ([]WikiUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wiki_page_id, chapter_id, update_type, previous_content, new_content, contradiction, created_at
		FROM wiki_updates
		WHERE wiki_page_id=$1
		ORDER BY created_at DESC, id DESC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list wiki updates: %w", err)
	}
	defer rows.Close()

	items := make([]WikiUpdate, 0)
	for rows.Next() {
		var item WikiUpdate
		if err := rows.Scan(&item.ID, &item.WikiPageID, &item.ChapterID, &item.UpdateType,
			&item.PreviousContent, &item.NewContent, &item.Contradiction, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wiki update: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wiki updates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertMention(ctx context.Context, mention ChapterWikiMention) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_wiki_mentions (chapter_id, wiki_page_id, context)
		VALUES ($1, $2, $3)
		ON CONFLICT (chapter_id, wiki_page_id) DO UPDATE SET context=EXCLUDED.context
	`, mention.ChapterID, mention.WikiPageID, mention.Context)
	if err != nil {
		return fmt.Errorf("upsert mention: %w", err)
	}
	return nil
}

// UpsertBookCharacter inserts a roster row with mention count 1 or increments
// the count of an existing one; the first-mention chapter never changes after
// insertion.
func (s *PostgresStore) UpsertBookCharacter(ctx context.Context, id, bookID, name, firstChapterID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO book_characters (id, book_id, name, mention_count, first_chapter_id)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (book_id, name) DO UPDATE
			SET mention_count = book_characters.mention_count + 1, updated_at=NOW()
	`, id, bookID, name, firstChapterID)
	if err != nil {
		return fmt.Errorf("upsert book character: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetBookCharacterPage(ctx context.Context, bookID, name, wikiPageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE book_characters SET wiki_page_id=$3, updated_at=NOW()
		WHERE book_id=$1 AND name=$2
	`, bookID, name, wikiPageID)
	if err != nil {
		return fmt.Errorf("link book character page: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBookCharacters(ctx context.Context, bookID string) ([]BookCharacter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, name, mention_count, first_chapter_id, wiki_page_id
		FROM book_characters
		WHERE book_id=$1
		ORDER BY mention_count DESC, name ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list book characters: %w", err)
	}
	defer rows.Close()

	items := make([]BookCharacter, 0)
	for rows.Next() {
		var item BookCharacter
		if err := rows.Scan(&item.ID, &item.BookID, &item.Name, &item.MentionCount, &item.FirstChapterID, &item.WikiPageID); err != nil {
			return nil, fmt.Errorf("scan book character: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate book characters: %w", err)
	}
	return items, nil
}
