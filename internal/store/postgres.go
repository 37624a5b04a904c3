package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// encodeList serializes a string list for a JSONB column; nil becomes [].
func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(raw), nil
}

func decodeList(raw []byte) []string {
	values := make([]string, 0)
	_ = json.Unmarshal(raw, &values)
	return values
}

func (s *PostgresStore) EnsureUserBySubject(ctx context.Context, id, subject, email, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, auth_subject, email, username)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (auth_subject) DO UPDATE
			SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END,
			    username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE users.username END,
			    updated_at = NOW()
		RETURNING id, auth_subject, email, display_name, username, created_at
	`, id, subject, email, username).Scan(&user.ID, &user.Subject, &user.Email, &user.DisplayName, &user.Username, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetBook(ctx context.Context, bookID string) (Book, error) {
	var book Book
	var orderRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, chapter_order, created_at, updated_at
		FROM books
		WHERE id=$1
	`, bookID).Scan(&book.ID, &book.UserID, &book.Title, &orderRaw, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		return Book{}, err
	}
	book.ChapterOrder = decodeList(orderRaw)
	return book, nil
}

func (s *PostgresStore) ListBooks(ctx context.Context, userID string) ([]BookListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.user_id, b.title, b.chapter_order, b.created_at, b.updated_at,
			COUNT(c.id)::int, COALESCE(SUM(c.word_count), 0)::int
		FROM books b
		LEFT JOIN chapters c ON c.book_id = b.id
		WHERE b.user_id=$1
		GROUP BY b.id
		ORDER BY b.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	items := make([]BookListing, 0)
	for rows.Next() {
		var item BookListing
		var orderRaw []byte
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &orderRaw, &item.CreatedAt, &item.UpdatedAt, &item.ChapterCount, &item.WordCount); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		item.ChapterOrder = decodeList(orderRaw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertBook(ctx context.Context, book Book) error {
	order, err := encodeList(book.ChapterOrder)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO books (id, user_id, title, chapter_order)
		VALUES ($1, $2, $3, $4::jsonb)
	`, book.ID, book.UserID, book.Title, order)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBookTitle(ctx context.Context, bookID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE books SET title=$2, updated_at=NOW() WHERE id=$1
	`, bookID, title)
	if err != nil {
		return fmt.Errorf("update book title: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBook(ctx context.Context, bookID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id=$1`, bookID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChapter(ctx context.Context, chapterID string) (Chapter, error) {
	var chapter Chapter
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, part_id, title, content, word_count, created_at, updated_at
		FROM chapters
		WHERE id=$1
	`, chapterID).Scan(&chapter.ID, &chapter.BookID, &chapter.PartID, &chapter.Title, &chapter.Content, &chapter.WordCount, &chapter.CreatedAt, &chapter.UpdatedAt)
	if err != nil {
		return Chapter{}, err
	}
	return chapter, nil
}

// InsertChapter creates the chapter row and appends its id to the book's
// global order inside one transaction, skipping the append when already
// present.
func (s *PostgresStore) InsertChapter(ctx context.Context, chapter Chapter) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chapters (id, book_id, part_id, title, content, word_count)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, chapter.ID, chapter.BookID, chapter.PartID, chapter.Title, chapter.Content, chapter.WordCount); err != nil {
			return fmt.Errorf("insert chapter: %w", err)
		}

		order, err := lockBookOrder(ctx, tx, chapter.BookID)
		if err != nil {
			return err
		}
		if !containsID(order, chapter.ID) {
			order = append(order, chapter.ID)
			if err := saveBookOrder(ctx, tx, chapter.BookID, order); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) UpdateChapter(ctx context.Context, chapterID, title, content string, wordCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chapters
		SET title=$2, content=$3, word_count=$4, updated_at=NOW()
		WHERE id=$1
	`, chapterID, title, content, wordCount)
	if err != nil {
		return fmt.Errorf("update chapter: %w", err)
	}
	return nil
}

// DeleteChapter removes the row and scrubs the chapter id from the book's and
// any part's order arrays in one transaction.
func (s *PostgresStore) DeleteChapter(ctx context.Context, bookID, chapterID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var partID *string
		err := tx.QueryRowContext(ctx, `SELECT part_id FROM chapters WHERE id=$1`, chapterID).Scan(&partID)
		if err != nil {
			return fmt.Errorf("lookup chapter part: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE id=$1`, chapterID); err != nil {
			return fmt.Errorf("delete chapter: %w", err)
		}

		order, err := lockBookOrder(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if err := saveBookOrder(ctx, tx, bookID, removeID(order, chapterID)); err != nil {
			return err
		}

		if partID != nil {
			partOrder, err := lockPartOrder(ctx, tx, *partID)
			if err != nil {
				return err
			}
			if err := savePartOrder(ctx, tx, *partID, removeID(partOrder, chapterID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListChapters(ctx context.Context, bookID string) ([]ChapterListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.word_count, c.part_id, COALESCE(p.name, ''),
			EXISTS(SELECT 1 FROM chapter_summaries cs WHERE cs.chapter_id = c.id)
		FROM chapters c
		LEFT JOIN parts p ON p.id = c.part_id
		WHERE c.book_id=$1
		ORDER BY c.id ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	items := make([]ChapterListing, 0)
	for rows.Next() {
		var item ChapterListing
		if err := rows.Scan(&item.ID, &item.Title, &item.WordCount, &item.PartID, &item.PartName, &item.HasSummary); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return items, nil
}

// MinChapterID returns the lexicographically smallest chapter id in the book,
// which the generator treats as "the first chapter".
func (s *PostgresStore) MinChapterID(ctx context.Context, bookID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(id), '') FROM chapters WHERE book_id=$1
	`, bookID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("min chapter id: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetChapterSummary(ctx context.Context, chapterID string) (*ChapterSummary, error) {
	var item ChapterSummary
	var charactersRaw, beatsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT chapter_id, pov, characters, beats, spoilers, summary, updated_at
		FROM chapter_summaries
		WHERE chapter_id=$1
	`, chapterID).Scan(&item.ChapterID, &item.POV, &charactersRaw, &beatsRaw, &item.Spoilers, &item.Summary, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter summary: %w", err)
	}
	item.Characters = decodeList(charactersRaw)
	item.Beats = decodeList(beatsRaw)
	return &item, nil
}

func (s *PostgresStore) UpsertChapterSummary(ctx context.Context, summary ChapterSummary) error {
	characters, err := encodeList(summary.Characters)
	if err != nil {
		return err
	}
	beats, err := encodeList(summary.Beats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chapter_summaries (chapter_id, pov, characters, beats, spoilers, summary)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6)
		ON CONFLICT (chapter_id) DO UPDATE
			SET pov=EXCLUDED.pov, characters=EXCLUDED.characters, beats=EXCLUDED.beats,
			    spoilers=EXCLUDED.spoilers, summary=EXCLUDED.summary, updated_at=NOW()
	`, summary.ChapterID, summary.POV, characters, beats, summary.Spoilers, summary.Summary)
	if err != nil {
		return fmt.Errorf("upsert chapter summary: %w", err)
	}
	return nil
}

// ListSummaryContexts returns summaries for every chapter of the book except
// the one under review, ordered by chapter id.
func (s *PostgresStore) ListSummaryContexts(ctx context.Context, bookID, excludeChapterID string) ([]SummaryContext, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, cs.summary
		FROM chapters c
		JOIN chapter_summaries cs ON cs.chapter_id = c.id
		WHERE c.book_id=$1 AND c.id <> $2
		ORDER BY c.id ASC
	`, bookID, excludeChapterID)
	if err != nil {
		return nil, fmt.Errorf("list summary contexts: %w", err)
	}
	defer rows.Close()

	items := make([]SummaryContext, 0)
	for rows.Next() {
		var item SummaryContext
		if err := rows.Scan(&item.ChapterID, &item.Title, &item.Summary); err != nil {
			return nil, fmt.Errorf("scan summary context: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary contexts: %w", err)
	}
	return items, nil
}
