package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MoveChapterParams describes a single-chapter reorder. SetPart marks that a
// part change was requested; a nil PartID then means "remove from its part".
// PartPosition is 1-based within the part, GlobalPosition a 0-based index in
// the book's order.
type MoveChapterParams struct {
	BookID         string
	ChapterID      string
	SetPart        bool
	PartID         *string
	PartPosition   *int
	GlobalPosition *int
}

func lockBookOrder(ctx context.Context, tx *sql.Tx, bookID string) ([]string, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, `
		SELECT chapter_order FROM books WHERE id=$1 FOR UPDATE
	`, bookID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("lock book order: %w", err)
	}
	return decodeList(raw), nil
}

func saveBookOrder(ctx context.Context, tx *sql.Tx, bookID string, order []string) error {
	encoded, err := encodeList(order)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE books SET chapter_order=$2::jsonb, updated_at=NOW() WHERE id=$1
	`, bookID, encoded); err != nil {
		return fmt.Errorf("save book order: %w", err)
	}
	return nil
}

func lockPartOrder(ctx context.Context, tx *sql.Tx, partID string) ([]string, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, `
		SELECT chapter_order FROM parts WHERE id=$1 FOR UPDATE
	`, partID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("lock part order: %w", err)
	}
	return decodeList(raw), nil
}

func savePartOrder(ctx context.Context, tx *sql.Tx, partID string, order []string) error {
	encoded, err := encodeList(order)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE parts SET chapter_order=$2::jsonb, updated_at=NOW() WHERE id=$1
	`, partID, encoded); err != nil {
		return fmt.Errorf("save part order: %w", err)
	}
	return nil
}

// MoveChapter applies a part reassignment and/or a global reposition as one
// all-or-nothing transaction; a failure in either sub-step leaves every order
// array untouched.
func (s *PostgresStore) MoveChapter(ctx context.Context, params MoveChapterParams) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var currentPart *string
		err := tx.QueryRowContext(ctx, `
			SELECT part_id FROM chapters WHERE id=$1 AND book_id=$2 FOR UPDATE
		`, params.ChapterID, params.BookID).Scan(&currentPart)
		if err != nil {
			return fmt.Errorf("lock chapter: %w", err)
		}

		if params.SetPart {
			if currentPart != nil {
				order, err := lockPartOrder(ctx, tx, *currentPart)
				if err != nil {
					return err
				}
				if err := savePartOrder(ctx, tx, *currentPart, removeID(order, params.ChapterID)); err != nil {
					return err
				}
			}
			if params.PartID != nil {
				order, err := lockPartOrder(ctx, tx, *params.PartID)
				if err != nil {
					return err
				}
				index := -1
				if params.PartPosition != nil {
					index = *params.PartPosition - 1
				}
				order = insertAt(removeID(order, params.ChapterID), params.ChapterID, index)
				if err := savePartOrder(ctx, tx, *params.PartID, order); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE chapters SET part_id=$2, updated_at=NOW() WHERE id=$1
			`, params.ChapterID, params.PartID); err != nil {
				return fmt.Errorf("reassign chapter part: %w", err)
			}
		}

		if params.GlobalPosition != nil {
			order, err := lockBookOrder(ctx, tx, params.BookID)
			if err != nil {
				return err
			}
			order = insertAt(removeID(order, params.ChapterID), params.ChapterID, *params.GlobalPosition)
			if err := saveBookOrder(ctx, tx, params.BookID, order); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyBookOrder replaces the book's global order, each listed part's order,
// and every affected chapter's part reference wholesale, in one transaction.
// unassigned lists chapters whose part reference is cleared.
func (s *PostgresStore) ApplyBookOrder(ctx context.Context, bookID string, order []string, partOrders map[string][]string, unassigned []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockBookOrder(ctx, tx, bookID); err != nil {
			return err
		}
		if err := saveBookOrder(ctx, tx, bookID, order); err != nil {
			return err
		}
		for partID, partOrder := range partOrders {
			if _, err := lockPartOrder(ctx, tx, partID); err != nil {
				return err
			}
			if err := savePartOrder(ctx, tx, partID, partOrder); err != nil {
				return err
			}
			for _, chapterID := range partOrder {
				if _, err := tx.ExecContext(ctx, `
					UPDATE chapters SET part_id=$2, updated_at=NOW() WHERE id=$1 AND book_id=$3
				`, chapterID, partID, bookID); err != nil {
					return fmt.Errorf("assign chapter part: %w", err)
				}
			}
		}
		for _, chapterID := range unassigned {
			if _, err := tx.ExecContext(ctx, `
				UPDATE chapters SET part_id=NULL, updated_at=NOW() WHERE id=$1 AND book_id=$2
			`, chapterID, bookID); err != nil {
				return fmt.Errorf("clear chapter part: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListChapterIDs(ctx context.Context, bookID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM chapters WHERE book_id=$1 ORDER BY id ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapter ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chapter id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapter ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) GetPart(ctx context.Context, partID string) (Part, error) {
	var part Part
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, name, chapter_order FROM parts WHERE id=$1
	`, partID).Scan(&part.ID, &part.BookID, &part.Name, &raw)
	if err != nil {
		return Part{}, err
	}
	part.ChapterOrder = decodeList(raw)
	return part, nil
}

func (s *PostgresStore) ListParts(ctx context.Context, bookID string) ([]Part, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, name, chapter_order FROM parts WHERE book_id=$1 ORDER BY created_at ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	items := make([]Part, 0)
	for rows.Next() {
		var item Part
		var raw []byte
		if err := rows.Scan(&item.ID, &item.BookID, &item.Name, &raw); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		item.ChapterOrder = decodeList(raw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertPart(ctx context.Context, part Part) error {
	order, err := encodeList(part.ChapterOrder)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parts (id, book_id, name, chapter_order)
		VALUES ($1, $2, $3, $4::jsonb)
	`, part.ID, part.BookID, part.Name, order)
	if err != nil {
		return fmt.Errorf("insert part: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenamePart(ctx context.Context, partID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE parts SET name=$2, updated_at=NOW() WHERE id=$1
	`, partID, name)
	if err != nil {
		return fmt.Errorf("rename part: %w", err)
	}
	return nil
}

// DeletePart removes the part row; the part_id foreign key clears itself on
// the part's chapters, which stay in the book's global order.
func (s *PostgresStore) DeletePart(ctx context.Context, partID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM parts WHERE id=$1`, partID)
	if err != nil {
		return fmt.Errorf("delete part: %w", err)
	}
	return nil
}
