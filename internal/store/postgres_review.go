package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) GetSystemProfileByTone(ctx context.Context, toneKey string) (AIProfile, error) {
	var profile AIProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, COALESCE(tone_key, ''), system_prompt
		FROM ai_profiles
		WHERE user_id IS NULL AND tone_key=$1
	`, toneKey).Scan(&profile.ID, &profile.UserID, &profile.Name, &profile.ToneKey, &profile.SystemPrompt)
	if err != nil {
		return AIProfile{}, err
	}
	return profile, nil
}

// ListAIProfiles returns the shared system profiles plus the caller's own.
func (s *PostgresStore) ListAIProfiles(ctx context.Context, userID string) ([]AIProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, COALESCE(tone_key, ''), system_prompt
		FROM ai_profiles
		WHERE user_id IS NULL OR user_id=$1
		ORDER BY user_id NULLS FIRST, name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ai profiles: %w", err)
	}
	defer rows.Close()

	items := make([]AIProfile, 0)
	for rows.Next() {
		var item AIProfile
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.ToneKey, &item.SystemPrompt); err != nil {
			return nil, fmt.Errorf("scan ai profile: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ai profiles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCustomProfile(ctx context.Context, profileID string) (CustomReviewerProfile, error) {
	var profile CustomReviewerProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, persona, created_at
		FROM custom_reviewer_profiles
		WHERE id=$1
	`, profileID).Scan(&profile.ID, &profile.UserID, &profile.Name, &profile.Persona, &profile.CreatedAt)
	if err != nil {
		return CustomReviewerProfile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) ListCustomProfiles(ctx context.Context, userID string) ([]CustomReviewerProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, persona, created_at
		FROM custom_reviewer_profiles
		WHERE user_id=$1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list custom profiles: %w", err)
	}
	defer rows.Close()

	items := make([]CustomReviewerProfile, 0)
	for rows.Next() {
		var item CustomReviewerProfile
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.Persona, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan custom profile: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custom profiles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertCustomProfile(ctx context.Context, profile CustomReviewerProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_reviewer_profiles (id, user_id, name, persona)
		VALUES ($1, $2, $3, $4)
	`, profile.ID, profile.UserID, profile.Name, profile.Persona)
	if err != nil {
		return fmt.Errorf("insert custom profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCustomProfile(ctx context.Context, profileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM custom_reviewer_profiles WHERE id=$1`, profileID)
	if err != nil {
		return fmt.Errorf("delete custom profile: %w", err)
	}
	return nil
}

// UpsertReview replaces the existing review for the same chapter/profile pair,
// keeping exactly one row per pair.
func (s *PostgresStore) UpsertReview(ctx context.Context, review Review) error {
	var err error
	if review.AIProfileID != nil {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO reviews (id, chapter_id, ai_profile_id, content, prompt)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (chapter_id, ai_profile_id) WHERE ai_profile_id IS NOT NULL
			DO UPDATE SET content=EXCLUDED.content, prompt=EXCLUDED.prompt, updated_at=NOW()
		`, review.ID, review.ChapterID, review.AIProfileID, review.Content, review.Prompt)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO reviews (id, chapter_id, custom_profile_id, content, prompt)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (chapter_id, custom_profile_id) WHERE custom_profile_id IS NOT NULL
			DO UPDATE SET content=EXCLUDED.content, prompt=EXCLUDED.prompt, updated_at=NOW()
		`, review.ID, review.ChapterID, review.CustomProfileID, review.Content, review.Prompt)
	}
	if err != nil {
		return fmt.Errorf("upsert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, chapterID string) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chapter_id, ai_profile_id, custom_profile_id, content, prompt, created_at, updated_at
		FROM reviews
		WHERE chapter_id=$1
		ORDER BY updated_at DESC
	`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(&item.ID, &item.ChapterID, &item.AIProfileID, &item.CustomProfileID,
			&item.Content, &item.Prompt, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}
