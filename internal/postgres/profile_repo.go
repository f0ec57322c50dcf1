package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/profile"
)

type ProfileRepository struct {
	db *pgxpool.Pool
}

var _ profile.Lookup = (*ProfileRepository)(nil)

func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Profile(ctx context.Context, userID string) (profile.Profile, error) {
	var displayName, avatarURL *string
	err := r.db.QueryRow(ctx,
		`SELECT display_name, avatar_url FROM users WHERE id=$1`, userID).
		Scan(&displayName, &avatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return profile.Profile{}, profile.ErrNotFound
	}
	if err != nil {
		return profile.Profile{}, err
	}
	p := profile.Profile{UserID: userID}
	if displayName != nil {
		p.DisplayName = *displayName
	}
	if avatarURL != nil {
		p.AvatarURL = *avatarURL
	}
	return p, nil
}

// Upsert сохраняет профиль; пустые поля не затирают сохранённые.
func (r *ProfileRepository) Upsert(ctx context.Context, p profile.Profile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, display_name, avatar_url)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE
		SET display_name = COALESCE(EXCLUDED.display_name, users.display_name),
		    avatar_url   = COALESCE(EXCLUDED.avatar_url, users.avatar_url)`,
		p.UserID, p.DisplayName, p.AvatarURL)
	return err
}
