package db

import (
	"context"
	"fmt"
	"time"

	"github.com/brettboylen/mischief-tracker/hashtag"
	"github.com/brettboylen/mischief-tracker/models"
)

// Exists reports whether source has already recorded identity
func (d *Database) Exists(ctx context.Context, source, identity string) (bool, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM posts WHERE source = ? AND post_id = ?",
		source, identity,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up post %s: %w", identity, err)
	}

	return count > 0, nil
}

// InsertIfAbsent records a claim unless source already has identity.
// A conflicting row is not an error; the first writer wins.
func (d *Database) InsertIfAbsent(ctx context.Context, source, identity string, claim models.Claim) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	INSERT OR IGNORE INTO posts (
		source, post_id, platform, handle, text, points, mission_id,
		mission_table_version, city, state, country, created_at, recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := d.db.ExecContext(ctx, query,
		source, identity, string(claim.Platform), claim.Handle, claim.Text,
		claim.Points, int(claim.MissionID), hashtag.MissionTableVersion,
		claim.City, claim.State, claim.Country,
		claim.CreatedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save post: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	return affected == 1, nil
}

// Claims returns every claim source has recorded, oldest first
func (d *Database) Claims(ctx context.Context, source string) ([]models.Claim, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT post_id, platform, handle, text, points, mission_id,
		city, state, country, created_at
	FROM posts
	WHERE source = ?
	ORDER BY seq ASC
	`

	rows, err := d.db.QueryContext(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims for %s: %w", source, err)
	}
	defer rows.Close()

	claims := make([]models.Claim, 0)
	for rows.Next() {
		var claim models.Claim
		var platform string
		var missionID int
		var createdAt string

		err := rows.Scan(
			&claim.Identity, &platform, &claim.Handle, &claim.Text, &claim.Points,
			&missionID, &claim.City, &claim.State, &claim.Country, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}

		claim.Source = source
		claim.Platform = models.Platform(platform)
		claim.MissionID = models.MissionID(missionID)
		claim.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse claim time for %s: %w", claim.Identity, err)
		}
		claims = append(claims, claim)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return claims, nil
}
