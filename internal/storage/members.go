package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MemberStrikes returns the accumulated strike count for a guild member.
// Unknown members have zero strikes.
func (s *Store) MemberStrikes(ctx context.Context, guildID, userID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT strikes FROM members WHERE guild_id = ? AND user_id = ?
	`, guildID, userID)

	var strikes int
	if err := row.Scan(&strikes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return strikes, nil
}

// IncrementMemberStrikes adds one strike for a guild member unless the
// member already holds limit strikes. The read and the write happen inside
// one transaction so concurrent offenses cannot lose an increment. It
// returns the resulting count and whether the limit held it back.
func (s *Store) IncrementMemberStrikes(ctx context.Context, guildID, userID string, limit int) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var strikes int
	row := tx.QueryRowContext(ctx, `
		SELECT strikes FROM members WHERE guild_id = ? AND user_id = ?
	`, guildID, userID)
	if scanErr := row.Scan(&strikes); scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return 0, false, err
	}

	if strikes >= limit {
		if err = tx.Commit(); err != nil {
			return 0, false, err
		}
		return strikes, true, nil
	}

	strikes++
	_, err = tx.ExecContext(ctx, `
		INSERT INTO members (guild_id, user_id, strikes, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			strikes = excluded.strikes,
			updated_at = excluded.updated_at
	`, guildID, userID, strikes, time.Now().Unix())
	if err != nil {
		return 0, false, err
	}
	if err = tx.Commit(); err != nil {
		return 0, false, err
	}
	return strikes, false, nil
}

func (s *Store) SetMemberStrikes(ctx context.Context, guildID, userID string, strikes int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (guild_id, user_id, strikes, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			strikes = excluded.strikes,
			updated_at = excluded.updated_at
	`, guildID, userID, strikes, time.Now().Unix())
	return err
}
