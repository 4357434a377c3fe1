package postgres

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"

	"github.com/jackc/pgx/v5"
)

func (s *Store) AppendMessage(ctx context.Context, groupID domain.GroupID, userID domain.UserID, username, text string) (*domain.Message, error) {
	m := &domain.Message{GroupID: groupID, UserID: userID, Username: username, Text: text}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var gid int64
		if err := tx.QueryRow(ctx, queryLockGroup, int64(groupID)).Scan(&gid); err != nil {
			return fmt.Errorf("group %d: %w", groupID, mapPgError(err))
		}

		var id int64
		err := tx.QueryRow(ctx, queryAppendMessage, int64(groupID), int64(userID), username, text, s.now().UTC()).
			Scan(&id, &m.CreatedAt)
		if err != nil {
			return mapPgError(err)
		}
		m.ID = domain.MessageID(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecentMessages выбирает страницу по убыванию (created_at,id) и разворачивает её.
func (s *Store) RecentMessages(ctx context.Context, groupID domain.GroupID, before *repository.Cursor, limit int) ([]domain.Message, error) {
	ok, err := exists(ctx, s.pool, queryGroupExists, int64(groupID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: group %d", domain.ErrNotFound, groupID)
	}
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	var createdAt, id any
	if before != nil {
		createdAt = before.CreatedAt
		id = int64(before.ID)
	}

	out, err := s.queryMessages(ctx, queryRecentMessages, int64(groupID), createdAt, id, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, limit int) ([]domain.Message, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	return s.queryMessages(ctx, queryListMessages, lim)
}

func (s *Store) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	tag, err := s.pool.Exec(ctx, queryDeleteMessage, int64(id))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: message %d", domain.ErrNotFound, id)
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, sql string, args ...any) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0, 16)
	for rows.Next() {
		var (
			m            domain.Message
			id, gid, uid int64
		)
		if err := rows.Scan(&id, &gid, &uid, &m.Username, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ID = domain.MessageID(id)
		m.GroupID = domain.GroupID(gid)
		m.UserID = domain.UserID(uid)
		out = append(out, m)
	}
	return out, rows.Err()
}
