package postgres

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/aidchat/internal/domain"

	"github.com/jackc/pgx/v5"
)

// CreateGroup: группа и первое членство создателя в одной транзакции.
func (s *Store) CreateGroup(ctx context.Context, g *domain.Group, creator domain.UserID) (domain.GroupID, error) {
	var id int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := exists(ctx, tx, queryUserExists, int64(creator))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %d", domain.ErrNotFound, creator)
		}

		if err := tx.QueryRow(ctx, queryCreateGroup, g.Name, g.Description, g.Zipcode, g.CreatedAt).Scan(&id); err != nil {
			return mapPgError(err)
		}
		if _, err := tx.Exec(ctx, queryInsertMember, id, int64(creator)); err != nil {
			return mapPgError(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return domain.GroupID(id), nil
}

func (s *Store) GetGroup(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	return getGroup(ctx, s.pool, id)
}

func getGroup(ctx context.Context, q querier, id domain.GroupID) (*domain.Group, error) {
	g, err := scanGroup(q.QueryRow(ctx, querySelectGroup+" WHERE id = $1;", int64(id)))
	if err != nil {
		return nil, fmt.Errorf("group %d: %w", id, mapPgError(err))
	}
	g.Members, err = collectIDs[domain.UserID](ctx, q, queryGroupMembers, int64(id))
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return s.listGroups(ctx, querySelectGroup+" ORDER BY id;")
}

func (s *Store) ListUserGroups(ctx context.Context, userID domain.UserID) ([]domain.Group, error) {
	ok, err := exists(ctx, s.pool, queryUserExists, int64(userID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %d", domain.ErrNotFound, userID)
	}
	return s.listGroups(ctx, queryListUserGroup, int64(userID))
}

func (s *Store) listGroups(ctx context.Context, sql string, args ...any) ([]domain.Group, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Group, 0, 8)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Members, err = collectIDs[domain.UserID](ctx, s.pool, queryGroupMembers, int64(out[i].ID))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddMember блокирует строку группы: параллельные join/leave по одной группе ждут друг друга.
func (s *Store) AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Group, error) {
	var g *domain.Group
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPair(ctx, tx, groupID, userID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, queryInsertMember, int64(groupID), int64(userID))
		if err != nil {
			return mapPgError(err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: user %d already in group %d", domain.ErrConflict, userID, groupID)
		}
		g, err = getGroup(ctx, tx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPair(ctx, tx, groupID, userID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, queryDeleteMember, int64(groupID), int64(userID))
		if err != nil {
			return mapPgError(err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: user %d is not in group %d", domain.ErrNotFound, userID, groupID)
		}
		return nil
	})
}

func (s *Store) IsMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error) {
	ok, err := exists(ctx, s.pool, queryGroupExists, int64(groupID))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: group %d", domain.ErrNotFound, groupID)
	}
	return exists(ctx, s.pool, queryIsMember, int64(groupID), int64(userID))
}

func lockPair(ctx context.Context, tx pgx.Tx, groupID domain.GroupID, userID domain.UserID) error {
	var id int64
	if err := tx.QueryRow(ctx, queryLockGroup, int64(groupID)).Scan(&id); err != nil {
		return fmt.Errorf("group %d: %w", groupID, mapPgError(err))
	}
	ok, err := exists(ctx, tx, queryUserExists, int64(userID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d", domain.ErrNotFound, userID)
	}
	return nil
}

func scanGroup(row pgx.Row) (*domain.Group, error) {
	var (
		g  domain.Group
		id int64
	)
	if err := row.Scan(&id, &g.Name, &g.Description, &g.Zipcode, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.ID = domain.GroupID(id)
	return &g, nil
}
