package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/cwrk-planet/aidchat/internal/domain"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateUser(ctx context.Context, u *domain.User) (domain.UserID, error) {
	var id int64
	err := s.pool.QueryRow(
		ctx,
		queryCreateUser,
		u.Username,
		u.Email,
		u.PasswordHash,
		u.Zipcode,
		u.Pronouns,
		u.Bio,
		u.IsAdmin,
		u.CreatedAt,
		u.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, mapPgError(err)
	}

	return domain.UserID(id), nil
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return s.getUser(ctx, querySelectUser+" WHERE id = $1;", int64(id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, querySelectUser+" WHERE lower(username) = lower($1);", strings.TrimSpace(username))
}

func (s *Store) getUser(ctx context.Context, sql string, arg any) (*domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, sql, arg))
	if err != nil {
		return nil, fmt.Errorf("user %v: %w", arg, mapPgError(err))
	}
	u.Groups, err = collectIDs[domain.GroupID](ctx, s.pool, queryUserGroups, int64(u.ID))
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, querySelectUser+" ORDER BY id;")
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Groups, err = collectIDs[domain.GroupID](ctx, s.pool, queryUserGroups, int64(out[i].ID))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	tag, err := s.pool.Exec(ctx, queryUpdateUser,
		int64(u.ID),
		u.Username,
		u.Email,
		u.Zipcode,
		u.Pronouns,
		u.Bio,
		u.IsAdmin,
		u.PasswordHash,
		u.UpdatedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %d", domain.ErrNotFound, u.ID)
	}
	return nil
}

// DeleteUser: членства удаляются каскадом по FK.
func (s *Store) DeleteUser(ctx context.Context, id domain.UserID) error {
	tag, err := s.pool.Exec(ctx, queryDeleteUser, int64(id))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u  domain.User
		id int64
	)
	err := row.Scan(
		&id,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Zipcode,
		&u.Pronouns,
		&u.Bio,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.ID = domain.UserID(id)
	return &u, nil
}
