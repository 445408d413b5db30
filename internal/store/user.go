package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siteinspect/apiserver/types"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, user_id, first_name, last_name, email, password_hash, role,
		is_approved, is_suspended, reset_token_hash, reset_token_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (types.User, error) {
	var (
		user       types.User
		email      sql.NullString
		resetHash  sql.NullString
		resetUntil sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.UserID,
		&user.FirstName,
		&user.LastName,
		&email,
		&user.PasswordHash,
		&user.Role,
		&user.IsApproved,
		&user.IsSuspended,
		&resetHash,
		&resetUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, err
	}
	user.Email = email.String
	user.ResetTokenHash = resetHash.String
	if resetUntil.Valid {
		t := resetUntil.Time
		user.ResetTokenExpiresAt = &t
	}
	return user, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg any) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	id, ok := normalizeID(id)
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.getOne(ctx, "id = $1", id)
}

// GetByEmail looks a user up by email ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return types.User{}, ErrNotFound
	}
	return r.getOne(ctx, "LOWER(email) = LOWER($1)", email)
}

func (r *UserRepository) GetByResetTokenHash(ctx context.Context, hash string) (types.User, error) {
	if hash == "" {
		return types.User{}, ErrNotFound
	}
	return r.getOne(ctx, "reset_token_hash = $1", hash)
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, user_id, first_name, last_name, email, password_hash, role,
			is_approved, is_suspended, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.UserID,
		user.FirstName,
		user.LastName,
		nullString(user.Email),
		user.PasswordHash,
		user.Role,
		user.IsApproved,
		user.IsSuspended,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return types.User{}, translate(err)
	}
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	id, ok := normalizeID(user.ID)
	if !ok {
		return types.User{}, ErrNotFound
	}
	user.ID = id
	user.UpdatedAt = time.Now().UTC()

	var resetUntil sql.NullTime
	if user.ResetTokenExpiresAt != nil {
		resetUntil = sql.NullTime{Time: *user.ResetTokenExpiresAt, Valid: true}
	}

	const query = `
		UPDATE users
		SET first_name = $1,
			last_name = $2,
			email = $3,
			password_hash = $4,
			role = $5,
			is_approved = $6,
			is_suspended = $7,
			reset_token_hash = $8,
			reset_token_expires_at = $9,
			updated_at = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.FirstName,
		user.LastName,
		nullString(user.Email),
		user.PasswordHash,
		user.Role,
		user.IsApproved,
		user.IsSuspended,
		nullString(user.ResetTokenHash),
		resetUntil,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, translate(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	id, ok := normalizeID(id)
	if !ok {
		return ErrNotFound
	}
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return translate(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns one page of users matching the filter and the total number
// of matching users.
func (r *UserRepository) List(ctx context.Context, f types.UserFilter) ([]types.User, int, error) {
	var where filter
	where.search(f.Search, "u.first_name", "u.last_name", "u.email", "u.user_id", fullName("u"))
	if f.Role.Valid() {
		where.where("u.role = " + where.arg(f.Role))
	}
	if f.IsApproved != nil {
		where.where("u.is_approved = " + where.arg(*f.IsApproved))
	}
	if f.IsSuspended != nil {
		where.where("u.is_suspended = " + where.arg(*f.IsSuspended))
	}

	countQuery := `SELECT COUNT(1) FROM users u ` + where.clause()
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM users u
		%s
		ORDER BY u.created_at DESC, u.id DESC
		%s`, prefixed("u", userColumns), where.clause(), where.page(f.PageQuery))
	rows, err := r.db.QueryContext(ctx, listQuery, where.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.User, 0, f.Normalize().Limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// prefixed qualifies every column in a comma-separated list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
