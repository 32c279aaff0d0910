package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

const (
	userColumns = `id, name, email, phone_num, addresses, password_hash, role, banned, created_at, updated_at`

	insertUserSQL = `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getUserByIDSQL    = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getUserByEmailSQL = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	countUsersSQL     = `SELECT count(*) FROM users`
	listUsersSQL      = `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	updatePasswordSQL = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	setBannedSQL      = `UPDATE users SET banned = $2, updated_at = $3 WHERE id = $1`
)

var _ auth.UserRepository = (*UserRepository)(nil)

// UserRepository implements auth.UserRepository.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a user.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	_, err := r.pool.Exec(ctx, insertUserSQL,
		u.ID, u.Name, u.Email, u.PhoneNum, nonNil(u.Addresses), u.PasswordHash, string(u.Role), u.Banned,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return auth.ErrEmailTaken
		}
		return errors.Wrap(err, "insert user")
	}
	return nil
}

// GetByID returns a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*auth.User, error) {
	return r.getOne(ctx, getUserByIDSQL, id)
}

// GetByEmail returns a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getOne(ctx, getUserByEmailSQL, email)
}

func (r *UserRepository) getOne(ctx context.Context, query, arg string) (*auth.User, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}
	return &u, nil
}

// List returns a page of users, newest first.
func (r *UserRepository) List(ctx context.Context, page, pageSize int) ([]auth.User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countUsersSQL).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count users")
	}
	rows, err := r.pool.Query(ctx, listUsersSQL, pageSize, max(page-1, 0)*pageSize)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list users")
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list users")
	}
	return users, total, nil
}

// UpdatePassword replaces a user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string, at time.Time) error {
	return r.exec(ctx, updatePasswordSQL, id, hash, at)
}

// SetBanned sets a user's banned flag.
func (r *UserRepository) SetBanned(ctx context.Context, id string, banned bool, at time.Time) error {
	return r.exec(ctx, setBannedSQL, id, banned, at)
}

func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "update user")
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.CollectableRow) (auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PhoneNum, &u.Addresses, &u.PasswordHash, &role, &u.Banned,
		&u.CreatedAt, &u.UpdatedAt,
	)
	u.Role = auth.Role(role)
	return u, err
}
