package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/siga-api/internal/models"
)

const userColumns = "id, username, email, phone, password_hash, full_name, role, active, last_login, created_at, updated_at"

// UserRepository stores accounts, their refresh tokens and the audit trail.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// findUser loads the first user matching where. sql.ErrNoRows is returned
// bare so services can map it to 404.
func (r *UserRepository) findUser(ctx context.Context, op, where string, args ...interface{}) (*models.User, error) {
	var user models.User
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s LIMIT 1", userColumns, where)
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find user by %s: %w", op, err)
	}
	return &user, nil
}

// FindByEmail returns a user by email address, case insensitive.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findUser(ctx, "email", "LOWER(email) = LOWER($1)", email)
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findUser(ctx, "id", "id = $1", id)
}

// FindByLogin resolves the login field of the sign-in form, which accepts a
// username, an email or a phone number.
func (r *UserRepository) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	return r.findUser(ctx, "login", "LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1) OR phone = $1", login)
}

// FindByPhone returns a user by phone number.
func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.findUser(ctx, "phone", "phone = $1", phone)
}

// userUniqueColumns maps unique profile fields to their comparison expression.
var userUniqueColumns = map[string]string{
	"username": "LOWER(username) = LOWER($1)",
	"email":    "LOWER(email) = LOWER($1)",
	"phone":    "phone = $1",
}

// ExistsByField reports whether another user already holds value in a unique field.
func (r *UserRepository) ExistsByField(ctx context.Context, field, value, excludeID string) (bool, error) {
	predicate, ok := userUniqueColumns[field]
	if !ok {
		return false, fmt.Errorf("unsupported unique field %q", field)
	}
	query := "SELECT 1 FROM users WHERE " + predicate
	args := []interface{}{value}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check user %s: %w", field, err)
	}
	return true, nil
}

// ListIDsByRoles returns the ids of active users holding any of the roles.
func (r *UserRepository) ListIDsByRoles(ctx context.Context, roles []models.UserRole) ([]string, error) {
	values := make([]string, len(roles))
	for i, role := range roles {
		values[i] = string(role)
	}
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE active AND role = ANY($1)`, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("list users by roles: %w", err)
	}
	return ids, nil
}

// UpdateRole assigns an access level.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, id, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return requireAffected(res)
}

// UpdateLastLogin stamps a successful sign-in.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

var userSorts = map[string]struct{}{
	"email": {}, "username": {}, "full_name": {}, "created_at": {}, "updated_at": {}, "last_login": {},
}

// List returns one page of users with the total matching count. Pending
// accounts waiting for a role are found with Role = PENDING.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Role != nil {
		where = append(where, "role = "+arg(*filter.Role))
	}
	if filter.Active != nil {
		where = append(where, "active = "+arg(*filter.Active))
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		p := arg("%" + strings.ToLower(term) + "%")
		where = append(where, fmt.Sprintf("(LOWER(email) LIKE %[1]s OR LOWER(full_name) LIKE %[1]s OR LOWER(username) LIKE %[1]s)", p))
	}
	base := "FROM users WHERE 1=1"
	if len(where) > 0 {
		base += " AND " + strings.Join(where, " AND ")
	}

	sortBy := filter.SortBy
	if _, ok := userSorts[sortBy]; !ok {
		sortBy = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	page, size := normalisePage(filter.Page, filter.PageSize)

	var users []models.User
	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, base, sortBy, order, size, (page-1)*size)
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// Create inserts a new user. Self registrations arrive with role PENDING.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, username, email, phone, password_hash, full_name, role, active, created_at, updated_at)
VALUES (:id, :username, :email, :phone, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update writes the editable profile fields.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET email = :email, phone = :phone, full_name = :full_name, role = :role, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// Delete deactivates the account; rows stay for the audit trail.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
