package models

import "time"

// UserRole is the access level of a user profile.
type UserRole string

const (
	RolePending           UserRole = "PENDING"
	RoleSuperAdmin        UserRole = "SUPERADMIN"
	RoleAdmin             UserRole = "ADMIN"
	RoleSecretary         UserRole = "SECRETARY"
	RoleAcademicSecretary UserRole = "ACADEMIC_SECRETARY"
	RoleTeacher           UserRole = "TEACHER"
	RoleCoordinator       UserRole = "COORDINATOR"
	RoleStudent           UserRole = "STUDENT"
)

// AssignableRoles are the levels an administrator may grant.
var AssignableRoles = []UserRole{
	RoleSuperAdmin, RoleAdmin, RoleSecretary, RoleAcademicSecretary,
	RoleTeacher, RoleCoordinator, RoleStudent,
}

// StaffRoles receive operational notifications such as ranking results.
var StaffRoles = []UserRole{RoleSuperAdmin, RoleAdmin, RoleSecretary, RoleAcademicSecretary}

// User is the account and its profile stored as one row.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        string     `db:"email" json:"email"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// IsPending reports whether an administrator still has to assign a level.
func (u *User) IsPending() bool {
	return u.Role == RolePending
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
