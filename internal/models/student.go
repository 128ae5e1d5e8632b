package models

import "time"

// Student is an admitted applicant holding an ALU-NNNNNN number.
type Student struct {
	ID            string     `db:"id" json:"id"`
	Number        string     `db:"number" json:"number"`
	ApplicationID *string    `db:"application_id" json:"application_id,omitempty"`
	UserID        *string    `db:"user_id" json:"user_id,omitempty"`
	CourseID      string     `db:"course_id" json:"course_id"`
	FullName      string     `db:"full_name" json:"full_name"`
	IDCardNumber  string     `db:"id_card_number" json:"id_card_number"`
	BirthDate     time.Time  `db:"birth_date" json:"birth_date"`
	Sex           string     `db:"sex" json:"sex"`
	Phone         string     `db:"phone" json:"phone"`
	Email         string     `db:"email" json:"email"`
	Address       string     `db:"address" json:"address"`
	EnrolledOn    time.Time  `db:"enrolled_on" json:"enrolled_on"`
	Active        bool       `db:"active" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	LeftOn        *time.Time `db:"left_on" json:"left_on,omitempty"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	CourseID  string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
