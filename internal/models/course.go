package models

import "time"

// Allowed course durations in months.
var CourseDurations = []int{3, 6, 12, 24, 36, 48, 60}

// Course is an admissions offer with a seat capacity and a passing threshold.
type Course struct {
	ID                    string    `db:"id" json:"id"`
	Code                  string    `db:"code" json:"code"`
	Name                  string    `db:"name" json:"name"`
	Description           string    `db:"description" json:"description"`
	Capacity              int       `db:"capacity" json:"capacity"`
	DurationMonths        int       `db:"duration_months" json:"duration_months"`
	MinimumScore          float64   `db:"minimum_score" json:"minimum_score"`
	RequiresPrerequisites bool      `db:"requires_prerequisites" json:"requires_prerequisites"`
	Active                bool      `db:"active" json:"active"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// CourseSummary enriches a course with its application counters.
type CourseSummary struct {
	Course
	ApprovedCount     int `db:"approved_count" json:"approved_count"`
	TotalApplications int `db:"total_applications" json:"total_applications"`
	AvailableSeats    int `db:"-" json:"available_seats"`
}

// AvailableSeats returns max(0, capacity - approved).
func AvailableSeats(capacity, approved int) int {
	if remaining := capacity - approved; remaining > 0 {
		return remaining
	}
	return 0
}

// CourseFilter captures list parameters for courses.
type CourseFilter struct {
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Subject is a discipline taught within a course. Prerequisite rules and
// academic history grades reference subjects.
type Subject struct {
	ID            string    `db:"id" json:"id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	Name          string    `db:"name" json:"name"`
	Code          string    `db:"code" json:"code"`
	WorkloadHours int       `db:"workload_hours" json:"workload_hours"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// PrerequisiteRule requires a minimum grade in a subject before applying to a course.
type PrerequisiteRule struct {
	ID           string    `db:"id" json:"id"`
	CourseID     string    `db:"course_id" json:"course_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	SubjectName  string    `db:"subject_name" json:"subject_name"`
	MinimumGrade float64   `db:"minimum_grade" json:"minimum_grade"`
	Mandatory    bool      `db:"mandatory" json:"mandatory"`
	Position     int       `db:"position" json:"position"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
