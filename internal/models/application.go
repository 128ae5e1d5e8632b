package models

import "time"

// Shift is the preferred class period of an applicant.
type Shift string

const (
	ShiftMorning   Shift = "M"
	ShiftAfternoon Shift = "T"
	ShiftNight     Shift = "N"
)

// Application is a candidate's enrollment request for a single course.
type Application struct {
	ID       string `db:"id" json:"id"`
	Number   string `db:"number" json:"number"`
	Sequence int64  `db:"sequence" json:"-"`
	CourseID string `db:"course_id" json:"course_id"`

	FullName      string     `db:"full_name" json:"full_name"`
	BirthDate     time.Time  `db:"birth_date" json:"birth_date"`
	Birthplace    string     `db:"birthplace" json:"birthplace"`
	Nationality   string     `db:"nationality" json:"nationality"`
	IDCardNumber  string     `db:"id_card_number" json:"id_card_number"`
	IDCardExpiry  *time.Time `db:"id_card_expiry" json:"id_card_expiry,omitempty"`
	Sex           string     `db:"sex" json:"sex"`
	MaritalStatus string     `db:"marital_status" json:"marital_status"`
	Address       string     `db:"address" json:"address"`
	Phone         string     `db:"phone" json:"phone"`
	Email         string     `db:"email" json:"email"`

	PreviousSchool string `db:"previous_school" json:"previous_school"`
	CompletionYear string `db:"completion_year" json:"completion_year"`
	PreferredShift Shift  `db:"preferred_shift" json:"preferred_shift"`

	PaymentReference   string `db:"payment_reference" json:"payment_reference,omitempty"`
	SponsorName        string `db:"sponsor_name" json:"sponsor_name,omitempty"`
	SponsorPhone       string `db:"sponsor_phone" json:"sponsor_phone,omitempty"`
	GuardianName       string `db:"guardian_name" json:"guardian_name,omitempty"`
	GuardianRelation   string `db:"guardian_relation" json:"guardian_relation,omitempty"`
	GuardianPhone      string `db:"guardian_phone" json:"guardian_phone,omitempty"`
	GuardianEmail      string `db:"guardian_email" json:"guardian_email,omitempty"`
	GuardianOccupation string `db:"guardian_occupation" json:"guardian_occupation,omitempty"`

	Score       *float64   `db:"score" json:"score,omitempty"`
	Approved    bool       `db:"approved" json:"approved"`
	SubmittedAt time.Time  `db:"submitted_at" json:"submitted_at"`
	DecidedAt   *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Age returns the completed years of the applicant at the given instant.
func (a Application) Age(now time.Time) int {
	years := now.Year() - a.BirthDate.Year()
	if now.Month() < a.BirthDate.Month() || (now.Month() == a.BirthDate.Month() && now.Day() < a.BirthDate.Day()) {
		years--
	}
	return years
}

// IDCardExpired reports whether the ID card expiry date is before today.
func (a Application) IDCardExpired(now time.Time) bool {
	if a.IDCardExpiry == nil {
		return false
	}
	return DateOnly(*a.IDCardExpiry).Before(DateOnly(now))
}

// ApplicationDetail joins the course name.
type ApplicationDetail struct {
	Application
	CourseName string `db:"course_name" json:"course_name"`
}

// ApplicationFilter captures list parameters for applications.
type ApplicationFilter struct {
	CourseID  string
	Approved  *bool
	HasScore  *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ApprovalDecision is the ranking outcome for one application.
type ApprovalDecision struct {
	ApplicationID string     `json:"application_id"`
	Number        string     `json:"number"`
	Rank          int        `json:"rank,omitempty"`
	Score         *float64   `json:"score,omitempty"`
	Approved      bool       `json:"approved"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

// ApprovalResult summarises a ranking run for a course.
type ApprovalResult struct {
	CourseID       string             `json:"course_id"`
	Capacity       int                `json:"capacity"`
	MinimumScore   float64            `json:"minimum_score"`
	Total          int                `json:"total"`
	Qualified      int                `json:"qualified"`
	Approved       int                `json:"approved"`
	AvailableSeats int                `json:"available_seats"`
	ProcessedAt    time.Time          `json:"processed_at"`
	Decisions      []ApprovalDecision `json:"decisions"`
}
