package models

import "time"

// AcademicHistory holds the prior grades of an applicant. One per application.
type AcademicHistory struct {
	ID            string         `db:"id" json:"id"`
	ApplicationID string         `db:"application_id" json:"application_id"`
	Grades        []SubjectGrade `db:"-" json:"grades"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// SubjectGrade is one completed subject inside an academic history.
type SubjectGrade struct {
	ID             string  `db:"id" json:"id"`
	HistoryID      string  `db:"history_id" json:"history_id"`
	SubjectID      string  `db:"subject_id" json:"subject_id"`
	SubjectName    string  `db:"subject_name" json:"subject_name,omitempty"`
	Grade          float64 `db:"grade" json:"grade"`
	CompletionYear int     `db:"completion_year" json:"completion_year"`
	Notes          string  `db:"notes" json:"notes,omitempty"`
}

// GradeBySubject indexes the grades of a history by subject id.
func (h *AcademicHistory) GradeBySubject() map[string]float64 {
	if h == nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(h.Grades))
	for _, g := range h.Grades {
		out[g.SubjectID] = g.Grade
	}
	return out
}

// Eligibility is the outcome of checking a history against prerequisite rules.
type Eligibility struct {
	Eligible  bool     `json:"eligible"`
	Score     *float64 `json:"score,omitempty"`
	Message   string   `json:"message"`
	Deficient []string `json:"deficient,omitempty"`
}
