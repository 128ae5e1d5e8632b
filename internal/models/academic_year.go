package models

import (
	"fmt"
	"time"
)

// AcademicYear spans two calendar years. At most one year is active.
type AcademicYear struct {
	ID        string    `db:"id" json:"id"`
	StartYear int       `db:"start_year" json:"start_year"`
	EndYear   int       `db:"end_year" json:"end_year"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Label renders the year as "2024/2025".
func (y AcademicYear) Label() string {
	return fmt.Sprintf("%d/%d", y.StartYear, y.EndYear)
}
