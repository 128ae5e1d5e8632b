package service

import (
	"sort"
	"time"

	"github.com/noah-isme/siga-api/internal/models"
)

// RankApplications computes the approval outcome for every application of a
// course. Applications with a score at or above the course minimum are ordered
// by score descending, ties by submission order, and the first Capacity of
// them are approved and stamped with now. Every other application comes back
// not approved with no decision time. The snapshot is not modified.
//
// Decisions are returned ranked first, then the unqualified applications in
// submission order.
func RankApplications(course models.Course, snapshot []models.Application, now time.Time) []models.ApprovalDecision {
	qualified := make([]models.Application, 0, len(snapshot))
	unqualified := make([]models.Application, 0)
	for _, app := range snapshot {
		if app.Score != nil && *app.Score >= course.MinimumScore {
			qualified = append(qualified, app)
		} else {
			unqualified = append(unqualified, app)
		}
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		si, sj := *qualified[i].Score, *qualified[j].Score
		if si != sj {
			return si > sj
		}
		return qualified[i].Sequence < qualified[j].Sequence
	})
	sort.SliceStable(unqualified, func(i, j int) bool {
		return unqualified[i].Sequence < unqualified[j].Sequence
	})

	capacity := course.Capacity
	if capacity < 0 {
		capacity = 0
	}

	decisions := make([]models.ApprovalDecision, 0, len(snapshot))
	for i, app := range qualified {
		d := models.ApprovalDecision{
			ApplicationID: app.ID,
			Number:        app.Number,
			Rank:          i + 1,
			Score:         app.Score,
		}
		if i < capacity {
			stamp := now
			d.Approved = true
			d.DecidedAt = &stamp
		}
		decisions = append(decisions, d)
	}
	for _, app := range unqualified {
		decisions = append(decisions, models.ApprovalDecision{
			ApplicationID: app.ID,
			Number:        app.Number,
			Score:         app.Score,
		})
	}
	return decisions
}

// summariseApprovals builds the run summary for a course from its decisions.
func summariseApprovals(course models.Course, decisions []models.ApprovalDecision, processedAt time.Time) models.ApprovalResult {
	result := models.ApprovalResult{
		CourseID:     course.ID,
		Capacity:     course.Capacity,
		MinimumScore: course.MinimumScore,
		Total:        len(decisions),
		ProcessedAt:  processedAt,
		Decisions:    decisions,
	}
	for _, d := range decisions {
		if d.Rank > 0 {
			result.Qualified++
		}
		if d.Approved {
			result.Approved++
		}
	}
	result.AvailableSeats = models.AvailableSeats(course.Capacity, result.Approved)
	return result
}
