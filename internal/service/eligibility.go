package service

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/noah-isme/siga-api/internal/models"
)

// IsEligible checks an academic history against the prerequisite rules of a
// course. Mandatory rules fail on a missing grade or a grade strictly below the
// rule minimum; optional rules never block. Message carries the first failure
// in rule order and Deficient names every failing subject. Score is the mean of
// the grades the history holds for subjects referenced by any rule, absent when
// there are none.
func IsEligible(history *models.AcademicHistory, rules []models.PrerequisiteRule) models.Eligibility {
	if len(rules) == 0 {
		return models.Eligibility{Eligible: true, Message: "no prerequisites"}
	}

	ordered := make([]models.PrerequisiteRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	grades := history.GradeBySubject()
	var (
		sum       float64
		count     int
		deficient []string
		messages  []string
	)
	for _, rule := range ordered {
		grade, ok := grades[rule.SubjectID]
		if ok {
			sum += grade
			count++
		}
		if !rule.Mandatory {
			continue
		}
		name := rule.SubjectName
		if name == "" {
			name = rule.SubjectID
		}
		switch {
		case !ok:
			deficient = append(deficient, name)
			messages = append(messages, fmt.Sprintf("missing grade in %s", name))
		case grade < rule.MinimumGrade:
			deficient = append(deficient, name)
			messages = append(messages, fmt.Sprintf("insufficient grade in %s (minimum: %s)", name, formatGrade(rule.MinimumGrade)))
		}
	}

	result := models.Eligibility{Eligible: len(deficient) == 0, Deficient: deficient}
	if count > 0 {
		mean := sum / float64(count)
		result.Score = &mean
	}
	switch {
	case !result.Eligible:
		result.Message = messages[0]
	case result.Score != nil:
		result.Message = fmt.Sprintf("eligible (mean: %.2f)", *result.Score)
	default:
		result.Message = "eligible"
	}
	return result
}

func formatGrade(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

