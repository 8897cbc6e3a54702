package models

import "time"

// Assessment types administered by the program.
const (
	AssessmentISI  = "isi"  // Insomnia Severity Index
	AssessmentPHQ9 = "phq9" // Patient Health Questionnaire-9
	AssessmentGAD7 = "gad7" // Generalized Anxiety Disorder-7
)

// minimalImportantChange maps an assessment type to the score decrease
// considered a clinically significant improvement for that instrument.
var minimalImportantChange = map[string]int{
	AssessmentISI:  6,
	AssessmentPHQ9: 5,
	AssessmentGAD7: 4,
}

// Assessment is one completed questionnaire. Answers holds the raw
// per-item responses as a JSON document and is encrypted at rest as PHI.
type Assessment struct {
	Entity

	UserID      int64     `json:"user_id"`
	Type        string    `json:"type"`
	Score       int       `json:"score"`
	Answers     string    `json:"answers,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// MinimalImportantChange returns the score decrease that counts as a
// clinically significant improvement for the given assessment type, or 0
// when the type is unknown.
func MinimalImportantChange(assessmentType string) int {
	return minimalImportantChange[assessmentType]
}
