package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"github.com/noctua-health/somnia/internal/crypto"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/models"
)

// ScoreChange compares a participant's earliest and most recent assessment
// of one type. Negative Change means the score went down, which is an
// improvement on every instrument the program administers.
type ScoreChange struct {
	Type          string `json:"type"`
	FirstScore    int    `json:"first_score"`
	LatestScore   int    `json:"latest_score"`
	Change        int    `json:"change"`
	Assessments   int64  `json:"assessments"`
	ClinicallySig bool   `json:"clinically_significant"`
}

// AssessmentRepository persists completed questionnaires. The raw per-item
// answers are PHI and encrypted at rest; the total score stays queryable in
// clear for aggregate statistics.
type AssessmentRepository struct {
	*Repository[*models.Assessment]
	cipher crypto.FieldCipher
	logger *logger.Logger
}

// NewAssessmentRepository constructs an [AssessmentRepository].
func NewAssessmentRepository(conn Connection, cipher crypto.FieldCipher, log *logger.Logger) *AssessmentRepository {
	r := &AssessmentRepository{cipher: cipher, logger: log}

	r.Repository = NewRepository(conn, Mapping[*models.Assessment]{
		Table: "assessments",
		Columns: []string{
			"user_id", "type", "score", "answers", "completed_at",
		},
		ToParams: r.entityToParams,
		ScanRow:  r.rowToEntity,
	}, log)

	return r
}

func (r *AssessmentRepository) entityToParams(a *models.Assessment) (map[string]any, error) {
	answers, err := r.cipher.EncryptField(a.Answers)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"user_id":      a.UserID,
		"type":         a.Type,
		"score":        a.Score,
		"answers":      answers,
		"completed_at": a.CompletedAt.UTC(),
	}, nil
}

func (r *AssessmentRepository) rowToEntity(scan func(dest ...any) error) (*models.Assessment, error) {
	var a models.Assessment
	var id int64
	var answers sql.NullString
	var deletedAt sql.NullTime

	err := scan(&id, &a.UserID, &a.Type, &a.Score, &answers,
		&a.CompletedAt, &a.CreatedAt, &a.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	a.ID = &id
	a.Answers = r.cipher.DecryptField(answers.String)
	if deletedAt.Valid {
		t := deletedAt.Time
		a.DeletedAt = &t
	}

	return &a, nil
}

// LatestByType returns the participant's most recent assessment of the
// given type.
func (r *AssessmentRepository) LatestByType(ctx context.Context, userID int64, assessmentType string) (*models.Assessment, error) {
	b := r.selectBuilder(FindOptions{OrderBy: "completed_at DESC"}).
		Where(sq.Eq{"user_id": userID, "type": assessmentType})
	return r.queryOne(ctx, b)
}

// EarliestByType returns the participant's first assessment of the given
// type — the baseline the improvement criterion compares against.
func (r *AssessmentRepository) EarliestByType(ctx context.Context, userID int64, assessmentType string) (*models.Assessment, error) {
	b := r.selectBuilder(FindOptions{OrderBy: "completed_at ASC"}).
		Where(sq.Eq{"user_id": userID, "type": assessmentType})
	return r.queryOne(ctx, b)
}

// ScoreChange evaluates the participant's score movement between their
// earliest and latest assessment of the given type, and whether the drop
// meets the instrument's minimal-important-change threshold.
func (r *AssessmentRepository) ScoreChange(ctx context.Context, userID int64, assessmentType string) (*ScoreChange, error) {
	earliest, err := r.EarliestByType(ctx, userID, assessmentType)
	if err != nil {
		return nil, err
	}
	latest, err := r.LatestByType(ctx, userID, assessmentType)
	if err != nil {
		return nil, err
	}

	count, err := r.Count(ctx, map[string]any{"user_id": userID, "type": assessmentType})
	if err != nil {
		return nil, err
	}

	change := latest.Score - earliest.Score
	threshold := models.MinimalImportantChange(assessmentType)

	return &ScoreChange{
		Type:          assessmentType,
		FirstScore:    earliest.Score,
		LatestScore:   latest.Score,
		Change:        change,
		Assessments:   count,
		ClinicallySig: threshold > 0 && count >= 2 && change <= -threshold,
	}, nil
}
