package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/noctua-health/somnia/internal/crypto"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/models"
)

// UserRepository persists program participants. The first name is PHI and
// is encrypted on the way in and decrypted on the way out, transparently to
// the generic operations.
type UserRepository struct {
	*Repository[*models.User]
	cipher crypto.FieldCipher
	logger *logger.Logger
}

// NewUserRepository constructs a [UserRepository] backed by the provided
// connection, field cipher and logger.
func NewUserRepository(conn Connection, cipher crypto.FieldCipher, log *logger.Logger) *UserRepository {
	r := &UserRepository{cipher: cipher, logger: log}

	r.Repository = NewRepository(conn, Mapping[*models.User]{
		Table: "users",
		Columns: []string{
			"telegram_id", "username", "first_name", "timezone",
			"language", "consent_given_at", "active",
		},
		ToParams: r.entityToParams,
		ScanRow:  r.rowToEntity,
	}, log)

	return r
}

func (r *UserRepository) entityToParams(u *models.User) (map[string]any, error) {
	firstName, err := r.cipher.EncryptField(u.FirstName)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"telegram_id":      u.TelegramID,
		"username":         u.Username,
		"first_name":       firstName,
		"timezone":         u.Timezone,
		"language":         u.Language,
		"consent_given_at": u.ConsentGivenAt,
		"active":           u.Active,
	}, nil
}

func (r *UserRepository) rowToEntity(scan func(dest ...any) error) (*models.User, error) {
	var u models.User
	var id int64
	var username, firstName, timezone, language sql.NullString
	var consentAt, deletedAt sql.NullTime

	err := scan(&id, &u.TelegramID, &username, &firstName, &timezone,
		&language, &consentAt, &u.Active, &u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	u.ID = &id
	u.Username = username.String
	u.FirstName = r.cipher.DecryptField(firstName.String)
	u.Timezone = timezone.String
	u.Language = language.String
	if consentAt.Valid {
		t := consentAt.Time
		u.ConsentGivenAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}

	return &u, nil
}

// FindByTelegramID looks a participant up by their Telegram chat id.
func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return r.FindOneBy(ctx, map[string]any{"telegram_id": telegramID})
}

// UpsertByTelegramID inserts a new participant or updates the existing one
// keyed by the Telegram chat id — the business key, not the surrogate id.
func (r *UserRepository) UpsertByTelegramID(ctx context.Context, u *models.User) (*models.User, error) {
	existing, err := r.FindByTelegramID(ctx, u.TelegramID)
	switch {
	case err == nil:
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
		return r.Update(ctx, u)
	case errors.Is(err, ErrRecordNotFound):
		return r.Insert(ctx, u)
	default:
		return nil, err
	}
}

// RecordConsent stamps the consent timestamp on the participant record.
func (r *UserRepository) RecordConsent(ctx context.Context, id int64, at time.Time) (*models.User, error) {
	u, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.ConsentGivenAt = &at
	return r.Update(ctx, u)
}
