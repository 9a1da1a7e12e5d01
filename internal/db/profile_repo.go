package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"safetyalert/internal/types"
)

// ProfileRepository reads responder and alert-creator profiles.
type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// ListEmailsByServiceType returns the addresses of every profile whose
// service type matches category. Matching ignores case and whitespace, so
// "Campus Security" matches "campussecurity".
func (r *ProfileRepository) ListEmailsByServiceType(ctx context.Context, category string) ([]string, error) {
	key := strings.ToLower(strings.Join(strings.Fields(category), ""))
	rows, err := r.db.Query(ctx,
		`SELECT email
		 FROM user_profiles
		 WHERE LOWER(REGEXP_REPLACE(service_type, '\s+', '', 'g')) = $1
		   AND email <> ''
		 ORDER BY email`,
		key,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query profiles by service type", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan profile email", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating profile rows", err)
	}
	return emails, nil
}

// GetPushTokenByEmail returns the mobile push token registered for email.
// An unknown profile or an empty token yields "" with no error.
func (r *ProfileRepository) GetPushTokenByEmail(ctx context.Context, email string) (string, error) {
	var token *string
	err := r.db.QueryRow(ctx,
		`SELECT push_token FROM user_profiles WHERE LOWER(email) = LOWER($1)`,
		strings.TrimSpace(email),
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up push token", err)
	}
	if token == nil {
		return "", nil
	}
	return *token, nil
}
