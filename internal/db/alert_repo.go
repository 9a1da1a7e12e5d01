package db

import (
	"context"
	"time"

	"safetyalert/internal/types"
)

// AlertRepository reads alerts created by the mobile client.
type AlertRepository struct {
	db DBTX
}

func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// ListIDs returns the id of every stored alert.
func (r *AlertRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM alerts`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alert ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert ids", err)
	}
	return ids, nil
}

// ListCreatedSince returns alerts created at or after since, oldest first,
// capped at limit rows.
func (r *AlertRepository) ListCreatedSince(ctx context.Context, since time.Time, limit int) ([]types.AlertPayload, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_name, user_email, service_type, location_text, lat, lng, message, created_at
		 FROM alerts
		 WHERE created_at >= $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list recent alerts", err)
	}
	defer rows.Close()

	var alerts []types.AlertPayload
	for rows.Next() {
		var (
			a            types.AlertPayload
			userEmail    *string
			locationText *string
			lat, lng     *float64
			message      *string
			createdAt    time.Time
		)
		if err := rows.Scan(&a.AlertID, &a.UserName, &userEmail, &a.ServiceType,
			&locationText, &lat, &lng, &message, &createdAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert", err)
		}
		if userEmail != nil {
			a.UserEmail = *userEmail
		}
		if message != nil {
			a.Message = *message
		}
		a.Location = alertLocation(locationText, lat, lng)
		a.Time = types.NewAlertTime(createdAt)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alerts", err)
	}
	return alerts, nil
}

func alertLocation(text *string, lat, lng *float64) types.Location {
	if lat != nil && lng != nil {
		geo := &types.GeoLocation{Lat: lat, Lng: lng}
		if text != nil {
			geo.Address = *text
		}
		return types.Location{Geo: geo}
	}
	if text != nil {
		return types.Location{Text: *text}
	}
	return types.Location{}
}
