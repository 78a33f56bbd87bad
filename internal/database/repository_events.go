package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"license-gateway/internal/license"
)

// InsertEvent implements license.EventSink
func (r *Repository) InsertEvent(ctx context.Context, e license.AnalyticsEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
	INSERT INTO analytics_events (id, event_type, license_id, user_id, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, string(e.Type), optionalID(e.LicenseID), optionalID(e.UserID), payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events of a license
func (r *Repository) RecentEvents(ctx context.Context, licenseID string, limit int) ([]license.AnalyticsEvent, error) {
	if !validID(licenseID) {
		return nil, license.ErrLicenseNotFound
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, `
	SELECT id::text, event_type, COALESCE(license_id::text, ''), COALESCE(user_id::text, ''),
	       metadata, created_at
	FROM analytics_events
	WHERE license_id = $1
	ORDER BY created_at DESC
	LIMIT $2
	`, licenseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []license.AnalyticsEvent
	for rows.Next() {
		var (
			e         license.AnalyticsEvent
			eventType string
			raw       []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.LicenseID, &e.UserID, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = license.EventType(eventType)
		if err := json.Unmarshal(raw, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode event metadata: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// optionalID maps an empty or malformed id to SQL NULL so that events about
// unknown licenses are still stored
func optionalID(id string) *string {
	if !validID(id) {
		return nil
	}
	return &id
}
