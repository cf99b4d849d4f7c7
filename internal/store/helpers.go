package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalFlowColumns serializes a flow's keyword and node sets for storage.
func marshalFlowColumns(f models.Flow) (keywords string, nodes string, err error) {
	kw, err := json.Marshal(f.TriggerKeywords)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal trigger keywords for flow %s: %w", f.ID, err)
	}
	nd, err := json.Marshal(f.Nodes)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal nodes for flow %s: %w", f.ID, err)
	}
	return string(kw), string(nd), nil
}

func unmarshalFlowColumns(f *models.Flow, keywords, nodes string) error {
	if err := json.Unmarshal([]byte(keywords), &f.TriggerKeywords); err != nil {
		return fmt.Errorf("failed to unmarshal trigger keywords for flow %s: %w", f.ID, err)
	}
	if err := json.Unmarshal([]byte(nodes), &f.Nodes); err != nil {
		return fmt.Errorf("failed to unmarshal nodes for flow %s: %w", f.ID, err)
	}
	return nil
}

// scanFlow scans a Flow from sql.Rows.
func scanFlow(rows *sql.Rows) (models.Flow, error) {
	var f models.Flow
	var keywords, nodes string
	if err := rows.Scan(&f.ID, &f.AccountID, &keywords, &nodes, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return f, fmt.Errorf("scan flow failed: %w", err)
	}
	if err := unmarshalFlowColumns(&f, keywords, nodes); err != nil {
		return f, err
	}
	return f, nil
}

// scanFlowRow scans a Flow from a single sql.Row.
func scanFlowRow(row *sql.Row) (models.Flow, error) {
	var f models.Flow
	var keywords, nodes string
	if err := row.Scan(&f.ID, &f.AccountID, &keywords, &nodes, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return f, err
	}
	if err := unmarshalFlowColumns(&f, keywords, nodes); err != nil {
		return f, err
	}
	return f, nil
}

// scanTracker scans a Tracker from sql.Rows.
func scanTracker(rows *sql.Rows) (models.Tracker, error) {
	var t models.Tracker
	var displayName sql.NullString
	var reactivateAt sql.NullTime
	err := rows.Scan(
		&t.ID, &t.PhoneNumber, &t.BotNumber, &t.FlowID, &t.CurrentNodeID,
		&displayName, &t.IsActive, &t.JoinedAt, &t.LastActive, &reactivateAt,
	)
	if err != nil {
		return t, fmt.Errorf("scan tracker failed: %w", err)
	}
	t.DisplayName = displayName.String
	if reactivateAt.Valid {
		t.ReactivateAt = &reactivateAt.Time
	}
	return t, nil
}

// scanTrackerRow scans a Tracker from a single sql.Row.
func scanTrackerRow(row *sql.Row) (models.Tracker, error) {
	var t models.Tracker
	var displayName sql.NullString
	var reactivateAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.PhoneNumber, &t.BotNumber, &t.FlowID, &t.CurrentNodeID,
		&displayName, &t.IsActive, &t.JoinedAt, &t.LastActive, &reactivateAt,
	)
	if err != nil {
		return t, err
	}
	t.DisplayName = displayName.String
	if reactivateAt.Valid {
		t.ReactivateAt = &reactivateAt.Time
	}
	return t, nil
}

// scanAccountRow scans an Account from a single sql.Row.
func scanAccountRow(row *sql.Row) (models.Account, error) {
	var a models.Account
	var connected sql.NullString
	err := row.Scan(&a.ID, &connected, &a.WhatsAppActive, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.ConnectedNumber = connected.String
	return a, nil
}
