package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

// errorLogRow is the flat database shape of an ErrorLogEntry; context is
// stored as JSONB
type errorLogRow struct {
	ID              uuid.UUID `db:"id"`
	Timestamp       time.Time `db:"timestamp"`
	Level           string    `db:"level"`
	Category        string    `db:"category"`
	Source          string    `db:"source"`
	Message         string    `db:"message"`
	ErrorCode       string    `db:"error_code"`
	StackTrace      string    `db:"stack_trace"`
	Context         []byte    `db:"context"`
	Resolved        bool      `db:"resolved"`
	ResolutionNote  string    `db:"resolution_note"`
	FirstOccurrence time.Time `db:"first_occurrence"`
	LastOccurrence  time.Time `db:"last_occurrence"`
	OccurrenceCount int       `db:"occurrence_count"`
}

func toErrorLogRow(entry *types.ErrorLogEntry) (*errorLogRow, error) {
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode error context").WithCause(err)
	}
	return &errorLogRow{
		ID:              entry.ID,
		Timestamp:       entry.Timestamp,
		Level:           string(entry.Level),
		Category:        string(entry.Category),
		Source:          entry.Source,
		Message:         entry.Message,
		ErrorCode:       entry.ErrorCode,
		StackTrace:      entry.StackTrace,
		Context:         contextJSON,
		Resolved:        entry.Resolved,
		ResolutionNote:  entry.ResolutionNote,
		FirstOccurrence: entry.FirstOccurrence,
		LastOccurrence:  entry.LastOccurrence,
		OccurrenceCount: entry.OccurrenceCount,
	}, nil
}

func (r *errorLogRow) toEntry() (*types.ErrorLogEntry, error) {
	entry := &types.ErrorLogEntry{
		ID:              r.ID,
		Timestamp:       r.Timestamp,
		Level:           types.Level(r.Level),
		Category:        types.Category(r.Category),
		Source:          r.Source,
		Message:         r.Message,
		ErrorCode:       r.ErrorCode,
		StackTrace:      r.StackTrace,
		Resolved:        r.Resolved,
		ResolutionNote:  r.ResolutionNote,
		FirstOccurrence: r.FirstOccurrence,
		LastOccurrence:  r.LastOccurrence,
		OccurrenceCount: r.OccurrenceCount,
	}
	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &entry.Context); err != nil {
			return nil, errors.NewInternalError("failed to decode error context").WithCause(err)
		}
	}
	return entry, nil
}

// ErrorLogRepository persists error log entries. It implements the intake
// service's store interface.
type ErrorLogRepository struct {
	db *DB
}

// NewErrorLogRepository creates a new error log repository
func NewErrorLogRepository(db *DB) *ErrorLogRepository {
	return &ErrorLogRepository{db: db}
}

// SaveEntries upserts a batch in the order given. Re-flushed deduplicated
// entries overwrite their occurrence counters.
func (r *ErrorLogRepository) SaveEntries(ctx context.Context, entries []*types.ErrorLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO error_log_entries (
			id, timestamp, level, category, source, message, error_code,
			stack_trace, context, resolved, resolution_note,
			first_occurrence, last_occurrence, occurrence_count
		) VALUES (
			:id, :timestamp, :level, :category, :source, :message, :error_code,
			:stack_trace, :context, :resolved, :resolution_note,
			:first_occurrence, :last_occurrence, :occurrence_count
		)
		ON CONFLICT (id) DO UPDATE SET
			message = EXCLUDED.message,
			resolved = EXCLUDED.resolved,
			resolution_note = EXCLUDED.resolution_note,
			last_occurrence = EXCLUDED.last_occurrence,
			occurrence_count = EXCLUDED.occurrence_count`

	return r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for _, entry := range entries {
			row, err := toErrorLogRow(entry)
			if err != nil {
				return err
			}
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				return errors.NewInternalError("failed to save error log entry").WithCause(err)
			}
		}
		return nil
	})
}

// GetErrors returns entries matching the filter, newest first
func (r *ErrorLogRepository) GetErrors(ctx context.Context, filter types.ErrorFilter) ([]*types.ErrorLogEntry, error) {
	query := `SELECT * FROM error_log_entries WHERE 1=1`
	args := []interface{}{}

	if filter.Level != "" {
		args = append(args, string(filter.Level))
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		query += fmt.Sprintf(" AND lower(source) = lower($%d)", len(args))
	}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		query += fmt.Sprintf(" AND resolved = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND last_occurrence >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND last_occurrence <= $%d", len(args))
	}

	query += " ORDER BY last_occurrence DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []errorLogRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.NewInternalError("failed to query error log entries").WithCause(err)
	}

	entries := make([]*types.ErrorLogEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetSummary aggregates entries inside the window
func (r *ErrorLogRepository) GetSummary(ctx context.Context, windowHours int) (*types.ErrorSummary, error) {
	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour)

	var rows []struct {
		Level           string `db:"level"`
		Category        string `db:"category"`
		Source          string `db:"source"`
		Resolved        bool   `db:"resolved"`
		OccurrenceCount int    `db:"occurrence_count"`
	}
	query := `
		SELECT level, category, source, resolved, occurrence_count
		FROM error_log_entries
		WHERE last_occurrence >= $1`
	if err := r.db.SelectContext(ctx, &rows, query, cutoff); err != nil {
		return nil, errors.NewInternalError("failed to query error summary").WithCause(err)
	}

	summary := &types.ErrorSummary{
		WindowHours: windowHours,
		ByLevel:     make(map[types.Level]int),
		ByCategory:  make(map[types.Category]int),
		BySource:    make(map[string]int),
	}
	for _, row := range rows {
		summary.Total += row.OccurrenceCount
		summary.ByLevel[types.Level(row.Level)] += row.OccurrenceCount
		summary.ByCategory[types.Category(row.Category)] += row.OccurrenceCount
		summary.BySource[row.Source] += row.OccurrenceCount
		if !row.Resolved {
			summary.Unresolved++
		}
	}
	return summary, nil
}

// GetMetrics computes rate and trend aggregates inside the window
func (r *ErrorLogRepository) GetMetrics(ctx context.Context, windowHours int) (*types.ErrorMetrics, error) {
	now := time.Now()
	cutoff := now.Add(-time.Duration(windowHours) * time.Hour)
	half := now.Add(-time.Duration(windowHours) * time.Hour / 2)

	var rows []struct {
		Level           string    `db:"level"`
		LastOccurrence  time.Time `db:"last_occurrence"`
		OccurrenceCount int       `db:"occurrence_count"`
	}
	query := `
		SELECT level, last_occurrence, occurrence_count
		FROM error_log_entries
		WHERE last_occurrence >= $1`
	if err := r.db.SelectContext(ctx, &rows, query, cutoff); err != nil {
		return nil, errors.NewInternalError("failed to query error metrics").WithCause(err)
	}

	m := &types.ErrorMetrics{WindowHours: windowHours}
	firstHalf, secondHalf := 0, 0
	for _, row := range rows {
		m.Total += row.OccurrenceCount
		if types.Level(row.Level) == types.LevelCritical {
			m.CriticalCount += row.OccurrenceCount
		}
		if row.LastOccurrence.Before(half) {
			firstHalf += row.OccurrenceCount
		} else {
			secondHalf += row.OccurrenceCount
		}
	}
	if windowHours > 0 {
		m.ErrorsPerMinute = float64(m.Total) / (float64(windowHours) * 60)
	}
	m.TrendRising = secondHalf > firstHalf
	return m, nil
}

// MarkResolved flags an entry as resolved with a note
func (r *ErrorLogRepository) MarkResolved(ctx context.Context, id uuid.UUID, note string) error {
	query := `UPDATE error_log_entries SET resolved = true, resolution_note = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, note)
	if err != nil {
		return errors.NewInternalError("failed to mark entry resolved").WithCause(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to get rows affected").WithCause(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("error log entry")
	}
	return nil
}

// alertRuleRow is the flat database shape of an AlertRule; conditions and
// actions are stored as JSONB
type alertRuleRow struct {
	ID              uuid.UUID `db:"id"`
	Name            string    `db:"name"`
	Enabled         bool      `db:"enabled"`
	Severity        string    `db:"severity"`
	Conditions      []byte    `db:"conditions"`
	Actions         []byte    `db:"actions"`
	ThrottleMinutes int       `db:"throttle_minutes"`
	LastTriggered   time.Time `db:"last_triggered"`
	TriggerCount    int       `db:"trigger_count"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// AlertRuleRepository persists alert rules. It implements the alert engine's
// rule store.
type AlertRuleRepository struct {
	db *DB
}

// NewAlertRuleRepository creates a new alert rule repository
func NewAlertRuleRepository(db *DB) *AlertRuleRepository {
	return &AlertRuleRepository{db: db}
}

// SaveRule upserts a rule
func (r *AlertRuleRepository) SaveRule(ctx context.Context, rule *types.AlertRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return errors.NewInternalError("failed to encode rule conditions").WithCause(err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return errors.NewInternalError("failed to encode rule actions").WithCause(err)
	}

	row := &alertRuleRow{
		ID:              rule.ID,
		Name:            rule.Name,
		Enabled:         rule.Enabled,
		Severity:        string(rule.Severity),
		Conditions:      conditions,
		Actions:         actions,
		ThrottleMinutes: rule.ThrottleMinutes,
		LastTriggered:   rule.LastTriggered,
		TriggerCount:    rule.TriggerCount,
		CreatedAt:       rule.CreatedAt,
		UpdatedAt:       rule.UpdatedAt,
	}

	query := `
		INSERT INTO alert_rules (
			id, name, enabled, severity, conditions, actions,
			throttle_minutes, last_triggered, trigger_count, created_at, updated_at
		) VALUES (
			:id, :name, :enabled, :severity, :conditions, :actions,
			:throttle_minutes, :last_triggered, :trigger_count, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			severity = EXCLUDED.severity,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			throttle_minutes = EXCLUDED.throttle_minutes,
			last_triggered = EXCLUDED.last_triggered,
			trigger_count = EXCLUDED.trigger_count,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.NewInternalError("failed to save alert rule").WithCause(err)
	}
	return nil
}

// DeleteRule removes a rule
func (r *AlertRuleRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return errors.NewInternalError("failed to delete alert rule").WithCause(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to get rows affected").WithCause(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("alert rule")
	}
	return nil
}

// ListRules returns all persisted rules, used to seed the engine at startup
func (r *AlertRuleRepository) ListRules(ctx context.Context) ([]*types.AlertRule, error) {
	var rows []alertRuleRow
	query := `SELECT * FROM alert_rules ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewInternalError("failed to query alert rules").WithCause(err)
	}

	rules := make([]*types.AlertRule, 0, len(rows))
	for _, row := range rows {
		rule := &types.AlertRule{
			ID:              row.ID,
			Name:            row.Name,
			Enabled:         row.Enabled,
			Severity:        types.Level(row.Severity),
			ThrottleMinutes: row.ThrottleMinutes,
			LastTriggered:   row.LastTriggered,
			TriggerCount:    row.TriggerCount,
			CreatedAt:       row.CreatedAt,
			UpdatedAt:       row.UpdatedAt,
		}
		if len(row.Conditions) > 0 {
			if err := json.Unmarshal(row.Conditions, &rule.Conditions); err != nil {
				return nil, errors.NewInternalError("failed to decode rule conditions").WithCause(err)
			}
		}
		if len(row.Actions) > 0 {
			if err := json.Unmarshal(row.Actions, &rule.Actions); err != nil {
				return nil, errors.NewInternalError("failed to decode rule actions").WithCause(err)
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
