package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"

	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and schema for a SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQL implements the Store interface over database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(ctx context.Context, dbPath string) (*SQL, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := NewSQL(db, SQLite)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres connects to Postgres with the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewSQL(db, Postgres)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an existing connection pool. Migrations are not applied.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// Migrate applies pending schema migrations.
func (s *SQL) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db, s.dialect); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQL) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQL) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// mustAffect turns a zero-row update into ErrNotFound.
func mustAffect(res sql.Result, kind, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return notFound(kind, id)
	}
	return nil
}

// --- households ---

const householdColumns = "id, tenant_id, name, phone, grid, at_risk, contacts, created_at, updated_at"

func (s *SQL) CreateHousehold(ctx context.Context, h *model.Household) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now

	contacts, err := json.Marshal(h.Contacts)
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO households (`+householdColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.TenantID, h.Name, h.Phone, h.Grid, h.AtRisk, string(contacts), h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert household: %w", err)
	}
	return nil
}

func (s *SQL) UpdateHousehold(ctx context.Context, h *model.Household) error {
	h.UpdatedAt = time.Now().UTC()
	contacts, err := json.Marshal(h.Contacts)
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}

	res, err := s.exec(ctx,
		`UPDATE households SET tenant_id = ?, name = ?, phone = ?, grid = ?, at_risk = ?, contacts = ?, updated_at = ?
		 WHERE id = ?`,
		h.TenantID, h.Name, h.Phone, h.Grid, h.AtRisk, string(contacts), h.UpdatedAt, h.ID,
	)
	if err != nil {
		return fmt.Errorf("update household: %w", err)
	}
	return mustAffect(res, "household", h.ID)
}

func scanHousehold(row interface{ Scan(...any) error }) (*model.Household, error) {
	var h model.Household
	var contacts string
	if err := row.Scan(&h.ID, &h.TenantID, &h.Name, &h.Phone, &h.Grid, &h.AtRisk, &contacts,
		&h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(contacts), &h.Contacts); err != nil {
		return nil, fmt.Errorf("decode contacts of %s: %w", h.ID, err)
	}
	return &h, nil
}

func (s *SQL) GetHousehold(ctx context.Context, id string) (*model.Household, error) {
	h, err := scanHousehold(s.queryRow(ctx, `SELECT `+householdColumns+` FROM households WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("household", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

func (s *SQL) ListHouseholds(ctx context.Context, filter model.HouseholdFilter) ([]model.Household, error) {
	query := `SELECT ` + householdColumns + ` FROM households`
	var conditions []string
	var args []any
	if filter.Grid != "" {
		conditions = append(conditions, "grid = ?")
		args = append(args, filter.Grid)
	}
	if filter.AtRiskOnly {
		conditions = append(conditions, "at_risk = ?")
		args = append(args, true)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	defer rows.Close()

	var households []model.Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan household row: %w", err)
		}
		households = append(households, *h)
	}
	return households, rows.Err()
}

func (s *SQL) ListGrids(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT grid FROM households WHERE at_risk = ? ORDER BY grid`, true)
	if err != nil {
		return nil, fmt.Errorf("list grids: %w", err)
	}
	defer rows.Close()

	var grids []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan grid row: %w", err)
		}
		grids = append(grids, g)
	}
	return grids, rows.Err()
}

// --- alerts ---

const alertColumns = "id, tenant_id, household_id, day, heat_level, wbgt, status, first_triggered_at, closed_at, in_progress, stages, updated_at"

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func (s *SQL) CreateAlert(ctx context.Context, a *model.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.FirstTriggeredAt.IsZero() {
		a.FirstTriggeredAt = time.Now().UTC()
	}
	if a.Date == "" {
		a.Date = model.DateOf(a.FirstTriggeredAt)
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.FirstTriggeredAt
	}
	stages, err := json.Marshal(a.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.HouseholdID, a.Date, string(a.HeatLevel), a.WBGT, string(a.Status),
		a.FirstTriggeredAt.UTC(), nullTime(a.ClosedAt), a.InProgress, string(stages), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *SQL) UpdateAlert(ctx context.Context, a *model.Alert) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	stages, err := json.Marshal(a.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}

	res, err := s.exec(ctx,
		`UPDATE alerts SET heat_level = ?, wbgt = ?, status = ?, closed_at = ?, in_progress = ?, stages = ?, updated_at = ?
		 WHERE id = ?`,
		string(a.HeatLevel), a.WBGT, string(a.Status), nullTime(a.ClosedAt), a.InProgress, string(stages),
		a.UpdatedAt.UTC(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return mustAffect(res, "alert", a.ID)
}

func scanAlert(row interface{ Scan(...any) error }) (*model.Alert, error) {
	var a model.Alert
	var level, status, stages string
	var closed sql.NullTime
	if err := row.Scan(&a.ID, &a.TenantID, &a.HouseholdID, &a.Date, &level, &a.WBGT, &status,
		&a.FirstTriggeredAt, &closed, &a.InProgress, &stages, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.HeatLevel = model.HeatLevel(level)
	a.Status = model.AlertStatus(status)
	a.ClosedAt = timePtr(closed)
	if err := json.Unmarshal([]byte(stages), &a.Stages); err != nil {
		return nil, fmt.Errorf("decode stages of %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *SQL) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	a, err := scanAlert(s.queryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("alert", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *SQL) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	where, args := buildAlertWhere(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY first_triggered_at, id"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// buildAlertWhere constructs a SQL WHERE clause from an AlertFilter.
func buildAlertWhere(filter model.AlertFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Date != "" {
		conditions = append(conditions, "day = ?")
		args = append(args, filter.Date)
	}
	if filter.HouseholdID != "" {
		conditions = append(conditions, "household_id = ?")
		args = append(args, filter.HouseholdID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(marks, ", ")+")")
	}

	return strings.Join(conditions, " AND "), args
}

// --- call logs ---

const callColumns = "id, alert_id, attempt, result, digit, duration_sec, provider_call_id, created_at"

func (s *SQL) RecordCall(ctx context.Context, c *model.CallLog) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx,
		`INSERT INTO call_logs (`+callColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AlertID, c.Attempt, string(c.Result), c.Digit, c.DurationSec, c.ProviderCallID, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

func (s *SQL) UpdateCall(ctx context.Context, c *model.CallLog) error {
	res, err := s.exec(ctx,
		`UPDATE call_logs SET result = ?, digit = ?, duration_sec = ?, provider_call_id = ? WHERE id = ?`,
		string(c.Result), c.Digit, c.DurationSec, c.ProviderCallID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update call log: %w", err)
	}
	return mustAffect(res, "call log", c.ID)
}

func scanCall(row interface{ Scan(...any) error }) (*model.CallLog, error) {
	var c model.CallLog
	var result string
	if err := row.Scan(&c.ID, &c.AlertID, &c.Attempt, &result, &c.Digit, &c.DurationSec,
		&c.ProviderCallID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Result = model.CallResult(result)
	return &c, nil
}

func (s *SQL) ListCalls(ctx context.Context, alertID string) ([]model.CallLog, error) {
	rows, err := s.query(ctx,
		`SELECT `+callColumns+` FROM call_logs WHERE alert_id = ? ORDER BY attempt, created_at`, alertID)
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	defer rows.Close()

	var calls []model.CallLog
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call log row: %w", err)
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

func (s *SQL) FindCallByProviderID(ctx context.Context, providerCallID string) (*model.CallLog, error) {
	if providerCallID == "" {
		return nil, notFound("call log", providerCallID)
	}
	c, err := scanCall(s.queryRow(ctx,
		`SELECT `+callColumns+` FROM call_logs WHERE provider_call_id = ?`, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("call log", providerCallID)
	}
	if err != nil {
		return nil, fmt.Errorf("find call log: %w", err)
	}
	return c, nil
}

func (s *SQL) FindCall(ctx context.Context, alertID string, attempt int) (*model.CallLog, error) {
	c, err := scanCall(s.queryRow(ctx,
		`SELECT `+callColumns+` FROM call_logs WHERE alert_id = ? AND attempt = ? ORDER BY created_at DESC LIMIT 1`,
		alertID, attempt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("call log", fmt.Sprintf("%s#%d", alertID, attempt))
	}
	if err != nil {
		return nil, fmt.Errorf("find call log: %w", err)
	}
	return c, nil
}

// --- notifications ---

const notificationColumns = "id, alert_id, channel, recipient, status, provider_message_id, delivered_at, content, created_at"

func (s *SQL) RecordNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	content, err := json.Marshal(n.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.AlertID, string(n.Channel), n.Recipient, string(n.Status), n.ProviderMessageID,
		nullTime(n.DeliveredAt), string(content), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *SQL) UpdateNotification(ctx context.Context, n *model.Notification) error {
	res, err := s.exec(ctx,
		`UPDATE notifications SET status = ?, provider_message_id = ?, delivered_at = ? WHERE id = ?`,
		string(n.Status), n.ProviderMessageID, nullTime(n.DeliveredAt), n.ID,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	return mustAffect(res, "notification", n.ID)
}

func scanNotification(row interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var channel, status, content string
	var delivered sql.NullTime
	if err := row.Scan(&n.ID, &n.AlertID, &channel, &n.Recipient, &status, &n.ProviderMessageID,
		&delivered, &content, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Channel = model.Channel(channel)
	n.Status = model.NotificationStatus(status)
	n.DeliveredAt = timePtr(delivered)
	if err := json.Unmarshal([]byte(content), &n.Content); err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", n.ID, err)
	}
	return &n, nil
}

func (s *SQL) FindNotificationByProviderID(ctx context.Context, providerMessageID string) (*model.Notification, error) {
	if providerMessageID == "" {
		return nil, notFound("notification", providerMessageID)
	}
	n, err := scanNotification(s.queryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE provider_message_id = ?`, providerMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("notification", providerMessageID)
	}
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return n, nil
}

func (s *SQL) ListNotifications(ctx context.Context, alertID string) ([]model.Notification, error) {
	rows, err := s.query(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE alert_id = ? ORDER BY created_at, id`, alertID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

func (s *SQL) Close() error {
	return s.db.Close()
}
