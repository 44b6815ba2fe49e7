package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence layer for households, alerts and contact records.
type Store interface {
	// CreateHousehold persists a new household.
	CreateHousehold(ctx context.Context, h *model.Household) error

	// UpdateHousehold replaces an existing household.
	UpdateHousehold(ctx context.Context, h *model.Household) error

	// GetHousehold retrieves a household by id.
	GetHousehold(ctx context.Context, id string) (*model.Household, error)

	// ListHouseholds returns households matching the filter ordered by id.
	ListHouseholds(ctx context.Context, filter model.HouseholdFilter) ([]model.Household, error)

	// ListGrids returns the distinct grids that contain at least one at-risk household.
	ListGrids(ctx context.Context) ([]string, error)

	// CreateAlert persists a new alert.
	CreateAlert(ctx context.Context, a *model.Alert) error

	// UpdateAlert replaces an existing alert.
	UpdateAlert(ctx context.Context, a *model.Alert) error

	// GetAlert retrieves an alert by id.
	GetAlert(ctx context.Context, id string) (*model.Alert, error)

	// ListAlerts returns alerts matching the filter ordered by trigger time.
	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)

	// RecordCall appends a call log.
	RecordCall(ctx context.Context, c *model.CallLog) error

	// UpdateCall replaces an existing call log.
	UpdateCall(ctx context.Context, c *model.CallLog) error

	// ListCalls returns the call logs of an alert ordered by attempt.
	ListCalls(ctx context.Context, alertID string) ([]model.CallLog, error)

	// FindCallByProviderID retrieves the call log carrying the provider's call id.
	FindCallByProviderID(ctx context.Context, providerCallID string) (*model.CallLog, error)

	// FindCall retrieves the latest call log for an alert and attempt.
	FindCall(ctx context.Context, alertID string, attempt int) (*model.CallLog, error)

	// RecordNotification appends a notification.
	RecordNotification(ctx context.Context, n *model.Notification) error

	// UpdateNotification replaces an existing notification.
	UpdateNotification(ctx context.Context, n *model.Notification) error

	// FindNotificationByProviderID retrieves the notification carrying the provider's message id.
	FindNotificationByProviderID(ctx context.Context, providerMessageID string) (*model.Notification, error)

	// ListNotifications returns the notifications of an alert ordered by creation time.
	ListNotifications(ctx context.Context, alertID string) ([]model.Notification, error)

	// Close releases resources.
	Close() error
}

// Config selects and configures a Store implementation.
type Config struct {
	// Driver is one of "sqlite", "postgres" or "memory".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// Open creates the Store described by cfg and applies pending migrations.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(ctx, cfg.Path)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
