package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

// Memory implements the Store interface in process memory. Records are copied
// on the way in and out so callers never share state with the store.
type Memory struct {
	mu            sync.RWMutex
	households    map[string]model.Household
	alerts        map[string]model.Alert
	calls         map[string]model.CallLog
	notifications map[string]model.Notification
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		households:    make(map[string]model.Household),
		alerts:        make(map[string]model.Alert),
		calls:         make(map[string]model.CallLog),
		notifications: make(map[string]model.Notification),
	}
}

func copyHousehold(h model.Household) model.Household {
	h.Contacts = slices.Clone(h.Contacts)
	return h
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyAlert(a model.Alert) model.Alert {
	a.ClosedAt = copyTime(a.ClosedAt)
	a.Stages.SecondCallMade.At = copyTime(a.Stages.SecondCallMade.At)
	a.Stages.FamilyNotified.At = copyTime(a.Stages.FamilyNotified.At)
	a.Stages.NeighborNotified.At = copyTime(a.Stages.NeighborNotified.At)
	return a
}

func copyNotification(n model.Notification) model.Notification {
	n.DeliveredAt = copyTime(n.DeliveredAt)
	n.Content = maps.Clone(n.Content)
	return n
}

func (m *Memory) CreateHousehold(_ context.Context, h *model.Household) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.households[h.ID]; ok {
		return fmt.Errorf("insert household: %q already exists", h.ID)
	}
	m.households[h.ID] = copyHousehold(*h)
	return nil
}

func (m *Memory) UpdateHousehold(_ context.Context, h *model.Household) error {
	h.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.households[h.ID]
	if !ok {
		return notFound("household", h.ID)
	}
	h.CreatedAt = prev.CreatedAt
	m.households[h.ID] = copyHousehold(*h)
	return nil
}

func (m *Memory) GetHousehold(_ context.Context, id string) (*model.Household, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.households[id]
	if !ok {
		return nil, notFound("household", id)
	}
	h = copyHousehold(h)
	return &h, nil
}

func (m *Memory) ListHouseholds(_ context.Context, filter model.HouseholdFilter) ([]model.Household, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Household
	for _, h := range m.households {
		if filter.Matches(&h) {
			out = append(out, copyHousehold(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListGrids(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for _, h := range m.households {
		if h.AtRisk {
			seen[h.Grid] = true
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (m *Memory) CreateAlert(_ context.Context, a *model.Alert) error {
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

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; ok {
		return fmt.Errorf("insert alert: %q already exists", a.ID)
	}
	m.alerts[a.ID] = copyAlert(*a)
	return nil
}

func (m *Memory) UpdateAlert(_ context.Context, a *model.Alert) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return notFound("alert", a.ID)
	}
	m.alerts[a.ID] = copyAlert(*a)
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, notFound("alert", id)
	}
	a = copyAlert(a)
	return &a, nil
}

func (m *Memory) ListAlerts(_ context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Alert
	for _, a := range m.alerts {
		if filter.Matches(&a) {
			out = append(out, copyAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstTriggeredAt.Equal(out[j].FirstTriggeredAt) {
			return out[i].FirstTriggeredAt.Before(out[j].FirstTriggeredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) RecordCall(_ context.Context, c *model.CallLog) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = *c
	return nil
}

func (m *Memory) UpdateCall(_ context.Context, c *model.CallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[c.ID]; !ok {
		return notFound("call log", c.ID)
	}
	m.calls[c.ID] = *c
	return nil
}

func (m *Memory) ListCalls(_ context.Context, alertID string) ([]model.CallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.CallLog
	for _, c := range m.calls {
		if c.AlertID == alertID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempt != out[j].Attempt {
			return out[i].Attempt < out[j].Attempt
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) FindCallByProviderID(_ context.Context, providerCallID string) (*model.CallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if providerCallID != "" {
		for _, c := range m.calls {
			if c.ProviderCallID == providerCallID {
				return &c, nil
			}
		}
	}
	return nil, notFound("call log", providerCallID)
}

func (m *Memory) FindCall(_ context.Context, alertID string, attempt int) (*model.CallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.CallLog
	for _, c := range m.calls {
		if c.AlertID != alertID || c.Attempt != attempt {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			found := c
			latest = &found
		}
	}
	if latest == nil {
		return nil, notFound("call log", fmt.Sprintf("%s#%d", alertID, attempt))
	}
	return latest, nil
}

func (m *Memory) RecordNotification(_ context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = copyNotification(*n)
	return nil
}

func (m *Memory) UpdateNotification(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		return notFound("notification", n.ID)
	}
	m.notifications[n.ID] = copyNotification(*n)
	return nil
}

func (m *Memory) FindNotificationByProviderID(_ context.Context, providerMessageID string) (*model.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if providerMessageID != "" {
		for _, n := range m.notifications {
			if n.ProviderMessageID == providerMessageID {
				n = copyNotification(n)
				return &n, nil
			}
		}
	}
	return nil, notFound("notification", providerMessageID)
}

func (m *Memory) ListNotifications(_ context.Context, alertID string) ([]model.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Notification
	for _, n := range m.notifications {
		if n.AlertID == alertID {
			out = append(out, copyNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Close() error { return nil }
