package rules

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/signalstack/signal-engine/internal/models"
)

// ErrAlertNotFound marks an unknown alert id.
var ErrAlertNotFound = errors.New("alert not found")

// ErrBadTransition marks a lifecycle transition out of order, e.g.
// acknowledging a resolved alert.
var ErrBadTransition = errors.New("invalid alert state transition")

// AlertLog is the bounded, rule-engine-owned alert store. Alerts are
// immutable apart from their lifecycle transitions.
type AlertLog struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	byID     map[string]models.Alert
}

// NewAlertLog creates a log retaining up to capacity alerts.
func NewAlertLog(capacity int) *AlertLog {
	if capacity <= 0 {
		capacity = 1024
	}
	return &AlertLog{
		capacity: capacity,
		byID:     make(map[string]models.Alert),
	}
}

// Append stores a new alert, evicting the oldest when over capacity.
func (l *AlertLog) Append(alert models.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = append(l.order, alert.ID)
	l.byID[alert.ID] = alert
	if len(l.order) > l.capacity {
		oldest := l.order[0]
		l.order = append(l.order[:0:0], l.order[1:]...)
		delete(l.byID, oldest)
	}
}

// Get returns one alert by id.
func (l *AlertLog) Get(id string) (models.Alert, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	alert, ok := l.byID[id]
	if !ok {
		return models.Alert{}, ErrAlertNotFound
	}
	return alert, nil
}

// Acknowledge transitions an open alert to acknowledged, recording when
// and by whom.
func (l *AlertLog) Acknowledge(id, actor string) (models.Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	alert, ok := l.byID[id]
	if !ok {
		return models.Alert{}, ErrAlertNotFound
	}
	if alert.State != models.AlertOpen {
		return models.Alert{}, ErrBadTransition
	}
	alert.State = models.AlertAcknowledged
	alert.AcknowledgedAt = time.Now().UTC()
	alert.AcknowledgedBy = actor
	l.byID[id] = alert
	return alert, nil
}

// Resolve transitions an open or acknowledged alert to resolved.
func (l *AlertLog) Resolve(id, actor string) (models.Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	alert, ok := l.byID[id]
	if !ok {
		return models.Alert{}, ErrAlertNotFound
	}
	if alert.State == models.AlertResolved {
		return models.Alert{}, ErrBadTransition
	}
	alert.State = models.AlertResolved
	alert.ResolvedAt = time.Now().UTC()
	alert.ResolvedBy = actor
	l.byID[id] = alert
	return alert, nil
}

// TopN returns up to n alerts ordered by severity rank, then recency.
func (l *AlertLog) TopN(n int) []models.Alert {
	l.mu.RLock()
	alerts := make([]models.Alert, 0, len(l.order))
	for _, id := range l.order {
		alerts = append(alerts, l.byID[id])
	}
	l.mu.RUnlock()

	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})

	if n > 0 && len(alerts) > n {
		alerts = alerts[:n]
	}
	return alerts
}

// OpenCount returns the number of alerts still open.
func (l *AlertLog) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	open := 0
	for _, alert := range l.byID {
		if alert.State == models.AlertOpen {
			open++
		}
	}
	return open
}
