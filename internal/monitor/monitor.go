package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/workpulse/risk-monitor/internal/metrics"
	"github.com/workpulse/risk-monitor/internal/models"
	"github.com/workpulse/risk-monitor/internal/rules"
	"github.com/workpulse/risk-monitor/internal/utils"
)

// SnapshotSource defines the read dependency on the entity snapshot store.
type SnapshotSource interface {
	ListByKind(ctx context.Context, kind models.Kind) ([]models.Snapshot, error)
}

type dedupKey struct {
	kind models.Kind
	id   string
}

// dedupEntry records the armed state per entity: whether a rule matched on
// the previous scan and which alert type was last emitted. Entries are never
// deleted; an entity that disappears from snapshots simply stops being
// revisited.
type dedupEntry struct {
	armed    bool
	lastType models.AlertType
}

// Monitor scans snapshots for threshold crossings and suppresses repeat
// alerts while a condition persists (level-crossing dedup). Construct one
// instance at process start and share it by reference.
type Monitor struct {
	logger *slog.Logger
	source SnapshotSource
	rules  *rules.Set

	mu    sync.Mutex
	dedup map[dedupKey]dedupEntry

	// One in-flight scan per kind; scans of different kinds touch disjoint
	// dedup namespaces and may run concurrently.
	kindLocks map[models.Kind]*sync.Mutex

	now func() time.Time
}

// New constructs a Monitor over the given snapshot source and rule set.
func New(logger *slog.Logger, source SnapshotSource, ruleSet *rules.Set) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	locks := make(map[models.Kind]*sync.Mutex, len(models.Kinds()))
	for _, kind := range models.Kinds() {
		locks[kind] = &sync.Mutex{}
	}
	return &Monitor{
		logger:    logger,
		source:    source,
		rules:     ruleSet,
		dedup:     make(map[dedupKey]dedupEntry),
		kindLocks: locks,
		now:       time.Now,
	}
}

// Scan reads the full snapshot set for the kind, evaluates its threshold
// rules in pack order (first match wins per entity), and returns the alerts
// for entities that newly crossed a threshold. A snapshot read failure aborts
// the scan without touching dedup state; the next sync retries naturally.
func (m *Monitor) Scan(ctx context.Context, kind models.Kind) ([]models.Alert, error) {
	lock := m.kindLock(kind)
	lock.Lock()
	defer lock.Unlock()

	start := m.now()
	snapshots, err := m.source.ListByKind(ctx, kind)
	if err != nil {
		metrics.ObserveScan(string(kind), m.now().Sub(start), metrics.OutcomeError)
		m.logger.Error("snapshot read failed", slog.String("kind", string(kind)), slog.Any("error", err))
		return nil, utils.NewAppError("monitor.scan", "snapshot read failed", err)
	}

	kindRules := m.rules.ForKind(kind)
	alerts := make([]models.Alert, 0)
	for _, snap := range snapshots {
		if alert, emitted := m.evaluate(kindRules, snap); emitted {
			alerts = append(alerts, alert)
		}
	}

	metrics.ObserveScan(string(kind), m.now().Sub(start), metrics.OutcomeSuccess)
	if len(alerts) > 0 {
		m.logger.Info("scan produced alerts",
			slog.String("kind", string(kind)),
			slog.Int("entities", len(snapshots)),
			slog.Int("alerts", len(alerts)))
	} else {
		m.logger.Debug("scan produced no alerts",
			slog.String("kind", string(kind)),
			slog.Int("entities", len(snapshots)))
	}
	return alerts, nil
}

// evaluate applies the kind's rules to one snapshot and updates dedup state
// atomically with the decision to emit.
func (m *Monitor) evaluate(kindRules []rules.Rule, snap models.Snapshot) (models.Alert, bool) {
	var matched *rules.Rule
	for i := range kindRules {
		if kindRules[i].Matches(snap) {
			matched = &kindRules[i]
			break
		}
	}

	key := dedupKey{kind: snap.Kind, id: snap.ID}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.dedup[key]
	if matched == nil {
		if entry.armed {
			// Condition cleared; re-arm so a later crossing alerts again.
			m.dedup[key] = dedupEntry{}
			m.logger.Info("condition cleared",
				slog.String("kind", string(snap.Kind)),
				slog.String("id", snap.ID))
		}
		return models.Alert{}, false
	}

	if entry.armed && entry.lastType == matched.AlertType {
		return models.Alert{}, false
	}

	m.dedup[key] = dedupEntry{armed: true, lastType: matched.AlertType}
	alert := m.buildAlert(*matched, snap)
	metrics.ObserveAlert(string(alert.Type))
	m.logger.Info("threshold crossed",
		slog.String("kind", string(snap.Kind)),
		slog.String("id", snap.ID),
		slog.String("rule", matched.ID),
		slog.String("type", string(alert.Type)))
	return alert, true
}

func (m *Monitor) buildAlert(rule rules.Rule, snap models.Snapshot) models.Alert {
	data := make(map[string]any, len(rule.Payload)+1)
	data[idField(snap.Kind)] = snap.ID
	for _, field := range rule.Payload {
		if value, ok := snap.Metrics[field]; ok {
			data[field] = value
		}
	}
	return models.Alert{
		Type:      rule.AlertType,
		Timestamp: m.now().UTC(),
		Data:      data,
	}
}

// ResetAlertState clears all dedup entries so still-true conditions re-alert
// on the next scan. Admin/test escape hatch for stuck suppression.
func (m *Monitor) ResetAlertState() {
	m.mu.Lock()
	m.dedup = make(map[dedupKey]dedupEntry)
	m.mu.Unlock()
	m.logger.Info("alert dedup state reset")
}

func (m *Monitor) kindLock(kind models.Kind) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.kindLocks[kind]
	if !ok {
		lock = &sync.Mutex{}
		m.kindLocks[kind] = lock
	}
	return lock
}

func idField(kind models.Kind) string {
	switch kind {
	case models.KindDepartment:
		return "department_id"
	default:
		return "employee_id"
	}
}
