package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/workpulse/risk-monitor/internal/models"
	"github.com/workpulse/risk-monitor/internal/sink"
)

type stubScanner struct {
	alerts []models.Alert
	err    error
	kinds  []models.Kind
}

func (s *stubScanner) Scan(_ context.Context, kind models.Kind) ([]models.Alert, error) {
	s.kinds = append(s.kinds, kind)
	if s.err != nil {
		return nil, s.err
	}
	return s.alerts, nil
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
}

func (r *recordingSink) Publish(_ context.Context, alert models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestOnSyncCompleteDispatchesToAllSinks(t *testing.T) {
	scanner := &stubScanner{alerts: []models.Alert{
		{Type: models.AlertEmployeeStress, Data: map[string]any{"employee_id": "EMP001"}},
		{Type: models.AlertEmployeeStress, Data: map[string]any{"employee_id": "EMP002"}},
	}}
	first := &recordingSink{}
	second := &recordingSink{}
	trig := New(nil, scanner, []sink.Sink{first, second}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Run(ctx)

	emitted, err := trig.OnSyncComplete(ctx, models.KindEmployee)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emitted != 2 {
		t.Fatalf("expected two alerts, got %d", emitted)
	}
	if len(scanner.kinds) != 1 || scanner.kinds[0] != models.KindEmployee {
		t.Fatalf("unexpected scanned kinds %v", scanner.kinds)
	}

	waitFor(t, func() bool { return first.count() == 2 && second.count() == 2 })

	// Delivery preserves the order alerts were generated in.
	first.mu.Lock()
	defer first.mu.Unlock()
	if first.alerts[0].Data["employee_id"] != "EMP001" || first.alerts[1].Data["employee_id"] != "EMP002" {
		t.Fatalf("alerts delivered out of order: %+v", first.alerts)
	}
}

func TestOnSyncCompleteWithNoAlertsIsQuiet(t *testing.T) {
	scanner := &stubScanner{}
	recorded := &recordingSink{}
	trig := New(nil, scanner, []sink.Sink{recorded}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Run(ctx)

	emitted, err := trig.OnSyncComplete(ctx, models.KindDepartment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emitted != 0 {
		t.Fatalf("expected zero alerts, got %d", emitted)
	}
	time.Sleep(50 * time.Millisecond)
	if recorded.count() != 0 {
		t.Fatalf("expected no deliveries, got %d", recorded.count())
	}
}

func TestOnSyncCompletePropagatesScanError(t *testing.T) {
	scanner := &stubScanner{err: errors.New("store down")}
	trig := New(nil, scanner, nil, 8)

	if _, err := trig.OnSyncComplete(context.Background(), models.KindEmployee); err == nil {
		t.Fatal("expected scan error")
	}
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	scanner := &stubScanner{alerts: []models.Alert{
		{Type: models.AlertDepartmentCritical, Data: map[string]any{"department_id": "DEP001"}},
	}}
	broken := &recordingSink{err: errors.New("sink down")}
	working := &recordingSink{}
	trig := New(nil, scanner, []sink.Sink{broken, working}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Run(ctx)

	if _, err := trig.OnSyncComplete(ctx, models.KindDepartment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return working.count() == 1 })
}
