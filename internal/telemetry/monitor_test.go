package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }

// collectSink records every alarm it receives.
type collectSink struct {
	mu     sync.Mutex
	alarms []Alarm
}

func (s *collectSink) AlarmRaised(_ context.Context, alarm Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, alarm)
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms)
}

func TestEvaluate_Precedence(t *testing.T) {
	threshold := &Threshold{
		DeviceID:    "m1",
		SensorType:  "temperature",
		Min:         f(10),
		Max:         f(85),
		CriticalMin: f(0),
		CriticalMax: f(90),
	}

	tests := []struct {
		name         string
		value        float64
		wantBreach   bool
		wantSeverity Severity
		wantType     string
	}{
		{"normal", 50, false, "", ""},
		{"above max only", 87, true, SeverityWarning, "temperature_high"},
		{"above critical max wins over max", 92, true, SeverityCritical, "temperature_high"},
		{"below min only", 5, true, SeverityWarning, "temperature_low"},
		{"below critical min wins over min", -2, true, SeverityCritical, "temperature_low"},
		{"at max is not a breach", 85, false, "", ""},
		{"at critical max falls to warning", 90, true, SeverityWarning, "temperature_high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading := SensorReading{DeviceID: "m1", SensorType: "temperature", Value: tt.value, Timestamp: time.Now()}
			alarm, breached := Evaluate(reading, threshold)
			if breached != tt.wantBreach {
				t.Fatalf("breached = %v, want %v", breached, tt.wantBreach)
			}
			if !breached {
				return
			}
			if alarm.Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", alarm.Severity, tt.wantSeverity)
			}
			if alarm.AlarmType != tt.wantType {
				t.Errorf("alarm_type = %s, want %s", alarm.AlarmType, tt.wantType)
			}
			if alarm.ID == "" || alarm.Message == "" {
				t.Error("alarm missing ID or message")
			}
		})
	}
}

func TestEvaluate_MessageIncludesUnit(t *testing.T) {
	threshold := &Threshold{DeviceID: "m1", SensorType: "temperature", Max: f(85)}

	reading := SensorReading{DeviceID: "m1", SensorType: "temperature", Value: 92, Unit: "°C", Timestamp: time.Now()}
	alarm, breached := Evaluate(reading, threshold)
	if !breached {
		t.Fatal("expected a breach")
	}
	if want := "temperature 92°C breaches max 85"; alarm.Message != want {
		t.Errorf("message = %q, want %q", alarm.Message, want)
	}

	// Without a unit the value stands alone.
	reading.Unit = ""
	alarm, _ = Evaluate(reading, threshold)
	if want := "temperature 92 breaches max 85"; alarm.Message != want {
		t.Errorf("message = %q, want %q", alarm.Message, want)
	}
}

func TestEvaluate_PartialBounds(t *testing.T) {
	// Only max configured; low values never alarm.
	threshold := &Threshold{DeviceID: "m1", SensorType: "humidity", Max: f(70)}

	if _, breached := Evaluate(SensorReading{Value: -50}, threshold); breached {
		t.Error("low value without min bound should not breach")
	}
	alarm, breached := Evaluate(SensorReading{DeviceID: "m1", SensorType: "humidity", Value: 80}, threshold)
	if !breached || alarm.Severity != SeverityWarning {
		t.Errorf("expected warning breach, got %+v breached=%v", alarm, breached)
	}
}

func TestMonitor_ProcessAndDedup(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	monitor := NewMonitor(repo)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	monitor.SetNow(func() time.Time { return now })

	if err := monitor.SetThreshold(ctx, &Threshold{
		DeviceID: "m1", SensorType: "temperature", Max: f(85), CriticalMax: f(90),
	}); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}

	sink := &collectSink{}
	monitor.AddSink(sink)

	reading := SensorReading{DeviceID: "m1", SensorType: "temperature", Value: 92, Timestamp: now}
	monitor.Process(ctx, reading)
	monitor.Process(ctx, reading) // identical, inside the window

	if sink.count() != 1 {
		t.Fatalf("sink received %d alarms, want 1 (dedup)", sink.count())
	}

	alarms, err := repo.ListAlarms(ctx, AlarmFilter{})
	if err != nil {
		t.Fatalf("ListAlarms: %v", err)
	}
	if len(alarms) != 1 {
		t.Fatalf("stored %d alarms, want 1", len(alarms))
	}
	if alarms[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", alarms[0].Severity)
	}

	// Advance past the window: the same breach alarms again.
	now = now.Add(5*time.Minute + time.Second)
	monitor.Process(ctx, SensorReading{DeviceID: "m1", SensorType: "temperature", Value: 92, Timestamp: now})
	if sink.count() != 2 {
		t.Errorf("sink received %d alarms after window expiry, want 2", sink.count())
	}
}

func TestMonitor_NoThresholdNoAlarm(t *testing.T) {
	db := setupTestDB(t)
	monitor := NewMonitor(NewSQLiteRepository(db))
	sink := &collectSink{}
	monitor.AddSink(sink)

	monitor.Process(context.Background(), SensorReading{DeviceID: "ghost", SensorType: "temperature", Value: 9000})
	if sink.count() != 0 {
		t.Error("reading without threshold should not alarm")
	}
}

func TestMonitor_RefreshCache(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.UpsertThreshold(ctx, &Threshold{
		DeviceID: "m2", SensorType: "pressure", Min: f(1), UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertThreshold: %v", err)
	}

	monitor := NewMonitor(repo)
	if err := monitor.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	if _, err := monitor.GetThreshold("m2", "pressure"); err != nil {
		t.Errorf("GetThreshold after refresh: %v", err)
	}
}

func TestValidateThreshold(t *testing.T) {
	tests := []struct {
		name    string
		t       *Threshold
		wantErr bool
	}{
		{"valid", &Threshold{DeviceID: "d", SensorType: "s", Max: f(1)}, false},
		{"nil", nil, true},
		{"missing device", &Threshold{SensorType: "s", Max: f(1)}, true},
		{"no bounds", &Threshold{DeviceID: "d", SensorType: "s"}, true},
		{"min above max", &Threshold{DeviceID: "d", SensorType: "s", Min: f(10), Max: f(5)}, true},
		{"critical min above critical max", &Threshold{DeviceID: "d", SensorType: "s", CriticalMin: f(10), CriticalMax: f(5)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThreshold(tt.t)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateThreshold() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
