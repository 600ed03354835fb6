package instrumentation

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "default config",
			config: Config{
				Enabled: false,
			},
			wantErr: false,
		},
		{
			name: "with service name and version",
			config: Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "empty service name gets default",
			config: Config{
				Enabled:        true,
				ServiceName:    "",
				ServiceVersion: "",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}

			if inst == nil {
				t.Error("New() returned nil instrumentation")
				return
			}

			// Meters and tracers can be created for the library's scopes
			if inst.Meter("manager") == nil {
				t.Error("Meter('manager') returned nil")
			}
			if inst.Meter("audit") == nil {
				t.Error("Meter('audit') returned nil")
			}
			if inst.Tracer("manager") == nil {
				t.Error("Tracer('manager') returned nil")
			}

			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
			if inst.TracerProvider() == nil {
				t.Error("TracerProvider() returned nil")
			}
			if inst.MeterProvider() == nil {
				t.Error("MeterProvider() returned nil")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := inst.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
			// Shutdown is idempotent
			if err := inst.Shutdown(ctx); err != nil {
				t.Errorf("Second Shutdown() error = %v", err)
			}
		})
	}
}

func TestInstrumentation_NoOpProviders(t *testing.T) {
	inst, err := New(Config{
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()

	// Recording against no-op providers must not panic or error
	inst.Metrics().RecordCheck(ctx, "search", true, 3*time.Millisecond)
	inst.Metrics().RecordDenial(ctx, "rate limit exceeded")
	inst.Metrics().RecordAnomaly(ctx, "sql-injection", "critical")

	_, span := inst.Tracer("manager").Start(ctx, "test-span")
	span.End()
}

func TestMetrics_NilReceiver(t *testing.T) {
	// Components hold *Metrics that may be nil when instrumentation is
	// not wired at all; every recording helper must tolerate that.
	var m *Metrics
	ctx := context.Background()

	m.RecordCheck(ctx, "search", false, time.Millisecond)
	m.RecordDenial(ctx, "account locked")
	m.RecordAnomaly(ctx, "xss-attempt", "high")
}

func TestInstrumentation_ConcurrentAccess(t *testing.T) {
	inst, err := New(Config{
		Enabled:        true,
		ServiceName:    "concurrent-test",
		ServiceVersion: "1.0.0",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	done := make(chan bool)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				operation := fmt.Sprintf("op-%d", id)
				inst.Metrics().RecordCheck(ctx, operation, j%2 == 0, time.Millisecond)
				inst.Metrics().RecordAnomaly(ctx, "rapid-requests", "medium")

				_, span := inst.Tracer("manager").Start(ctx, "concurrent-span")
				span.End()
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestRegisterStateSizeCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.RegisterStateSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		func() int64 { return 3 },
		nil, // no vault wired
	)
	if err != nil {
		t.Errorf("RegisterStateSizeCallbacks() error = %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if inst.config.ServiceName != "sentinel" {
		t.Errorf("Default ServiceName = %q, want %q", inst.config.ServiceName, "sentinel")
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("Default ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
}
