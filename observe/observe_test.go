package observe

import (
	"context"
	"errors"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "missing service name",
			config:  Config{},
			wantErr: ErrMissingServiceName,
		},
		{
			name:   "minimal valid",
			config: Config{ServiceName: "provgate"},
		},
		{
			name: "valid with everything enabled",
			config: Config{
				ServiceName: "provgate",
				Tracing:     TracingConfig{Enabled: true, Exporter: "stdout", SamplePct: 0.5},
				Metrics:     MetricsConfig{Enabled: true, Exporter: "prometheus"},
				Logging:     LoggingConfig{Enabled: true, Level: "info"},
			},
		},
		{
			name: "invalid tracing exporter",
			config: Config{
				ServiceName: "provgate",
				Tracing:     TracingConfig{Enabled: true, Exporter: "zipkin"},
			},
			wantErr: ErrInvalidTracingExporter,
		},
		{
			name: "sample pct out of range",
			config: Config{
				ServiceName: "provgate",
				Tracing:     TracingConfig{Enabled: true, Exporter: "stdout", SamplePct: 1.5},
			},
			wantErr: ErrInvalidSamplePct,
		},
		{
			name: "invalid metrics exporter",
			config: Config{
				ServiceName: "provgate",
				Metrics:     MetricsConfig{Enabled: true, Exporter: "statsd"},
			},
			wantErr: ErrInvalidMetricsExporter,
		},
		{
			name: "invalid log level",
			config: Config{
				ServiceName: "provgate",
				Logging:     LoggingConfig{Enabled: true, Level: "trace"},
			},
			wantErr: ErrInvalidLogLevel,
		},
		{
			name: "disabled subsystems skip validation",
			config: Config{
				ServiceName: "provgate",
				Tracing:     TracingConfig{Exporter: "zipkin"},
				Logging:     LoggingConfig{Level: "trace"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewObserver_AllDisabled(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatal(err)
	}

	if obs.Tracer() == nil {
		t.Error("Tracer() = nil")
	}
	if obs.Meter() == nil {
		t.Error("Meter() = nil")
	}
	if obs.Logger() == nil {
		t.Error("Logger() = nil")
	}

	// Noop providers shut down cleanly, repeatedly.
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown = %v", err)
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
}

func TestNewObserver_InvalidConfig(t *testing.T) {
	_, err := NewObserver(context.Background(), Config{})
	if !errors.Is(err, ErrMissingServiceName) {
		t.Errorf("err = %v, want ErrMissingServiceName", err)
	}
}

func TestNewObserver_WithLogging(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{
		ServiceName: "test",
		Logging:     LoggingConfig{Enabled: true, Level: "error"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer obs.Shutdown(context.Background())

	if _, ok := obs.Logger().(*structuredLogger); !ok {
		t.Errorf("Logger() = %T, want *structuredLogger", obs.Logger())
	}
}
