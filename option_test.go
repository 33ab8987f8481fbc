package mailroom

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestNewOptions(t *testing.T) {
	opts := newOptions()

	if opts.trashRetention != DefaultTrashRetention {
		t.Errorf("expected trashRetention %v, got %v", DefaultTrashRetention, opts.trashRetention)
	}
	if opts.maxSubjectLength != DefaultMaxSubjectLength {
		t.Errorf("expected maxSubjectLength %v, got %v", DefaultMaxSubjectLength, opts.maxSubjectLength)
	}
	if opts.maxBodySize != DefaultMaxBodySize {
		t.Errorf("expected maxBodySize %v, got %v", DefaultMaxBodySize, opts.maxBodySize)
	}
	if opts.maxQueryLimit != DefaultMaxQueryLimit {
		t.Errorf("expected maxQueryLimit %v, got %v", DefaultMaxQueryLimit, opts.maxQueryLimit)
	}
	if opts.defaultQueryLimit != DefaultQueryLimit {
		t.Errorf("expected defaultQueryLimit %v, got %v", DefaultQueryLimit, opts.defaultQueryLimit)
	}
	if opts.maxConcurrentSends != DefaultMaxConcurrentSends {
		t.Errorf("expected maxConcurrentSends %v, got %v", DefaultMaxConcurrentSends, opts.maxConcurrentSends)
	}
	if opts.notifyTimeout != DefaultNotifyTimeout {
		t.Errorf("expected notifyTimeout %v, got %v", DefaultNotifyTimeout, opts.notifyTimeout)
	}
	if opts.accessPolicy != PolicyParticipants {
		t.Errorf("expected participants policy, got %v", opts.accessPolicy)
	}
	if opts.onEventPublishFailure == nil {
		t.Error("expected default event failure handler")
	}
}

func TestWithLogger(t *testing.T) {
	t.Run("sets custom logger", func(t *testing.T) {
		customLogger := slog.Default()
		opts := newOptions(WithLogger(customLogger))
		if opts.logger != customLogger {
			t.Error("expected custom logger to be set")
		}
	})

	t.Run("ignores nil logger", func(t *testing.T) {
		opts := newOptions(WithLogger(nil))
		if opts.logger == nil {
			t.Error("expected default logger when nil passed")
		}
	})
}

func TestWithTrashRetention(t *testing.T) {
	t.Run("sets custom retention", func(t *testing.T) {
		retention := 7 * 24 * time.Hour
		opts := newOptions(WithTrashRetention(retention))
		if opts.trashRetention != retention {
			t.Errorf("expected retention %v, got %v", retention, opts.trashRetention)
		}
	})

	t.Run("ignores retention below minimum", func(t *testing.T) {
		opts := newOptions(WithTrashRetention(1 * time.Hour))
		if opts.trashRetention != DefaultTrashRetention {
			t.Errorf("expected default retention %v, got %v", DefaultTrashRetention, opts.trashRetention)
		}
	})
}

func TestWithOTel(t *testing.T) {
	opts := newOptions(WithOTel(true))
	if !opts.tracingEnabled || !opts.metricsEnabled {
		t.Error("expected tracing and metrics to be enabled")
	}

	opts = newOptions(WithOTel(true), WithMetrics(false))
	if !opts.tracingEnabled || opts.metricsEnabled {
		t.Error("expected only tracing to be enabled")
	}

	instr, err := newOtelInstrumentation(newOptions(WithOTel(true)))
	if err != nil {
		t.Fatalf("otel init failed: %v", err)
	}
	if instr.tracer == nil {
		t.Error("expected tracer from the global provider")
	}
}

func TestQueryLimitOptions(t *testing.T) {
	t.Run("default capped to max", func(t *testing.T) {
		opts := newOptions(WithMaxQueryLimit(5), WithDefaultQueryLimit(20))
		if opts.defaultQueryLimit != 5 {
			t.Errorf("expected defaultQueryLimit 5, got %d", opts.defaultQueryLimit)
		}
	})

	t.Run("ignores non-positive", func(t *testing.T) {
		opts := newOptions(WithMaxQueryLimit(0), WithDefaultQueryLimit(-1), WithMaxListLimit(0))
		if opts.maxQueryLimit != DefaultMaxQueryLimit || opts.defaultQueryLimit != DefaultQueryLimit ||
			opts.maxListLimit != DefaultMaxListLimit {
			t.Errorf("unexpected limits %d/%d/%d", opts.maxQueryLimit, opts.defaultQueryLimit, opts.maxListLimit)
		}
	})
}

func TestWithShutdownTimeout(t *testing.T) {
	t.Run("sets custom shutdown timeout", func(t *testing.T) {
		timeout := 60 * time.Second
		opts := newOptions(WithShutdownTimeout(timeout))
		if opts.shutdownTimeout != timeout {
			t.Errorf("expected shutdownTimeout %v, got %v", timeout, opts.shutdownTimeout)
		}
	})

	t.Run("ignores timeout below minimum", func(t *testing.T) {
		opts := newOptions(WithShutdownTimeout(500 * time.Millisecond))
		if opts.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("expected default shutdownTimeout %v, got %v", DefaultShutdownTimeout, opts.shutdownTimeout)
		}
	})
}

func TestWithPlugins(t *testing.T) {
	t.Run("filters nil plugins", func(t *testing.T) {
		opts := newOptions(WithPlugins(&mockPlugin{}, nil), WithPlugin(nil), WithPlugin(&mockPlugin{}))
		if len(opts.plugins) != 2 {
			t.Errorf("expected 2 plugins, got %d", len(opts.plugins))
		}
	})

	t.Run("notifiers", func(t *testing.T) {
		opts := newOptions(WithNotifier(nil), WithNotifier(NotifierFunc(nil)))
		if len(opts.notifiers) != 1 {
			t.Errorf("expected 1 notifier, got %d", len(opts.notifiers))
		}
	})
}

func TestParseAccessPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    AccessPolicy
		wantErr bool
	}{
		{"", PolicyParticipants, false},
		{"participants", PolicyParticipants, false},
		{" Open ", PolicyOpen, false},
		{"everyone", PolicyParticipants, true},
	}
	for _, tt := range tests {
		got, err := ParseAccessPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAccessPolicy(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseAccessPolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if PolicyOpen.String() != "open" || PolicyParticipants.String() != "participants" {
		t.Error("unexpected policy names")
	}
}

func TestPluginRegistry(t *testing.T) {
	ctx := context.Background()
	failing := &mockPlugin{name: "failing", initErr: context.Canceled}
	first := &mockPlugin{name: "first"}

	r := newPluginRegistry(nil)
	r.register(first)
	r.register(failing)

	err := r.initAll(ctx)
	var pe *PluginError
	if !errors.As(err, &pe) || pe.Plugin != "failing" || pe.Op != "init" {
		t.Fatalf("expected init PluginError, got %v", err)
	}
	if !first.closed {
		t.Error("already initialized plugins must be closed on rollback")
	}
}

// mockPlugin implements Plugin for testing
type mockPlugin struct {
	name    string
	initErr error
	closed  bool
}

func (p *mockPlugin) Name() string                    { return p.name }
func (p *mockPlugin) Init(ctx context.Context) error  { return p.initErr }
func (p *mockPlugin) Close(ctx context.Context) error { p.closed = true; return nil }
