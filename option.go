package mailroom

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/mailroom/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultTrashRetention  = 30 * 24 * time.Hour // 30 days
	MinTrashRetention      = 24 * time.Hour      // 1 day minimum
	DefaultShutdownTimeout = 30 * time.Second    // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second     // minimum shutdown timeout

	// Default message limits
	DefaultMaxSubjectLength = 998              // RFC 5322 max line length
	DefaultMaxBodySize      = 10 * 1024 * 1024 // 10 MB

	// Query limits
	DefaultMaxQueryLimit = 100 // max messages per inbox page
	DefaultQueryLimit    = 10  // default messages per inbox page
	DefaultMaxListLimit  = 500 // cap for unpaginated lists (drafts, trash, search, thread)

	// Concurrency limits
	DefaultMaxConcurrentSends = 10 // max concurrent send operations per service

	// Notifications
	DefaultNotifyTimeout           = 5 * time.Second
	DefaultMaxPendingNotifications = 256
)

// AccessPolicy controls how strictly per-message operations check that the
// caller takes part in the message.
type AccessPolicy int

const (
	// PolicyParticipants restricts reads and mutations to the sender and
	// receiver of a message (receiver only for MarkRead).
	PolicyParticipants AccessPolicy = iota
	// PolicyOpen looks messages up by id alone for Get, Thread, MarkRead,
	// MoveToTrash, Delete and SendDraft.
	PolicyOpen
)

func (p AccessPolicy) String() string {
	if p == PolicyOpen {
		return "open"
	}
	return "participants"
}

// ParseAccessPolicy parses "participants" or "open".
func ParseAccessPolicy(s string) (AccessPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "participants":
		return PolicyParticipants, nil
	case "open":
		return PolicyOpen, nil
	}
	return PolicyParticipants, fmt.Errorf("mailroom: unknown access policy %q", s)
}

// options holds mailroom configuration.
type options struct {
	store    store.Store
	resolver RecipientResolver
	logger   *slog.Logger

	plugins   []Plugin
	notifiers []Notifier

	accessPolicy AccessPolicy

	// Trash cleanup configuration (for CleanupTrash)
	trashRetention time.Duration

	// Message limits
	maxSubjectLength int
	maxBodySize      int

	// Query limits
	maxQueryLimit     int
	defaultQueryLimit int
	maxListLimit      int

	// Concurrency limits
	maxConcurrentSends int

	// Notifications
	notifyTimeout           time.Duration
	maxPendingNotifications int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures cause operation to fail
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional, uses noop if nil)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MessageSent"), and err is the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
// If the callback panics, the panic is logged and suppressed to prevent cascading failures.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:         slog.Default(),
		trashRetention: DefaultTrashRetention,
		// Message limits defaults
		maxSubjectLength: DefaultMaxSubjectLength,
		maxBodySize:      DefaultMaxBodySize,
		// Query limits defaults
		maxQueryLimit:     DefaultMaxQueryLimit,
		defaultQueryLimit: DefaultQueryLimit,
		maxListLimit:      DefaultMaxListLimit,
		// Concurrency limits defaults
		maxConcurrentSends: DefaultMaxConcurrentSends,
		// Notification defaults
		notifyTimeout:           DefaultNotifyTimeout,
		maxPendingNotifications: DefaultMaxPendingNotifications,
		// Shutdown defaults
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Validate query limits consistency
	if o.defaultQueryLimit > o.maxQueryLimit {
		o.defaultQueryLimit = o.maxQueryLimit
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a mailroom service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithResolver sets the recipient resolver used to turn an email or
// username into a user id (required).
func WithResolver(r RecipientResolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAccessPolicy sets how strictly per-message operations are scoped
// to their participants. Default is PolicyParticipants.
func WithAccessPolicy(p AccessPolicy) Option {
	return func(o *options) {
		o.accessPolicy = p
	}
}

// --- Plugin/Extension Options ---

// WithPlugin registers a plugin with the service.
// Plugins implementing SendHook or Notifier are hooked in automatically.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Notification Options ---

// WithNotifier adds a notifier that is told about every new message a user
// receives. Notifiers run in the background after the write commits.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifiers = append(o.notifiers, n)
		}
	}
}

// WithNotifyTimeout bounds each background notification.
// Default is 5 seconds.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.notifyTimeout = d
		}
	}
}

// WithMaxPendingNotifications bounds the number of notifications in flight.
// When the bound is reached new notifications are dropped and logged.
// Default is 256.
func WithMaxPendingNotifications(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPendingNotifications = n
		}
	}
}

// --- Trash Options ---

// WithTrashRetention sets how long messages stay in trash before cleanup.
// Default is 30 days. Minimum is 1 day.
func WithTrashRetention(d time.Duration) Option {
	return func(o *options) {
		if d >= MinTrashRetention {
			o.trashRetention = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for all mailroom operations.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for telemetry and the event bus.
// Default is "mailroom".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Message Limit Options ---

// WithMaxBodySize sets the maximum body size in bytes.
// Default is 10 MB.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithMaxSubjectLength sets the maximum subject length in bytes.
// Default is 998 (RFC 5322 max line length).
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSubjectLength = n
		}
	}
}

// --- Query Limit Options ---

// WithMaxQueryLimit sets the maximum inbox page size.
// Larger requested limits are capped. Default is 100.
func WithMaxQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQueryLimit = n
		}
	}
}

// WithDefaultQueryLimit sets the inbox page size used when none is given.
// Capped to MaxQueryLimit. Default is 10.
func WithDefaultQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultQueryLimit = n
		}
	}
}

// WithMaxListLimit caps the unpaginated listings (drafts, trash, search,
// thread). Default is 500.
func WithMaxListLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxListLimit = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentSends sets the maximum number of concurrent send operations.
// Default is 10.
func WithMaxConcurrentSends(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSends = n
		}
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight sends and
// notifications during Close.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged but
// the operation succeeds.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

// getLimits returns the configured message limits.
func (o *options) getLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength: o.maxSubjectLength,
		MaxBodySize:      o.maxBodySize,
	}
}
