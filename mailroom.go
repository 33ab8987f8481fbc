package mailroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/mailroom/store"
	"golang.org/x/sync/semaphore"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the mailroom system (server-side).
// It handles connections to storage and creates per-user mailbox clients.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for in-flight sends and notifications, then closes all connections.
	Close(ctx context.Context) error
	// Client returns a mailbox client acting as userID.
	// The returned client shares the service's connections.
	Client(userID string) Mailbox
	// CleanupTrash permanently deletes messages that have been in trash
	// longer than the configured retention period. Call this periodically
	// using your application's scheduler.
	CleanupTrash(ctx context.Context) (*CleanupTrashResult, error)
	// Events returns per-service event instances for publishing and subscribing.
	Events() *ServiceEvents
}

// MessageSender creates messages that leave the sender immediately.
type MessageSender interface {
	// Send starts a new thread with a message to req.Receiver.
	Send(ctx context.Context, req SendRequest) (*Message, error)
	// Reply answers originalID. The receiver is the original's sender.
	Reply(ctx context.Context, originalID, body string) (*Message, error)
	// Forward sends a copy of originalID to receiver.
	Forward(ctx context.Context, originalID, receiver string) (*Message, error)
}

// DraftClient provides draft operations.
type DraftClient interface {
	SaveDraft(ctx context.Context, req DraftRequest) (*Message, error)
	UpdateDraft(ctx context.Context, draftID string, update DraftUpdate) (*Message, error)
	SendDraft(ctx context.Context, draftID string) (*Message, error)
	// Drafts lists the caller's drafts, most recently edited first.
	Drafts(ctx context.Context) ([]*Message, error)
}

// MailboxMutator changes the state of a message by ID.
type MailboxMutator interface {
	MarkRead(ctx context.Context, messageID string) (*Message, error)
	MoveToTrash(ctx context.Context, messageID string) (*Message, error)
	Restore(ctx context.Context, messageID string) (*Message, error)
	// Delete permanently removes a message. Deleting a message that does
	// not exist is not an error.
	Delete(ctx context.Context, messageID string) error
}

// MessageReader provides single message and thread retrieval.
type MessageReader interface {
	Get(ctx context.Context, messageID string) (*Message, error)
	// Thread returns every message of a thread, oldest first.
	Thread(ctx context.Context, threadID string) ([]*Message, error)
}

// MessageLister provides the folder views.
type MessageLister interface {
	Inbox(ctx context.Context, req PageRequest) (*Page, error)
	Trash(ctx context.Context) ([]*Message, error)
	// Search matches q literally and case-insensitively against subject and
	// body of inbox messages. A blank q matches nothing.
	Search(ctx context.Context, q string) ([]*Message, error)
}

// Mailbox is a user's view of the mailroom.
//
// Composed of focused client interfaces:
//   - MessageSender: Send, Reply, Forward
//   - DraftClient: SaveDraft, UpdateDraft, SendDraft, Drafts
//   - MailboxMutator: MarkRead, MoveToTrash, Restore, Delete
//   - MessageReader: Get, Thread
//   - MessageLister: Inbox, Trash, Search
type Mailbox interface {
	UserID() string
	MessageSender
	DraftClient
	MailboxMutator
	MessageReader
	MessageLister
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store    store.Store
	resolver RecipientResolver
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins  *pluginRegistry
	notify   *dispatcher
	otel     *otelInstrumentation
	sendSem  *semaphore.Weighted // bounds concurrent sends
	eventBus *event.Bus
	events   *ServiceEvents
}

// NewService creates a new mailroom service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}
	if o.resolver == nil {
		return nil, ErrResolverRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	notifiers := make([]Notifier, 0, len(o.notifiers)+len(plugins.notifiers))
	notifiers = append(notifiers, o.notifiers...)
	notifiers = append(notifiers, plugins.notifiers...)

	return &service{
		store:    o.store,
		resolver: o.resolver,
		logger:   o.logger,
		opts:     o,
		plugins:  plugins,
		notify:   newDispatcher(notifiers, o, otelInstr),
		otel:     otelInstr,
		sendSem:  semaphore.NewWeighted(int64(o.maxConcurrentSends)),
	}, nil
}

// Events returns per-service event instances. Nil before Connect.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected keeps Client()
	// from seeing partial initialization.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.closeEventBus(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("mailroom service connected", "access_policy", s.opts.accessPolicy.String())
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates this service's own bus and registers its events.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "mailroom"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		s.eventBus = nil
		return fmt.Errorf("register service events: %w", err)
	}
	return nil
}

// closeEventBus closes the bus when it holds a real transport.
func (s *service) closeEventBus(ctx context.Context) error {
	if s.eventBus == nil || (s.opts.eventTransport == nil && s.opts.redisClient == nil) {
		return nil
	}
	return s.eventBus.Close(ctx)
}

// Close stops accepting operations, drains in-flight sends and
// notifications, then closes plugins, the event bus and the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new sends can start once the state is disconnected; taking every
	// semaphore slot waits for the running ones.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		s.logger.Warn("timeout waiting for in-flight sends, proceeding with shutdown", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
	}

	if err := s.notify.wait(shutdownCtx); err != nil {
		s.logger.Warn("timeout waiting for notifications, proceeding with shutdown", "error", err)
		errs = append(errs, fmt.Errorf("notification drain: %w", err))
	}

	// Plugins close before the store so hooks never see a closed backend.
	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if err := s.closeEventBus(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.logger.Info("mailroom service closed")
	return errors.Join(errs...)
}

// Client returns a mailbox client for the given user.
func (s *service) Client(userID string) Mailbox {
	return &userMailbox{
		userID:      userID,
		service:     s,
		validUserID: isValidUserID(userID),
	}
}

// userMailbox is the default implementation of Mailbox.
type userMailbox struct {
	userID      string
	service     *service
	validUserID bool // set by Client() after validation
}

// UserID returns the user ID of this mailbox.
func (m *userMailbox) UserID() string {
	return m.userID
}

// checkAccess verifies the mailbox is ready for operations.
// Returns ErrNotConnected if service isn't connected,
// or ErrInvalidUserID if user ID failed validation.
func (m *userMailbox) checkAccess() error {
	if atomic.LoadInt32(&m.service.state) != stateConnected {
		return ErrNotConnected
	}
	if !m.validUserID {
		return ErrInvalidUserID
	}
	return nil
}
