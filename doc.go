// Package mailroom provides an email-like messaging library for Go.
//
// Users send, reply to, forward, draft, trash and search messages that are
// grouped into threads. Every message is stored once and shared by its
// sender and receiver; what each side may see or change is decided by
// filters folded into every store operation.
//
// # Basic Usage
//
//	svc, err := mailroom.NewService(
//	    mailroom.WithStore(memory.New()),
//	    mailroom.WithResolver(resolver.NewDirectory(users)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	mb := svc.Client(aliceID)
//	msg, err := mb.Send(ctx, mailroom.SendRequest{
//	    Receiver: "bob@example.com",
//	    Subject:  "Hello",
//	    Body:     "World",
//	})
//
// # Threads
//
// A message sent fresh is the root of its own thread (ThreadID == ID).
// Replies and forwards join the thread of the message they answer. Drafts
// have no thread until they are sent, and a sent draft always starts a new
// thread.
//
// # Notifications
//
// After a recipient-visible write commits (send, reply, forward, draft
// send) the service hands the message to every configured Notifier in the
// background. Notification failures are logged and never fail the request.
// The push package provides a websocket Notifier.
//
// # Events
//
// Typed domain events are published on a github.com/rbaliyan/event/v3 bus.
// Pass WithRedisClient or WithEventTransport to route them somewhere; the
// default transport drops them.
//
//	svc.Events().MessageSent
//	svc.Events().MessageRead
//	svc.Events().MessageTrashed
//	svc.Events().MessageRestored
//	svc.Events().MessageDeleted
//
// # Storage Backends
//
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB or *sql.DB
//   - In-memory (store/memory) - for testing
package mailroom
