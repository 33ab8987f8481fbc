package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/mailroom"
	"github.com/rbaliyan/mailroom/directory"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(
		&mailroom.Recipient{UserID: "u1", Name: "Alice", Email: "alice@example.com"},
		&mailroom.Recipient{UserID: "u2", Name: "Bob"},
		nil,
	)

	for _, ident := range []string{"u1", "alice@example.com"} {
		r, err := s.Resolve(ctx, ident)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", ident, err)
		}
		if r.UserID != "u1" {
			t.Errorf("Resolve(%q).UserID = %q", ident, r.UserID)
		}
	}

	if _, err := s.Resolve(ctx, "u2"); err != nil {
		t.Errorf("Resolve(u2): %v", err)
	}

	_, err := s.Resolve(ctx, "nobody@example.com")
	if !errors.Is(err, mailroom.ErrRecipientNotFound) {
		t.Errorf("unknown: got %v, want ErrRecipientNotFound", err)
	}
}

func TestStaticCopies(t *testing.T) {
	ctx := context.Background()
	in := &mailroom.Recipient{UserID: "u1", Name: "Alice"}
	s := NewStatic(in)
	in.Name = "changed"

	r, _ := s.Resolve(ctx, "u1")
	if r.Name != "Alice" {
		t.Errorf("resolver shares caller's recipient: %q", r.Name)
	}
	r.Name = "mutated"
	r2, _ := s.Resolve(ctx, "u1")
	if r2.Name != "Alice" {
		t.Errorf("resolver returned shared pointer: %q", r2.Name)
	}
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	users := directory.NewMemory()
	u, err := users.Create(ctx, &directory.User{Name: "Alice", Username: "alice", Email: "alice@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDirectory(users)

	for _, ident := range []string{"alice", "alice@example.com"} {
		r, err := d.Resolve(ctx, ident)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", ident, err)
		}
		if r.UserID != u.ID || r.Email != u.Email || r.Name != "Alice" {
			t.Errorf("Resolve(%q) = %+v", ident, r)
		}
	}

	_, err = d.Resolve(ctx, "bob@example.com")
	if !errors.Is(err, mailroom.ErrRecipientNotFound) {
		t.Errorf("unknown: got %v, want ErrRecipientNotFound", err)
	}
}

type failingDirectory struct{ directory.Directory }

func (failingDirectory) ByIdentifier(context.Context, string) (*directory.User, error) {
	return nil, errors.New("connection reset")
}

func TestDirectoryBackendError(t *testing.T) {
	d := NewDirectory(failingDirectory{})
	_, err := d.Resolve(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, mailroom.ErrRecipientNotFound) {
		t.Error("backend failure must not look like an unknown recipient")
	}
}
