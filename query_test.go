package mailroom

import (
	"context"
	"fmt"
	"testing"
)

func TestInboxPagination(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := svc.Client("alice"), svc.Client("bob")

	for i := 0; i < 25; i++ {
		mustSend(t, alice, "bob", fmt.Sprintf("msg %02d", i), "body")
	}

	tests := []struct {
		name      string
		req       PageRequest
		wantPage  int
		wantLen   int
		wantLimit int
		wantPages int
		wantFirst string
	}{
		{"first page", PageRequest{Page: 1, Limit: 10}, 1, 10, 10, 3, "msg 24"},
		{"last page", PageRequest{Page: 3, Limit: 10}, 3, 5, 10, 3, "msg 04"},
		{"past the end", PageRequest{Page: 4, Limit: 10}, 4, 0, 10, 3, ""},
		{"defaults", PageRequest{}, 1, 10, 10, 3, "msg 24"},
		{"negative page", PageRequest{Page: -3, Limit: 5}, 1, 5, 5, 5, "msg 24"},
		{"limit capped", PageRequest{Page: 1, Limit: 1000}, 1, 25, DefaultMaxQueryLimit, 1, "msg 24"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := bob.Inbox(ctx, tt.req)
			if err != nil {
				t.Fatalf("inbox failed: %v", err)
			}
			if page.Page != tt.wantPage {
				t.Errorf("page = %d, want %d", page.Page, tt.wantPage)
			}
			if len(page.Messages) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(page.Messages), tt.wantLen)
			}
			if page.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", page.Limit, tt.wantLimit)
			}
			if page.TotalPages != tt.wantPages {
				t.Errorf("totalPages = %d, want %d", page.TotalPages, tt.wantPages)
			}
			if page.Total != 25 {
				t.Errorf("total = %d, want 25", page.Total)
			}
			if page.Messages == nil {
				t.Error("messages must not be nil")
			}
			if tt.wantFirst != "" && page.Messages[0].Subject != tt.wantFirst {
				t.Errorf("first = %q, want %q", page.Messages[0].Subject, tt.wantFirst)
			}
		})
	}

	t.Run("capped at max query limit", func(t *testing.T) {
		svc := setupTestService(t, WithMaxQueryLimit(4))
		for i := 0; i < 9; i++ {
			mustSend(t, svc.Client("alice"), "bob", "s", "b")
		}
		page, err := svc.Client("bob").Inbox(ctx, PageRequest{Limit: 50})
		if err != nil {
			t.Fatalf("inbox failed: %v", err)
		}
		if len(page.Messages) != 4 || page.Limit != 4 || page.TotalPages != 3 {
			t.Errorf("got %d messages, limit %d, %d pages", len(page.Messages), page.Limit, page.TotalPages)
		}
	})

	t.Run("sender inbox is empty", func(t *testing.T) {
		page, err := alice.Inbox(ctx, PageRequest{})
		if err != nil {
			t.Fatalf("inbox failed: %v", err)
		}
		if page.Total != 0 || page.TotalPages != 0 || len(page.Messages) != 0 {
			t.Errorf("unexpected sender inbox: %+v", page)
		}
	})
}

func TestInboxExcludesDraftsAndTrash(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := svc.Client("alice"), svc.Client("bob")

	keep := mustSend(t, alice, "bob", "keep", "b")
	gone := mustSend(t, alice, "bob", "gone", "b")
	if _, err := alice.SaveDraft(ctx, DraftRequest{Receiver: "bob", Subject: "draft"}); err != nil {
		t.Fatalf("save draft failed: %v", err)
	}
	if _, err := bob.MoveToTrash(ctx, gone.ID); err != nil {
		t.Fatalf("trash failed: %v", err)
	}

	page, err := bob.Inbox(ctx, PageRequest{})
	if err != nil {
		t.Fatalf("inbox failed: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != keep.ID {
		t.Errorf("expected only %s, got %v", keep.ID, page.Messages)
	}

	trash, err := bob.Trash(ctx)
	if err != nil {
		t.Fatalf("trash failed: %v", err)
	}
	if len(trash) != 1 || trash[0].ID != gone.ID {
		t.Errorf("expected only %s in trash, got %v", gone.ID, trash)
	}
	for _, m := range trash {
		if !m.IsTrashed {
			t.Errorf("untrashed message %s in trash", m.ID)
		}
	}

	// The sender's trash is scoped to received messages.
	aliceTrash, _ := alice.Trash(ctx)
	if aliceTrash == nil || len(aliceTrash) != 0 {
		t.Errorf("expected empty non-nil sender trash, got %v", aliceTrash)
	}
}

func TestDraftsOrder(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")

	first, _ := alice.SaveDraft(ctx, DraftRequest{Subject: "first"})
	second, _ := alice.SaveDraft(ctx, DraftRequest{Subject: "second"})

	drafts, err := alice.Drafts(ctx)
	if err != nil {
		t.Fatalf("drafts failed: %v", err)
	}
	if len(drafts) != 2 || drafts[0].ID != second.ID {
		t.Fatalf("expected newest draft first, got %v", drafts)
	}

	body := "edited"
	if _, err := alice.UpdateDraft(ctx, first.ID, DraftUpdate{Body: &body}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	drafts, _ = alice.Drafts(ctx)
	if drafts[0].ID != first.ID {
		t.Errorf("expected edited draft first, got %s", drafts[0].Subject)
	}

	bobDrafts, _ := svc.Client("bob").Drafts(ctx)
	if bobDrafts == nil || len(bobDrafts) != 0 {
		t.Errorf("expected empty non-nil drafts, got %v", bobDrafts)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := svc.Client("alice"), svc.Client("bob")

	invoice := mustSend(t, alice, "bob", "Invoice March", "please pay")
	mustSend(t, alice, "bob", "Lunch", "the INVOICE is attached")
	mustSend(t, alice, "bob", "abc", "nothing")
	trashed := mustSend(t, alice, "bob", "invoice old", "b")
	if _, err := bob.MoveToTrash(ctx, trashed.ID); err != nil {
		t.Fatalf("trash failed: %v", err)
	}
	mustSend(t, alice, "carol", "invoice for carol", "b")

	t.Run("case-insensitive over subject and body", func(t *testing.T) {
		got, err := bob.Search(ctx, "invoice")
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 results, got %d", len(got))
		}
		if got[1].ID != invoice.ID {
			t.Errorf("expected newest first")
		}
	})

	t.Run("blank query matches nothing", func(t *testing.T) {
		for _, q := range []string{"", "   "} {
			got, err := bob.Search(ctx, q)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("expected empty non-nil result for %q, got %v", q, got)
			}
		}
	})

	t.Run("query is literal", func(t *testing.T) {
		got, _ := bob.Search(ctx, "a.c")
		if len(got) != 0 {
			t.Errorf("metacharacters must not match, got %d", len(got))
		}
		got, _ = bob.Search(ctx, ".*")
		if len(got) != 0 {
			t.Errorf("metacharacters must not match, got %d", len(got))
		}
	})
}

func TestThread(t *testing.T) {
	ctx := context.Background()

	t.Run("ordered oldest first", func(t *testing.T) {
		svc := setupTestService(t)
		alice, bob := svc.Client("alice"), svc.Client("bob")

		root := mustSend(t, alice, "bob", "Topic", "one")
		r1, _ := bob.Reply(ctx, root.ID, "two")
		r2, _ := alice.Reply(ctx, r1.ID, "three")
		mustSend(t, alice, "bob", "Other", "unrelated")

		msgs, err := bob.Thread(ctx, root.ThreadID)
		if err != nil {
			t.Fatalf("thread failed: %v", err)
		}
		want := []string{root.ID, r1.ID, r2.ID}
		if len(msgs) != len(want) {
			t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
		}
		for i, id := range want {
			if msgs[i].ID != id {
				t.Errorf("position %d: got %s, want %s", i, msgs[i].ID, id)
			}
			if msgs[i].ThreadID != root.ID {
				t.Errorf("message %s has thread %q", msgs[i].ID, msgs[i].ThreadID)
			}
		}
	})

	t.Run("participants policy", func(t *testing.T) {
		svc := setupTestService(t)
		alice, bob, carol := svc.Client("alice"), svc.Client("bob"), svc.Client("carol")
		root := mustSend(t, alice, "bob", "Topic", "one")

		_, err := carol.Thread(ctx, root.ThreadID)
		assertNotFound(t, err, "Thread not found")

		_, err = carol.Thread(ctx, "")
		assertNotFound(t, err, "Thread not found")

		if _, err := bob.Forward(ctx, root.ID, "carol"); err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		msgs, err := carol.Thread(ctx, root.ThreadID)
		if err != nil {
			t.Fatalf("thread after forward failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Errorf("expected 2 messages, got %d", len(msgs))
		}
	})

	t.Run("open policy", func(t *testing.T) {
		svc := setupTestService(t, WithAccessPolicy(PolicyOpen))
		root := mustSend(t, svc.Client("alice"), "bob", "Topic", "one")

		msgs, err := svc.Client("carol").Thread(ctx, root.ThreadID)
		if err != nil {
			t.Fatalf("thread failed: %v", err)
		}
		if len(msgs) != 1 {
			t.Errorf("expected 1 message, got %d", len(msgs))
		}

		msgs, err = svc.Client("carol").Thread(ctx, "unknown")
		if err != nil {
			t.Fatalf("thread failed: %v", err)
		}
		if msgs == nil || len(msgs) != 0 {
			t.Errorf("expected empty non-nil thread, got %v", msgs)
		}
	})
}

// A sends to B, B replies, A drafts without a receiver, fills it in and
// sends it. Only sends notify.
func TestConversationScenario(t *testing.T) {
	ctx := context.Background()
	pushed := make(chan string, 8)
	svc := setupTestService(t, WithNotifier(NotifierFunc(func(_ context.Context, to string, msg *Message) error {
		pushed <- to + ":" + msg.Subject
		return nil
	})))
	a, b := svc.Client("alice"), svc.Client("bob")

	hello := mustSend(t, a, "bob", "Hi", "Hello B")
	reply, err := b.Reply(ctx, hello.ID, "Hello A")
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}

	thread, err := a.Thread(ctx, hello.ThreadID)
	if err != nil {
		t.Fatalf("thread failed: %v", err)
	}
	if len(thread) != 2 || thread[0].ID != hello.ID || thread[1].ID != reply.ID {
		t.Fatalf("unexpected thread %v", thread)
	}

	draft, _ := a.SaveDraft(ctx, DraftRequest{Subject: "Later", Body: "tbd"})
	to := "bob"
	if _, err := a.UpdateDraft(ctx, draft.ID, DraftUpdate{Receiver: &to}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := a.SendDraft(ctx, draft.ID); err != nil {
		t.Fatalf("send draft failed: %v", err)
	}

	if err := svc.(*service).notify.wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	close(pushed)
	got := map[string]bool{}
	for p := range pushed {
		got[p] = true
	}
	for _, want := range []string{"bob:Hi", "alice:Re: Hi", "bob:Later"} {
		if !got[want] {
			t.Errorf("missing push %q in %v", want, got)
		}
	}
	if len(got) != 3 {
		t.Errorf("expected 3 pushes, got %v", got)
	}
}
