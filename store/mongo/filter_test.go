package mongo

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/rbaliyan/mailroom/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestBuildFilterMapsID(t *testing.T) {
	oid := bson.NewObjectID()
	f, err := buildFilter([]store.Filter{store.IDIs(oid.Hex()), store.ReceiverIs("bob")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f["_id"] != oid {
		t.Errorf("expected _id %v, got %v", oid, f["_id"])
	}
	if f["receiver_id"] != "bob" {
		t.Errorf("expected receiver_id bob, got %v", f["receiver_id"])
	}
}

func TestBuildFilterInvalidID(t *testing.T) {
	_, err := buildFilter([]store.Filter{store.IDIs("not-an-object-id")})
	if !errors.Is(err, store.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestBuildFilterComposite(t *testing.T) {
	f, err := buildFilter([]store.Filter{
		store.AnyOf(store.SenderIs("bob"), store.AllOf(store.ReceiverIs("bob"), store.DraftIs(false))),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	or, ok := f["$or"].([]bson.M)
	if !ok || len(or) != 2 {
		t.Fatalf("expected $or with 2 branches, got %#v", f)
	}
	if or[0]["sender_id"] != "bob" {
		t.Errorf("unexpected first branch: %#v", or[0])
	}
	and, ok := or[1]["$and"].([]bson.M)
	if !ok || len(and) != 2 {
		t.Fatalf("expected nested $and, got %#v", or[1])
	}
}

func TestBuildFilterRepeatedKey(t *testing.T) {
	a := store.AnyOf(store.SenderIs("a"), store.ReceiverIs("a"))
	b := store.AnyOf(store.SenderIs("b"), store.ReceiverIs("b"))
	f, err := buildFilter([]store.Filter{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f["$or"]; !ok {
		t.Error("expected first $or kept at top level")
	}
	and, ok := f["$and"].([]bson.M)
	if !ok || len(and) != 1 {
		t.Errorf("expected second $or moved to $and, got %#v", f)
	}
}

func TestBuildFilterKeepsEveryAllOf(t *testing.T) {
	f, err := buildFilter([]store.Filter{
		store.AllOf(store.SenderIs("a"), store.DraftIs(false)),
		store.AnyOf(store.SenderIs("x"), store.ReceiverIs("x")),
		store.AnyOf(store.SenderIs("y"), store.ReceiverIs("y")),
		store.AllOf(store.ReceiverIs("b"), store.TrashedIs(true)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := f["$and"].([]bson.M)
	if !ok {
		t.Fatalf("expected $and, got %#v", f)
	}
	// Four AllOf children plus the repeated $or.
	if len(and) != 5 {
		t.Fatalf("expected 5 $and conditions, got %d: %#v", len(and), and)
	}
	want := map[string]any{"sender_id": "a", "is_draft": false, "receiver_id": "b", "is_trashed": true}
	for k, v := range want {
		found := false
		for _, c := range and {
			if c[k] == v {
				found = true
			}
		}
		if !found {
			t.Errorf("condition %s=%v dropped: %#v", k, v, and)
		}
	}
}

func TestEscapeRegex(t *testing.T) {
	for _, in := range []string{"a.b", "(x)*", `back\slash`, "[z]{2}", "^$|?+"} {
		re := regexp.MustCompile("(?i)" + escapeRegex(in))
		if !re.MatchString("prefix " + in + " suffix") {
			t.Errorf("escaped %q should match itself literally", in)
		}
	}
	if regexp.MustCompile(escapeRegex("a.b")).MatchString("axb") {
		t.Error("dot should not match arbitrary characters")
	}
}

func TestBuildUpdate(t *testing.T) {
	now := time.Now().UTC()

	trashed := true
	u := buildUpdate(store.Patch{IsTrashed: &trashed}, now)
	set := u["$set"].(bson.M)
	if set["is_trashed"] != true || set["trashed_at"] != now {
		t.Errorf("unexpected $set for trash: %#v", set)
	}
	if _, ok := u["$unset"]; ok {
		t.Error("trash should not unset anything")
	}

	restored := false
	u = buildUpdate(store.Patch{IsTrashed: &restored}, now)
	unset, ok := u["$unset"].(bson.M)
	if !ok {
		t.Fatal("restore should unset trashed_at")
	}
	if _, ok := unset["trashed_at"]; !ok {
		t.Errorf("unexpected $unset: %#v", unset)
	}

	u = buildUpdate(store.Patch{Send: true}, now)
	if u["$set"].(bson.M)["is_draft"] != false {
		t.Errorf("send should clear is_draft: %#v", u)
	}
}

func TestSortSpec(t *testing.T) {
	d := sortSpec(store.ListOptions{SortBy: "UpdatedAt", SortOrder: store.SortAsc})
	if d[0].Key != "updated_at" || d[0].Value != 1 {
		t.Errorf("unexpected sort: %v", d)
	}
	d = sortSpec(store.ListOptions{SortBy: "body"})
	if d[0].Key != "created_at" || d[0].Value != -1 {
		t.Errorf("expected default created_at desc, got %v", d)
	}
}
