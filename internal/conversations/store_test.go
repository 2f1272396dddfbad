package conversations

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/verdict/pkg/models"
)

func newConversation(t *testing.T) *models.Conversation {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Conversation{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
		SystemPrompt: "You assess release readiness.",
		Messages: []models.Message{
			models.NewTextMessage(models.RoleUser, "Is FEAT-MS-001 ready?"),
		},
		TraceIDs: []string{"aaaabbbbccccddddaaaabbbbccccdddd"},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	conv := newConversation(t)
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ID != conv.ID || loaded.SystemPrompt != conv.SystemPrompt {
		t.Errorf("loaded = %+v, want %+v", loaded, conv)
	}
	if !reflect.DeepEqual(loaded.TraceIDs, conv.TraceIDs) {
		t.Errorf("trace ids = %v, want %v", loaded.TraceIDs, conv.TraceIDs)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Text() != "Is FEAT-MS-001 ready?" {
		t.Errorf("messages did not round-trip: %+v", loaded.Messages)
	}
}

func TestStore_PrefixLookup(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	conv := newConversation(t)
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(conv.ID[:8])
	if err != nil {
		t.Fatalf("Load(prefix) error = %v", err)
	}
	if loaded.ID != conv.ID {
		t.Errorf("Load(prefix) = %s, want %s", loaded.ID, conv.ID)
	}
}

func TestStore_PrefixTooShort(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if _, err := store.Load("ab"); err == nil {
		t.Fatal("expected error for short prefix")
	}
}

func TestStore_NotFound(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	_, err := store.Load("ffffffff")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStore_AmbiguousPrefix(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	a := newConversation(t)
	a.ID = "deadbeef-1111-4000-8000-000000000001"
	b := newConversation(t)
	b.ID = "deadbeef-2222-4000-8000-000000000002"
	if err := store.Save(a); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(b); err != nil {
		t.Fatal(err)
	}

	_, err := store.Load("deadbeef")
	if !errors.Is(err, ErrAmbiguous) {
		t.Errorf("error = %v, want ErrAmbiguous", err)
	}
}

func TestStore_ListAllSortedByUpdatedAt(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	older := newConversation(t)
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	newer := newConversation(t)
	if err := store.Save(older); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(newer); err != nil {
		t.Fatal(err)
	}

	entries, err := store.ListAll()
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != newer.ID {
		t.Errorf("first entry = %s, want newest %s", entries[0].ID, newer.ID)
	}
}

func TestStore_SaveIsSnapshot(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	conv := newConversation(t)
	if err := store.Save(conv); err != nil {
		t.Fatal(err)
	}

	// Mutating the live object after save must not affect what was stored.
	conv.Messages[0].Content[0].Text = "mutated"

	loaded, err := store.Load(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Messages[0].Text() != "Is FEAT-MS-001 ready?" {
		t.Errorf("stored snapshot was mutated: %q", loaded.Messages[0].Text())
	}
}
