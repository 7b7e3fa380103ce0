package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nightyworks/dm-relay-bridge/internal/config"
	"github.com/nightyworks/dm-relay-bridge/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		DataDir:      dir,
		DatabasePath: filepath.Join(dir, "relay.db"),
	}
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestRelayRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mapping := domain.RelayMapping{
		UserID:       "user-1",
		ChannelID:    "chan-1",
		WebhookID:    "wh-1",
		WebhookToken: "tok-1",
	}
	if err := store.UpsertRelay(ctx, mapping); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, found, err := store.GetRelay(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatalf("expected mapping to exist")
	}
	if diff := cmp.Diff(mapping, got); diff != "" {
		t.Fatalf("mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRelayMissing(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.GetRelay(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatalf("missing row must report found=false")
	}
}

func TestUpsertRelayReplacesExistingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := domain.RelayMapping{UserID: "user-1", ChannelID: "chan-1", WebhookID: "wh-1", WebhookToken: "tok-1"}
	second := domain.RelayMapping{UserID: "user-1", ChannelID: "chan-2", WebhookID: "wh-2", WebhookToken: "tok-2"}

	if err := store.UpsertRelay(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertRelay(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, found, err := store.GetRelay(ctx, "user-1")
	if err != nil || !found {
		t.Fatalf("get after replace: found=%v err=%v", found, err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Fatalf("last write must win (-want +got):\n%s", diff)
	}

	all, err := store.ListRelays(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert must not duplicate rows, got %d", len(all))
	}
}

func TestListRelays(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := []domain.RelayMapping{
		{UserID: "user-1", ChannelID: "chan-1", WebhookID: "wh-1", WebhookToken: "tok-1"},
		{UserID: "user-2", ChannelID: "chan-2", WebhookID: "wh-2", WebhookToken: "tok-2"},
		{UserID: "user-3", ChannelID: "chan-3", WebhookID: "wh-3", WebhookToken: "tok-3"},
	}
	for _, mapping := range want {
		if err := store.UpsertRelay(ctx, mapping); err != nil {
			t.Fatalf("upsert %s: %v", mapping.UserID, err)
		}
	}

	got, err := store.ListRelays(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i].UserID < got[j].UserID })
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteRelay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertRelay(ctx, domain.RelayMapping{UserID: "user-1", ChannelID: "chan-1", WebhookID: "wh-1", WebhookToken: "tok-1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.DeleteRelay(ctx, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := store.GetRelay(ctx, "user-1"); found {
		t.Fatalf("deleted row must be gone")
	}

	// Deleting an absent row is a no-op.
	if err := store.DeleteRelay(ctx, "user-1"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertRelay(ctx, domain.RelayMapping{UserID: "user-1", ChannelID: "chan-1", WebhookID: "wh-1", WebhookToken: "tok-1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if _, found, err := store.GetRelay(ctx, "user-1"); err != nil || !found {
		t.Fatalf("rerunning migrations must not drop data: found=%v err=%v", found, err)
	}
}
