package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rudransh-shrivastava/peer-stream/internal/store"
)

func setupIndex(t *testing.T) (*store.Index, string) {
	t.Helper()
	dir := t.TempDir()
	ix, err := store.OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("failed to open test index: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix, dir
}

func segment(id, data string) *store.Segment {
	return &store.Segment{
		StreamID:  "m1_720p",
		SegmentID: id,
		Data:      []byte(data),
		Source:    store.SourceSeeder,
		Provider:  "seeder",
	}
}

func TestCache_FirstWriterWins(t *testing.T) {
	c := store.NewCache(store.Options{})
	ctx := context.Background()

	stored, err := c.Put(ctx, segment("s1", "first"))
	if err != nil || !stored {
		t.Fatalf("first Put: stored=%v err=%v", stored, err)
	}
	stored, err = c.Put(ctx, segment("s1", "second"))
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if stored {
		t.Error("expected second write to be ignored")
	}

	got, ok := c.Get("m1_720p", "s1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got.Data) != "first" {
		t.Errorf("expected first payload, got %q", got.Data)
	}
	if got.Source != store.SourceCache {
		t.Errorf("expected source cache, got %s", got.Source)
	}
	if got.Provider != "seeder" {
		t.Errorf("expected provider kept, got %s", got.Provider)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestCache_CopiesInput(t *testing.T) {
	c := store.NewCache(store.Options{})
	seg := segment("s1", "abc")
	_, _ = c.Put(context.Background(), seg)
	seg.Data[0] = 'z'

	got, _ := c.Get("m1_720p", "s1")
	if string(got.Data) != "abc" {
		t.Errorf("cached data changed with caller buffer: %q", got.Data)
	}
	if got.Size != 3 {
		t.Errorf("expected size 3, got %d", got.Size)
	}
}

func TestCache_StreamsAreSeparate(t *testing.T) {
	c := store.NewCache(store.Options{})
	_, _ = c.Put(context.Background(), segment("s1", "a"))

	if c.Has("other", "s1") {
		t.Error("segment leaked across streams")
	}
	if !c.Has("m1_720p", "s1") {
		t.Error("expected segment present")
	}
}

func TestCache_PersistsToDisk(t *testing.T) {
	ix, dir := setupIndex(t)
	c := store.NewCache(store.Options{Dir: dir, Persist: true, Index: ix})
	ctx := context.Background()

	if _, err := c.Put(ctx, segment("seg_001", "payload")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "m1_720p", "seg_001.bin"))
	if err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected file content %q", data)
	}

	entries, err := ix.Segments(ctx, "m1_720p")
	if err != nil {
		t.Fatalf("Segments failed: %v", err)
	}
	if len(entries) != 1 || entries[0].SegmentID != "seg_001" || entries[0].Size != 7 {
		t.Errorf("unexpected index entries %+v", entries)
	}
}

func TestCache_WarmFromIndex(t *testing.T) {
	ix, dir := setupIndex(t)
	ctx := context.Background()

	first := store.NewCache(store.Options{Dir: dir, Persist: true, Index: ix})
	_, _ = first.Put(ctx, segment("s1", "one"))
	_, _ = first.Put(ctx, segment("s2", "two"))
	if err := os.Remove(filepath.Join(dir, "m1_720p", "s2.bin")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	second := store.NewCache(store.Options{Dir: dir, Persist: true, Index: ix})
	loaded, err := second.Warm(ctx, "m1_720p")
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if loaded != 1 {
		t.Errorf("expected 1 loaded, got %d", loaded)
	}
	if got, ok := second.Get("m1_720p", "s1"); !ok || string(got.Data) != "one" {
		t.Errorf("expected s1 warmed, got %v %v", got, ok)
	}

	entries, _ := ix.Segments(ctx, "m1_720p")
	if len(entries) != 1 {
		t.Errorf("expected missing file to be forgotten, got %d entries", len(entries))
	}
}

func TestCache_UnsafeIdentifier(t *testing.T) {
	dir := t.TempDir()
	c := store.NewCache(store.Options{Dir: dir, Persist: true})

	stored, err := c.Put(context.Background(), segment("../escape", "x"))
	if !stored {
		t.Error("expected memory copy to be kept")
	}
	if !errors.Is(err, store.ErrUnsafeIdentifier) {
		t.Errorf("expected ErrUnsafeIdentifier, got %v", err)
	}
}

func TestIndex_RecordIgnoresDuplicates(t *testing.T) {
	ix, _ := setupIndex(t)
	ctx := context.Background()

	entry := store.SegmentEntry{StreamID: "s", SegmentID: "a", Size: 1}
	if err := ix.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	entry.Size = 99
	if err := ix.Record(ctx, entry); err != nil {
		t.Fatalf("duplicate Record failed: %v", err)
	}

	entries, err := ix.Segments(ctx, "s")
	if err != nil {
		t.Fatalf("Segments failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Size != 1 {
		t.Errorf("unexpected entries %+v", entries)
	}
}
