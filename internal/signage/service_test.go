package signage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"signage-cms/internal/objectstore"
	"signage-cms/internal/statusstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore fails every Put whose key ends with failSuffix.
type failingStore struct {
	objectstore.Store
	failSuffix string
}

var errInjected = errors.New("injected put failure")

func (s *failingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s.failSuffix != "" && strings.HasSuffix(key, s.failSuffix) {
		return errInjected
	}
	return s.Store.Put(ctx, key, data, contentType)
}

func newTestService(t *testing.T) (*Service, *objectstore.MemoryStore, *testClock) {
	t.Helper()
	objects := objectstore.NewMemoryStore()
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	svc := NewService(objects, statusstore.NewMemoryStore(), Options{
		PublicBase: "https://cdn.example.com",
		Now:        clock.Now,
	})
	return svc, objects, clock
}

func mustCreateStore(t *testing.T, svc *Service, id StoreID) {
	t.Helper()
	if _, err := svc.CreateStore(context.Background(), id, ""); err != nil {
		t.Fatalf("CreateStore(%s): %v", id, err)
	}
}

func mustUpload(t *testing.T, svc *Service, side Side, id StoreID, contentType string) MediaItem {
	t.Helper()
	item, err := svc.UploadMedia(context.Background(), side, id, Upload{
		FileName:    "upload",
		ContentType: contentType,
		Data:        []byte("media bytes"),
	})
	if err != nil {
		t.Fatalf("UploadMedia(%s): %v", side, err)
	}
	return item
}

func TestService_CreateStore(t *testing.T) {
	svc, objects, _ := newTestService(t)
	ctx := context.Background()

	st, err := svc.CreateStore(ctx, "acme", "  ")
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if st.StoreID != "acme" || st.Name != "acme" || st.CreatedAt != 1_700_000_000_000 {
		t.Errorf("unexpected store: %+v", st)
	}
	for _, key := range []string{
		"stores/acme/left/.keep",
		"stores/acme/left/playlist.json",
		"stores/_common/right/playlist.json",
		"stores/_common/right/meta.json",
	} {
		if _, err := objects.Head(ctx, key); err != nil {
			t.Errorf("expected %s to exist: %v", key, err)
		}
	}

	p, err := svc.GetPlaylist(ctx, SideLeft, "acme")
	if err != nil {
		t.Fatalf("GetPlaylist: %v", err)
	}
	if len(p.Items) != 0 {
		t.Errorf("new store should have empty playlist, got %+v", p.Items)
	}
}

func TestService_CreateStore_errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustCreateStore(t, svc, "acme")

	if _, err := svc.CreateStore(ctx, "acme", "Again"); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate: expected ErrConflict, got %v", err)
	}
	for _, id := range []StoreID{"", "a", "ACME", "ac-me", "_common", StoreID(strings.Repeat("a", 33))} {
		if _, err := svc.CreateStore(ctx, id, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("CreateStore(%q): expected ErrInvalidInput, got %v", id, err)
		}
	}
	if _, err := svc.CreateStore(ctx, "bravo", strings.Repeat("n", 129)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("long name: expected ErrInvalidInput, got %v", err)
	}
}

func TestService_GetStore_and_ListStores(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetStore(ctx, "acme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.CreateStore(ctx, "zeta", "Zeta Mall"); err != nil {
		t.Fatal(err)
	}
	mustCreateStore(t, svc, "acme")
	mustUpload(t, svc, SideRight, "", "image/png")

	st, err := svc.GetStore(ctx, "zeta")
	if err != nil || st.Name != "Zeta Mall" {
		t.Errorf("GetStore = %+v, %v", st, err)
	}

	stores, err := svc.ListStores(ctx)
	if err != nil {
		t.Fatalf("ListStores: %v", err)
	}
	if len(stores) != 2 || stores[0].StoreID != "acme" || stores[1].StoreID != "zeta" {
		t.Errorf("expected [acme zeta], got %+v", stores)
	}
}

func TestService_UploadMedia_left(t *testing.T) {
	svc, objects, _ := newTestService(t)
	ctx := context.Background()
	mustCreateStore(t, svc, "acme")

	img := mustUpload(t, svc, SideLeft, "acme", "image/png")
	if img.Key != "stores/acme/left/left_1.png" || img.Slot != 1 || img.Type != MediaImage {
		t.Errorf("unexpected first item: %+v", img)
	}
	if img.URL != "https://cdn.example.com/stores/acme/left/left_1.png" {
		t.Errorf("url = %s", img.URL)
	}
	vid := mustUpload(t, svc, SideLeft, "acme", "video/mp4")
	if vid.Key != "stores/acme/left/left_2.mp4" || vid.Type != MediaVideo {
		t.Errorf("unexpected second item: %+v", vid)
	}

	obj, err := objects.Get(ctx, img.Key)
	if err != nil || obj.ContentType != "image/png" || string(obj.Data) != "media bytes" {
		t.Errorf("stored object = %+v, %v", obj, err)
	}

	p, err := svc.GetPlaylist(ctx, SideLeft, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Items) != 2 {
		t.Fatalf("expected 2 playlist items, got %+v", p.Items)
	}
	if d := p.Items[0].DurationSeconds; d == nil || *d != DefaultImageDurationSec {
		t.Errorf("image duration = %v", d)
	}
	if p.Items[1].DurationSeconds != nil {
		t.Errorf("video should have no duration, got %d", *p.Items[1].DurationSeconds)
	}
}

func TestService_UploadMedia_binStoredButNotPlayed(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustCreateStore(t, svc, "acme")

	bin := mustUpload(t, svc, SideLeft, "acme", "application/pdf")
	if bin.Key != "stores/acme/left/left_1.bin" {
		t.Errorf("unexpected key %s", bin.Key)
	}
	next := mustUpload(t, svc, SideLeft, "acme", "image/webp")
	if next.Slot != 2 {
		t.Errorf("bin upload should still take a slot, got next slot %d", next.Slot)
	}

	p, _ := svc.GetPlaylist(ctx, SideLeft, "acme")
	if len(p.Items) != 1 || p.Items[0].Key != next.Key {
		t.Errorf("expected only the webp in the playlist, got %+v", p.Items)
	}
}

func TestService_UploadMedia_errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UploadMedia(ctx, SideLeft, "ghost", Upload{ContentType: "image/png", Data: []byte("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing store: expected ErrNotFound, got %v", err)
	}
	_, err = svc.UploadMedia(ctx, SideLeft, "Bad Id", Upload{ContentType: "image/png", Data: []byte("x")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad id: expected ErrInvalidInput, got %v", err)
	}
	_, err = svc.UploadMedia(ctx, SideRight, "", Upload{ContentType: "image/png"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty file: expected ErrInvalidInput, got %v", err)
	}
	_, err = svc.UploadMedia(ctx, Side("middle"), "acme", Upload{Data: []byte("x")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad side: expected ErrInvalidInput, got %v", err)
	}
}

func TestService_UploadMedia_stalePlaylist(t *testing.T) {
	objects := &failingStore{Store: objectstore.NewMemoryStore()}
	svc := NewService(objects, statusstore.NewMemoryStore(), Options{PublicBase: "http://x"})
	ctx := context.Background()
	if _, err := svc.CreateStore(ctx, "acme", ""); err != nil {
		t.Fatal(err)
	}

	objects.failSuffix = "playlist.json"
	item, err := svc.UploadMedia(ctx, SideLeft, "acme", Upload{ContentType: "image/png", Data: []byte("x")})
	if !errors.Is(err, ErrStalePlaylist) || !errors.Is(err, ErrUpstream) || !errors.Is(err, errInjected) {
		t.Fatalf("expected stale playlist upstream error, got %v", err)
	}
	if item.Key != "stores/acme/left/left_1.png" {
		t.Errorf("expected stored key in result, got %+v", item)
	}
	if _, err := objects.Head(ctx, item.Key); err != nil {
		t.Errorf("object should persist despite regeneration failure: %v", err)
	}

	p, err := svc.GetPlaylist(ctx, SideLeft, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Items) != 0 {
		t.Errorf("playlist should still be the stale empty one, got %+v", p.Items)
	}

	objects.failSuffix = ""
	if err := svc.RefreshPlaylists(ctx, "acme"); err != nil {
		t.Fatalf("RefreshPlaylists: %v", err)
	}
	p, _ = svc.GetPlaylist(ctx, SideLeft, "acme")
	if len(p.Items) != 1 {
		t.Errorf("refresh should repair the playlist, got %+v", p.Items)
	}
}

func TestService_DeleteMedia(t *testing.T) {
	svc, objects, _ := newTestService(t)
	ctx := context.Background()
	mustCreateStore(t, svc, "acme")
	first := mustUpload(t, svc, SideLeft, "acme", "image/png")
	second := mustUpload(t, svc, SideLeft, "acme", "image/jpeg")

	if err := svc.DeleteMedia(ctx, SideLeft, "acme", first.File); err != nil {
		t.Fatalf("DeleteMedia: %v", err)
	}
	if _, err := objects.Head(ctx, first.Key); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("object should be gone, got %v", err)
	}
	p, _ := svc.GetPlaylist(ctx, SideLeft, "acme")
	if len(p.Items) != 1 || p.Items[0].Key != second.Key {
		t.Errorf("expected only %s, got %+v", second.Key, p.Items)
	}

	if err := svc.DeleteMedia(ctx, SideLeft, "acme", first.File); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
	for _, bad := range []string{"../left_2.jpg", "right_1.png", "playlist.json", ""} {
		if err := svc.DeleteMedia(ctx, SideLeft, "acme", bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("DeleteMedia(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}

	third := mustUpload(t, svc, SideLeft, "acme", "image/png")
	if third.Slot != 3 {
		t.Errorf("slots are not reused below the maximum, got %d", third.Slot)
	}
}

func TestService_rightMetaLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a := mustUpload(t, svc, SideRight, "acme", "image/png")
	b := mustUpload(t, svc, SideRight, "", "video/mp4")
	if a.Key != "stores/_common/right/right_1.png" || b.Key != "stores/_common/right/right_2.mp4" {
		t.Fatalf("unexpected right keys %s %s", a.Key, b.Key)
	}

	item, err := svc.UpdateRightMeta(ctx, RightMetaUpdate{
		File:    a.File,
		Targets: []string{" ACME", "bravo", "acme"},
	})
	if err != nil {
		t.Fatalf("UpdateRightMeta: %v", err)
	}
	if strings.Join(item.Targets, ",") != "acme,bravo" {
		t.Errorf("targets not normalized: %v", item.Targets)
	}

	_, err = svc.UpdateRightMeta(ctx, RightMetaUpdate{File: b.File, FullPanel: true, DurationSeconds: intPtr(20)})
	if err != nil {
		t.Fatalf("UpdateRightMeta: %v", err)
	}

	p, err := svc.GetPlaylist(ctx, SideRight, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Items) != 2 {
		t.Fatalf("expected 2 right items, got %+v", p.Items)
	}
	if got := p.Items[0]; strings.Join(got.Targets, ",") != "acme,bravo" || got.FullPanel {
		t.Errorf("first right item = %+v", got)
	}
	if got := p.Items[1]; !got.FullPanel || len(got.Targets) != 0 || got.DurationSeconds == nil || *got.DurationSeconds != 20 {
		t.Errorf("second right item = %+v", got)
	}

	items, err := svc.ListMedia(ctx, SideRight, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Targeting == nil || items[0].Targets[0] != "acme" {
		t.Errorf("ListMedia(right) = %+v", items)
	}

	if err := svc.DeleteMedia(ctx, SideRight, "", a.File); err != nil {
		t.Fatal(err)
	}
	meta, err := svc.loadRightMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Items) != 1 || meta.Items[0].File != b.File || !meta.Items[0].FullPanel {
		t.Errorf("meta after delete = %+v", meta.Items)
	}
}

func TestService_UpdateRightMeta_errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a := mustUpload(t, svc, SideRight, "", "image/png")

	cases := []struct {
		name string
		upd  RightMetaUpdate
		want error
	}{
		{"unknown file", RightMetaUpdate{File: "right_9.png"}, ErrNotFound},
		{"missing file", RightMetaUpdate{}, ErrInvalidInput},
		{"bad target", RightMetaUpdate{File: a.File, Targets: []string{"not valid!"}}, ErrInvalidInput},
		{"zero duration", RightMetaUpdate{File: a.File, DurationSeconds: intPtr(0)}, ErrInvalidInput},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := svc.UpdateRightMeta(ctx, c.upd); !errors.Is(err, c.want) {
				t.Errorf("expected %v, got %v", c.want, err)
			}
		})
	}
}

func TestService_corruptMetaIsRebuilt(t *testing.T) {
	svc, objects, _ := newTestService(t)
	ctx := context.Background()
	mustUpload(t, svc, SideRight, "", "image/png")

	if err := objects.Put(ctx, svc.Layout().MetaKey(), []byte("{broken"), jsonContentType); err != nil {
		t.Fatal(err)
	}
	mustUpload(t, svc, SideRight, "", "image/png")

	meta, err := svc.loadRightMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Items) != 2 || meta.Items[0].File != "right_1.png" || meta.Items[1].File != "right_2.png" {
		t.Errorf("expected defaults for both files, got %+v", meta.Items)
	}
}

func TestService_ListMedia_doesNotWrite(t *testing.T) {
	svc, objects, _ := newTestService(t)
	ctx := context.Background()

	// Written behind the service's back: no meta, no playlist.
	key := svc.Layout().MediaKey(CommonStore, SideRight, 1, "png")
	if err := objects.Put(ctx, key, []byte("x"), "image/png"); err != nil {
		t.Fatal(err)
	}

	items, err := svc.ListMedia(ctx, SideRight, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Targeting == nil || items[0].Targets == nil || len(items[0].Targets) != 0 {
		t.Errorf("expected one item with default targeting, got %+v", items)
	}
	if _, err := objects.Head(ctx, svc.Layout().MetaKey()); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("listing must not write meta, got %v", err)
	}
}

func TestService_GetPlaylist(t *testing.T) {
	svc, objects, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.GetPlaylist(ctx, SideRight, "")
	if err != nil || p.Items == nil || len(p.Items) != 0 {
		t.Errorf("never generated: got %+v, %v", p, err)
	}
	if _, err := svc.GetPlaylist(ctx, SideLeft, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing store: expected ErrNotFound, got %v", err)
	}

	key := svc.Layout().PlaylistKey(CommonStore, SideRight)
	if err := objects.Put(ctx, key, []byte("garbage"), jsonContentType); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetPlaylist(ctx, SideRight, ""); !errors.Is(err, ErrUpstream) {
		t.Errorf("corrupt playlist: expected ErrUpstream, got %v", err)
	}
}

func TestService_RefreshPlaylists(t *testing.T) {
	svc, objects, _ := newTestService(t)
	ctx := context.Background()
	mustCreateStore(t, svc, "acme")

	key := svc.Layout().MediaKey("acme", SideLeft, 4, "jpg")
	if err := objects.Put(ctx, key, []byte("x"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RefreshPlaylists(ctx, "acme"); err != nil {
		t.Fatalf("RefreshPlaylists: %v", err)
	}
	p, _ := svc.GetPlaylist(ctx, SideLeft, "acme")
	if len(p.Items) != 1 || p.Items[0].Key != key {
		t.Errorf("expected refreshed playlist with %s, got %+v", key, p.Items)
	}
	if err := svc.RefreshPlaylists(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_heartbeatStatus(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	rep, err := svc.GetStatus(ctx, "acme")
	if err != nil || rep.Status != StatusUnknown || rep.LastSeen != nil {
		t.Fatalf("before heartbeat: %+v, %v", rep, err)
	}

	ts, err := svc.RecordHeartbeat(ctx, "acme", "tv-1")
	if err != nil {
		t.Fatalf("RecordHeartbeat: %v", err)
	}
	if ts != 1_700_000_000_000 {
		t.Errorf("heartbeat ts = %d", ts)
	}

	clock.Advance(120 * time.Second)
	rep, _ = svc.GetStatus(ctx, "acme")
	if rep.Status != StatusOnline || rep.LastSeen == nil || *rep.LastSeen != ts {
		t.Errorf("at TTL boundary: %+v", rep)
	}

	clock.Advance(time.Millisecond)
	rep, _ = svc.GetStatus(ctx, "acme")
	if rep.Status != StatusOffline {
		t.Errorf("past TTL: %+v", rep)
	}

	if _, err := svc.RecordHeartbeat(ctx, "x", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad id: expected ErrInvalidInput, got %v", err)
	}
}

func TestService_OpenMedia(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustCreateStore(t, svc, "acme")
	item := mustUpload(t, svc, SideLeft, "acme", "image/png")

	obj, err := svc.OpenMedia(ctx, item.Key)
	if err != nil || string(obj.Data) != "media bytes" {
		t.Errorf("OpenMedia = %+v, %v", obj, err)
	}
	for _, key := range []string{"elsewhere/x.png", "stores/../secret", "stores/acme/left/left_9.png"} {
		if _, err := svc.OpenMedia(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("OpenMedia(%q): expected ErrNotFound, got %v", key, err)
		}
	}
}

func TestService_DeleteMedia_right_reusedNameStartsClean(t *testing.T) {
	objects := &failingStore{Store: objectstore.NewMemoryStore()}
	svc := NewService(objects, statusstore.NewMemoryStore(), Options{PublicBase: "http://x"})
	ctx := context.Background()

	first := mustUpload(t, svc, SideRight, "", "image/png")
	if _, err := svc.UpdateRightMeta(ctx, RightMetaUpdate{File: first.File, Targets: []string{"acme"}, FullPanel: true}); err != nil {
		t.Fatal(err)
	}

	// A failing meta write aborts the delete and keeps the object.
	objects.failSuffix = "meta.json"
	err := svc.DeleteMedia(ctx, SideRight, "", first.File)
	if !errors.Is(err, ErrUpstream) || errors.Is(err, ErrStalePlaylist) {
		t.Fatalf("expected upstream error before delete, got %v", err)
	}
	if _, err := objects.Head(ctx, first.Key); err != nil {
		t.Fatalf("object should survive an aborted delete: %v", err)
	}

	// A failing playlist write after the delete leaves the record gone.
	objects.failSuffix = "playlist.json"
	if err := svc.DeleteMedia(ctx, SideRight, "", first.File); !errors.Is(err, ErrStalePlaylist) {
		t.Fatalf("expected stale playlist error, got %v", err)
	}
	objects.failSuffix = ""

	again := mustUpload(t, svc, SideRight, "", "image/png")
	if again.File != first.File {
		t.Fatalf("expected name %s to be reused, got %s", first.File, again.File)
	}
	p, err := svc.GetPlaylist(ctx, SideRight, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Items) != 1 || len(p.Items[0].Targets) != 0 || p.Items[0].FullPanel {
		t.Errorf("reused name inherited old targeting: %+v", p.Items)
	}
}

func TestService_UploadMedia_right_resetsLeftoverRecord(t *testing.T) {
	svc, objects, _ := newTestService(t)
	ctx := context.Background()

	leftover := []byte(`{"items":[{"file":"right_1.png","targets":["acme"],"fullPanel":true,"durationSeconds":45}]}`)
	if err := objects.Put(ctx, svc.Layout().MetaKey(), leftover, jsonContentType); err != nil {
		t.Fatal(err)
	}

	item := mustUpload(t, svc, SideRight, "", "image/png")
	if item.File != "right_1.png" {
		t.Fatalf("unexpected file %s", item.File)
	}
	meta, err := svc.loadRightMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Items) != 1 {
		t.Fatalf("expected one record, got %+v", meta.Items)
	}
	if got := meta.Items[0]; len(got.Targets) != 0 || got.FullPanel || got.DurationSeconds != nil {
		t.Errorf("new upload should start from defaults, got %+v", meta.Items)
	}
}
