package signage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"signage-cms/internal/objectstore"
	"signage-cms/internal/platform/metrics"
	"signage-cms/internal/platform/validation"
	"signage-cms/internal/statusstore"

	"github.com/goccy/go-json"
)

const (
	jsonContentType   = "application/json"
	binaryContentType = "application/octet-stream"
	maxStoreNameLen   = 128
)

// ErrStalePlaylist marks an error from a mutating call whose object change
// was stored but whose playlist regeneration failed afterwards. The
// playlist stays stale until the next successful mutation or
// RefreshPlaylists. It is always joined with an ErrUpstream cause.
var ErrStalePlaylist = errors.New("playlist regeneration failed")

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	KeyRoot          string
	PublicBase       string
	ImageDurationSec int
	OnlineTTL        time.Duration
	Now              func() time.Time
	Metrics          *metrics.Metrics
}

// Service implements the signage core: stores, media, right metadata,
// playlists and heartbeat status. It keeps no mutable state of its own;
// the object store and status store are the only shared resources, and
// every read-then-write sequence against them is unlocked.
type Service struct {
	objects objectstore.Store
	status  statusstore.Store
	layout  Layout
	builder PlaylistBuilder
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewService returns a Service over the given stores.
func NewService(objects objectstore.Store, status statusstore.Store, opts Options) *Service {
	root := strings.Trim(opts.KeyRoot, "/")
	if root == "" {
		root = "stores"
	}
	imageSec := opts.ImageDurationSec
	if imageSec <= 0 {
		imageSec = DefaultImageDurationSec
	}
	ttl := opts.OnlineTTL
	if ttl <= 0 {
		ttl = DefaultOnlineTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		objects: objects,
		status:  status,
		layout:  Layout{Root: root},
		builder: PlaylistBuilder{PublicBase: opts.PublicBase, ImageDurationSec: imageSec},
		ttl:     ttl,
		now:     now,
		metrics: opts.Metrics,
	}
}

// Layout returns the key layout in use.
func (s *Service) Layout() Layout { return s.layout }

// OnlineTTL returns the configured heartbeat window.
func (s *Service) OnlineTTL() time.Duration { return s.ttl }

// ImageDurationSec returns the configured default image duration.
func (s *Service) ImageDurationSec() int { return s.builder.ImageDurationSec }

// CreateStore registers a new store and writes its initial playlists.
// An empty name defaults to the id.
func (s *Service) CreateStore(ctx context.Context, id StoreID, name string) (Store, error) {
	if err := checkStoreID(id); err != nil {
		return Store{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(id)
	}
	if utf8.RuneCountInString(name) > maxStoreNameLen {
		return Store{}, invalid("name must be at most %d characters", maxStoreNameLen)
	}

	marker := s.layout.MarkerKey(id)
	_, err := s.objects.Head(ctx, marker)
	switch {
	case err == nil:
		return Store{}, fmt.Errorf("%w: store %q already exists", ErrConflict, id)
	case !errors.Is(err, objectstore.ErrNotFound):
		return Store{}, upstream("head store marker", err)
	}

	st := Store{StoreID: id, Name: name, CreatedAt: epochMillis(s.now())}
	body, err := json.Marshal(st)
	if err != nil {
		return Store{}, err
	}
	if err := s.objects.Put(ctx, marker, body, jsonContentType); err != nil {
		return Store{}, upstream("put store marker", err)
	}

	if err := s.regenerateAll(ctx, id); err != nil {
		return st, err
	}
	return st, nil
}

// GetStore returns the store recorded under id.
func (s *Service) GetStore(ctx context.Context, id StoreID) (Store, error) {
	if err := checkStoreID(id); err != nil {
		return Store{}, err
	}
	obj, err := s.objects.Get(ctx, s.layout.MarkerKey(id))
	if errors.Is(err, objectstore.ErrNotFound) {
		return Store{}, notFound("store %q", id)
	}
	if err != nil {
		return Store{}, upstream("get store marker", err)
	}
	return decodeStore(id, obj), nil
}

// ListStores returns every registered store ordered by id.
func (s *Service) ListStores(ctx context.Context) ([]Store, error) {
	infos, err := s.objects.List(ctx, s.layout.Root+"/")
	if err != nil {
		return nil, upstream("list stores", err)
	}
	stores := make([]Store, 0)
	for _, info := range infos {
		id := s.layout.markerStoreID(info.Key)
		if id == "" {
			continue
		}
		obj, err := s.objects.Get(ctx, info.Key)
		if errors.Is(err, objectstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, upstream("get store marker", err)
		}
		stores = append(stores, decodeStore(id, obj))
	}
	return stores, nil
}

// decodeStore reads a marker body. Empty or foreign markers still name a
// store; the id doubles as its name.
func decodeStore(id StoreID, obj *objectstore.Object) Store {
	var st Store
	if err := json.Unmarshal(obj.Data, &st); err != nil || st.StoreID != id {
		st = Store{StoreID: id, Name: string(id), CreatedAt: epochMillis(obj.LastModified)}
	}
	if st.Name == "" {
		st.Name = string(id)
	}
	return st
}

// UploadMedia stores up in the next free slot of a collection and
// regenerates that side's playlist. storeID is ignored for the right side.
func (s *Service) UploadMedia(ctx context.Context, side Side, storeID StoreID, up Upload) (MediaItem, error) {
	storeID, err := s.collectionOwner(ctx, side, storeID)
	if err != nil {
		return MediaItem{}, err
	}
	if len(up.Data) == 0 {
		return MediaItem{}, invalid("file is required")
	}

	infos, err := s.objects.List(ctx, s.layout.Prefix(storeID, side))
	if err != nil {
		return MediaItem{}, upstream("list collection", err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}

	slot := NextSlot(keys, side)
	key := s.layout.MediaKey(storeID, side, slot, extFromUpload(up.ContentType, up.FileName))
	contentType := up.ContentType
	if contentType == "" {
		contentType = binaryContentType
	}
	if err := s.objects.Put(ctx, key, up.Data, contentType); err != nil {
		return MediaItem{}, upstream("put media", err)
	}

	item := MediaItem{
		Key:  key,
		File: baseName(key),
		URL:  s.builder.URL(key),
		Type: mediaTypeFromKey(key),
		Slot: slot,
	}
	var regenErr error
	if side == SideRight {
		regenErr = s.staleOnError(s.regenerateRight(ctx, item.File))
	} else {
		regenErr = s.regenerate(ctx, side, storeID)
	}
	if regenErr != nil {
		return item, regenErr
	}
	return item, nil
}

// DeleteMedia removes one file from a collection and regenerates that side's
// playlist. storeID is ignored for the right side.
func (s *Service) DeleteMedia(ctx context.Context, side Side, storeID StoreID, file string) error {
	storeID, err := s.collectionOwner(ctx, side, storeID)
	if err != nil {
		return err
	}
	if !validFileName(file, side) {
		return invalid("file %q is not a %s media file", file, side)
	}

	key := s.layout.FileKey(storeID, side, file)
	if side == SideRight {
		// The record goes first so a later upload reusing this name starts
		// from defaults even if the regeneration below fails.
		if _, err := s.objects.Head(ctx, key); errors.Is(err, objectstore.ErrNotFound) {
			return notFound("file %q", file)
		} else if err != nil {
			return upstream("head media", err)
		}
		if err := s.dropRightRecord(ctx, file); err != nil {
			return err
		}
	}

	err = s.objects.Delete(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return notFound("file %q", file)
	}
	if err != nil {
		return upstream("delete media", err)
	}
	return s.regenerate(ctx, side, storeID)
}

// ListMedia returns the playable media of a collection in slot order. Right
// items carry their targeting as it would be after reconciliation; listing
// never writes.
func (s *Service) ListMedia(ctx context.Context, side Side, storeID StoreID) ([]MediaItem, error) {
	storeID, err := s.collectionOwner(ctx, side, storeID)
	if err != nil {
		return nil, err
	}
	keys, err := s.listMediaKeys(ctx, storeID, side)
	if err != nil {
		return nil, err
	}

	var meta RightMeta
	if side == SideRight {
		stored, err := s.loadRightMeta(ctx)
		if err != nil {
			return nil, err
		}
		meta = ReconcileRightMeta(stored, keys)
	}

	items := make([]MediaItem, 0, len(keys))
	for _, k := range keys {
		file := baseName(k)
		it := MediaItem{Key: k, File: file, URL: s.builder.URL(k), Type: mediaTypeFromKey(k)}
		if n, ok := parseSlot(file, side); ok {
			it.Slot = n
		}
		if side == SideRight {
			m, _ := meta.Lookup(file)
			it.Targeting = &Targeting{Targets: NormalizeTargets(m.Targets), FullPanel: m.FullPanel}
		}
		items = append(items, it)
	}
	return items, nil
}

// UpdateRightMeta replaces the targeting of one right file and regenerates
// the right playlist.
func (s *Service) UpdateRightMeta(ctx context.Context, upd RightMetaUpdate) (RightMetaItem, error) {
	upd.File = strings.TrimSpace(upd.File)
	upd.Targets = NormalizeTargets(upd.Targets)
	if err := validation.Struct(&upd); err != nil {
		return RightMetaItem{}, invalid("%s", err.Error())
	}

	keys, err := s.listMediaKeys(ctx, CommonStore, SideRight)
	if err != nil {
		return RightMetaItem{}, err
	}
	stored, err := s.loadRightMeta(ctx)
	if err != nil {
		return RightMetaItem{}, err
	}
	meta := ReconcileRightMeta(stored, keys)

	idx := -1
	for i := range meta.Items {
		if meta.Items[i].File == upd.File {
			idx = i
			break
		}
	}
	if idx < 0 {
		return RightMetaItem{}, notFound("file %q", upd.File)
	}
	meta.Items[idx].Targets = upd.Targets
	meta.Items[idx].FullPanel = upd.FullPanel
	meta.Items[idx].DurationSeconds = upd.DurationSeconds

	if err := s.writeRight(ctx, keys, meta); err != nil {
		return RightMetaItem{}, err
	}
	return meta.Items[idx], nil
}

// RecordHeartbeat upserts now as the store's last-seen time and returns it
// in epoch ms. deviceID is optional.
func (s *Service) RecordHeartbeat(ctx context.Context, storeID StoreID, deviceID string) (int64, error) {
	if err := checkStoreID(storeID); err != nil {
		return 0, err
	}
	now := s.now()
	hb := statusstore.Heartbeat{
		StoreID:  string(storeID),
		DeviceID: strings.TrimSpace(deviceID),
		LastSeen: now,
	}
	if err := s.status.Upsert(ctx, hb); err != nil {
		return 0, upstream("upsert heartbeat", err)
	}
	if s.metrics != nil {
		s.metrics.IncHeartbeats()
	}
	return epochMillis(now), nil
}

// GetStatus derives the store's status from its last heartbeat at read time.
func (s *Service) GetStatus(ctx context.Context, storeID StoreID) (StatusReport, error) {
	if err := checkStoreID(storeID); err != nil {
		return StatusReport{}, err
	}
	hb, ok, err := s.status.Get(ctx, string(storeID))
	if err != nil {
		return StatusReport{}, upstream("get heartbeat", err)
	}
	return statusReport(hb.LastSeen, ok, s.now(), s.ttl), nil
}

// GetPlaylist returns the last generated playlist for a collection. It never
// regenerates; a collection that was never generated yields an empty
// playlist. storeID is ignored for the right side.
func (s *Service) GetPlaylist(ctx context.Context, side Side, storeID StoreID) (Playlist, error) {
	storeID, err := s.collectionOwner(ctx, side, storeID)
	if err != nil {
		return Playlist{}, err
	}
	obj, err := s.objects.Get(ctx, s.layout.PlaylistKey(storeID, side))
	if errors.Is(err, objectstore.ErrNotFound) {
		return Playlist{Items: []PlaylistItem{}}, nil
	}
	if err != nil {
		return Playlist{}, upstream("get playlist", err)
	}
	p, err := decodePlaylist(obj.Data)
	if err != nil {
		return Playlist{}, upstream("decode playlist", err)
	}
	return p, nil
}

// RefreshPlaylists regenerates the store's left playlist and the shared
// right playlist from scratch.
func (s *Service) RefreshPlaylists(ctx context.Context, storeID StoreID) error {
	if err := checkStoreID(storeID); err != nil {
		return err
	}
	if err := s.requireStore(ctx, storeID); err != nil {
		return err
	}
	return s.regenerateAll(ctx, storeID)
}

// OpenMedia returns a stored object by key for direct serving.
func (s *Service) OpenMedia(ctx context.Context, key string) (*objectstore.Object, error) {
	if !strings.HasPrefix(key, s.layout.Root+"/") || strings.Contains(key, "..") {
		return nil, notFound("object %q", key)
	}
	obj, err := s.objects.Get(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, notFound("object %q", key)
	}
	if err != nil {
		return nil, upstream("get object", err)
	}
	return obj, nil
}

// collectionOwner validates the addressed collection and returns the store
// that owns it: the given store for left, the common store for right.
func (s *Service) collectionOwner(ctx context.Context, side Side, storeID StoreID) (StoreID, error) {
	switch side {
	case SideRight:
		return CommonStore, nil
	case SideLeft:
		if err := checkStoreID(storeID); err != nil {
			return "", err
		}
		if err := s.requireStore(ctx, storeID); err != nil {
			return "", err
		}
		return storeID, nil
	default:
		return "", invalid("side %q", side)
	}
}

func (s *Service) requireStore(ctx context.Context, id StoreID) error {
	_, err := s.objects.Head(ctx, s.layout.MarkerKey(id))
	if errors.Is(err, objectstore.ErrNotFound) {
		return notFound("store %q", id)
	}
	if err != nil {
		return upstream("head store marker", err)
	}
	return nil
}

func checkStoreID(id StoreID) error {
	if !validation.IsStoreID(string(id)) {
		return invalid("store id %q must be 2-32 lowercase letters or digits", id)
	}
	return nil
}

// listMediaKeys returns the playable keys of a collection in slot order.
func (s *Service) listMediaKeys(ctx context.Context, storeID StoreID, side Side) ([]string, error) {
	infos, err := s.objects.List(ctx, s.layout.Prefix(storeID, side))
	if err != nil {
		return nil, upstream("list collection", err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return sortMediaKeys(keys, side), nil
}

// loadRightMeta reads the stored metadata document. A missing or corrupt
// document reads as empty; a failing store call is returned.
func (s *Service) loadRightMeta(ctx context.Context) (RightMeta, error) {
	obj, err := s.objects.Get(ctx, s.layout.MetaKey())
	if errors.Is(err, objectstore.ErrNotFound) {
		return RightMeta{}, nil
	}
	if err != nil {
		return RightMeta{}, upstream("get right meta", err)
	}
	return decodeRightMeta(obj.Data), nil
}

func (s *Service) regenerate(ctx context.Context, side Side, storeID StoreID) error {
	if side == SideRight {
		return s.staleOnError(s.regenerateRight(ctx))
	}
	return s.staleOnError(s.regenerateLeft(ctx, storeID))
}

func (s *Service) staleOnError(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStalePlaylist, err)
	}
	return nil
}

func (s *Service) regenerateAll(ctx context.Context, storeID StoreID) error {
	if err := s.regenerate(ctx, SideLeft, storeID); err != nil {
		return err
	}
	return s.regenerate(ctx, SideRight, CommonStore)
}

func (s *Service) regenerateLeft(ctx context.Context, storeID StoreID) error {
	keys, err := s.listMediaKeys(ctx, storeID, SideLeft)
	if err != nil {
		s.observeRegeneration(SideLeft, err)
		return err
	}
	err = s.putPlaylist(ctx, s.layout.PlaylistKey(storeID, SideLeft), s.builder.Left(keys, s.now()))
	s.observeRegeneration(SideLeft, err)
	return err
}

// regenerateRight reconciles meta and rebuilds the right playlist. Records
// for the files in reset are dropped first so those files get defaults.
func (s *Service) regenerateRight(ctx context.Context, reset ...string) error {
	keys, err := s.listMediaKeys(ctx, CommonStore, SideRight)
	if err != nil {
		s.observeRegeneration(SideRight, err)
		return err
	}
	stored, err := s.loadRightMeta(ctx)
	if err != nil {
		s.observeRegeneration(SideRight, err)
		return err
	}
	return s.writeRight(ctx, keys, ReconcileRightMeta(withoutRecords(stored, reset...), keys))
}

// dropRightRecord removes file's record from the stored meta document.
func (s *Service) dropRightRecord(ctx context.Context, file string) error {
	stored, err := s.loadRightMeta(ctx)
	if err != nil {
		return err
	}
	if _, ok := stored.Lookup(file); !ok {
		return nil
	}
	body, err := encodeRightMeta(withoutRecords(stored, file))
	if err != nil {
		return err
	}
	if err := s.objects.Put(ctx, s.layout.MetaKey(), body, jsonContentType); err != nil {
		return upstream("put right meta", err)
	}
	return nil
}

// writeRight persists reconciled meta and the right playlist built from it.
func (s *Service) writeRight(ctx context.Context, keys []string, meta RightMeta) error {
	body, err := encodeRightMeta(meta)
	if err == nil {
		if perr := s.objects.Put(ctx, s.layout.MetaKey(), body, jsonContentType); perr != nil {
			err = upstream("put right meta", perr)
		}
	}
	if err == nil {
		err = s.putPlaylist(ctx, s.layout.PlaylistKey(CommonStore, SideRight), s.builder.Right(keys, meta, s.now()))
	}
	s.observeRegeneration(SideRight, err)
	return err
}

func (s *Service) putPlaylist(ctx context.Context, key string, p Playlist) error {
	body, err := encodePlaylist(p)
	if err != nil {
		return err
	}
	if err := s.objects.Put(ctx, key, body, jsonContentType); err != nil {
		return upstream("put playlist", err)
	}
	return nil
}

func (s *Service) observeRegeneration(side Side, err error) {
	if s.metrics == nil {
		return
	}
	if err != nil {
		s.metrics.IncPlaylistFailures(string(side))
		return
	}
	s.metrics.IncPlaylistRegenerations(string(side))
}
