package signage

import (
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DefaultImageDurationSec is how long an image stays on screen when neither
// configuration nor metadata says otherwise.
const DefaultImageDurationSec = 10

// PlaylistBuilder turns object keys (and right metadata) into playlists.
type PlaylistBuilder struct {
	PublicBase       string
	ImageDurationSec int
}

// URL returns the public URL of key.
func (b PlaylistBuilder) URL(key string) string {
	return strings.TrimRight(b.PublicBase, "/") + "/" + key
}

// defaultDuration returns the duration for key by media type: the image
// default for images, nil for videos.
func (b PlaylistBuilder) defaultDuration(key string) *int {
	if mediaTypeFromKey(key) == MediaVideo {
		return nil
	}
	d := b.ImageDurationSec
	if d <= 0 {
		d = DefaultImageDurationSec
	}
	return &d
}

// Left builds a store's left playlist from the listed keys of its left
// collection.
func (b PlaylistBuilder) Left(keys []string, now time.Time) Playlist {
	media := sortMediaKeys(keys, SideLeft)
	items := make([]PlaylistItem, 0, len(media))
	for _, k := range media {
		items = append(items, PlaylistItem{
			URL:             b.URL(k),
			Key:             k,
			Type:            mediaTypeFromKey(k),
			DurationSeconds: b.defaultDuration(k),
		})
	}
	return Playlist{UpdatedAt: epochMillis(now), Items: items}
}

// Right builds the shared right playlist. meta must already be reconciled
// with keys; a file without a record gets default targeting.
func (b PlaylistBuilder) Right(keys []string, meta RightMeta, now time.Time) Playlist {
	media := sortMediaKeys(keys, SideRight)
	items := make([]PlaylistItem, 0, len(media))
	for _, k := range media {
		file := baseName(k)
		m, ok := meta.Lookup(file)
		if !ok {
			m = RightMetaItem{File: file}
		}
		duration := b.defaultDuration(k)
		if m.DurationSeconds != nil {
			d := *m.DurationSeconds
			duration = &d
		}
		targets := make([]string, len(m.Targets))
		copy(targets, m.Targets)

		items = append(items, PlaylistItem{
			URL:             b.URL(k),
			Key:             k,
			Type:            mediaTypeFromKey(k),
			DurationSeconds: duration,
			File:            file,
			Targeting:       &Targeting{Targets: targets, FullPanel: m.FullPanel},
		})
	}
	return Playlist{UpdatedAt: epochMillis(now), Items: items}
}

// sortMediaKeys keeps only media keys and orders them by numeric slot, with
// slot-less names last in name order.
func sortMediaKeys(keys []string, side Side) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if isMediaKey(k) {
			out = append(out, k)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, iok := parseSlot(baseName(out[i]), side)
		sj, jok := parseSlot(baseName(out[j]), side)
		switch {
		case iok && jok:
			if si != sj {
				return si < sj
			}
			return out[i] < out[j]
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

func encodePlaylist(p Playlist) ([]byte, error) {
	if p.Items == nil {
		p.Items = []PlaylistItem{}
	}
	return json.MarshalIndent(p, "", "  ")
}

func decodePlaylist(data []byte) (Playlist, error) {
	var p Playlist
	if err := json.Unmarshal(data, &p); err != nil {
		return Playlist{}, err
	}
	if p.Items == nil {
		p.Items = []PlaylistItem{}
	}
	return p, nil
}
