package signage

import "time"

// StoreID identifies a physical store. Well-formed ids are 2 to 32 lowercase
// letters or digits.
type StoreID string

// Side selects store-specific (left) or shared (right) content.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// ParseSide returns the Side named by s.
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideLeft, SideRight:
		return Side(s), true
	}
	return "", false
}

// MediaType is the player-facing kind of a media object.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Store is a physical location with its own left content.
type Store struct {
	StoreID   StoreID `json:"storeId"`
	Name      string  `json:"name"`
	CreatedAt int64   `json:"createdAt"` // epoch ms
}

// Targeting is the display targeting of a shared right item. A nil
// *Targeting embedded in an item leaves both fields out of its JSON.
type Targeting struct {
	Targets   []string `json:"targets"`
	FullPanel bool     `json:"fullPanel"`
}

// MediaItem is one stored media object as shown to the admin UI. Right
// items carry their targeting.
type MediaItem struct {
	Key  string    `json:"key"`
	File string    `json:"file"`
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
	Slot int       `json:"slot,omitempty"`
	*Targeting
}

// Upload is the body of a media upload.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// RightMetaItem is the per-file targeting record for shared right content.
// An empty Targets list means the item shows on every store.
type RightMetaItem struct {
	File            string   `json:"file"`
	Targets         []string `json:"targets"`
	FullPanel       bool     `json:"fullPanel"`
	DurationSeconds *int     `json:"durationSeconds,omitempty"`
}

// RightMeta is the document stored at <root>/_common/right/meta.json.
type RightMeta struct {
	Items []RightMetaItem `json:"items"`
}

// RightMetaUpdate is an admin edit of one right metadata record.
type RightMetaUpdate struct {
	File            string   `json:"file" validate:"required"`
	Targets         []string `json:"targets" validate:"dive,storeid"`
	FullPanel       bool     `json:"fullPanel"`
	DurationSeconds *int     `json:"durationSeconds,omitempty" validate:"omitempty,min=1,max=86400"`
}

// PlaylistItem is one entry of a generated playlist. Left items never carry
// File or Targeting. DurationSeconds is absent for videos without an
// override: they advance when playback ends.
type PlaylistItem struct {
	URL             string    `json:"url"`
	Key             string    `json:"key"`
	Type            MediaType `json:"type"`
	DurationSeconds *int      `json:"durationSeconds,omitempty"`
	File            string    `json:"file,omitempty"`
	*Targeting
}

// Playlist is the generated JSON document a player fetches.
type Playlist struct {
	UpdatedAt int64          `json:"updatedAt"` // epoch ms
	Items     []PlaylistItem `json:"items"`
}

// Status is the derived liveness of a store's player.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
	StatusUnknown Status = "UNKNOWN"
)

// StatusReport is the result of a status query. LastSeen is nil when no
// heartbeat was ever recorded.
type StatusReport struct {
	Status   Status `json:"status"`
	LastSeen *int64 `json:"lastSeen"`
}

// Online reports the legacy boolean form of the status.
func (r StatusReport) Online() bool {
	return r.Status == StatusOnline
}

func epochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
