package signage

import (
	"path"
	"strconv"
	"strings"
)

// CommonStore is the pseudo-store that owns the shared right collection.
const CommonStore StoreID = "_common"

const (
	playlistFile = "playlist.json"
	metaFile     = "meta.json"
	markerFile   = ".keep"
)

// mediaExtensions are the extensions that can appear in a playlist.
var mediaExtensions = map[string]bool{
	"mp4":  true,
	"png":  true,
	"webp": true,
	"jpg":  true,
	"jpeg": true,
}

// Layout maps stores and sides onto object keys:
//
//	<root>/<storeId>/left/left_<slot>.<ext>
//	<root>/_common/right/right_<slot>.<ext>
//	<root>/<storeId>/left/playlist.json
//	<root>/_common/right/playlist.json
//	<root>/_common/right/meta.json
type Layout struct {
	Root string
}

// owner returns the store that owns side's collection for storeID.
func owner(storeID StoreID, side Side) StoreID {
	if side == SideRight {
		return CommonStore
	}
	return storeID
}

// Prefix returns the listing prefix of a collection, with trailing slash.
func (l Layout) Prefix(storeID StoreID, side Side) string {
	return l.Root + "/" + string(owner(storeID, side)) + "/" + string(side) + "/"
}

// MediaKey returns the key of slot within a collection.
func (l Layout) MediaKey(storeID StoreID, side Side, slot int, ext string) string {
	return l.Prefix(storeID, side) + string(side) + "_" + strconv.Itoa(slot) + "." + ext
}

// FileKey returns the key of a base file name within a collection.
func (l Layout) FileKey(storeID StoreID, side Side, file string) string {
	return l.Prefix(storeID, side) + file
}

// PlaylistKey returns the key of a collection's generated playlist.
func (l Layout) PlaylistKey(storeID StoreID, side Side) string {
	return l.Prefix(storeID, side) + playlistFile
}

// MetaKey returns the key of the right metadata document.
func (l Layout) MetaKey() string {
	return l.Prefix(CommonStore, SideRight) + metaFile
}

// MarkerKey returns the key of the placeholder object that records a store.
func (l Layout) MarkerKey(storeID StoreID) string {
	return l.Prefix(storeID, SideLeft) + markerFile
}

// markerStoreID extracts the store id from a marker key, or "" if key is not
// a store marker.
func (l Layout) markerStoreID(key string) StoreID {
	rest, ok := strings.CutPrefix(key, l.Root+"/")
	if !ok {
		return ""
	}
	id, tail, ok := strings.Cut(rest, "/")
	if !ok || tail != string(SideLeft)+"/"+markerFile || StoreID(id) == CommonStore {
		return ""
	}
	return StoreID(id)
}

// baseName returns the last path element of key.
func baseName(key string) string {
	return path.Base(key)
}

// extOf returns the lowercased extension of name without the dot.
func extOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// isMediaKey reports whether key names a playable media object. The
// placeholder, playlist and meta documents never qualify.
func isMediaKey(key string) bool {
	switch baseName(key) {
	case markerFile, playlistFile, metaFile:
		return false
	}
	return mediaExtensions[extOf(key)]
}

// mediaTypeFromKey classifies key as video (.mp4) or image.
func mediaTypeFromKey(key string) MediaType {
	if extOf(key) == "mp4" {
		return MediaVideo
	}
	return MediaImage
}

// parseSlot extracts N from a base name of the form <side>_<N>.<ext>.
func parseSlot(name string, side Side) (int, bool) {
	rest, ok := strings.CutPrefix(name, string(side)+"_")
	if !ok {
		return 0, false
	}
	digits, ext, ok := strings.Cut(rest, ".")
	if !ok || digits == "" || ext == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// extFromUpload picks the stored extension for an upload: from the content
// type first, then from a recognized file name extension, else "bin".
func extFromUpload(contentType, fileName string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "mp4"):
		return "mp4"
	case strings.Contains(ct, "png"):
		return "png"
	case strings.Contains(ct, "webp"):
		return "webp"
	case strings.Contains(ct, "jpg"), strings.Contains(ct, "jpeg"):
		return "jpg"
	}
	if ext := extOf(fileName); mediaExtensions[ext] {
		return ext
	}
	return "bin"
}

// validFileName reports whether file is a plain base name belonging to side,
// so it can be joined onto a collection prefix without escaping it.
func validFileName(file string, side Side) bool {
	if file == "" || strings.ContainsAny(file, `/\`) || file == "." || file == ".." {
		return false
	}
	return strings.HasPrefix(file, string(side)+"_")
}
