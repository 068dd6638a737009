package signage

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"signage-cms/internal/platform/metrics"
	"signage-cms/internal/platform/validation"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

const (
	jsonResponseType = "application/json; charset=utf-8"
	multipartMemory  = 32 << 20
)

// HandlerOptions configures the HTTP surface around a Service.
type HandlerOptions struct {
	PlayerBase     string
	MaxUploadBytes int64
	// HeartbeatLimiter, if set, wraps every heartbeat route.
	HeartbeatLimiter func(http.Handler) http.Handler
}

// Handler exposes the signage core over HTTP using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    HandlerOptions
}

// NewHandler returns a Handler for svc. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, opts HandlerOptions) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 200 << 20
	}
	return &Handler{svc: svc, log: log, metrics: m, opts: opts}
}

// normalizeStoreID trims and lowercases an id taken from a request.
func normalizeStoreID(s string) StoreID {
	return StoreID(strings.ToLower(strings.TrimSpace(s)))
}

// Health handles GET /.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// Meta handles GET /meta. Admin and player use it to discover base URLs.
func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"publicBase":       h.svc.builder.PublicBase,
		"playerBase":       h.opts.PlayerBase,
		"onlineTtlSec":     int(h.svc.OnlineTTL() / time.Second),
		"imageDurationSec": h.svc.ImageDurationSec(),
	})
}

type storeSummary struct {
	Store
	Status   Status `json:"status"`
	LastSeen *int64 `json:"lastSeen"`
}

// ListStores handles GET /stores.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.svc.ListStores(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]storeSummary, 0, len(stores))
	for _, st := range stores {
		rep, err := h.svc.GetStatus(r.Context(), st.StoreID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		items = append(items, storeSummary{Store: st, Status: rep.Status, LastSeen: rep.LastSeen})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

type createStoreRequest struct {
	StoreID string `json:"storeId" validate:"required,storeid"`
	Name    string `json:"name" validate:"max=128"`
}

// CreateStore handles POST /stores.
// Body: { "storeId": "acme", "name": "Acme Downtown" }.
func (h *Handler) CreateStore(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log.Debug("invalid store body", slog.String("error", err.Error()))
		h.writeError(w, r, invalid("malformed JSON body"))
		return
	}
	req.StoreID = string(normalizeStoreID(req.StoreID))
	if err := validation.Struct(&req); err != nil {
		h.writeError(w, r, invalid("%s", err.Error()))
		return
	}

	st, err := h.svc.CreateStore(r.Context(), StoreID(req.StoreID), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("store created", slog.String("store_id", string(st.StoreID)))
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "store": st})
}

// GetStore handles GET /stores/{store_id}.
func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStore(r.Context(), normalizeStoreID(chi.URLParam(r, "store_id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "store": st})
}

// ListLeft handles GET /stores/{store_id}/left.
func (h *Handler) ListLeft(w http.ResponseWriter, r *http.Request) {
	h.listMedia(w, r, SideLeft, normalizeStoreID(chi.URLParam(r, "store_id")))
}

// ListRight handles GET /common/right.
func (h *Handler) ListRight(w http.ResponseWriter, r *http.Request) {
	h.listMedia(w, r, SideRight, "")
}

func (h *Handler) listMedia(w http.ResponseWriter, r *http.Request, side Side, storeID StoreID) {
	items, err := h.svc.ListMedia(r.Context(), side, storeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

// UploadLeft handles POST /stores/{store_id}/left (multipart field "file").
func (h *Handler) UploadLeft(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, SideLeft, normalizeStoreID(chi.URLParam(r, "store_id")))
}

// UploadRight handles POST /common/right (multipart field "file").
func (h *Handler) UploadRight(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, SideRight, "")
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request, side Side, storeID StoreID) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.log.Debug("invalid upload body", slog.String("error", err.Error()))
		h.writeError(w, r, invalid("multipart body with a file field is required"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, invalid("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, invalid("read upload: %s", err.Error()))
		return
	}

	item, err := h.svc.UploadMedia(r.Context(), side, storeID, Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if errors.Is(err, ErrStalePlaylist) {
		// The object is stored; only the playlist lags behind.
		h.log.Error("media stored but playlist regeneration failed",
			slog.String("side", string(side)),
			slog.String("key", item.Key),
			slog.String("error", err.Error()))
		h.countUpload(side)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error(), "key": item.Key})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("media uploaded",
		slog.String("side", string(side)),
		slog.String("key", item.Key),
		slog.Int("slot", item.Slot),
		slog.Int("size", len(data)))
	h.countUpload(side)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "key": item.Key, "item": item})
}

func (h *Handler) countUpload(side Side) {
	if h.metrics != nil {
		h.metrics.IncUploads(string(side))
	}
}

// DeleteLeft handles DELETE /stores/{store_id}/left/{file}.
func (h *Handler) DeleteLeft(w http.ResponseWriter, r *http.Request) {
	h.deleteMedia(w, r, SideLeft, normalizeStoreID(chi.URLParam(r, "store_id")))
}

// DeleteRight handles DELETE /common/right/{file}.
func (h *Handler) DeleteRight(w http.ResponseWriter, r *http.Request) {
	h.deleteMedia(w, r, SideRight, "")
}

func (h *Handler) deleteMedia(w http.ResponseWriter, r *http.Request, side Side, storeID StoreID) {
	file, err := url.PathUnescape(chi.URLParam(r, "file"))
	if err != nil {
		h.writeError(w, r, invalid("file name"))
		return
	}
	if err := h.svc.DeleteMedia(r.Context(), side, storeID, file); err != nil {
		if errors.Is(err, ErrStalePlaylist) && h.metrics != nil {
			h.metrics.IncDeletes(string(side))
		}
		h.writeError(w, r, err)
		return
	}
	h.log.Info("media deleted",
		slog.String("side", string(side)),
		slog.String("store_id", string(storeID)),
		slog.String("file", file))
	if h.metrics != nil {
		h.metrics.IncDeletes(string(side))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// targetList accepts either a JSON array of ids or one comma-separated
// string, as older admin builds send.
type targetList []string

func (t *targetList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*t = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = strings.Split(s, ",")
	return nil
}

type rightMetaRequest struct {
	File            string     `json:"file"`
	Targets         targetList `json:"targets"`
	FullPanel       bool       `json:"fullPanel"`
	DurationSeconds *int       `json:"durationSeconds"`
}

// UpdateRightMeta handles PUT /common/right/meta.
// Body: { "file": "right_1.png", "targets": ["acme"], "fullPanel": false }.
func (h *Handler) UpdateRightMeta(w http.ResponseWriter, r *http.Request) {
	var req rightMetaRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log.Debug("invalid meta body", slog.String("error", err.Error()))
		h.writeError(w, r, invalid("malformed JSON body"))
		return
	}

	item, err := h.svc.UpdateRightMeta(r.Context(), RightMetaUpdate{
		File:            req.File,
		Targets:         req.Targets,
		FullPanel:       req.FullPanel,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("right meta updated",
		slog.String("file", item.File),
		slog.Int("targets", len(item.Targets)),
		slog.Bool("full_panel", item.FullPanel))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "item": item})
}

// StorePlaylist handles GET /stores/{store_id}/playlist/{side}.
func (h *Handler) StorePlaylist(w http.ResponseWriter, r *http.Request) {
	side, ok := ParseSide(chi.URLParam(r, "side"))
	if !ok {
		h.writeError(w, r, invalid("side must be left or right"))
		return
	}
	storeID := normalizeStoreID(chi.URLParam(r, "store_id"))
	if side == SideRight {
		// Right content is shared, but the store must still be valid.
		if err := checkStoreID(storeID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	h.playlist(w, r, side, storeID)
}

// RightPlaylist handles GET /common/right/playlist.
func (h *Handler) RightPlaylist(w http.ResponseWriter, r *http.Request) {
	h.playlist(w, r, SideRight, "")
}

func (h *Handler) playlist(w http.ResponseWriter, r *http.Request, side Side, storeID StoreID) {
	p, err := h.svc.GetPlaylist(r.Context(), side, storeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, p)
}

// RefreshPlaylists handles POST /stores/{store_id}/refresh.
func (h *Handler) RefreshPlaylists(w http.ResponseWriter, r *http.Request) {
	storeID := normalizeStoreID(chi.URLParam(r, "store_id"))
	if err := h.svc.RefreshPlaylists(r.Context(), storeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("playlists refreshed", slog.String("store_id", string(storeID)))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type heartbeatRequest struct {
	Store    string `json:"store"`
	StoreID  string `json:"storeId"`
	DeviceID string `json:"deviceId"`
}

func (req heartbeatRequest) storeID() StoreID {
	if req.Store != "" {
		return normalizeStoreID(req.Store)
	}
	return normalizeStoreID(req.StoreID)
}

// StoreHeartbeat handles POST /stores/{store_id}/heartbeat.
// Body (optional): { "deviceId": "..." }.
func (h *Handler) StoreHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, invalid("malformed JSON body"))
		return
	}
	h.heartbeat(w, r, normalizeStoreID(chi.URLParam(r, "store_id")), req.DeviceID, false)
}

// TVHeartbeat handles POST /tv/heartbeat.
// Body: { "store": "acme" } or { "storeId": "acme", "deviceId": "..." }.
func (h *Handler) TVHeartbeat(w http.ResponseWriter, r *http.Request) {
	h.bodyHeartbeat(w, r, false)
}

// LegacyHeartbeat handles POST /heartbeat. Older players read the id back
// from "store", so the response carries it under both keys.
func (h *Handler) LegacyHeartbeat(w http.ResponseWriter, r *http.Request) {
	h.bodyHeartbeat(w, r, true)
}

func (h *Handler) bodyHeartbeat(w http.ResponseWriter, r *http.Request, legacy bool) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, invalid("malformed JSON body"))
		return
	}
	storeID := req.storeID()
	if storeID == "" {
		h.writeError(w, r, invalid("store is required"))
		return
	}
	h.heartbeat(w, r, storeID, req.DeviceID, legacy)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request, storeID StoreID, deviceID string, legacy bool) {
	ts, err := h.svc.RecordHeartbeat(r.Context(), storeID, deviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Debug("heartbeat recorded",
		slog.String("store_id", string(storeID)),
		slog.String("device_id", deviceID))
	resp := map[string]any{"ok": true, "storeId": storeID, "lastSeen": ts}
	if legacy {
		resp["store"] = storeID
	}
	writeJSON(w, http.StatusOK, resp)
}

// StoreStatus handles GET /stores/{store_id}/status.
func (h *Handler) StoreStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.GetStatus(r.Context(), normalizeStoreID(chi.URLParam(r, "store_id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type legacyStatus struct {
	Online   bool   `json:"online"`
	LastSeen *int64 `json:"lastSeen"`
}

// LegacyStatus handles GET /tv/status?store= and GET /status?store=. Older
// players expect { online, lastSeen }; the admin app sends storeId instead
// of store.
func (h *Handler) LegacyStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	storeID := normalizeStoreID(q.Get("store"))
	if storeID == "" {
		storeID = normalizeStoreID(q.Get("storeId"))
	}
	if storeID == "" {
		h.writeError(w, r, invalid("store is required"))
		return
	}
	rep, err := h.svc.GetStatus(r.Context(), storeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, legacyStatus{Online: rep.Online(), LastSeen: rep.LastSeen})
}

// LegacyPlaylist handles GET /playlist.json?store=&side=. Older players
// expect the bare item array; side defaults to left.
func (h *Handler) LegacyPlaylist(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	storeID := normalizeStoreID(q.Get("store"))
	if storeID == "" {
		h.writeError(w, r, invalid("store is required"))
		return
	}
	side := SideLeft
	if strings.EqualFold(q.Get("side"), string(SideRight)) {
		side = SideRight
		if err := checkStoreID(storeID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	p, err := h.svc.GetPlaylist(r.Context(), side, storeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, p.Items)
}

// Media handles GET /media/*, serving raw objects with range support.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	obj, err := h.svc.OpenMedia(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	http.ServeContent(w, r, baseName(key), obj.LastModified, bytes.NewReader(obj.Data))
}

// statusFor maps a core error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	} else {
		h.log.Debug("request rejected",
			slog.String("path", r.URL.Path),
			slog.Int("status", code),
			slog.String("error", err.Error()))
	}
	writeJSON(w, code, map[string]any{"ok": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", jsonResponseType)
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
