package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manpreetbhatti/inkroom/internal/canvas"
	"github.com/manpreetbhatti/inkroom/internal/db"
	"github.com/manpreetbhatti/inkroom/internal/export"
	"github.com/manpreetbhatti/inkroom/internal/logging"
	"github.com/manpreetbhatti/inkroom/internal/storage"
	"github.com/manpreetbhatti/inkroom/internal/ws"
)

// How long a presigned artifact URL stays valid
const urlExpiry = time.Hour

type API struct {
	hub      *ws.Hub
	database *db.Database
	store    storage.Storage
}

func New(hub *ws.Hub, database *db.Database, store storage.Storage) *API {
	return &API{
		hub:      hub,
		database: database,
		store:    store,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger := logging.L()
		logger.Error().Err(err).Msg("Error encoding JSON response")
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func pagination(r *http.Request, defaultLimit int) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_exports"] = dbStats["export_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
	UpdateCount int       `json:"update_count,omitempty"`
}

type CreateRoomRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatorID string `json:"creator_id"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, offset := pagination(r, 20)

	rooms, err := a.database.ListRooms(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{
			ID:          room.ID,
			Name:        room.Name,
			CreatorID:   room.CreatorID,
			CreatedAt:   room.CreatedAt,
			UpdatedAt:   room.UpdatedAt,
			ActiveUsers: activeRooms[room.ID],
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.CreatorID == "" {
		errorResponse(w, http.StatusBadRequest, "creator_id is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if strings.ContainsAny(req.ID, "/?#") {
		errorResponse(w, http.StatusBadRequest, "Invalid room ID")
		return
	}

	if err := a.database.CreateRoom(req.ID, req.Name, req.CreatorID); err != nil {
		if errors.Is(err, db.ErrRoomExists) {
			errorResponse(w, http.StatusConflict, "Room already exists")
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	room, err := a.database.GetRoom(req.ID)
	if err != nil || room == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	logger := logging.Ctx(r.Context())
	logger.Info().
		Str(logging.FieldRoomID, room.ID).
		Str(logging.FieldParticipantID, room.CreatorID).
		Msg("Room registered")

	jsonResponse(w, http.StatusCreated, RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		CreatorID: room.CreatorID,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	room, err := a.database.GetRoom(roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	resp := RoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		CreatorID:   room.CreatorID,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
		ActiveUsers: a.hub.RoomMembers(roomID),
	}
	if live := a.hub.GetRoom(roomID); live != nil {
		resp.UpdateCount = live.UpdateCount()
	}

	jsonResponse(w, http.StatusOK, resp)
}

func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodDelete {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := a.database.DeleteRoom(roomID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}

// Export handlers

type ExportResponse struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Format    string    `json:"format"`
	Key       string    `json:"key"`
	URL       string    `json:"url,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// render replays the room's op log and encodes the result. It writes the
// error response itself and returns ok=false on failure.
func (a *API) render(w http.ResponseWriter, r *http.Request, roomID string) (*bytes.Buffer, export.Format, bool) {
	format := export.FormatPNG
	if f := r.URL.Query().Get("format"); f != "" {
		var err error
		if format, err = export.ParseFormat(f); err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return nil, "", false
		}
	}

	layout, err := export.ParsePageLayout(r.URL.Query().Get("page"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}

	live := a.hub.GetRoom(roomID)
	if live == nil {
		errorResponse(w, http.StatusNotFound, "Room has no live drawing")
		return nil, "", false
	}

	img := live.Render(canvas.DefaultWidth, canvas.DefaultHeight)

	var buf bytes.Buffer
	if err := export.Encode(&buf, img, format, layout); err != nil {
		logger := logging.Ctx(r.Context())
		logger.Error().Err(err).Str(logging.FieldRoomID, roomID).Msg("Failed to encode export")
		errorResponse(w, http.StatusInternalServerError, "Failed to encode export")
		return nil, "", false
	}
	return &buf, format, true
}

// RenderRoomHandler streams the room's current drawing.
func (a *API) RenderRoomHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	buf, format, ok := a.render(w, r, roomID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", roomID+format.Ext()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// StoreExportHandler renders the room's drawing into storage and records it.
func (a *API) StoreExportHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	buf, format, ok := a.render(w, r, roomID)
	if !ok {
		return
	}

	logger := logging.Ctx(r.Context())
	id := uuid.NewString()
	record := db.Export{
		ID:         id,
		RoomID:     roomID,
		Format:     string(format),
		StorageKey: storage.ExportKey(roomID, id, format.Ext()),
		Size:       int64(buf.Len()),
	}

	ctx := r.Context()
	if err := a.store.Write(ctx, record.StorageKey, buf, record.Size, format.ContentType()); err != nil {
		logger.Error().Err(err).Str(logging.FieldRoomID, roomID).Msg("Failed to store export")
		errorResponse(w, http.StatusInternalServerError, "Failed to store export")
		return
	}

	if err := a.database.CreateExport(record); err != nil {
		logger.Error().Err(err).Str(logging.FieldRoomID, roomID).Msg("Failed to record export")
		if derr := a.store.Delete(ctx, record.StorageKey); derr != nil {
			logger.Warn().Err(derr).Str("key", record.StorageKey).Msg("Failed to remove orphaned export")
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to record export")
		return
	}

	url, err := a.store.GetURL(ctx, record.StorageKey, urlExpiry)
	if err != nil {
		logger.Warn().Err(err).Str("key", record.StorageKey).Msg("Failed to get export URL")
	}

	logger.Info().
		Str(logging.FieldRoomID, roomID).
		Str("key", record.StorageKey).
		Int64("size", record.Size).
		Msg("Export stored")

	jsonResponse(w, http.StatusCreated, ExportResponse{
		ID:     record.ID,
		RoomID: record.RoomID,
		Format: record.Format,
		Key:    record.StorageKey,
		URL:    url,
		Size:   record.Size,
	})
}

func (a *API) exportResponse(r *http.Request, e db.Export) ExportResponse {
	url, _ := a.store.GetURL(r.Context(), e.StorageKey, urlExpiry)
	return ExportResponse{
		ID:        e.ID,
		RoomID:    e.RoomID,
		Format:    e.Format,
		Key:       e.StorageKey,
		URL:       url,
		Size:      e.Size,
		CreatedAt: e.CreatedAt,
	}
}

// ListExportsHandler lists stored exports, optionally for one room.
func (a *API) ListExportsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	a.listExports(w, r, r.URL.Query().Get("room_id"))
}

func (a *API) listExports(w http.ResponseWriter, r *http.Request, roomID string) {
	limit, offset := pagination(r, 50)

	exports, err := a.database.ListExports(roomID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list exports")
		return
	}

	response := make([]ExportResponse, len(exports))
	for i, e := range exports {
		response[i] = a.exportResponse(r, e)
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"exports": response,
		"limit":   limit,
		"offset":  offset,
	})
}

func (a *API) GetExportHandler(w http.ResponseWriter, r *http.Request, exportID string) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	e, err := a.database.GetExport(exportID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get export")
		return
	}
	if e == nil {
		errorResponse(w, http.StatusNotFound, "Export not found")
		return
	}

	jsonResponse(w, http.StatusOK, a.exportResponse(r, *e))
}

func (a *API) DeleteExportHandler(w http.ResponseWriter, r *http.Request, exportID string) {
	if r.Method != http.MethodDelete {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	e, err := a.database.GetExport(exportID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get export")
		return
	}
	if e == nil {
		errorResponse(w, http.StatusNotFound, "Export not found")
		return
	}

	if err := a.store.Delete(r.Context(), e.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete export")
		return
	}
	if err := a.database.DeleteExport(exportID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete export")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Export deleted"})
}

// Routers

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")

	// /api/rooms or /api/rooms/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListRoomsHandler(w, r)
		case http.MethodPost:
			a.CreateRoomHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	roomID := parts[0]
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	switch {
	// /api/rooms/{id}
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.GetRoomHandler(w, r, roomID)
		case http.MethodDelete:
			a.DeleteRoomHandler(w, r, roomID)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}

	// /api/rooms/{id}/export
	case len(parts) == 2 && parts[1] == "export":
		a.RenderRoomHandler(w, r, roomID)

	// /api/rooms/{id}/exports
	case len(parts) == 2 && parts[1] == "exports":
		switch r.Method {
		case http.MethodGet:
			a.listExports(w, r, roomID)
		case http.MethodPost:
			a.StoreExportHandler(w, r, roomID)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}

	default:
		errorResponse(w, http.StatusNotFound, "Not found")
	}
}

func (a *API) ExportsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/exports"), "/")

	// /api/exports
	if path == "" {
		a.ListExportsHandler(w, r)
		return
	}

	if strings.Contains(path, "/") {
		errorResponse(w, http.StatusNotFound, "Not found")
		return
	}

	// /api/exports/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetExportHandler(w, r, path)
	case http.MethodDelete:
		a.DeleteExportHandler(w, r, path)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
