package internal

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"tubechat/internal/logging"
	"tubechat/internal/protocol"
	"tubechat/internal/storage"
)

type createCommunityRequest struct {
	Name     string `json:"name" validate:"notblank,max=100"`
	OwnerID  string `json:"ownerId" validate:"notblank"`
	Username string `json:"username" validate:"notblank"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

type createCommunityResponse struct {
	Community protocol.Community `json:"community"`
	Channels  []protocol.Channel `json:"channels"`
}

type createVideoChannelRequest struct {
	VideoID     string `json:"videoId" validate:"notblank"`
	Name        string `json:"name" validate:"omitempty,max=100"`
	RequesterID string `json:"requesterId" validate:"notblank"`
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"active_communities": s.hub.Presence().ActiveCount(),
		"build":              CurrentBuild(),
	})
}

func (s *Server) HandleChannelMessages(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, limit = storage.NormalizePage(page, limit)

	messages, total, err := s.store.ListChannelMessages(r.Context(), channelID, page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if messages == nil {
		messages = []protocol.Message{}
	}
	writeJSON(w, http.StatusOK, protocol.HistoryPage{
		Messages: messages,
		Pagination: protocol.Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: (total + limit - 1) / limit,
		},
	})
}

func (s *Server) HandleCommunityChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListChannels(r.Context(), chi.URLParam(r, "communityID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if channels == nil {
		channels = []protocol.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) HandleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Presence().Snapshot(chi.URLParam(r, "communityID")))
}

func (s *Server) HandleCreateCommunity(w http.ResponseWriter, r *http.Request) {
	var req createCommunityRequest
	if !s.bind(w, r, &req) {
		return
	}
	owner := protocol.Identity{
		ID:       strings.TrimSpace(req.OwnerID),
		Username: strings.TrimSpace(req.Username),
		FullName: req.FullName,
		Avatar:   req.Avatar,
	}
	community, channels, err := s.store.CreateCommunity(r.Context(), req.Name, owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	logging.Info().Str("community", community.ID).Str("owner", owner.ID).Msg("community created")
	writeJSON(w, http.StatusCreated, createCommunityResponse{Community: *community, Channels: channels})
}

func (s *Server) HandleCreateVideoChannel(w http.ResponseWriter, r *http.Request) {
	var req createVideoChannelRequest
	if !s.bind(w, r, &req) {
		return
	}
	channel, err := s.store.CreateVideoChannel(r.Context(), chi.URLParam(r, "communityID"), req.VideoID, req.Name, strings.TrimSpace(req.RequesterID))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, channel)
}

// bind decodes and validates a JSON body, writing a 400 on failure.
func (s *Server) bind(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			writeError(w, http.StatusBadRequest, errors.New(strings.ToLower(invalid[0].Field())+" is invalid ("+invalid[0].Tag()+")"))
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrVoiceChannel), errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, storage.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, storage.ErrCommunityExists), errors.Is(err, storage.ErrChannelExists):
		writeError(w, http.StatusConflict, err)
	default:
		logging.Error().Err(err).Msg("store request failed")
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
