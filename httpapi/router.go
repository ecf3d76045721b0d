// Package httpapi отдаёт метрики, проверки живости и управление каналами по HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"twitch-chat-client/irc"
	"twitch-chat-client/model"
	"twitch-chat-client/twitch"
)

// ChatClient описывает то, что нужно роутеру от twitch.Client.
type ChatClient interface {
	State() irc.State
	Channels() []string
	RoomState(channel string) (model.RoomState, bool)
	Users(channel string) []model.ChatUser
	QueueLen() int
	JoinRoom(channel string)
	PartRoom(channel string)
	Say(channel, text string) error
}

type api struct {
	client ChatClient
	log    zerolog.Logger
}

// NewRouter собирает chi-роутер.
func NewRouter(client ChatClient, logger zerolog.Logger) http.Handler {
	a := &api{client: client, log: logger.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", a.healthz)
	r.Get("/status", a.status)
	r.Route("/channels/{channel}", func(r chi.Router) {
		r.Get("/", a.room)
		r.Put("/", a.join)
		r.Delete("/", a.part)
		r.Get("/users", a.users)
		r.Post("/messages", a.say)
	})
	return r
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	state := a.client.State()
	code := http.StatusOK
	if state != irc.Connected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"state": state.String()})
}

type statusResponse struct {
	State    string            `json:"state"`
	Queue    int               `json:"queue"`
	Channels []model.RoomState `json:"channels"`
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		State:    a.client.State().String(),
		Queue:    a.client.QueueLen(),
		Channels: []model.RoomState{},
	}
	for _, ch := range a.client.Channels() {
		if st, ok := a.client.RoomState(ch); ok {
			resp.Channels = append(resp.Channels, st)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) room(w http.ResponseWriter, r *http.Request) {
	st, ok := a.client.RoomState(chi.URLParam(r, "channel"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not joined")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) users(w http.ResponseWriter, r *http.Request) {
	ch := chi.URLParam(r, "channel")
	if _, ok := a.client.RoomState(ch); !ok {
		writeError(w, http.StatusNotFound, "channel not joined")
		return
	}
	users := a.client.Users(ch)
	if users == nil {
		users = []model.ChatUser{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *api) join(w http.ResponseWriter, r *http.Request) {
	ch := chi.URLParam(r, "channel")
	a.client.JoinRoom(ch)
	a.log.Info().Str("channel", ch).Msg("httpapi: запрошен вход в канал")
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) part(w http.ResponseWriter, r *http.Request) {
	ch := chi.URLParam(r, "channel")
	if _, ok := a.client.RoomState(ch); !ok {
		writeError(w, http.StatusNotFound, "channel not joined")
		return
	}
	a.client.PartRoom(ch)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) say(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := a.client.Say(chi.URLParam(r, "channel"), strings.TrimRight(body.Text, "\r\n")); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, twitch.ErrNoChannel) || errors.Is(err, twitch.ErrEmptyMessage) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
