package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-client/irc"
	"twitch-chat-client/model"
	"twitch-chat-client/twitch"
)

type fakeClient struct {
	state  irc.State
	rooms  map[string]model.RoomState
	users  map[string][]model.ChatUser
	said   []string
	joined []string
	parted []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{state: irc.Connected, rooms: map[string]model.RoomState{}, users: map[string][]model.ChatUser{}}
}

func (f *fakeClient) State() irc.State { return f.state }
func (f *fakeClient) Channels() []string {
	var out []string
	for ch := range f.rooms {
		out = append(out, ch)
	}
	return out
}
func (f *fakeClient) RoomState(ch string) (model.RoomState, bool) {
	st, ok := f.rooms[ch]
	return st, ok
}
func (f *fakeClient) Users(ch string) []model.ChatUser { return f.users[ch] }
func (f *fakeClient) QueueLen() int                    { return 3 }
func (f *fakeClient) JoinRoom(ch string)               { f.joined = append(f.joined, ch) }
func (f *fakeClient) PartRoom(ch string)               { f.parted = append(f.parted, ch) }
func (f *fakeClient) Say(ch, text string) error {
	if strings.TrimSpace(text) == "" {
		return twitch.ErrEmptyMessage
	}
	f.said = append(f.said, ch+":"+text)
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	fc := newFakeClient()
	h := NewRouter(fc, zerolog.Nop())

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)

	fc.state = irc.Connecting
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connecting")
}

func TestStatus(t *testing.T) {
	fc := newFakeClient()
	fc.rooms["forsen"] = model.NewRoomState("forsen")
	h := NewRouter(fc, zerolog.Nop())

	rec := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "connected", resp.State)
	assert.Equal(t, 3, resp.Queue)
	require.Len(t, resp.Channels, 1)
	assert.Equal(t, "forsen", resp.Channels[0].Channel)
}

func TestRoomEndpoints(t *testing.T) {
	fc := newFakeClient()
	fc.rooms["forsen"] = model.NewRoomState("forsen")
	fc.users["forsen"] = []model.ChatUser{{DisplayName: "Someone"}}
	h := NewRouter(fc, zerolog.Nop())

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/channels/forsen/", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/channels/nobody/", "").Code)

	rec := do(t, h, http.MethodGet, "/channels/forsen/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Someone")
}

func TestJoinPartSay(t *testing.T) {
	fc := newFakeClient()
	fc.rooms["forsen"] = model.NewRoomState("forsen")
	h := NewRouter(fc, zerolog.Nop())

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPut, "/channels/xqc/", "").Code)
	assert.Equal(t, []string{"xqc"}, fc.joined)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/channels/forsen/", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/channels/nobody/", "").Code)
	assert.Equal(t, []string{"forsen"}, fc.parted)

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/channels/forsen/messages", `{"text":"hi"}`).Code)
	assert.Equal(t, []string{"forsen:hi"}, fc.said)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/channels/forsen/messages", `{"text":" "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/channels/forsen/messages", `nope`).Code)
}
