package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bluff-master/internal/config"
	"bluff-master/internal/game"
	"bluff-master/internal/images"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testFakeImage = "https://fake.example/lie.jpg"

var testPNG = "data:image/png;base64," + base64.StdEncoding.EncodeToString(
	[]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"),
)

type fixedImage string

func (f fixedImage) PickFabricatedImage(context.Context) (string, error) {
	return string(f), nil
}

type testApp struct {
	server *Server
	engine *game.Engine
	hub    *Hub
	blobs  *images.MemoryBlobs
	ts     *httptest.Server
}

func newTestApp(t *testing.T, configure ...func(*config.Config)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.PublicURL = "http://bluff.test"
	cfg.RateLimitPerSecond = 1000
	cfg.RateLimitBurst = 1000
	for _, fn := range configure {
		fn(&cfg)
	}
	hub := NewHub(zerolog.Nop())
	engine := game.New(game.Options{
		Store:        game.NewMemoryStore(),
		Images:       fixedImage(testFakeImage),
		Broadcaster:  hub,
		Logger:       zerolog.Nop(),
		StoreTimeout: 2 * time.Second,
		ImageTimeout: time.Second,
	})
	t.Cleanup(engine.Close)
	blobs := images.NewMemoryBlobs()
	srv := New(engine, hub, blobs, cfg, zerolog.Nop())
	app := &testApp{server: srv, engine: engine, hub: hub, blobs: blobs}
	app.ts = newTestServer(t, srv.Handler())
	t.Cleanup(app.ts.Close)
	return app
}

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

func (a *testApp) do(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()
	body := bytes.NewReader(nil)
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.ts.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// call performs a request, asserts the status and decodes the JSON body into out.
func (a *testApp) call(t *testing.T, method, path, token string, payload any, status int, out any) {
	t.Helper()
	resp := a.do(t, method, path, token, payload)
	if resp.StatusCode != status {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("%s %s: expected status %d, got %d (%v)", method, path, status, resp.StatusCode, body)
	}
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

type session struct {
	Room   game.RoomView   `json:"room"`
	Player game.PlayerView `json:"player"`
	Token  string          `json:"token"`
}

func (a *testApp) createRoom(t *testing.T, nickname string, maxPlayers int) session {
	t.Helper()
	var out session
	a.call(t, http.MethodPost, "/api/rooms", "", map[string]any{
		"nickname":    nickname,
		"mode":        "NORMAL",
		"max_players": maxPlayers,
	}, http.StatusCreated, &out)
	return out
}

func (a *testApp) joinRoom(t *testing.T, code, nickname string) session {
	t.Helper()
	var out session
	a.call(t, http.MethodPost, "/api/rooms/join", "", map[string]any{
		"code":     code,
		"nickname": nickname,
	}, http.StatusOK, &out)
	return out
}

func (a *testApp) uploadImages(t *testing.T, token string, count int) game.PlayerView {
	t.Helper()
	payload := make([]string, count)
	for i := range payload {
		payload[i] = testPNG
	}
	var out game.PlayerView
	a.call(t, http.MethodPost, "/api/players/images", token, map[string]any{"images": payload}, http.StatusCreated, &out)
	return out
}

// lobby opens a NORMAL room for len(nicknames) players, joins everyone and
// uploads the required images.
func (a *testApp) lobby(t *testing.T, nicknames ...string) []session {
	t.Helper()
	host := a.createRoom(t, nicknames[0], len(nicknames))
	sessions := []session{host}
	for _, nickname := range nicknames[1:] {
		sessions = append(sessions, a.joinRoom(t, host.Room.Code, nickname))
	}
	for _, s := range sessions {
		a.uploadImages(t, s.Token, host.Room.RequiredImages)
	}
	return sessions
}

func (a *testApp) playing(t *testing.T, nicknames ...string) []session {
	t.Helper()
	sessions := a.lobby(t, nicknames...)
	roomID := sessions[0].Room.ID
	for _, s := range sessions {
		a.call(t, http.MethodPost, "/api/rooms/"+roomID+"/ready", s.Token, map[string]any{"ready": true}, http.StatusOK, nil)
	}
	a.call(t, http.MethodPost, "/api/rooms/"+roomID+"/start", sessions[0].Token, nil, http.StatusOK, nil)
	return sessions
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["error"])
	return body["code"]
}
