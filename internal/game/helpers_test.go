package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testFakeImage = "https://fake.example/lie.jpg"

type published struct {
	Topic   string
	Payload any
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Topic: topic, Payload: payload})
}

func (r *recorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Topic == topic {
			n++
		}
	}
	return n
}

func (r *recorder) last(topic string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Topic == topic {
			return r.events[i].Payload, true
		}
	}
	return nil, false
}

type stubImages struct {
	url   string
	err   error
	calls atomic.Int32
}

func (s *stubImages) PickFabricatedImage(ctx context.Context) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

// stepClock advances one second per reading so join times are strictly
// ordered.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// flakyStore fails the next n transactions.
type flakyStore struct {
	Store
	failures atomic.Int32
}

func (f *flakyStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return f.Store.WithinTx(ctx, fn)
}

type testEnv struct {
	engine *Engine
	store  *MemoryStore
	events *recorder
	images *stubImages
}

func newTestEnv(t *testing.T, configure ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  NewMemoryStore(),
		events: &recorder{},
		images: &stubImages{url: testFakeImage},
	}
	var ids atomic.Int64
	clock := newStepClock()
	opts := Options{
		Store:              env.store,
		Images:             env.images,
		Broadcaster:        env.events,
		Logger:             zerolog.Nop(),
		StoreTimeout:       2 * time.Second,
		ImageTimeout:       time.Second,
		ForceFinishBackoff: time.Millisecond,
		Clock:              clock.Now,
		Rand:               rand.New(rand.NewPCG(1, 2)),
		NewID: func() string {
			return fmt.Sprintf("id-%03d", ids.Add(1))
		},
	}
	for _, fn := range configure {
		fn(&opts)
	}
	env.engine = New(opts)
	t.Cleanup(env.engine.Close)
	return env
}

// lobby creates a NORMAL room for len(nicknames) players with the first
// nickname as host. Everyone uploads the required images.
func (env *testEnv) lobby(t *testing.T, nicknames ...string) (RoomView, []PlayerView) {
	t.Helper()
	ctx := context.Background()
	room, host, err := env.engine.CreateRoom(ctx, nicknames[0], ModeNormal, len(nicknames))
	require.NoError(t, err)
	players := []PlayerView{host}
	for _, nickname := range nicknames[1:] {
		_, player, err := env.engine.JoinRoom(ctx, room.Code, nickname)
		require.NoError(t, err)
		players = append(players, player)
	}
	for _, player := range players {
		_, err := env.engine.AddImages(ctx, player.ID, imagesFor(player.Nickname, room.RequiredImages))
		require.NoError(t, err)
	}
	room, err = env.engine.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	return room, players
}

// playing is lobby followed by readying everyone and starting the game.
func (env *testEnv) playing(t *testing.T, nicknames ...string) (RoomView, []PlayerView) {
	t.Helper()
	ctx := context.Background()
	room, players := env.lobby(t, nicknames...)
	for _, player := range players {
		_, err := env.engine.SetReady(ctx, player.ID, true)
		require.NoError(t, err)
	}
	room, err := env.engine.StartGame(ctx, players[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusPlaying, room.Status)
	return room, players
}

func imagesFor(nickname string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://img.example/%s/%d.jpg", nickname, i)
	}
	return out
}

// realCandidate returns a candidate that is not the fabricated image.
func realCandidate(round RoundView) string {
	for _, url := range round.ImageURLs {
		if url != testFakeImage {
			return url
		}
	}
	return ""
}

func byNickname(players []PlayerView, nickname string) PlayerView {
	for _, player := range players {
		if player.Nickname == nickname {
			return player
		}
	}
	return PlayerView{}
}

func resultFor(results []VoteResult, playerID string) (VoteResult, bool) {
	for _, result := range results {
		if result.PlayerID == playerID {
			return result, true
		}
	}
	return VoteResult{}, false
}
