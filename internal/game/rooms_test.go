package game

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	room, host, err := env.engine.CreateRoom(ctx, "  Ann   Lee ", ModeQuick, 8)
	require.NoError(t, err)

	assert.Len(t, room.Code, RoomCodeLength)
	assert.Equal(t, StatusWaiting, room.Status)
	assert.Equal(t, host.ID, room.HostID)
	assert.Equal(t, 5, room.TotalRounds)
	assert.Equal(t, 5, room.RequiredImages)
	assert.Equal(t, "Ann Lee", host.Nickname)
	assert.True(t, host.IsHost)
	require.Len(t, room.Players, 1)
	assert.Equal(t, 1, env.events.count(RoomTopic(room.ID)))
}

func TestCreateRoomTotalRounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	normal, _, err := env.engine.CreateRoom(ctx, "Ann", ModeNormal, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, normal.TotalRounds)
	assert.Equal(t, 8, normal.RequiredImages)

	quick, _, err := env.engine.CreateRoom(ctx, "Ann", ModeQuick, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, quick.TotalRounds)
}

func TestCreateRoomValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		nickname   string
		mode       GameMode
		maxPlayers int
	}{
		{name: "empty nickname", nickname: "   ", mode: ModeNormal, maxPlayers: 4},
		{name: "long nickname", nickname: "abcdefghijklmnopqrstu", mode: ModeNormal, maxPlayers: 4},
		{name: "unknown mode", nickname: "Ann", mode: "TURBO", maxPlayers: 4},
		{name: "too small", nickname: "Ann", mode: ModeNormal, maxPlayers: 1},
		{name: "too large", nickname: "Ann", mode: ModeNormal, maxPlayers: 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := env.engine.CreateRoom(ctx, tc.nickname, tc.mode, tc.maxPlayers)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, KindValidationFailed, KindOf(err))
		})
	}
}

func TestCreateRoomRegeneratesCollidingCode(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	var next atomic.Int32
	env := newTestEnv(t, func(opts *Options) {
		opts.NewCode = func() (string, error) {
			return codes[int(next.Add(1)-1)%len(codes)], nil
		}
	})
	ctx := context.Background()

	first, _, err := env.engine.CreateRoom(ctx, "Ann", ModeNormal, 4)
	require.NoError(t, err)
	second, _, err := env.engine.CreateRoom(ctx, "Bob", ModeNormal, 4)
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", first.Code)
	assert.Equal(t, "BBBBBB", second.Code)
}

func TestCreateRoomGivesUpWhenCodesExhausted(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.NewCode = func() (string, error) { return "AAAAAA", nil }
	})
	ctx := context.Background()

	_, _, err := env.engine.CreateRoom(ctx, "Ann", ModeNormal, 4)
	require.NoError(t, err)
	_, _, err = env.engine.CreateRoom(ctx, "Bob", ModeNormal, 4)
	require.ErrorIs(t, err, ErrStoreFailure)
	assert.Equal(t, KindExternal, KindOf(err))
}

func TestCodesUniqueAmongActiveRooms(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		var n atomic.Int32
		opts.NewCode = func() (string, error) {
			return fmt.Sprintf("C%05d", n.Add(1)%3), nil
		}
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := env.engine.CreateRoom(ctx, fmt.Sprintf("host%d", i), ModeNormal, 4)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, room := range env.store.state.rooms {
		if room.Status != StatusFinished {
			seen[room.Code]++
		}
	}
	assert.Len(t, seen, 3)
	for code, n := range seen {
		assert.Equal(t, 1, n, code)
	}
}

func TestJoinRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room, _, err := env.engine.CreateRoom(ctx, "Ann", ModeNormal, 3)
	require.NoError(t, err)

	joined, player, err := env.engine.JoinRoom(ctx, " "+lowerCode(room.Code)+" ", "Bob")
	require.NoError(t, err)
	assert.Equal(t, room.ID, joined.ID)
	assert.False(t, player.IsHost)
	require.Len(t, joined.Players, 2)
	assert.Equal(t, "Bob", joined.Players[1].Nickname)

	_, _, err = env.engine.JoinRoom(ctx, room.Code, "Bob")
	require.ErrorIs(t, err, ErrNicknameTaken)
	assert.Equal(t, KindValidationFailed, KindOf(err))

	_, _, err = env.engine.JoinRoom(ctx, room.Code, "bob")
	require.NoError(t, err)

	_, _, err = env.engine.JoinRoom(ctx, room.Code, "Dan")
	require.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, KindInvalidState, KindOf(err))

	_, _, err = env.engine.JoinRoom(ctx, "NOPE00", "Eve")
	require.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestJoinRoomAfterStartIsRejected(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.playing(t, "Ann", "Bob", "Cid", "Dee")

	_, _, err := env.engine.JoinRoom(context.Background(), room.Code, "Eve")
	require.ErrorIs(t, err, ErrRoomNotJoinable)
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room, _, err := env.engine.CreateRoom(ctx, "Host", ModeNormal, 5)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		full     atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := env.engine.JoinRoom(ctx, room.Code, fmt.Sprintf("guest%d", i))
			switch {
			case err == nil:
				admitted.Add(1)
			case KindOf(err) == KindInvalidState:
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(4), admitted.Load())
	assert.Equal(t, int32(16), full.Load())
	got, err := env.engine.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, got.Players, 5)
}

func TestSetReadyAndRename(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room, players := env.lobby(t, "Ann", "Bob")

	view, err := env.engine.SetReady(ctx, players[1].ID, true)
	require.NoError(t, err)
	assert.True(t, byNickname(view.Players, "Bob").IsReady)
	assert.Equal(t, StatusWaiting, view.Status)

	_, err = env.engine.Rename(ctx, players[1].ID, "Ann")
	require.ErrorIs(t, err, ErrNicknameTaken)

	view, err = env.engine.Rename(ctx, players[1].ID, "Bobby")
	require.NoError(t, err)
	assert.Equal(t, "Bobby", view.Players[1].Nickname)
	assert.Equal(t, room.ID, view.ID)

	view, err = env.engine.Rename(ctx, players[1].ID, "Bobby")
	require.NoError(t, err)
	assert.Equal(t, "Bobby", view.Players[1].Nickname)
}

func TestRenameAfterStart(t *testing.T) {
	env := newTestEnv(t)
	_, players := env.playing(t, "Ann", "Bob", "Cid", "Dee")

	_, err := env.engine.Rename(context.Background(), players[2].ID, "Carl")
	require.ErrorIs(t, err, ErrGameAlreadyStarted)
	_, err = env.engine.SetReady(context.Background(), players[2].ID, false)
	require.ErrorIs(t, err, ErrGameAlreadyStarted)
}

func TestKick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room, players := env.lobby(t, "Ann", "Bob", "Cid")
	other, _, err := env.engine.CreateRoom(ctx, "Zed", ModeNormal, 4)
	require.NoError(t, err)

	_, err = env.engine.Kick(ctx, players[1].ID, players[2].ID)
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, KindPermissionDenied, KindOf(err))

	_, err = env.engine.Kick(ctx, players[0].ID, other.HostID)
	require.ErrorIs(t, err, ErrPlayerNotInRoom)

	_, err = env.engine.Kick(ctx, players[0].ID, players[0].ID)
	require.ErrorIs(t, err, ErrInvalidInput)

	view, err := env.engine.Kick(ctx, players[0].ID, players[2].ID)
	require.NoError(t, err)
	assert.Len(t, view.Players, 2)
	assert.Equal(t, 1, env.events.count(KickedTopic(room.ID)))

	_, err = env.store.GetPlayer(ctx, players[2].ID)
	require.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestKickAfterStart(t *testing.T) {
	env := newTestEnv(t)
	_, players := env.playing(t, "Ann", "Bob", "Cid", "Dee")

	_, err := env.engine.Kick(context.Background(), players[0].ID, players[3].ID)
	require.ErrorIs(t, err, ErrGameAlreadyStarted)
}

func TestStartGameGating(t *testing.T) {
	ctx := context.Background()

	t.Run("host only", func(t *testing.T) {
		env := newTestEnv(t)
		_, players := env.lobby(t, "Ann", "Bob", "Cid", "Dee")
		_, err := env.engine.StartGame(ctx, players[1].ID)
		require.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("not enough players", func(t *testing.T) {
		env := newTestEnv(t)
		_, players := env.lobby(t, "Ann", "Bob", "Cid")
		for _, player := range players {
			_, err := env.engine.SetReady(ctx, player.ID, true)
			require.NoError(t, err)
		}
		_, err := env.engine.StartGame(ctx, players[0].ID)
		require.ErrorIs(t, err, ErrNotEnoughPlayers)
		assert.Equal(t, KindValidationFailed, KindOf(err))
	})

	t.Run("players not ready", func(t *testing.T) {
		env := newTestEnv(t)
		_, players := env.lobby(t, "Ann", "Bob", "Cid", "Dee")
		_, err := env.engine.SetReady(ctx, players[0].ID, true)
		require.NoError(t, err)
		_, err = env.engine.StartGame(ctx, players[0].ID)
		require.ErrorIs(t, err, ErrPlayersNotReady)
		assert.Contains(t, err.Error(), "Bob")
	})

	t.Run("insufficient images even when ready", func(t *testing.T) {
		env := newTestEnv(t)
		_, players := env.lobby(t, "Ann", "Bob", "Cid", "Dee")
		_, err := env.engine.RemoveImage(ctx, players[2].ID, imagesFor("Cid", 1)[0])
		require.NoError(t, err)
		for _, player := range players {
			_, err := env.engine.SetReady(ctx, player.ID, true)
			require.NoError(t, err)
		}
		_, err = env.engine.StartGame(ctx, players[0].ID)
		require.ErrorIs(t, err, ErrInsufficientImages)
		assert.Equal(t, KindValidationFailed, KindOf(err))
	})

	t.Run("starts", func(t *testing.T) {
		env := newTestEnv(t)
		room, _ := env.playing(t, "Ann", "Bob", "Cid", "Dee")
		assert.NotNil(t, room.StartedAt)

		_, err := env.engine.StartGame(ctx, room.HostID)
		require.ErrorIs(t, err, ErrGameAlreadyStarted)
	})
}

func TestLeaveTransfersHostToEarliestMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room, players := env.lobby(t, "Ann", "Bob", "Cid")

	view, err := env.engine.Leave(ctx, players[0].ID)
	require.NoError(t, err)
	assert.Equal(t, players[1].ID, view.HostID)
	require.Len(t, view.Players, 2)
	assert.True(t, view.Players[0].IsHost)
	assert.Equal(t, StatusWaiting, view.Status)

	_, err = env.engine.Kick(ctx, players[1].ID, players[2].ID)
	require.NoError(t, err)

	view, err = env.engine.Leave(ctx, players[1].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, view.Status)
	assert.Empty(t, view.HostID)

	_, _, err = env.engine.JoinRoom(ctx, room.Code, "Dan")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestLeaveNonHostKeepsHost(t *testing.T) {
	env := newTestEnv(t)
	_, players := env.lobby(t, "Ann", "Bob", "Cid")

	view, err := env.engine.Leave(context.Background(), players[1].ID)
	require.NoError(t, err)
	assert.Equal(t, players[0].ID, view.HostID)
	assert.Len(t, view.Players, 2)
}

func TestImageMutationRequiresNotReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, host, err := env.engine.CreateRoom(ctx, "Ann", ModeQuick, 4)
	require.NoError(t, err)

	self, err := env.engine.AddImages(ctx, host.ID, []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, self.ImageURLs)

	_, err = env.engine.RemoveImage(ctx, host.ID, "zzz")
	require.ErrorIs(t, err, ErrImageNotFound)

	_, err = env.engine.SetReady(ctx, host.ID, true)
	require.NoError(t, err)
	_, err = env.engine.AddImages(ctx, host.ID, []string{"c"})
	require.ErrorIs(t, err, ErrPlayerReady)
	assert.Equal(t, KindInvalidState, KindOf(err))
	_, err = env.engine.ClearImages(ctx, host.ID)
	require.ErrorIs(t, err, ErrPlayerReady)

	_, err = env.engine.SetReady(ctx, host.ID, false)
	require.NoError(t, err)
	self, err = env.engine.ClearImages(ctx, host.ID)
	require.NoError(t, err)
	assert.Empty(t, self.ImageURLs)
}

func TestRoomViewHidesImages(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.lobby(t, "Ann", "Bob")

	for _, player := range room.Players {
		assert.Empty(t, player.ImageURLs)
		assert.Equal(t, room.RequiredImages, player.ImageCount)
	}
}

func lowerCode(code string) string {
	out := []byte(code)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + 'a' - 'A'
		}
	}
	return string(out)
}
