package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	room := &Room{ID: "r1", Code: "ABCDEF", Status: StatusWaiting}

	require.NoError(t, store.SaveRoom(ctx, room))
	assert.Equal(t, 1, room.Version)

	stale, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	fresh, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)

	fresh.CurrentRound = 1
	require.NoError(t, store.SaveRoom(ctx, fresh))
	assert.Equal(t, 2, fresh.Version)

	stale.CurrentRound = 7
	require.ErrorIs(t, store.SaveRoom(ctx, stale), ErrConflict)

	got, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentRound)

	require.ErrorIs(t, store.SaveRoom(ctx, &Room{ID: "r1", Code: "ZZZZZZ"}), ErrConflict)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	player := &Player{ID: "p1", RoomID: "r1", Nickname: "Ann", ImageURLs: []string{"a"}}
	require.NoError(t, store.SavePlayers(ctx, player))

	player.ImageURLs[0] = "mutated"
	got, err := store.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.ImageURLs)

	got.Nickname = "Bob"
	again, err := store.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", again.Nickname)
}

func TestMemoryStoreCodeUniqueAmongActiveRooms(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := &Room{ID: "r1", Code: "ABCDEF", Status: StatusWaiting}
	require.NoError(t, store.SaveRoom(ctx, first))

	require.ErrorIs(t, store.SaveRoom(ctx, &Room{ID: "r2", Code: "ABCDEF", Status: StatusWaiting}), ErrDuplicateCode)

	first.Status = StatusFinished
	require.NoError(t, store.SaveRoom(ctx, first))
	require.NoError(t, store.SaveRoom(ctx, &Room{ID: "r2", Code: "ABCDEF", Status: StatusWaiting}))

	found, err := store.FindRoomByCode(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "r2", found.ID)
}

func TestMemoryStoreTransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx Store) error {
		require.NoError(t, tx.SaveRoom(ctx, &Room{ID: "r1", Code: "ABCDEF"}))
		require.NoError(t, tx.SavePlayers(ctx, &Player{ID: "p1", RoomID: "r1", Nickname: "Ann"}))
		_, err := tx.GetRoom(ctx, "r1")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetRoom(ctx, "r1")
	require.ErrorIs(t, err, ErrRoomNotFound)
	_, err = store.GetPlayer(ctx, "p1")
	require.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestMemoryStoreNicknameUniquePerRoom(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SavePlayers(ctx, &Player{ID: "p1", RoomID: "r1", Nickname: "Ann"}))

	require.ErrorIs(t, store.SavePlayers(ctx, &Player{ID: "p2", RoomID: "r1", Nickname: "Ann"}), ErrNicknameTaken)
	require.NoError(t, store.SavePlayers(ctx, &Player{ID: "p3", RoomID: "r1", Nickname: "ann"}))
	require.NoError(t, store.SavePlayers(ctx, &Player{ID: "p4", RoomID: "r2", Nickname: "Ann"}))
}

func TestMemoryStoreSingleActiveRound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := &GameRound{ID: "g1", RoomID: "r1", Number: 1}
	require.NoError(t, store.SaveRound(ctx, first))

	require.ErrorIs(t, store.SaveRound(ctx, &GameRound{ID: "g2", RoomID: "r1", Number: 2}), ErrRoundInProgress)

	active, err := store.FindActiveRoundByRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "g1", active.ID)

	first.IsFinished = true
	require.NoError(t, store.SaveRound(ctx, first))
	_, err = store.FindActiveRoundByRoom(ctx, "r1")
	require.ErrorIs(t, err, ErrRoundNotFound)
	require.NoError(t, store.SaveRound(ctx, &GameRound{ID: "g2", RoomID: "r1", Number: 2}))
}

func TestMemoryStoreListPlayersByJoinTime(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SavePlayers(ctx,
		&Player{ID: "late", RoomID: "r1", Nickname: "C", CreatedAt: t0.Add(2 * time.Second)},
		&Player{ID: "early", RoomID: "r1", Nickname: "A", CreatedAt: t0},
		&Player{ID: "other", RoomID: "r2", Nickname: "B", CreatedAt: t0.Add(time.Second)},
	))

	players, err := store.ListPlayersByRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "early", players[0].ID)
	assert.Equal(t, "late", players[1].ID)
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetRoom(ctx, "r1")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.SaveRoom(ctx, &Room{ID: "r1"}), context.Canceled)
}
