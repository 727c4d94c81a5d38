package game

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// core holds what Rooms and Rounds share. Every mutation happens while the
// room's key lock is held, and entities are re-read after locking.
type core struct {
	store Store
	locks *KeyLocks
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

func (c *core) lockRoom(ctx context.Context, roomID string) (*Room, func(), error) {
	unlock, err := c.locks.Lock(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return room, unlock, nil
}

func (c *core) lockPlayer(ctx context.Context, playerID string) (*Player, *Room, func(), error) {
	player, err := c.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, nil, nil, err
	}
	room, unlock, err := c.lockRoom(ctx, player.RoomID)
	if err != nil {
		return nil, nil, nil, err
	}
	player, err = c.store.GetPlayer(ctx, playerID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	if player.RoomID != room.ID || !room.HasMember(player.ID) {
		unlock()
		return nil, nil, nil, ErrPlayerNotInRoom
	}
	return player, room, unlock, nil
}

func (c *core) lockRound(ctx context.Context, roundID string) (*GameRound, *Room, func(), error) {
	round, err := c.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, nil, nil, err
	}
	room, unlock, err := c.lockRoom(ctx, round.RoomID)
	if err != nil {
		return nil, nil, nil, err
	}
	round, err = c.store.GetRound(ctx, roundID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return round, room, unlock, nil
}

func (c *core) members(ctx context.Context, room *Room) ([]*Player, error) {
	players, err := c.store.ListPlayersByRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return rosterOrder(room, players), nil
}

func rosterOrder(room *Room, players []*Player) []*Player {
	byID := make(map[string]*Player, len(players))
	for _, player := range players {
		byID[player.ID] = player
	}
	out := make([]*Player, 0, len(room.PlayerIDs))
	for _, id := range room.PlayerIDs {
		if player, ok := byID[id]; ok {
			out = append(out, player)
		}
	}
	return out
}
