package game

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Entities are copied on the way in and
// out. Stored values are never mutated in place, so a transaction only needs
// to copy the maps and swap them in when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	rooms   map[string]*Room
	players map[string]*Player
	rounds  map[string]*GameRound
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		rooms:   make(map[string]*Room),
		players: make(map[string]*Player),
		rounds:  make(map[string]*GameRound),
	}}
}

func (s *memState) clone() *memState {
	return &memState{
		rooms:   maps.Clone(s.rooms),
		players: maps.Clone(s.players),
		rounds:  maps.Clone(s.rounds),
	}
}

func (m *MemoryStore) view(fn func(v memView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memView{state: m.state})
}

func (m *MemoryStore) GetRoom(ctx context.Context, id string) (room *Room, err error) {
	err = m.view(func(v memView) error {
		room, err = v.GetRoom(ctx, id)
		return err
	})
	return room, err
}

func (m *MemoryStore) FindRoomByCode(ctx context.Context, code string) (room *Room, err error) {
	err = m.view(func(v memView) error {
		room, err = v.FindRoomByCode(ctx, code)
		return err
	})
	return room, err
}

func (m *MemoryStore) SaveRoom(ctx context.Context, room *Room) error {
	return m.WithinTx(ctx, func(tx Store) error { return tx.SaveRoom(ctx, room) })
}

func (m *MemoryStore) GetPlayer(ctx context.Context, id string) (player *Player, err error) {
	err = m.view(func(v memView) error {
		player, err = v.GetPlayer(ctx, id)
		return err
	})
	return player, err
}

func (m *MemoryStore) ListPlayersByRoom(ctx context.Context, roomID string) (players []*Player, err error) {
	err = m.view(func(v memView) error {
		players, err = v.ListPlayersByRoom(ctx, roomID)
		return err
	})
	return players, err
}

func (m *MemoryStore) SavePlayers(ctx context.Context, players ...*Player) error {
	return m.WithinTx(ctx, func(tx Store) error { return tx.SavePlayers(ctx, players...) })
}

func (m *MemoryStore) DeletePlayer(ctx context.Context, id string) error {
	return m.WithinTx(ctx, func(tx Store) error { return tx.DeletePlayer(ctx, id) })
}

func (m *MemoryStore) GetRound(ctx context.Context, id string) (round *GameRound, err error) {
	err = m.view(func(v memView) error {
		round, err = v.GetRound(ctx, id)
		return err
	})
	return round, err
}

func (m *MemoryStore) FindActiveRoundByRoom(ctx context.Context, roomID string) (round *GameRound, err error) {
	err = m.view(func(v memView) error {
		round, err = v.FindActiveRoundByRoom(ctx, roomID)
		return err
	})
	return round, err
}

func (m *MemoryStore) SaveRound(ctx context.Context, round *GameRound) error {
	return m.WithinTx(ctx, func(tx Store) error { return tx.SaveRound(ctx, round) })
}

// WithinTx stages writes on a copy of the maps. The store lock is held for
// the whole transaction, so fn must not call back into m.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := m.state.clone()
	if err := fn(memView{state: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = staged
	return nil
}

type memView struct {
	state *memState
}

func (v memView) GetRoom(ctx context.Context, id string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	room, ok := v.state.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (v memView) FindRoomByCode(ctx context.Context, code string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, room := range v.state.rooms {
		if room.Code == code && room.Status != StatusFinished {
			return room.Clone(), nil
		}
	}
	return nil, ErrRoomNotFound
}

func (v memView) SaveRoom(ctx context.Context, room *Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, exists := v.state.rooms[room.ID]
	version := 0
	if exists {
		version = current.Version
	}
	if err := checkVersion(exists, version, room.Version); err != nil {
		return err
	}
	if room.Status != StatusFinished {
		for id, other := range v.state.rooms {
			if id != room.ID && other.Code == room.Code && other.Status != StatusFinished {
				return ErrDuplicateCode
			}
		}
	}
	room.Version++
	v.state.rooms[room.ID] = room.Clone()
	return nil
}

func (v memView) GetPlayer(ctx context.Context, id string) (*Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	player, ok := v.state.players[id]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return player.Clone(), nil
}

func (v memView) ListPlayersByRoom(ctx context.Context, roomID string) ([]*Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Player
	for _, player := range v.state.players {
		if player.RoomID == roomID {
			out = append(out, player.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v memView) SavePlayers(ctx context.Context, players ...*Player) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, player := range players {
		for id, other := range v.state.players {
			if id != player.ID && other.RoomID == player.RoomID && other.Nickname == player.Nickname {
				return ErrNicknameTaken
			}
		}
		v.state.players[player.ID] = player.Clone()
	}
	return nil
}

func (v memView) DeletePlayer(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.state.players[id]; !ok {
		return ErrPlayerNotFound
	}
	delete(v.state.players, id)
	return nil
}

func (v memView) GetRound(ctx context.Context, id string) (*GameRound, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	round, ok := v.state.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return round.Clone(), nil
}

func (v memView) FindActiveRoundByRoom(ctx context.Context, roomID string) (*GameRound, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, round := range v.state.rounds {
		if round.RoomID == roomID && !round.IsFinished {
			return round.Clone(), nil
		}
	}
	return nil, ErrRoundNotFound
}

func (v memView) SaveRound(ctx context.Context, round *GameRound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, exists := v.state.rounds[round.ID]
	version := 0
	if exists {
		version = current.Version
	}
	if err := checkVersion(exists, version, round.Version); err != nil {
		return err
	}
	if !round.IsFinished {
		for id, other := range v.state.rounds {
			if id != round.ID && other.RoomID == round.RoomID && !other.IsFinished {
				return ErrRoundInProgress
			}
		}
	}
	round.Version++
	v.state.rounds[round.ID] = round.Clone()
	return nil
}

func (v memView) WithinTx(_ context.Context, fn func(tx Store) error) error {
	return fn(v)
}

// checkVersion treats version 0 as an insert and anything else as an update
// of the stored version.
func checkVersion(exists bool, stored, given int) error {
	switch {
	case given == 0 && exists:
		return ErrConflict
	case given != 0 && (!exists || stored != given):
		return ErrConflict
	}
	return nil
}
