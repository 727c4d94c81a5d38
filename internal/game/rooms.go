package game

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
)

const (
	defaultCodeAttempts = 8
	maxImagesPerPlayer  = MaxRoomSize + 2
)

type Rooms struct {
	*core
	newCode      func() (string, error)
	codeAttempts int
}

func (r *Rooms) CreateRoom(ctx context.Context, nickname string, mode GameMode, maxPlayers int) (*Room, *Player, error) {
	nickname, err := NormalizeNickname(nickname)
	if err != nil {
		return nil, nil, err
	}
	if err := validateRoomSettings(mode, maxPlayers); err != nil {
		return nil, nil, err
	}

	for attempt := 0; attempt < r.codeAttempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return nil, nil, ErrStoreFailure.withMessage("generate room code").wrap(err)
		}
		_, err = r.store.FindRoomByCode(ctx, code)
		if err == nil {
			r.log.Debug().Str("code", code).Int("attempt", attempt).Msg("room code collision")
			continue
		}
		if !errors.Is(err, ErrRoomNotFound) {
			return nil, nil, err
		}

		now := r.now()
		host := &Player{
			ID:        r.newID(),
			Nickname:  nickname,
			IsOnline:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		room := &Room{
			ID:          r.newID(),
			Code:        code,
			MaxPlayers:  maxPlayers,
			Mode:        mode,
			Status:      StatusWaiting,
			PlayerIDs:   []string{host.ID},
			HostID:      host.ID,
			TotalRounds: totalRounds(mode, maxPlayers),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		host.RoomID = room.ID

		err = r.store.WithinTx(ctx, func(tx Store) error {
			if err := tx.SaveRoom(ctx, room); err != nil {
				return err
			}
			return tx.SavePlayers(ctx, host)
		})
		if errors.Is(err, ErrDuplicateCode) {
			r.log.Debug().Str("code", code).Int("attempt", attempt).Msg("room code taken at insert")
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return room, host, nil
	}
	return nil, nil, ErrStoreFailure.withMessage("could not allocate a unique room code")
}

func (r *Rooms) JoinRoom(ctx context.Context, code, nickname string) (*Room, *Player, error) {
	nickname, err := NormalizeNickname(nickname)
	if err != nil {
		return nil, nil, err
	}
	found, err := r.store.FindRoomByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, nil, err
	}
	room, unlock, err := r.lockRoom(ctx, found.ID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if room.Status != StatusWaiting {
		return nil, nil, ErrRoomNotJoinable
	}
	if len(room.PlayerIDs) >= room.MaxPlayers {
		return nil, nil, ErrRoomFull
	}
	players, err := r.store.ListPlayersByRoom(ctx, room.ID)
	if err != nil {
		return nil, nil, err
	}
	if nicknameTaken(players, nickname, "") {
		return nil, nil, ErrNicknameTaken
	}

	now := r.now()
	player := &Player{
		ID:        r.newID(),
		Nickname:  nickname,
		RoomID:    room.ID,
		IsOnline:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	room.PlayerIDs = append(room.PlayerIDs, player.ID)
	room.UpdatedAt = now
	err = r.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.SaveRoom(ctx, room); err != nil {
			return err
		}
		return tx.SavePlayers(ctx, player)
	})
	if err != nil {
		return nil, nil, err
	}
	return room, player, nil
}

func (r *Rooms) SetReady(ctx context.Context, playerID string, ready bool) (*Player, error) {
	player, room, unlock, err := r.lockPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if room.Status != StatusWaiting {
		return nil, ErrGameAlreadyStarted
	}
	if player.IsReady == ready {
		return player, nil
	}
	player.IsReady = ready
	player.UpdatedAt = r.now()
	if err := r.store.SavePlayers(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

func (r *Rooms) Rename(ctx context.Context, playerID, nickname string) (*Player, error) {
	nickname, err := NormalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	player, room, unlock, err := r.lockPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if room.Status != StatusWaiting {
		return nil, ErrGameAlreadyStarted
	}
	if player.Nickname == nickname {
		return player, nil
	}
	players, err := r.store.ListPlayersByRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if nicknameTaken(players, nickname, player.ID) {
		return nil, ErrNicknameTaken
	}
	player.Nickname = nickname
	player.UpdatedAt = r.now()
	if err := r.store.SavePlayers(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

func (r *Rooms) Kick(ctx context.Context, hostID, targetID string) (*Room, *Player, error) {
	host, room, unlock, err := r.lockPlayer(ctx, hostID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if room.HostID != host.ID {
		return nil, nil, ErrPermissionDenied
	}
	if room.Status != StatusWaiting {
		return nil, nil, ErrGameAlreadyStarted
	}
	target, err := r.store.GetPlayer(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	if target.RoomID != room.ID || !room.HasMember(target.ID) {
		return nil, nil, ErrPlayerNotInRoom
	}
	if target.ID == host.ID {
		return nil, nil, ErrInvalidInput.withMessage("the host cannot kick themselves")
	}

	room.removeMember(target.ID)
	room.UpdatedAt = r.now()
	err = r.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.SaveRoom(ctx, room); err != nil {
			return err
		}
		return tx.DeletePlayer(ctx, target.ID)
	})
	if err != nil {
		return nil, nil, err
	}
	return room, target, nil
}

func (r *Rooms) StartGame(ctx context.Context, hostID string) (*Room, error) {
	host, room, unlock, err := r.lockPlayer(ctx, hostID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if room.HostID != host.ID {
		return nil, ErrPermissionDenied
	}
	if room.Status != StatusWaiting {
		return nil, ErrGameAlreadyStarted
	}
	if len(room.PlayerIDs) < MinStartPlayers {
		return nil, ErrNotEnoughPlayers
	}
	members, err := r.members(ctx, room)
	if err != nil {
		return nil, err
	}
	var notReady []string
	for _, member := range members {
		if !member.IsReady {
			notReady = append(notReady, member.Nickname)
		}
	}
	if len(notReady) > 0 {
		return nil, ErrPlayersNotReady.withMessage("not ready: %s", strings.Join(notReady, ", "))
	}
	required := room.RequiredImages()
	for _, member := range members {
		if len(member.ImageURLs) < required {
			return nil, ErrInsufficientImages.withMessage("%s has uploaded %d of %d images", member.Nickname, len(member.ImageURLs), required)
		}
	}

	now := r.now()
	room.Status = StatusPlaying
	room.StartedAt = &now
	room.UpdatedAt = now
	if err := r.store.SaveRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Leave removes the player from its room. A departing host hands over to the
// earliest-joined remaining member; the last member out finishes the room.
// A speaker leaving mid-round force-finishes that round in the same
// transaction, and the finished round is returned.
func (r *Rooms) Leave(ctx context.Context, playerID string) (*Room, *GameRound, error) {
	player, room, unlock, err := r.lockPlayer(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	members, err := r.members(ctx, room)
	if err != nil {
		return nil, nil, err
	}
	var forced *GameRound
	if room.Status == StatusPlaying {
		active, err := r.store.FindActiveRoundByRoom(ctx, room.ID)
		switch {
		case err == nil && active.SpeakerID == player.ID:
			forced = active
			r.stageFinish(members, room, forced, true)
		case err != nil && !errors.Is(err, ErrRoundNotFound):
			return nil, nil, err
		}
	}

	room.removeMember(player.ID)
	room.UpdatedAt = r.now()
	if len(room.PlayerIDs) == 0 {
		room.HostID = ""
		room.Status = StatusFinished
	} else if room.HostID == player.ID {
		room.HostID = nextHost(members, player.ID)
	}

	err = r.store.WithinTx(ctx, func(tx Store) error {
		if forced != nil {
			if err := tx.SavePlayers(ctx, remaining(members, player.ID)...); err != nil {
				return err
			}
			if err := tx.SaveRound(ctx, forced); err != nil {
				return err
			}
		}
		if err := tx.SaveRoom(ctx, room); err != nil {
			return err
		}
		return tx.DeletePlayer(ctx, player.ID)
	})
	if err != nil {
		return nil, nil, err
	}
	if forced != nil {
		r.log.Info().
			Str("room_id", room.ID).
			Str("round_id", forced.ID).
			Str("player_id", player.ID).
			Msg("speaker left, round force-finished")
	}
	return room, forced, nil
}

func remaining(members []*Player, leavingID string) []*Player {
	out := make([]*Player, 0, len(members))
	for _, member := range members {
		if member.ID != leavingID {
			out = append(out, member)
		}
	}
	return out
}

func nextHost(members []*Player, leavingID string) string {
	left := remaining(members, leavingID)
	if len(left) == 0 {
		return ""
	}
	sort.SliceStable(left, func(i, j int) bool {
		return left[i].CreatedAt.Before(left[j].CreatedAt)
	})
	return left[0].ID
}

func (r *Rooms) AddImages(ctx context.Context, playerID string, urls []string) (*Player, error) {
	return r.mutateImages(ctx, playerID, func(player *Player) error {
		for _, url := range urls {
			url = strings.TrimSpace(url)
			if url == "" {
				return ErrInvalidInput.withMessage("image url is required")
			}
			if slices.Contains(player.ImageURLs, url) {
				continue
			}
			if len(player.ImageURLs) >= maxImagesPerPlayer {
				return ErrInvalidInput.withMessage("at most %d images per player", maxImagesPerPlayer)
			}
			player.ImageURLs = append(player.ImageURLs, url)
		}
		return nil
	})
}

func (r *Rooms) RemoveImage(ctx context.Context, playerID, url string) (*Player, error) {
	return r.mutateImages(ctx, playerID, func(player *Player) error {
		index := slices.Index(player.ImageURLs, url)
		if index < 0 {
			return ErrImageNotFound
		}
		player.ImageURLs = slices.Delete(player.ImageURLs, index, index+1)
		return nil
	})
}

func (r *Rooms) ClearImages(ctx context.Context, playerID string) (*Player, error) {
	return r.mutateImages(ctx, playerID, func(player *Player) error {
		player.ImageURLs = nil
		return nil
	})
}

func (r *Rooms) mutateImages(ctx context.Context, playerID string, mutate func(*Player) error) (*Player, error) {
	player, room, unlock, err := r.lockPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if room.Status != StatusWaiting {
		return nil, ErrGameAlreadyStarted
	}
	if player.IsReady {
		return nil, ErrPlayerReady
	}
	if err := mutate(player); err != nil {
		return nil, err
	}
	player.UpdatedAt = r.now()
	if err := r.store.SavePlayers(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

func (r *Rooms) SetOnline(ctx context.Context, playerID string, online bool) (*Player, *Room, error) {
	player, room, unlock, err := r.lockPlayer(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if player.IsOnline == online {
		return player, room, nil
	}
	player.IsOnline = online
	player.UpdatedAt = r.now()
	if err := r.store.SavePlayers(ctx, player); err != nil {
		return nil, nil, err
	}
	return player, room, nil
}

func nicknameTaken(players []*Player, nickname, exceptID string) bool {
	for _, player := range players {
		if player.ID != exceptID && player.Nickname == nickname {
			return true
		}
	}
	return false
}
