package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultStoreTimeout       = 5 * time.Second
	defaultImageTimeout       = 5 * time.Second
	defaultMaxRetries         = 3
	defaultForceFinishRetries = 6
	defaultForceFinishBackoff = 250 * time.Millisecond
)

type Options struct {
	Store       Store
	Images      ImageSource
	Broadcaster Broadcaster
	Logger      zerolog.Logger

	StoreTimeout     time.Duration
	ImageTimeout     time.Duration
	FallbackImageURL string

	// MaxRetries bounds re-runs of an operation after a version conflict.
	MaxRetries int
	// ForceFinishRetries and ForceFinishBackoff shape the background retry
	// of a failed disconnect-forced finish.
	ForceFinishRetries int
	ForceFinishBackoff time.Duration

	Clock   func() time.Time
	Rand    *rand.Rand
	NewID   func() string
	NewCode func() (string, error)
}

type Engine struct {
	core        *core
	rooms       *Rooms
	rounds      *Rounds
	broadcaster Broadcaster
	log         zerolog.Logger

	storeTimeout time.Duration
	imageTimeout time.Duration
	maxRetries   int
	forceRetries int
	forceBackoff time.Duration

	bg       context.Context
	cancelBG context.CancelFunc
	wg       sync.WaitGroup
}

func New(opts Options) *Engine {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = nopBroadcaster{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = defaultImageTimeout
	}
	if opts.FallbackImageURL == "" {
		opts.FallbackImageURL = DefaultFallbackImageURL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.ForceFinishRetries <= 0 {
		opts.ForceFinishRetries = defaultForceFinishRetries
	}
	if opts.ForceFinishBackoff <= 0 {
		opts.ForceFinishBackoff = defaultForceFinishBackoff
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.NewCode == nil {
		opts.NewCode = newRoomCode
	}

	shared := &core{
		store: opts.Store,
		locks: NewKeyLocks(),
		now:   opts.Clock,
		newID: opts.NewID,
		log:   opts.Logger,
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Engine{
		core:  shared,
		rooms: &Rooms{core: shared, newCode: opts.NewCode, codeAttempts: defaultCodeAttempts},
		rounds: &Rounds{
			core:         shared,
			images:       opts.Images,
			imageTimeout: opts.ImageTimeout,
			fallbackURL:  opts.FallbackImageURL,
			rng:          opts.Rand,
		},
		broadcaster:  opts.Broadcaster,
		log:          opts.Logger,
		storeTimeout: opts.StoreTimeout,
		imageTimeout: opts.ImageTimeout,
		maxRetries:   opts.MaxRetries,
		forceRetries: opts.ForceFinishRetries,
		forceBackoff: opts.ForceFinishBackoff,
		bg:           bg,
		cancelBG:     cancel,
	}
}

func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Close() {
	e.cancelBG()
	e.wg.Wait()
}

// run executes op under the store timeout and re-runs it on version
// conflicts. Errors leave as *Error.
func (e *Engine) run(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		err = op(opCtx)
		cancel()
		if !errors.Is(err, ErrConflict) {
			return normalizeError(err)
		}
		e.log.Debug().Int("attempt", attempt+1).Msg("version conflict, retrying")
	}
	return ErrStoreFailure.withMessage("too many concurrent updates").wrap(err)
}

func (e *Engine) publish(topic string, payload any) {
	e.broadcaster.Publish(topic, payload)
}

func (e *Engine) roomSnapshot(ctx context.Context, room *Room) (RoomView, error) {
	members, err := e.core.members(ctx, room)
	if err != nil {
		return RoomView{}, err
	}
	return newRoomView(room, members), nil
}

func (e *Engine) roomSnapshotByID(ctx context.Context, roomID string) (RoomView, error) {
	room, err := e.core.store.GetRoom(ctx, roomID)
	if err != nil {
		return RoomView{}, err
	}
	return e.roomSnapshot(ctx, room)
}

func (e *Engine) roundSnapshot(ctx context.Context, round *GameRound) (RoundView, error) {
	speaker, err := e.core.store.GetPlayer(ctx, round.SpeakerID)
	switch {
	case err == nil:
		return newRoundView(round, speaker.Nickname), nil
	case errors.Is(err, ErrPlayerNotFound):
		return newRoundView(round, ""), nil
	default:
		return RoundView{}, err
	}
}

// publishRoom re-reads the room. Broadcast failures never fail the caller.
func (e *Engine) publishRoom(ctx context.Context, roomID string) {
	var view RoomView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		var err error
		view, err = e.roomSnapshotByID(ctx, roomID)
		return err
	})
	if err != nil {
		e.log.Warn().Err(err).Str("room_id", roomID).Msg("room snapshot for broadcast failed")
		return
	}
	e.publish(RoomTopic(roomID), view)
}

func (e *Engine) CreateRoom(ctx context.Context, nickname string, mode GameMode, maxPlayers int) (RoomView, PlayerView, error) {
	var (
		view RoomView
		self PlayerView
	)
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		room, host, err := e.rooms.CreateRoom(ctx, nickname, mode, maxPlayers)
		if err != nil {
			return err
		}
		self = newPlayerView(host, room.HostID, true)
		view, err = e.roomSnapshot(ctx, room)
		return err
	})
	if err != nil {
		return RoomView{}, PlayerView{}, err
	}
	e.log.Info().Str("room_id", view.ID).Str("code", view.Code).Str("player_id", self.ID).Msg("room created")
	e.publish(RoomTopic(view.ID), view)
	return view, self, nil
}

func (e *Engine) JoinRoom(ctx context.Context, code, nickname string) (RoomView, PlayerView, error) {
	var (
		view RoomView
		self PlayerView
	)
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		room, player, err := e.rooms.JoinRoom(ctx, code, nickname)
		if err != nil {
			return err
		}
		self = newPlayerView(player, room.HostID, true)
		view, err = e.roomSnapshot(ctx, room)
		return err
	})
	if err != nil {
		return RoomView{}, PlayerView{}, err
	}
	e.log.Info().Str("room_id", view.ID).Str("player_id", self.ID).Msg("player joined")
	e.publish(RoomTopic(view.ID), view)
	return view, self, nil
}

func (e *Engine) SetReady(ctx context.Context, playerID string, ready bool) (RoomView, error) {
	return e.playerRoomOp(ctx, func(ctx context.Context) (string, error) {
		player, err := e.rooms.SetReady(ctx, playerID, ready)
		if err != nil {
			return "", err
		}
		return player.RoomID, nil
	})
}

func (e *Engine) Rename(ctx context.Context, playerID, nickname string) (RoomView, error) {
	return e.playerRoomOp(ctx, func(ctx context.Context) (string, error) {
		player, err := e.rooms.Rename(ctx, playerID, nickname)
		if err != nil {
			return "", err
		}
		return player.RoomID, nil
	})
}

func (e *Engine) StartGame(ctx context.Context, hostID string) (RoomView, error) {
	view, err := e.playerRoomOp(ctx, func(ctx context.Context) (string, error) {
		room, err := e.rooms.StartGame(ctx, hostID)
		if err != nil {
			return "", err
		}
		return room.ID, nil
	})
	if err == nil {
		e.log.Info().Str("room_id", view.ID).Int("players", len(view.Players)).Msg("game started")
	}
	return view, err
}

func (e *Engine) playerRoomOp(ctx context.Context, op func(ctx context.Context) (string, error)) (RoomView, error) {
	var view RoomView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		roomID, err := op(ctx)
		if err != nil {
			return err
		}
		view, err = e.roomSnapshotByID(ctx, roomID)
		return err
	})
	if err != nil {
		return RoomView{}, err
	}
	e.publish(RoomTopic(view.ID), view)
	return view, nil
}

func (e *Engine) Kick(ctx context.Context, hostID, targetID string) (RoomView, error) {
	var (
		view   RoomView
		target *Player
	)
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		room, kicked, err := e.rooms.Kick(ctx, hostID, targetID)
		if err != nil {
			return err
		}
		target = kicked
		view, err = e.roomSnapshot(ctx, room)
		return err
	})
	if err != nil {
		return RoomView{}, err
	}
	e.log.Info().Str("room_id", view.ID).Str("player_id", target.ID).Msg("player kicked")
	e.publish(KickedTopic(view.ID), PresenceNotice{
		RoomID:   view.ID,
		PlayerID: target.ID,
		Nickname: target.Nickname,
		Reason:   "kicked",
	})
	e.publish(RoomTopic(view.ID), view)
	return view, nil
}

func (e *Engine) Leave(ctx context.Context, playerID string) (RoomView, error) {
	var (
		view   RoomView
		result *RoundResultView
	)
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		room, forced, err := e.rooms.Leave(ctx, playerID)
		if err != nil {
			return err
		}
		members, err := e.core.members(ctx, room)
		if err != nil {
			return err
		}
		view = newRoomView(room, members)
		result = nil
		if forced != nil {
			result = &RoundResultView{
				Round:   newRoundView(forced, speakerNickname(forced.Results)),
				Results: append([]VoteResult{}, forced.Results...),
				Scores:  make(map[string]int, len(members)),
				Room:    view,
			}
			for _, member := range members {
				result.Scores[member.ID] = member.Score
			}
		}
		return nil
	})
	if err != nil {
		return RoomView{}, err
	}
	e.log.Info().Str("room_id", view.ID).Str("player_id", playerID).Str("host_id", view.HostID).Msg("player left")
	if result != nil {
		e.publish(RoundResultTopic(view.ID), *result)
	}
	e.publish(RoomTopic(view.ID), view)
	return view, nil
}

func speakerNickname(results []VoteResult) string {
	for _, result := range results {
		if result.IsSpeaker {
			return result.Nickname
		}
	}
	return ""
}

func (e *Engine) AddImages(ctx context.Context, playerID string, urls []string) (PlayerView, error) {
	return e.imageOp(ctx, func(ctx context.Context) (*Player, error) {
		return e.rooms.AddImages(ctx, playerID, urls)
	})
}

func (e *Engine) RemoveImage(ctx context.Context, playerID, url string) (PlayerView, error) {
	return e.imageOp(ctx, func(ctx context.Context) (*Player, error) {
		return e.rooms.RemoveImage(ctx, playerID, url)
	})
}

func (e *Engine) ClearImages(ctx context.Context, playerID string) (PlayerView, error) {
	return e.imageOp(ctx, func(ctx context.Context) (*Player, error) {
		return e.rooms.ClearImages(ctx, playerID)
	})
}

func (e *Engine) imageOp(ctx context.Context, op func(ctx context.Context) (*Player, error)) (PlayerView, error) {
	var (
		self PlayerView
		view RoomView
	)
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		player, err := op(ctx)
		if err != nil {
			return err
		}
		view, err = e.roomSnapshotByID(ctx, player.RoomID)
		self = newPlayerView(player, view.HostID, true)
		return err
	})
	if err != nil {
		return PlayerView{}, err
	}
	e.publish(RoomTopic(view.ID), view)
	return self, nil
}

func (e *Engine) GetPlayer(ctx context.Context, playerID string) (PlayerView, error) {
	var self PlayerView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		player, err := e.core.store.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		room, err := e.core.store.GetRoom(ctx, player.RoomID)
		if err != nil {
			return err
		}
		self = newPlayerView(player, room.HostID, true)
		return nil
	})
	return self, err
}

func (e *Engine) PlayerRoom(ctx context.Context, playerID string) (string, error) {
	var roomID string
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		player, err := e.core.store.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		roomID = player.RoomID
		return nil
	})
	return roomID, err
}

func (e *Engine) GetRoom(ctx context.Context, roomID string) (RoomView, error) {
	var view RoomView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		var err error
		view, err = e.roomSnapshotByID(ctx, roomID)
		return err
	})
	return view, err
}

func (e *Engine) GetRoomByCode(ctx context.Context, code string) (RoomView, error) {
	var view RoomView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		room, err := e.core.store.FindRoomByCode(ctx, NormalizeCode(code))
		if err != nil {
			return err
		}
		view, err = e.roomSnapshot(ctx, room)
		return err
	})
	return view, err
}

func (e *Engine) GetRound(ctx context.Context, roundID string) (RoundView, error) {
	var view RoundView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		round, err := e.core.store.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		view, err = e.roundSnapshot(ctx, round)
		return err
	})
	return view, err
}

func (e *Engine) CurrentRound(ctx context.Context, roomID string) (RoundView, error) {
	var view RoundView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		round, err := e.core.store.FindActiveRoundByRoom(ctx, roomID)
		if err != nil {
			return err
		}
		view, err = e.roundSnapshot(ctx, round)
		return err
	})
	return view, err
}

func (e *Engine) StartRound(ctx context.Context, roomID string) (RoundView, error) {
	var (
		view     RoundView
		roomView RoomView
	)
	err := e.run(ctx, e.storeTimeout+e.imageTimeout, func(ctx context.Context) error {
		round, room, err := e.rounds.StartRound(ctx, roomID)
		if err != nil {
			return err
		}
		if view, err = e.roundSnapshot(ctx, round); err != nil {
			return err
		}
		roomView, err = e.roomSnapshot(ctx, room)
		return err
	})
	if err != nil {
		return RoundView{}, err
	}
	e.publish(RoundTopic(roomID), view)
	e.publish(RoomTopic(roomID), roomView)
	return view, nil
}

func (e *Engine) AdvancePhase(ctx context.Context, roundID string) (RoundView, error) {
	return e.roundOp(ctx, func(ctx context.Context) (*GameRound, error) {
		return e.rounds.AdvancePhase(ctx, roundID)
	})
}

func (e *Engine) StartVoting(ctx context.Context, roundID string) (RoundView, error) {
	return e.roundOp(ctx, func(ctx context.Context) (*GameRound, error) {
		return e.rounds.StartVoting(ctx, roundID)
	})
}

func (e *Engine) roundOp(ctx context.Context, op func(ctx context.Context) (*GameRound, error)) (RoundView, error) {
	var view RoundView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		round, err := op(ctx)
		if err != nil {
			return err
		}
		view, err = e.roundSnapshot(ctx, round)
		return err
	})
	if err != nil {
		return RoundView{}, err
	}
	e.publish(RoundTopic(view.RoomID), view)
	return view, nil
}

func (e *Engine) SubmitVote(ctx context.Context, playerID, imageURL, roundID string) (VoteReceipt, error) {
	var (
		receipt VoteReceipt
		votes   int
		roomID  string
	)
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		round, err := e.rounds.SubmitVote(ctx, playerID, imageURL, roundID)
		if err != nil {
			return err
		}
		roomID = round.RoomID
		votes = len(round.Votes)
		receipt = VoteReceipt{
			RoundID:   round.ID,
			PlayerID:  playerID,
			ImageURL:  imageURL,
			IsSpeaker: playerID == round.SpeakerID,
		}
		return nil
	})
	if err != nil {
		return VoteReceipt{}, err
	}
	e.publish(VoteTopic(roomID), VoteNotice{RoundID: roundID, PlayerID: playerID, Votes: votes})
	return receipt, nil
}

func (e *Engine) RevealResult(ctx context.Context, roundID string) (RoundView, []VoteResult, error) {
	var (
		view    RoundView
		results []VoteResult
	)
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		round, preview, err := e.rounds.RevealResult(ctx, roundID)
		if err != nil {
			return err
		}
		results = preview
		view, err = e.roundSnapshot(ctx, round)
		return err
	})
	if err != nil {
		return RoundView{}, nil, err
	}
	e.publish(RoundTopic(view.RoomID), view)
	return view, results, nil
}

func (e *Engine) FinishRound(ctx context.Context, roundID string) (RoundResultView, error) {
	result, err := e.finish(ctx, roundID, false)
	if err != nil {
		return RoundResultView{}, err
	}
	e.publishResult(result)
	return result, nil
}

func (e *Engine) finish(ctx context.Context, roundID string, forced bool) (RoundResultView, error) {
	var result RoundResultView
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		var (
			round *GameRound
			room  *Room
			err   error
		)
		if forced {
			round, room, err = e.rounds.ForceFinish(ctx, roundID)
		} else {
			round, room, err = e.rounds.FinishRound(ctx, roundID)
		}
		if err != nil {
			return err
		}
		members, err := e.core.members(ctx, room)
		if err != nil {
			return err
		}
		result = RoundResultView{
			Round:   newRoundView(round, nicknameOf(members, round.SpeakerID)),
			Results: append([]VoteResult{}, round.Results...),
			Scores:  make(map[string]int, len(members)),
			Room:    newRoomView(room, members),
		}
		for _, member := range members {
			result.Scores[member.ID] = member.Score
		}
		return nil
	})
	return result, err
}

func (e *Engine) publishResult(result RoundResultView) {
	roomID := result.Round.RoomID
	e.publish(RoundResultTopic(roomID), result)
	e.publish(RoomTopic(roomID), result.Room)
}

func (e *Engine) activeSpeakerRound(ctx context.Context, playerID string) (*GameRound, bool) {
	var round *GameRound
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		player, err := e.core.store.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		room, err := e.core.store.GetRoom(ctx, player.RoomID)
		if err != nil {
			return err
		}
		if room.Status != StatusPlaying {
			return nil
		}
		active, err := e.core.store.FindActiveRoundByRoom(ctx, room.ID)
		if errors.Is(err, ErrRoundNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if active.SpeakerID == playerID {
			round = active
		}
		return nil
	})
	if err != nil && KindOf(err) != KindNotFound {
		e.log.Warn().Err(err).Str("player_id", playerID).Msg("active round lookup failed")
	}
	return round, round != nil
}

// forceFinish never reports failure to the caller. Store failures are
// retried in the background with exponential backoff.
func (e *Engine) forceFinish(ctx context.Context, roundID, reason string) {
	log := e.log.With().Str("round_id", roundID).Str("reason", reason).Logger()
	result, err := e.finish(ctx, roundID, true)
	if err == nil {
		log.Info().Msg("round force-finished")
		e.publishResult(result)
		return
	}
	if KindOf(err) != KindExternal {
		log.Warn().Err(err).Msg("forced finish rejected")
		return
	}
	log.Error().Err(err).Msg("forced finish failed, retrying in background")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = e.forceBackoff
		result, err := backoff.Retry(e.bg, func() (RoundResultView, error) {
			result, err := e.finish(e.bg, roundID, true)
			if err != nil && KindOf(err) != KindExternal {
				return result, backoff.Permanent(err)
			}
			return result, err
		},
			backoff.WithBackOff(policy),
			backoff.WithMaxTries(uint(e.forceRetries)),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Warn().Err(err).Dur("next", next).Msg("forced finish attempt failed")
			}),
		)
		if err != nil {
			log.Error().Err(err).Msg("forced finish gave up")
			return
		}
		log.Info().Msg("round force-finished after retry")
		e.publishResult(result)
	}()
}

func (e *Engine) HandleDisconnect(ctx context.Context, playerID string) error {
	player, room, err := e.setOnline(ctx, playerID, false)
	if err != nil {
		return err
	}
	e.log.Info().Str("room_id", room.ID).Str("player_id", player.ID).Msg("player disconnected")
	e.publish(DisconnectTopic(room.ID), PresenceNotice{
		RoomID:   room.ID,
		PlayerID: player.ID,
		Nickname: player.Nickname,
		Online:   false,
	})
	e.publishRoom(ctx, room.ID)

	if active, ok := e.activeSpeakerRound(ctx, playerID); ok {
		e.forceFinish(ctx, active.ID, "speaker disconnected")
	}
	return nil
}

func (e *Engine) HandleReconnect(ctx context.Context, playerID string) (ReconnectView, error) {
	player, room, err := e.setOnline(ctx, playerID, true)
	if err != nil {
		return ReconnectView{}, err
	}
	var view ReconnectView
	err = e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		var err error
		if view.Room, err = e.roomSnapshotByID(ctx, room.ID); err != nil {
			return err
		}
		active, err := e.core.store.FindActiveRoundByRoom(ctx, room.ID)
		if errors.Is(err, ErrRoundNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		roundView, err := e.roundSnapshot(ctx, active)
		if err != nil {
			return err
		}
		view.Round = &roundView
		return nil
	})
	if err != nil {
		return ReconnectView{}, err
	}
	e.log.Info().Str("room_id", room.ID).Str("player_id", player.ID).Msg("player reconnected")
	e.publish(ReconnectTopic(room.ID), PresenceNotice{
		RoomID:   room.ID,
		PlayerID: player.ID,
		Nickname: player.Nickname,
		Online:   true,
	})
	e.publish(RoomTopic(room.ID), view.Room)
	return view, nil
}

func (e *Engine) setOnline(ctx context.Context, playerID string, online bool) (*Player, *Room, error) {
	var (
		player *Player
		room   *Room
	)
	err := e.run(ctx, e.storeTimeout, func(ctx context.Context) error {
		var err error
		player, room, err = e.rooms.SetOnline(ctx, playerID, online)
		return err
	})
	return player, room, err
}
