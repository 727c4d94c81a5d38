package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

const DefaultFallbackImageURL = "https://picsum.photos/id/29/800/600.jpg?hmac=KbDC2qhBvoFM4XpOZrAnybO4JNiXS9mox0PORy6NCJA"

// Rounds drives a round through STORY_TELLING, QUESTIONING, VOTING,
// REVEALING and FINISHED. ForceFinish is the only way to skip phases.
type Rounds struct {
	*core
	images       ImageSource
	imageTimeout time.Duration
	fallbackURL  string

	rngMu sync.Mutex
	rng   *rand.Rand
}

func (r *Rounds) StartRound(ctx context.Context, roomID string) (*GameRound, *Room, error) {
	room, unlock, err := r.lockRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if room.Status != StatusPlaying {
		return nil, nil, ErrRoomNotPlaying
	}
	_, err = r.store.FindActiveRoundByRoom(ctx, room.ID)
	if err == nil {
		return nil, nil, ErrRoundInProgress
	}
	if !errors.Is(err, ErrRoundNotFound) {
		return nil, nil, err
	}

	members, err := r.members(ctx, room)
	if err != nil {
		return nil, nil, err
	}
	online := make([]*Player, 0, len(members))
	for _, member := range members {
		if member.IsOnline {
			online = append(online, member)
		}
	}
	if len(online) == 0 {
		return nil, nil, ErrNoOnlinePlayers
	}
	speaker, err := SelectSpeaker(room.CurrentRound, room.HostID, online)
	if err != nil {
		return nil, nil, err
	}
	if len(speaker.ImageURLs) < SpeakerImageCount {
		return nil, nil, ErrInsufficientImages.withMessage("speaker %s has %d of %d images", speaker.Nickname, len(speaker.ImageURLs), SpeakerImageCount)
	}

	candidates := r.sample(speaker.ImageURLs, SpeakerImageCount)
	fake := r.fabricatedImage(ctx, room.ID)
	candidates = append(candidates, fake)
	r.shuffle(candidates)

	now := r.now()
	round := &GameRound{
		ID:           r.newID(),
		RoomID:       room.ID,
		Number:       room.CurrentRound + 1,
		SpeakerID:    speaker.ID,
		Phase:        PhaseStoryTelling,
		ImageURLs:    candidates,
		FakeImageURL: fake,
		Votes:        make(map[string]string),
		CreatedAt:    now,
	}
	room.CurrentRound = round.Number
	room.UpdatedAt = now
	err = r.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.SaveRound(ctx, round); err != nil {
			return err
		}
		return tx.SaveRoom(ctx, room)
	})
	if err != nil {
		return nil, nil, err
	}
	r.log.Info().
		Str("room_id", room.ID).
		Str("round_id", round.ID).
		Int("round", round.Number).
		Str("speaker_id", speaker.ID).
		Msg("round started")
	return round, room, nil
}

// fabricatedImage never fails: any ImageSource error falls back to the
// configured default.
func (r *Rounds) fabricatedImage(ctx context.Context, roomID string) string {
	if r.images == nil {
		return r.fallbackURL
	}
	ctx, cancel := context.WithTimeout(ctx, r.imageTimeout)
	defer cancel()
	url, err := r.images.PickFabricatedImage(ctx)
	if err != nil || url == "" {
		r.log.Warn().Err(err).Str("room_id", roomID).Msg("fabricated image unavailable, using fallback")
		return r.fallbackURL
	}
	return url
}

func (r *Rounds) sample(images []string, n int) []string {
	picked := slices.Clone(images)
	r.shuffle(picked)
	return picked[:n:n]
}

func (r *Rounds) shuffle(values []string) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	r.rng.Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})
}

// AdvancePhase only moves STORY_TELLING to QUESTIONING. Later phases have
// their own operations.
func (r *Rounds) AdvancePhase(ctx context.Context, roundID string) (*GameRound, error) {
	return r.transition(ctx, roundID, PhaseStoryTelling, PhaseQuestioning)
}

func (r *Rounds) StartVoting(ctx context.Context, roundID string) (*GameRound, error) {
	return r.transition(ctx, roundID, PhaseQuestioning, PhaseVoting)
}

func (r *Rounds) transition(ctx context.Context, roundID string, from, to Phase) (*GameRound, error) {
	round, _, unlock, err := r.lockRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if round.IsFinished {
		return nil, ErrRoundFinished
	}
	if round.Phase != from {
		return nil, ErrWrongPhase.withMessage("round is in %s, expected %s", round.Phase, from)
	}
	round.Phase = to
	if err := r.store.SaveRound(ctx, round); err != nil {
		return nil, err
	}
	r.log.Debug().Str("round_id", round.ID).Str("phase", string(to)).Msg("phase advanced")
	return round, nil
}

// SubmitVote records a vote, or the speaker's declared lie. Both can be
// overwritten until the round leaves VOTING.
func (r *Rounds) SubmitVote(ctx context.Context, playerID, imageURL, roundID string) (*GameRound, error) {
	round, _, unlock, err := r.lockRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if round.IsFinished || round.Phase != PhaseVoting {
		return nil, ErrWrongPhase.withMessage("votes are only accepted while voting")
	}
	player, err := r.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if player.RoomID != round.RoomID {
		return nil, ErrPlayerNotInRoom
	}

	if player.ID == round.SpeakerID {
		if !round.isCandidate(imageURL) || imageURL == round.FakeImageURL {
			return nil, ErrInvalidImageChoice.withMessage("the declared lie must be one of your own images in this round")
		}
		round.SpeakerFakeImageURL = imageURL
	} else {
		if !round.isCandidate(imageURL) {
			return nil, ErrInvalidImageChoice
		}
		if round.Votes == nil {
			round.Votes = make(map[string]string)
		}
		round.Votes[player.ID] = imageURL
	}
	if err := r.store.SaveRound(ctx, round); err != nil {
		return nil, err
	}
	return round, nil
}

// RevealResult previews the outcome without touching scores. Repeated calls
// return the stored preview, or the committed results once finished.
func (r *Rounds) RevealResult(ctx context.Context, roundID string) (*GameRound, []VoteResult, error) {
	round, room, unlock, err := r.lockRound(ctx, roundID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	switch round.Phase {
	case PhaseRevealing, PhaseFinished:
		return round, round.Results, nil
	case PhaseVoting:
	default:
		return nil, nil, ErrWrongPhase.withMessage("results can only be revealed after voting")
	}

	members, err := r.members(ctx, room)
	if err != nil {
		return nil, nil, err
	}
	preview := scoreRound(members, round)
	round.Phase = PhaseRevealing
	round.Results = preview.Results
	if err := r.store.SaveRound(ctx, round); err != nil {
		return nil, nil, err
	}
	return round, round.Results, nil
}

func (r *Rounds) FinishRound(ctx context.Context, roundID string) (*GameRound, *Room, error) {
	round, room, unlock, err := r.lockRound(ctx, roundID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if round.IsFinished {
		return round, room, nil
	}
	if round.Phase != PhaseRevealing {
		return nil, nil, ErrWrongPhase.withMessage("reveal the results before finishing the round")
	}
	return r.commit(ctx, room, round, false)
}

// ForceFinish ends an unfinished round from any phase using whatever votes
// and declared lie exist. It is idempotent like FinishRound.
func (r *Rounds) ForceFinish(ctx context.Context, roundID string) (*GameRound, *Room, error) {
	round, room, unlock, err := r.lockRound(ctx, roundID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if round.IsFinished {
		return round, room, nil
	}
	return r.commit(ctx, room, round, true)
}

// commit applies score deltas and finishes the round and, after the last
// round, the room. Everything is written in one transaction.
func (r *Rounds) commit(ctx context.Context, room *Room, round *GameRound, forced bool) (*GameRound, *Room, error) {
	members, err := r.members(ctx, room)
	if err != nil {
		return nil, nil, err
	}
	outcome := r.stageFinish(members, room, round, forced)

	err = r.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.SavePlayers(ctx, members...); err != nil {
			return err
		}
		if err := tx.SaveRound(ctx, round); err != nil {
			return err
		}
		return tx.SaveRoom(ctx, room)
	})
	if err != nil {
		return nil, nil, err
	}
	r.log.Info().
		Str("room_id", room.ID).
		Str("round_id", round.ID).
		Bool("forced", forced).
		Int("correct_votes", outcome.CorrectVotes).
		Int("actual_voters", outcome.ActualVoters).
		Msg("round finished")
	return round, room, nil
}

func (c *core) stageFinish(members []*Player, room *Room, round *GameRound, forced bool) Outcome {
	outcome := scoreRound(members, round)
	now := c.now()
	for _, member := range members {
		member.Score += outcome.Deltas[member.ID]
		member.UpdatedAt = now
	}
	round.Phase = PhaseFinished
	round.IsFinished = true
	round.Forced = forced
	round.FinishedAt = &now
	round.Results = outcome.Results
	room.UpdatedAt = now
	if round.Number >= room.TotalRounds {
		room.Status = StatusFinished
	}
	return outcome
}
