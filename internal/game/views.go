package game

import (
	"sort"
	"time"
)

type PlayerView struct {
	ID         string   `json:"id"`
	Nickname   string   `json:"nickname"`
	IsHost     bool     `json:"is_host"`
	IsReady    bool     `json:"is_ready"`
	IsOnline   bool     `json:"is_online"`
	Score      int      `json:"score"`
	ImageCount int      `json:"image_count"`
	ImageURLs  []string `json:"image_urls"`
}

// RoomView is the public room snapshot. Player image urls are left out:
// knowing a speaker's uploads would give the fake away.
type RoomView struct {
	ID             string       `json:"id"`
	Code           string       `json:"code"`
	Mode           GameMode     `json:"mode"`
	Status         RoomStatus   `json:"status"`
	MaxPlayers     int          `json:"max_players"`
	HostID         string       `json:"host_id"`
	CurrentRound   int          `json:"current_round"`
	TotalRounds    int          `json:"total_rounds"`
	RequiredImages int          `json:"required_images"`
	Players        []PlayerView `json:"players"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
}

// RoundView hides the fake image, the declared lie and vote targets until
// the round is revealed. Before that only the ids of voters are listed.
type RoundView struct {
	ID                  string            `json:"id"`
	RoomID              string            `json:"room_id"`
	Number              int               `json:"number"`
	SpeakerID           string            `json:"speaker_id"`
	SpeakerNickname     string            `json:"speaker_nickname,omitempty"`
	Phase               Phase             `json:"phase"`
	ImageURLs           []string          `json:"image_urls"`
	VotedPlayerIDs      []string          `json:"voted_player_ids"`
	FakeImageURL        string            `json:"fake_image_url,omitempty"`
	SpeakerFakeImageURL string            `json:"speaker_fake_image_url,omitempty"`
	Votes               map[string]string `json:"votes,omitempty"`
	Results             []VoteResult      `json:"results,omitempty"`
	IsFinished          bool              `json:"is_finished"`
	Forced              bool              `json:"forced,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	FinishedAt          *time.Time        `json:"finished_at,omitempty"`
}

type RoundResultView struct {
	Round   RoundView      `json:"round"`
	Results []VoteResult   `json:"results"`
	Scores  map[string]int `json:"scores"`
	Room    RoomView       `json:"room"`
}

// VoteReceipt is what the voter gets back. It echoes the stored choice,
// which for the speaker is the declared lie.
type VoteReceipt struct {
	RoundID   string `json:"round_id"`
	PlayerID  string `json:"player_id"`
	ImageURL  string `json:"image_url"`
	IsSpeaker bool   `json:"is_speaker"`
}

// VoteNotice is broadcast after a vote. It never carries the chosen image.
type VoteNotice struct {
	RoundID  string `json:"round_id"`
	PlayerID string `json:"player_id"`
	Votes    int    `json:"votes"`
}

type PresenceNotice struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
	Online   bool   `json:"online"`
	Reason   string `json:"reason,omitempty"`
}

type ReconnectView struct {
	Room  RoomView   `json:"room"`
	Round *RoundView `json:"round,omitempty"`
}

func newPlayerView(player *Player, hostID string, withImages bool) PlayerView {
	view := PlayerView{
		ID:         player.ID,
		Nickname:   player.Nickname,
		IsHost:     player.ID == hostID,
		IsReady:    player.IsReady,
		IsOnline:   player.IsOnline,
		Score:      player.Score,
		ImageCount: len(player.ImageURLs),
	}
	if withImages {
		view.ImageURLs = append([]string{}, player.ImageURLs...)
	}
	return view
}

func newRoomView(room *Room, members []*Player) RoomView {
	view := RoomView{
		ID:             room.ID,
		Code:           room.Code,
		Mode:           room.Mode,
		Status:         room.Status,
		MaxPlayers:     room.MaxPlayers,
		HostID:         room.HostID,
		CurrentRound:   room.CurrentRound,
		TotalRounds:    room.TotalRounds,
		RequiredImages: room.RequiredImages(),
		Players:        make([]PlayerView, 0, len(members)),
		CreatedAt:      room.CreatedAt,
		StartedAt:      room.StartedAt,
	}
	for _, member := range members {
		view.Players = append(view.Players, newPlayerView(member, room.HostID, false))
	}
	return view
}

func newRoundView(round *GameRound, speakerNickname string) RoundView {
	view := RoundView{
		ID:              round.ID,
		RoomID:          round.RoomID,
		Number:          round.Number,
		SpeakerID:       round.SpeakerID,
		SpeakerNickname: speakerNickname,
		Phase:           round.Phase,
		ImageURLs:       append([]string{}, round.ImageURLs...),
		VotedPlayerIDs:  make([]string, 0, len(round.Votes)),
		IsFinished:      round.IsFinished,
		Forced:          round.Forced,
		CreatedAt:       round.CreatedAt,
		FinishedAt:      round.FinishedAt,
	}
	for playerID := range round.Votes {
		view.VotedPlayerIDs = append(view.VotedPlayerIDs, playerID)
	}
	sort.Strings(view.VotedPlayerIDs)

	if round.Phase == PhaseRevealing || round.Phase == PhaseFinished {
		view.FakeImageURL = round.FakeImageURL
		view.SpeakerFakeImageURL = round.SpeakerFakeImageURL
		view.Votes = make(map[string]string, len(round.Votes))
		for playerID, image := range round.Votes {
			view.Votes[playerID] = image
		}
		view.Results = append([]VoteResult{}, round.Results...)
	}
	return view
}

func nicknameOf(members []*Player, playerID string) string {
	for _, member := range members {
		if member.ID == playerID {
			return member.Nickname
		}
	}
	return ""
}
