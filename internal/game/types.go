package game

import (
	"slices"
	"time"
)

type GameMode string

const (
	ModeNormal GameMode = "NORMAL"
	ModeQuick  GameMode = "QUICK"
)

type RoomStatus string

const (
	StatusWaiting  RoomStatus = "WAITING"
	StatusPlaying  RoomStatus = "PLAYING"
	StatusFinished RoomStatus = "FINISHED"
)

type Phase string

const (
	PhaseStoryTelling Phase = "STORY_TELLING"
	PhaseQuestioning  Phase = "QUESTIONING"
	PhaseVoting       Phase = "VOTING"
	PhaseRevealing    Phase = "REVEALING"
	PhaseFinished     Phase = "FINISHED"
)

const (
	MinRoomSize       = 2
	MaxRoomSize       = 10
	MinStartPlayers   = 4
	RoomCodeLength    = 6
	CandidateImages   = 4
	SpeakerImageCount = 3
	quickRoundLimit   = 5
	quickImageCount   = 5
	maxNicknameLength = 20
)

// Room is the lobby and game instance. PlayerIDs is kept in join order.
type Room struct {
	ID           string
	Code         string
	MaxPlayers   int
	Mode         GameMode
	Status       RoomStatus
	PlayerIDs    []string
	HostID       string
	CurrentRound int
	TotalRounds  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	Version      int
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	out.PlayerIDs = slices.Clone(r.PlayerIDs)
	if r.StartedAt != nil {
		started := *r.StartedAt
		out.StartedAt = &started
	}
	return &out
}

func (r *Room) HasMember(playerID string) bool {
	return slices.Contains(r.PlayerIDs, playerID)
}

func (r *Room) removeMember(playerID string) bool {
	index := slices.Index(r.PlayerIDs, playerID)
	if index < 0 {
		return false
	}
	r.PlayerIDs = slices.Delete(r.PlayerIDs, index, index+1)
	return true
}

func (r *Room) RequiredImages() int {
	return requiredImages(r.Mode, r.MaxPlayers)
}

func totalRounds(mode GameMode, maxPlayers int) int {
	if mode == ModeQuick {
		return min(quickRoundLimit, maxPlayers)
	}
	return maxPlayers
}

func requiredImages(mode GameMode, maxPlayers int) int {
	if mode == ModeQuick {
		return quickImageCount
	}
	return maxPlayers + 2
}

type Player struct {
	ID        string
	Nickname  string
	RoomID    string
	IsReady   bool
	Score     int
	ImageURLs []string
	IsOnline  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	out := *p
	out.ImageURLs = slices.Clone(p.ImageURLs)
	return &out
}

type GameRound struct {
	ID                  string
	RoomID              string
	Number              int
	SpeakerID           string
	Phase               Phase
	ImageURLs           []string
	FakeImageURL        string
	SpeakerFakeImageURL string
	Votes               map[string]string
	IsFinished          bool
	Forced              bool
	Results             []VoteResult
	CreatedAt           time.Time
	FinishedAt          *time.Time
	Version             int
}

func (g *GameRound) Clone() *GameRound {
	if g == nil {
		return nil
	}
	out := *g
	out.ImageURLs = slices.Clone(g.ImageURLs)
	out.Results = slices.Clone(g.Results)
	out.Votes = make(map[string]string, len(g.Votes))
	for playerID, image := range g.Votes {
		out.Votes[playerID] = image
	}
	if g.FinishedAt != nil {
		finished := *g.FinishedAt
		out.FinishedAt = &finished
	}
	return &out
}

// ResolvedFakeImage is the scoring target: the declared lie when the speaker
// picked one, the fabricated image otherwise.
func (g *GameRound) ResolvedFakeImage() string {
	if g.SpeakerFakeImageURL != "" {
		return g.SpeakerFakeImageURL
	}
	return g.FakeImageURL
}

func (g *GameRound) isCandidate(imageURL string) bool {
	return slices.Contains(g.ImageURLs, imageURL)
}

type VoteResult struct {
	PlayerID      string `json:"player_id"`
	Nickname      string `json:"nickname"`
	VotedImageURL string `json:"voted_image_url,omitempty"`
	IsCorrect     bool   `json:"is_correct"`
	ScoreChange   int    `json:"score_change"`
	IsSpeaker     bool   `json:"is_speaker"`
}
