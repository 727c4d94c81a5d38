package db

import (
	"time"

	"bluff-master/internal/game"

	"gorm.io/datatypes"
)

// Index names are matched when translating unique violations.
const (
	activeCodeIndex     = "idx_rooms_active_code"
	roomNicknameIndex   = "idx_players_room_nickname"
	activeRoundIndex    = "idx_rounds_active_room"
	statusFinishedValue = string(game.StatusFinished)
)

type Room struct {
	ID           string                      `gorm:"primaryKey;size:36"`
	Code         string                      `gorm:"size:12;not null;uniqueIndex:idx_rooms_active_code,where:status <> 'FINISHED'"`
	Mode         string                      `gorm:"size:16;not null"`
	Status       string                      `gorm:"size:16;not null;index"`
	MaxPlayers   int                         `gorm:"not null"`
	HostID       string                      `gorm:"size:36"`
	PlayerIDs    datatypes.JSONSlice[string] `gorm:"type:jsonb;not null"`
	CurrentRound int                         `gorm:"not null;default:0"`
	TotalRounds  int                         `gorm:"not null"`
	Version      int                         `gorm:"not null"`
	StartedAt    *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

type Player struct {
	ID        string                      `gorm:"primaryKey;size:36"`
	RoomID    string                      `gorm:"size:36;not null;index;uniqueIndex:idx_players_room_nickname"`
	Nickname  string                      `gorm:"size:64;not null;uniqueIndex:idx_players_room_nickname"`
	IsReady   bool                        `gorm:"not null;default:false"`
	IsOnline  bool                        `gorm:"not null;default:true"`
	Score     int                         `gorm:"not null;default:0"`
	ImageURLs datatypes.JSONSlice[string] `gorm:"type:jsonb;not null"`
	CreatedAt time.Time                   `gorm:"not null"`
	UpdatedAt time.Time                   `gorm:"not null;autoUpdateTime:false"`
}

type Round struct {
	ID                  string                                `gorm:"primaryKey;size:36"`
	RoomID              string                                `gorm:"size:36;not null;index;uniqueIndex:idx_rounds_active_room,where:is_finished = false"`
	Number              int                                   `gorm:"not null"`
	SpeakerID           string                                `gorm:"size:36;not null"`
	Phase               string                                `gorm:"size:32;not null"`
	ImageURLs           datatypes.JSONSlice[string]           `gorm:"type:jsonb;not null"`
	FakeImageURL        string                                `gorm:"not null"`
	SpeakerFakeImageURL string                                `gorm:"not null;default:''"`
	Votes               datatypes.JSONType[map[string]string] `gorm:"type:jsonb;not null"`
	Results             datatypes.JSONSlice[game.VoteResult]  `gorm:"type:jsonb;not null"`
	IsFinished          bool                                  `gorm:"not null;default:false"`
	Forced              bool                                  `gorm:"not null;default:false"`
	Version             int                                   `gorm:"not null"`
	CreatedAt           time.Time                             `gorm:"not null"`
	FinishedAt          *time.Time
}

// Image is an uploaded player photo.
type Image struct {
	ID          string    `gorm:"primaryKey;size:36"`
	PlayerID    string    `gorm:"size:36;not null;index"`
	ContentType string    `gorm:"size:64;not null"`
	Data        []byte    `gorm:"type:bytea;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

// Event is one journaled broadcast.
type Event struct {
	ID        uint           `gorm:"primaryKey"`
	RoomID    string         `gorm:"size:36;not null;index"`
	Topic     string         `gorm:"size:128;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func roomRecord(r *game.Room) Room {
	return Room{
		ID:           r.ID,
		Code:         r.Code,
		Mode:         string(r.Mode),
		Status:       string(r.Status),
		MaxPlayers:   r.MaxPlayers,
		HostID:       r.HostID,
		PlayerIDs:    nonNil(r.PlayerIDs),
		CurrentRound: r.CurrentRound,
		TotalRounds:  r.TotalRounds,
		Version:      r.Version,
		StartedAt:    r.StartedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (r Room) toGame() *game.Room {
	return &game.Room{
		ID:           r.ID,
		Code:         r.Code,
		Mode:         game.GameMode(r.Mode),
		Status:       game.RoomStatus(r.Status),
		MaxPlayers:   r.MaxPlayers,
		HostID:       r.HostID,
		PlayerIDs:    []string(r.PlayerIDs),
		CurrentRound: r.CurrentRound,
		TotalRounds:  r.TotalRounds,
		Version:      r.Version,
		StartedAt:    r.StartedAt,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func playerRecord(p *game.Player) Player {
	return Player{
		ID:        p.ID,
		RoomID:    p.RoomID,
		Nickname:  p.Nickname,
		IsReady:   p.IsReady,
		IsOnline:  p.IsOnline,
		Score:     p.Score,
		ImageURLs: nonNil(p.ImageURLs),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (p Player) toGame() *game.Player {
	return &game.Player{
		ID:        p.ID,
		RoomID:    p.RoomID,
		Nickname:  p.Nickname,
		IsReady:   p.IsReady,
		IsOnline:  p.IsOnline,
		Score:     p.Score,
		ImageURLs: []string(p.ImageURLs),
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func roundRecord(g *game.GameRound) Round {
	votes := g.Votes
	if votes == nil {
		votes = map[string]string{}
	}
	results := g.Results
	if results == nil {
		results = []game.VoteResult{}
	}
	return Round{
		ID:                  g.ID,
		RoomID:              g.RoomID,
		Number:              g.Number,
		SpeakerID:           g.SpeakerID,
		Phase:               string(g.Phase),
		ImageURLs:           nonNil(g.ImageURLs),
		FakeImageURL:        g.FakeImageURL,
		SpeakerFakeImageURL: g.SpeakerFakeImageURL,
		Votes:               datatypes.NewJSONType(votes),
		Results:             results,
		IsFinished:          g.IsFinished,
		Forced:              g.Forced,
		Version:             g.Version,
		CreatedAt:           g.CreatedAt,
		FinishedAt:          g.FinishedAt,
	}
}

func (r Round) toGame() *game.GameRound {
	votes := r.Votes.Data()
	if votes == nil {
		votes = map[string]string{}
	}
	var results []game.VoteResult
	if len(r.Results) > 0 {
		results = []game.VoteResult(r.Results)
	}
	return &game.GameRound{
		ID:                  r.ID,
		RoomID:              r.RoomID,
		Number:              r.Number,
		SpeakerID:           r.SpeakerID,
		Phase:               game.Phase(r.Phase),
		ImageURLs:           []string(r.ImageURLs),
		FakeImageURL:        r.FakeImageURL,
		SpeakerFakeImageURL: r.SpeakerFakeImageURL,
		Votes:               votes,
		Results:             results,
		IsFinished:          r.IsFinished,
		Forced:              r.Forced,
		Version:             r.Version,
		CreatedAt:           r.CreatedAt.UTC(),
		FinishedAt:          r.FinishedAt,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
