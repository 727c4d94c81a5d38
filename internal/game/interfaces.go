package game

import (
	"context"
	"strings"
)

// Store persists rooms, players and rounds. Implementations return copies:
// mutating a returned entity never changes stored state until it is saved.
// SaveRoom and SaveRound bump Version and fail with ErrConflict when the
// caller's Version is stale.
type Store interface {
	GetRoom(ctx context.Context, id string) (*Room, error)
	// FindRoomByCode only considers rooms that are not FINISHED.
	FindRoomByCode(ctx context.Context, code string) (*Room, error)
	SaveRoom(ctx context.Context, room *Room) error
	GetPlayer(ctx context.Context, id string) (*Player, error)
	ListPlayersByRoom(ctx context.Context, roomID string) ([]*Player, error)
	SavePlayers(ctx context.Context, players ...*Player) error
	DeletePlayer(ctx context.Context, id string) error
	GetRound(ctx context.Context, id string) (*GameRound, error)
	FindActiveRoundByRoom(ctx context.Context, roomID string) (*GameRound, error)
	SaveRound(ctx context.Context, round *GameRound) error
	// WithinTx runs fn against a transactional view. Either every write made
	// through the view is committed or none is.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type ImageSource interface {
	PickFabricatedImage(ctx context.Context) (string, error)
}

// Broadcaster fans snapshots out to room members. Publish must not block.
type Broadcaster interface {
	Publish(topic string, payload any)
}

type Fanout []Broadcaster

func (f Fanout) Publish(topic string, payload any) {
	for _, b := range f {
		if b != nil {
			b.Publish(topic, payload)
		}
	}
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(string, any) {}

const topicPrefix = "room/"

func RoomTopic(roomID string) string        { return topicPrefix + roomID }
func RoundTopic(roomID string) string       { return topicPrefix + roomID + "/round" }
func VoteTopic(roomID string) string        { return topicPrefix + roomID + "/vote" }
func RoundResultTopic(roomID string) string { return topicPrefix + roomID + "/round-result" }
func DisconnectTopic(roomID string) string  { return topicPrefix + roomID + "/player-disconnect" }
func ReconnectTopic(roomID string) string   { return topicPrefix + roomID + "/player-reconnect" }
func KickedTopic(roomID string) string      { return topicPrefix + roomID + "/kicked" }

func TopicRoomID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return "", false
	}
	roomID, _, _ := strings.Cut(rest, "/")
	return roomID, roomID != ""
}
