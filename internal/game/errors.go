package game

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidState
	KindPermissionDenied
	KindValidationFailed
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindPermissionDenied:
		return "permission_denied"
	case KindValidationFailed:
		return "validation_failed"
	case KindExternal:
		return "external_dependency_failure"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by engine operations. Two errors match
// under errors.Is when their codes are equal, so callers can compare against
// the exported sentinels even when the message carries details.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func (e *Error) withMessage(format string, args ...any) *Error {
	out := *e
	out.Message = fmt.Sprintf(format, args...)
	return &out
}

func (e *Error) wrap(err error) *Error {
	out := *e
	out.Err = err
	return &out
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrRoomNotFound   = newError(KindNotFound, "room_not_found", "room not found")
	ErrPlayerNotFound = newError(KindNotFound, "player_not_found", "player not found")
	ErrRoundNotFound  = newError(KindNotFound, "round_not_found", "round not found")
	ErrImageNotFound  = newError(KindNotFound, "image_not_found", "image not found")

	ErrRoomNotJoinable    = newError(KindInvalidState, "room_not_joinable", "game already started")
	ErrRoomFull           = newError(KindInvalidState, "room_full", "room is full")
	ErrGameAlreadyStarted = newError(KindInvalidState, "game_already_started", "game already started")
	ErrRoomNotPlaying     = newError(KindInvalidState, "room_not_playing", "room is not playing")
	ErrWrongPhase         = newError(KindInvalidState, "wrong_phase", "operation not allowed in the current phase")
	ErrRoundFinished      = newError(KindInvalidState, "round_finished", "round already finished")
	ErrRoundInProgress    = newError(KindInvalidState, "round_in_progress", "a round is already in progress")
	ErrPlayerReady        = newError(KindInvalidState, "player_ready", "cancel ready before changing images")
	ErrNoOnlinePlayers    = newError(KindInvalidState, "no_online_players", "no online players")

	ErrPermissionDenied = newError(KindPermissionDenied, "permission_denied", "only the host can do that")

	ErrNicknameTaken      = newError(KindValidationFailed, "nickname_taken", "nickname already taken")
	ErrNotEnoughPlayers   = newError(KindValidationFailed, "not_enough_players", "at least 4 players are required")
	ErrPlayersNotReady    = newError(KindValidationFailed, "players_not_ready", "some players are not ready")
	ErrInsufficientImages = newError(KindValidationFailed, "insufficient_images", "not enough images uploaded")
	ErrSpeakerNotFound    = newError(KindValidationFailed, "speaker_not_found", "speaker not found")
	ErrInvalidImageChoice = newError(KindValidationFailed, "invalid_image_choice", "invalid image choice")
	ErrPlayerNotInRoom    = newError(KindValidationFailed, "player_not_in_room", "player is not in this room")
	ErrInvalidInput       = newError(KindValidationFailed, "invalid_input", "invalid input")

	ErrStoreFailure       = newError(KindExternal, "store_failure", "store unavailable")
	ErrImageSourceFailure = newError(KindExternal, "image_source_failure", "image source unavailable")
)

// Store-level conditions. They never leave the engine: conflicts are retried
// and duplicate codes regenerate the code.
var (
	ErrConflict      = errors.New("store: version conflict")
	ErrDuplicateCode = errors.New("store: room code in use")
)

func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUnknown
}

// normalizeError turns store and context failures into ExternalDependencyFailure
// and leaves typed errors untouched.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStoreFailure.withMessage("store timed out").wrap(err)
	}
	return ErrStoreFailure.wrap(err)
}
