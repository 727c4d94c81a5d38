package game

import (
	"crypto/rand"
	"strings"
	"unicode"
	"unicode/utf8"
)

const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newRoomCode() (string, error) {
	buf := make([]byte, RoomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

// NormalizeNickname collapses whitespace and checks length and characters.
// Comparison after normalisation is case-sensitive.
func NormalizeNickname(nickname string) (string, error) {
	trimmed := strings.Join(strings.Fields(nickname), " ")
	if trimmed == "" {
		return "", ErrInvalidInput.withMessage("nickname is required")
	}
	if utf8.RuneCountInString(trimmed) > maxNicknameLength {
		return "", ErrInvalidInput.withMessage("nickname must be %d characters or fewer", maxNicknameLength)
	}
	for _, r := range trimmed {
		if !unicode.IsPrint(r) {
			return "", ErrInvalidInput.withMessage("nickname contains unsupported characters")
		}
	}
	return trimmed, nil
}

func validateRoomSettings(mode GameMode, maxPlayers int) error {
	if mode != ModeNormal && mode != ModeQuick {
		return ErrInvalidInput.withMessage("unknown game mode %q", mode)
	}
	if maxPlayers < MinRoomSize || maxPlayers > MaxRoomSize {
		return ErrInvalidInput.withMessage("max players must be between %d and %d", MinRoomSize, MaxRoomSize)
	}
	return nil
}
