package db

import (
	"context"
	"errors"

	"bluff-master/internal/game"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const uniqueViolation = "23505"

// Store is a game.Store backed by Postgres. Rooms and rounds are written with
// a version guard so concurrent writers cannot overwrite each other.
type Store struct {
	db *gorm.DB
}

var _ game.Store = (*Store)(nil)

func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

func (s *Store) GetRoom(ctx context.Context, id string) (*game.Room, error) {
	var record Room
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, notFound(err, game.ErrRoomNotFound)
	}
	return record.toGame(), nil
}

func (s *Store) FindRoomByCode(ctx context.Context, code string) (*game.Room, error) {
	var record Room
	err := s.db.WithContext(ctx).
		Where("code = ? AND status <> ?", code, statusFinishedValue).
		First(&record).Error
	if err != nil {
		return nil, notFound(err, game.ErrRoomNotFound)
	}
	return record.toGame(), nil
}

func (s *Store) SaveRoom(ctx context.Context, room *game.Room) error {
	record := roomRecord(room)
	record.Version = room.Version + 1
	if err := s.saveVersioned(ctx, &record, &Room{}, room.ID, room.Version); err != nil {
		return err
	}
	room.Version++
	return nil
}

func (s *Store) GetPlayer(ctx context.Context, id string) (*game.Player, error) {
	var record Player
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, notFound(err, game.ErrPlayerNotFound)
	}
	return record.toGame(), nil
}

func (s *Store) ListPlayersByRoom(ctx context.Context, roomID string) ([]*game.Player, error) {
	var records []Player
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]*game.Player, 0, len(records))
	for _, record := range records {
		out = append(out, record.toGame())
	}
	return out, nil
}

// SavePlayers upserts every player in one statement.
func (s *Store) SavePlayers(ctx context.Context, players ...*game.Player) error {
	if len(players) == 0 {
		return nil
	}
	records := make([]Player, 0, len(players))
	for _, player := range players {
		records = append(records, playerRecord(player))
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"room_id", "nickname", "is_ready", "is_online", "score", "image_urls", "updated_at",
		}),
	}).Create(&records).Error
	return translate(err)
}

func (s *Store) DeletePlayer(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Player{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return game.ErrPlayerNotFound
	}
	return nil
}

func (s *Store) GetRound(ctx context.Context, id string) (*game.GameRound, error) {
	var record Round
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, notFound(err, game.ErrRoundNotFound)
	}
	return record.toGame(), nil
}

func (s *Store) FindActiveRoundByRoom(ctx context.Context, roomID string) (*game.GameRound, error) {
	var record Round
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND is_finished = ?", roomID, false).
		Order("number desc").
		First(&record).Error
	if err != nil {
		return nil, notFound(err, game.ErrRoundNotFound)
	}
	return record.toGame(), nil
}

func (s *Store) SaveRound(ctx context.Context, round *game.GameRound) error {
	record := roundRecord(round)
	record.Version = round.Version + 1
	if err := s.saveVersioned(ctx, &record, &Round{}, round.ID, round.Version); err != nil {
		return err
	}
	round.Version++
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx game.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// saveVersioned inserts when version is 0 and otherwise updates the row only
// if its stored version still equals version. record already carries the
// next version.
func (s *Store) saveVersioned(ctx context.Context, record, model any, id string, version int) error {
	conn := s.db.WithContext(ctx)
	if version == 0 {
		return translate(conn.Create(record).Error)
	}
	result := conn.Model(model).
		Where("id = ? AND version = ?", id, version).
		Select("*").Omit("id", "created_at").
		Updates(record)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return game.ErrConflict
	}
	return nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// translate maps unique violations onto the errors the engine understands.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case activeCodeIndex:
		return game.ErrDuplicateCode
	case roomNicknameIndex:
		return game.ErrNicknameTaken
	case activeRoundIndex:
		return game.ErrRoundInProgress
	default:
		return game.ErrConflict
	}
}
