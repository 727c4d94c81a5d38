package db

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bluff-master/internal/game"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const journalBuffer = 256

type journalEntry struct {
	topic   string
	payload any
	at      time.Time
}

// Journal records every broadcast in the events table. Publish never blocks:
// entries are written by a background goroutine and dropped when the buffer
// is full.
type Journal struct {
	db      *gorm.DB
	log     zerolog.Logger
	entries chan journalEntry
	timeout time.Duration
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ game.Broadcaster = (*Journal)(nil)

func NewJournal(conn *gorm.DB, log zerolog.Logger, timeout time.Duration) *Journal {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	j := &Journal{
		db:      conn,
		log:     log,
		entries: make(chan journalEntry, journalBuffer),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) Publish(topic string, payload any) {
	roomID, ok := game.TopicRoomID(topic)
	if !ok || roomID == "" {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.entries <- journalEntry{topic: topic, payload: payload, at: time.Now().UTC()}:
	default:
		j.log.Warn().Str("topic", topic).Msg("event journal full, dropping event")
	}
}

// Close stops accepting events and waits for pending ones to be written.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.entries)
	}
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)
	for entry := range j.entries {
		if err := j.write(entry); err != nil {
			j.log.Error().Err(err).Str("topic", entry.topic).Msg("journal event")
		}
	}
}

func (j *Journal) write(entry journalEntry) error {
	payload, err := json.Marshal(entry.payload)
	if err != nil {
		return err
	}
	roomID, _ := game.TopicRoomID(entry.topic)
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.db.WithContext(ctx).Create(&Event{
		RoomID:    roomID,
		Topic:     entry.topic,
		Payload:   datatypes.JSON(payload),
		CreatedAt: entry.at,
	}).Error
}

// RoomEvents returns the journaled events of one room, oldest first.
func RoomEvents(ctx context.Context, conn *gorm.DB, roomID string) ([]Event, error) {
	var records []Event
	err := conn.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at asc, id asc").
		Find(&records).Error
	return records, err
}
