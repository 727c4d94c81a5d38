package db

import (
	"context"
	"errors"

	"bluff-master/internal/images"

	"gorm.io/gorm"
)

// ImageStore keeps uploaded photos in the images table.
type ImageStore struct {
	db *gorm.DB
}

var _ images.BlobStore = (*ImageStore)(nil)

func NewImageStore(conn *gorm.DB) *ImageStore {
	return &ImageStore{db: conn}
}

func (s *ImageStore) Put(ctx context.Context, blob images.Blob) error {
	return s.db.WithContext(ctx).Create(&Image{
		ID:          blob.ID,
		PlayerID:    blob.PlayerID,
		ContentType: blob.ContentType,
		Data:        blob.Data,
		CreatedAt:   blob.CreatedAt,
	}).Error
}

func (s *ImageStore) Get(ctx context.Context, id string) (images.Blob, error) {
	var record Image
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return images.Blob{}, images.ErrBlobNotFound
		}
		return images.Blob{}, err
	}
	return images.Blob{
		ID:          record.ID,
		PlayerID:    record.PlayerID,
		ContentType: record.ContentType,
		Data:        record.Data,
		CreatedAt:   record.CreatedAt,
	}, nil
}

func (s *ImageStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Image{}).Error
}

func (s *ImageStore) DeleteByPlayer(ctx context.Context, playerID string) error {
	return s.db.WithContext(ctx).Where("player_id = ?", playerID).Delete(&Image{}).Error
}
