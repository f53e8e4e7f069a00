package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Song struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Prompt string `gorm:"not null;default:''"`
	Name   string `gorm:"not null;default:''"`
	Lyric  string `gorm:"not null;default:''"`

	ClipIDs   []string `gorm:"serializer:json"`
	AudioURLs []string `gorm:"serializer:json"`
	VideoURLs []string `gorm:"serializer:json"`

	CredentialID string  `gorm:"index;not null;default:''"`
	Duration     float32 `gorm:"not null;default:0"`
}

func (s *Store) GetSong(ctx context.Context, id string) (*Song, error) {
	var v Song
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get song %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) SetSong(ctx context.Context, v *Song) error {
	if err := s.db.WithContext(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set song %s: %w", v.ID, err)
	}
	return nil
}

// ListSongs returns songs from newest to oldest.
func (s *Store) ListSongs(ctx context.Context, page, size int) ([]*Song, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	offset := (page - 1) * size
	vs := []*Song{}

	q := s.db.WithContext(ctx).Offset(offset).Limit(size).Order("created_at desc, id desc")
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list songs: %w", err)
	}
	return vs, nil
}
