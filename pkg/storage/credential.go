package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

const (
	DefaultQuota    = 5
	DefaultLifetime = 7 * 24 * time.Hour
)

// Credential is a provider session cookie with its remaining generations.
// It is usable iff Quota > 0, it is not busy and it hasn't expired.
type Credential struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Content string `gorm:"not null;default:''"`
	// ContentHash is the sha256 of the content, unique so that concurrent
	// adds of the same cookie can't both succeed.
	ContentHash *string   `gorm:"uniqueIndex;size:64"`
	Quota       int       `gorm:"not null;default:0"`
	Busy        bool      `gorm:"index;not null;default:false"`
	ExpiresAt   time.Time `gorm:"index"`
	Remark      string    `gorm:"not null;default:''"`
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Usable reports whether the credential can be acquired at the given time.
func (c *Credential) Usable(now time.Time) bool {
	return c.Quota > 0 && !c.Busy && now.Before(c.ExpiresAt)
}

// Redacted returns a representation of the content safe for logs.
func (c *Credential) Redacted() string {
	if len(c.Content) <= 8 {
		return "***"
	}
	return c.Content[:4] + "***" + c.Content[len(c.Content)-4:]
}

func usable(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Where("quota > ? AND busy = ? AND expires_at > ?", 0, false, now)
}

// ListCredentials returns every credential in insertion order.
func (s *Store) ListCredentials(ctx context.Context) ([]*Credential, error) {
	vs := []*Credential{}
	if err := s.db.WithContext(ctx).Order("created_at asc, id asc").Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list credentials: %w", err)
	}
	return vs, nil
}

func (s *Store) GetCredential(ctx context.Context, id string) (*Credential, error) {
	var v Credential
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get credential %s: %w", id, err)
	}
	return &v, nil
}

// NextCredential returns the first usable credential in insertion order.
func (s *Store) NextCredential(ctx context.Context) (*Credential, error) {
	var v Credential
	q := usable(s.db.WithContext(ctx), time.Now().UTC())
	if err := q.Order("created_at asc, id asc").First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get next credential: %w", err)
	}
	return &v, nil
}

// AcquireCredential marks the credential as busy if it is still usable.
// The check and the update are a single statement, so only one of several
// concurrent callers can succeed for the same credential.
func (s *Store) AcquireCredential(ctx context.Context, id string) (bool, error) {
	q := usable(s.db.WithContext(ctx).Model(&Credential{}).Where("id = ?", id), time.Now().UTC())
	res := q.Update("busy", true)
	if res.Error != nil {
		return false, fmt.Errorf("storage: failed to acquire credential %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseCredential sets the quota, clears the busy flag and optionally
// updates the expiry.
func (s *Store) ReleaseCredential(ctx context.Context, id string, quota int, expiry *time.Time) error {
	if quota < 0 {
		quota = 0
	}
	values := map[string]any{
		"quota": quota,
		"busy":  false,
	}
	if expiry != nil {
		values["expires_at"] = expiry.UTC()
	}
	if err := s.db.WithContext(ctx).Model(&Credential{}).Where("id = ?", id).Updates(values).Error; err != nil {
		return fmt.Errorf("storage: failed to release credential %s: %w", id, err)
	}
	return nil
}

// SetCredentialQuota updates the quota leaving the busy flag untouched.
func (s *Store) SetCredentialQuota(ctx context.Context, id string, quota int) error {
	if quota < 0 {
		quota = 0
	}
	if err := s.db.WithContext(ctx).Model(&Credential{}).Where("id = ?", id).Update("quota", quota).Error; err != nil {
		return fmt.Errorf("storage: failed to set credential quota %s: %w", id, err)
	}
	return nil
}

// RefreshCredential updates quota and/or expiry only if the credential is
// not busy. It returns false if the credential was skipped.
func (s *Store) RefreshCredential(ctx context.Context, id string, quota *int, expiry *time.Time) (bool, error) {
	values := map[string]any{}
	if quota != nil {
		q := *quota
		if q < 0 {
			q = 0
		}
		values["quota"] = q
	}
	if expiry != nil {
		values["expires_at"] = expiry.UTC()
	}
	if len(values) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&Credential{}).Where("id = ? AND busy = ?", id, false).Updates(values)
	if res.Error != nil {
		return false, fmt.Errorf("storage: failed to refresh credential %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AddCredential stores a new credential. It fails with ErrAlreadyExists if
// a credential with the exact same content exists.
func (s *Store) AddCredential(ctx context.Context, content string, quota int, expiry time.Time) (*Credential, error) {
	hash := contentHash(content)
	v := &Credential{
		ID:          ulid.Make().String(),
		Content:     content,
		ContentHash: &hash,
		Quota:       quota,
		ExpiresAt:   expiry.UTC(),
	}
	err := s.db.WithContext(ctx).Create(v).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		// Not every driver translates constraint errors, look the hash up
		// before reporting a failure.
		var n int64
		if cerr := s.db.WithContext(ctx).Model(&Credential{}).Where("content_hash = ?", hash).Count(&n).Error; cerr == nil && n > 0 {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("storage: failed to add credential: %w", err)
	}
	return v, nil
}

func (s *Store) SetCredentialRemark(ctx context.Context, id, remark string) error {
	if err := s.db.WithContext(ctx).Model(&Credential{}).Where("id = ?", id).Update("remark", remark).Error; err != nil {
		return fmt.Errorf("storage: failed to set credential remark %s: %w", id, err)
	}
	return nil
}

// UsableQuota returns the sum of the quota of all usable credentials.
func (s *Store) UsableQuota(ctx context.Context) (int, error) {
	var total int64
	q := usable(s.db.WithContext(ctx).Model(&Credential{}), time.Now().UTC())
	if err := q.Select("COALESCE(SUM(quota), 0)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("storage: failed to sum usable quota: %w", err)
	}
	return int(total), nil
}
