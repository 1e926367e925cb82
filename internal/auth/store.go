package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zulandar/postavshik/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists the bearer credential across process restarts.
type Store interface {
	// Load returns the stored token, or "" when none is stored.
	Load(ctx context.Context) (string, error)
	// Save replaces the stored token.
	Save(ctx context.Context, token string) error
	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// GormStore keeps the token in the local state database under
// models.CredentialTokenKey.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore. The credentials table must already be
// migrated.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("auth: store: db is required")
	}
	return &GormStore{db: db}, nil
}

// Load implements Store.
func (s *GormStore) Load(ctx context.Context) (string, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).Where("`key` = ?", models.CredentialTokenKey).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("auth: load credential: %w", err)
	}
	return cred.Value, nil
}

// Save implements Store.
func (s *GormStore) Save(ctx context.Context, token string) error {
	cred := models.Credential{Key: models.CredentialTokenKey, Value: token}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&cred)
	if result.Error != nil {
		return fmt.Errorf("auth: save credential: %w", result.Error)
	}
	return nil
}

// Clear implements Store.
func (s *GormStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Where("`key` = ?", models.CredentialTokenKey).Delete(&models.Credential{}).Error
	if err != nil {
		return fmt.Errorf("auth: clear credential: %w", err)
	}
	return nil
}

// MemoryStore is a process-local Store, used by tests and by callers that
// must not touch disk.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}
