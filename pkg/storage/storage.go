package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type Store struct {
	dbType string
	open   gorm.Dialector
	db     *gorm.DB
	logger logger.Interface
}

func New(dbType, dbConn string, debug bool) (*Store, error) {
	var open gorm.Dialector
	switch dbType {
	case "postgres":
		open = postgres.Open(dbConn)
	case "mysql":
		open = mysql.Open(dbConn)
	case "sqlite", "":
		if dbConn == "" {
			dbConn = "sunobot.db"
		}
		dbType = "sqlite"
		open = sqlite.Open(dbConn)
	default:
		return nil, fmt.Errorf("storage: unknown db type: %s", dbType)
	}
	l := logger.Default.LogMode(logger.Silent)
	if debug {
		l = logger.Default.LogMode(logger.Warn)
	}
	return &Store{
		dbType: dbType,
		open:   open,
		logger: l,
	}, nil
}

func (s *Store) Start(ctx context.Context) error {
	// Launch the database connection in a goroutine so we can timeout if it
	// takes too long.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	errC := make(chan error, 1)
	go func() {
		db, err := gorm.Open(s.open, &gorm.Config{
			Logger:         s.logger,
			TranslateError: true,
		})
		if err != nil {
			errC <- fmt.Errorf("storage: failed to open database: %w", err)
			return
		}
		if s.dbType == "sqlite" {
			// SQLite allows a single writer, serialize access in the pool
			// instead of failing with "database is locked".
			sqlDB, err := db.DB()
			if err != nil {
				errC <- fmt.Errorf("storage: failed to get sql db: %w", err)
				return
			}
			sqlDB.SetMaxOpenConns(1)
		}
		s.db = db
		errC <- nil
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("storage: timed out opening database: %w", ctx.Err())
		}
		return ctx.Err()
	case err := <-errC:
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Stop() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("storage: failed to get sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("storage: failed to close database: %w", err)
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	init := !s.db.Migrator().HasTable(&Credential{})

	if err := s.db.AutoMigrate(
		&Credential{},
		&Song{},
	); err != nil {
		return fmt.Errorf("storage: failed to migrate database: %w", err)
	}

	// Custom migrations
	if err := s.customMigrate(init); err != nil {
		return err
	}
	return nil
}

func (s *Store) customMigrate(init bool) error {
	lastVersion := 2

	if !s.db.Migrator().HasTable(&Migration{}) {
		if err := s.db.Migrator().CreateTable(&Migration{}); err != nil {
			return fmt.Errorf("storage: failed to create table migrations: %w", err)
		}
		var version int
		if init {
			version = lastVersion
		}
		if err := s.db.Save(&Migration{ID: ulid.Make().String(), Version: version}).Error; err != nil {
			return fmt.Errorf("storage: failed to save migration version: %w", err)
		}
		if init {
			return nil
		}
	}

	// Get the current migration version
	var migration Migration
	if err := s.db.First(&migration).Error; err != nil {
		return fmt.Errorf("storage: failed to get migration version: %w", err)
	}

	for i := migration.Version + 1; i <= lastVersion; i++ {
		switch i {
		case 1:
			// Credentials created before expiry tracking get the default
			// lifetime; the expiry refresh job fixes them afterwards.
			expiry := time.Now().UTC().Add(DefaultLifetime)
			if err := s.db.Model(&Credential{}).
				Where("expires_at IS NULL OR expires_at < ?", time.Unix(0, 0).UTC()).
				Update("expires_at", expiry).Error; err != nil {
				return fmt.Errorf("storage: migration %d: %w", i, err)
			}
		case 2:
			// Hash the content of existing credentials. Duplicates added
			// before the unique index keep a null hash.
			var creds []*Credential
			if err := s.db.Order("created_at asc, id asc").Find(&creds).Error; err != nil {
				return fmt.Errorf("storage: migration %d: %w", i, err)
			}
			seen := map[string]bool{}
			for _, c := range creds {
				hash := contentHash(c.Content)
				if seen[hash] {
					continue
				}
				seen[hash] = true
				if err := s.db.Model(&Credential{}).Where("id = ?", c.ID).
					Update("content_hash", hash).Error; err != nil {
					return fmt.Errorf("storage: migration %d: %w", i, err)
				}
			}
		}
		migration.Version = i
		if err := s.db.Save(&migration).Error; err != nil {
			return fmt.Errorf("storage: failed to save migration version: %w", err)
		}
	}
	return nil
}
