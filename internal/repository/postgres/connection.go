package postgres

import (
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"github.com/pierregrothe/graphrag-api-sub000/internal/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewConnection opens the database and runs migrations. The store is a
// required dependency: a connection failure here must abort startup — there
// is no in-memory fallback.
func NewConnection(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// Unique violations surface as gorm.ErrDuplicatedKey so services can
		// map them to conflicts instead of opaque internal errors.
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.APIKey{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func NewRepositories(db *gorm.DB) *repository.Repositories {
	return &repository.Repositories{
		User:    NewUserRepository(db),
		Session: NewSessionRepository(db),
		APIKey:  NewAPIKeyRepository(db),
	}
}
