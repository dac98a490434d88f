package infra

import (
	"fmt"
	"log"

	"github.com/ducnh/coursereel/config"
	"github.com/ducnh/coursereel/entity"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type PostgresClient struct {
	DB *gorm.DB
}

func InitPostgresClient(cfg *config.EnvConfig) *PostgresClient {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.Postgres.Host,
		cfg.Postgres.Username,
		cfg.Postgres.Password,
		cfg.Postgres.Database,
		cfg.Postgres.Port,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Postgres connection failed: %v", err)
	}

	if err := db.AutoMigrate(
		&entity.UploadSession{},
		&entity.Manifest{},
		&entity.Course{},
		&entity.CourseModule{},
		&entity.ProcessingQueueEntry{},
	); err != nil {
		log.Fatalf("Postgres migration failed: %v", err)
	}

	log.Println("Connected to Postgres:", cfg.Postgres.Host+":"+cfg.Postgres.Port)

	return &PostgresClient{DB: db}
}

// Ping checks the underlying connection, used by the batch pre-flight.
func (p *PostgresClient) Ping() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// PoolDegraded reports whether the connection pool is near exhaustion. The
// pre-flight treats this as a warning, not a blocker.
func (p *PostgresClient) PoolDegraded() bool {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return true
	}
	stats := sqlDB.Stats()
	return stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections
}
