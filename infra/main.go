package infra

import (
	"github.com/ducnh/coursereel/config"
	"github.com/ducnh/coursereel/infra/produce"
)

type Infra struct {
	Postgres      *PostgresClient
	Redis         *RedisClient
	Logger        *LoggerClient
	RabbitMQ      *RabbitMQClient
	Minio         *MinioClient
	Extraction    *ExtractionService
	Transcription *TranscriptionService
	Analysis      *AnalysisService
	Notify        *NotifyService
	Produce       *produce.Produce
}

var infraInstance *Infra

func InitInfra(cfg *config.Config) *Infra {
	if infraInstance != nil {
		return infraInstance
	}

	logger := InitLoggerClient(cfg.EnvConfig)
	if logger == nil {
		panic("Failed to initialize Logger service")
	}

	postgres := InitPostgresClient(cfg.EnvConfig)
	if postgres == nil {
		panic("Failed to initialize Postgres service")
	}

	redis := InitRedisClient(cfg.EnvConfig)
	if redis == nil {
		panic("Failed to initialize Redis service")
	}

	rabbitMQ := InitRabbitMQClient(cfg.EnvConfig)
	if rabbitMQ == nil {
		panic("Failed to initialize RabbitMQ service")
	}

	minio := InitMinioClient(cfg.EnvConfig)
	if minio == nil {
		panic("Failed to initialize MinIO service")
	}

	extraction := InitExtractionService(cfg.EnvConfig)
	if extraction == nil {
		panic("Failed to initialize Extraction service")
	}

	transcription := InitTranscriptionService(cfg.EnvConfig)
	if transcription == nil {
		panic("Failed to initialize Transcription service")
	}

	analysis := InitAnalysisService(cfg.EnvConfig)
	if analysis == nil {
		panic("Failed to initialize Analysis service")
	}

	notify := InitNotifyService(cfg.EnvConfig)
	if notify == nil {
		panic("Failed to initialize Notify service")
	}

	produceService := produce.InitProduce(rabbitMQ.Channel)
	if produceService == nil {
		panic("Failed to initialize Produce service")
	}

	infraInstance = &Infra{
		Postgres:      postgres,
		Redis:         redis,
		Logger:        logger,
		RabbitMQ:      rabbitMQ,
		Minio:         minio,
		Extraction:    extraction,
		Transcription: transcription,
		Analysis:      analysis,
		Notify:        notify,
		Produce:       produceService,
	}

	return infraInstance
}

func GetClient() *Infra {
	if infraInstance == nil {
		panic("Infra not initialized. Call InitInfra() first.")
	}
	return infraInstance
}
