package config

import (
	"os"
	"strconv"
)

type EnvConfig struct {
	Postgres struct {
		Host     string
		Database string
		Username string
		Password string
		Port     string
	}
	Redis struct {
		Password string
		Database int
		Host     string
		Port     string
	}
	RabbitMQ struct {
		Host     string
		Port     string
		Username string
		Password string
	}
	Minio struct {
		Endpoint     string
		RootUser     string
		RootPassword string
		UseSSL       bool
	}
	JWT struct {
		SecretKey string
		Expire    int
	}
	Upload struct {
		ChunkSize         int64  // chunk size handed to clients (500 MiB)
		ChunkedThreshold  int64  // above this the client must use chunked transport (5 GiB)
		ResumableMaxSize  int64  // resumable create rejects files above this with 413
		FrameSize         int64  // resumable frame size (8 MiB)
		ComposeLimit      int64  // above this, complete returns a chunk manifest instead of merging
		TempBucket        string // bucket for in-flight chunks and resumable frames
		MediaBucket       string // bucket for finished objects
		SessionTTLHours   int
		PresignExpiryMins int
	}
	Pipeline struct {
		MaxAttempts      int
		PollIntervalSecs int
		ExtractTimeout   int // minutes
		WatchdogSpec     string
		BatchConcurrency int // reserved knob, batches run sequentially by default
	}
	ExternalService struct {
		ExtractionServiceURL    string
		TranscriptionServiceURL string
		EmailServiceURL         string
		AIServiceURL            string
	}
	Grafana struct {
		OTLPEndpoint string
		ServiceName  string
	}
	Environment struct {
		Mode  string
		Group string
	}
	DomainName string
}

func LoadEnvConfig() *EnvConfig {
	var config EnvConfig

	// Postgres
	config.Postgres.Host = os.Getenv("PGPOOL_HOST")
	config.Postgres.Database = os.Getenv("PGPOOL_DB")
	config.Postgres.Username = os.Getenv("PGPOOL_USER")
	config.Postgres.Password = os.Getenv("PGPOOL_PASSWORD")
	config.Postgres.Port = os.Getenv("PGPOOL_PORT")
	if config.Postgres.Port == "" {
		config.Postgres.Port = "5432"
	}

	// Redis
	config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	config.Redis.Database, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	config.Redis.Host = os.Getenv("REDIS_HOST")
	config.Redis.Port = os.Getenv("REDIS_PORT")
	if config.Redis.Port == "" {
		config.Redis.Port = "6379"
	}

	// RabbitMQ
	config.RabbitMQ.Host = os.Getenv("RABBITMQ_HOST")
	if config.RabbitMQ.Host == "" {
		config.RabbitMQ.Host = "localhost"
	}
	config.RabbitMQ.Port = os.Getenv("RABBITMQ_PORT")
	if config.RabbitMQ.Port == "" {
		config.RabbitMQ.Port = "5672"
	}
	config.RabbitMQ.Username = os.Getenv("RABBITMQ_USER")
	if config.RabbitMQ.Username == "" {
		config.RabbitMQ.Username = "guest"
	}
	config.RabbitMQ.Password = os.Getenv("RABBITMQ_PASSWORD")
	if config.RabbitMQ.Password == "" {
		config.RabbitMQ.Password = "guest"
	}

	// MinIO
	config.Minio.Endpoint = os.Getenv("MINIO_ENDPOINT")
	config.Minio.RootUser = os.Getenv("MINIO_ROOT_USER")
	config.Minio.RootPassword = os.Getenv("MINIO_ROOT_PASSWORD")
	config.Minio.UseSSL = os.Getenv("MINIO_USE_SSL") == "true"

	// JWT
	config.JWT.SecretKey = os.Getenv("JWT_SECRET_KEY")
	if val := os.Getenv("JWT_EXPIRE"); val != "" {
		config.JWT.Expire, _ = strconv.Atoi(val)
	} else {
		config.JWT.Expire = 3600 * 24
	}

	// Upload limits
	config.Upload.ChunkSize = envInt64("UPLOAD_CHUNK_SIZE", 500*1024*1024)
	config.Upload.ChunkedThreshold = envInt64("UPLOAD_CHUNKED_THRESHOLD", 5*1024*1024*1024)
	config.Upload.ResumableMaxSize = envInt64("UPLOAD_RESUMABLE_MAX_SIZE", 5*1024*1024*1024)
	config.Upload.FrameSize = envInt64("UPLOAD_FRAME_SIZE", 8*1024*1024)
	config.Upload.ComposeLimit = envInt64("UPLOAD_COMPOSE_LIMIT", 50*1024*1024*1024)
	config.Upload.TempBucket = os.Getenv("UPLOAD_TEMP_BUCKET")
	if config.Upload.TempBucket == "" {
		config.Upload.TempBucket = "temp-uploads"
	}
	config.Upload.MediaBucket = os.Getenv("UPLOAD_MEDIA_BUCKET")
	if config.Upload.MediaBucket == "" {
		config.Upload.MediaBucket = "course-media"
	}
	config.Upload.SessionTTLHours = envInt("UPLOAD_SESSION_TTL_HOURS", 24)
	config.Upload.PresignExpiryMins = envInt("UPLOAD_PRESIGN_EXPIRY_MINS", 60)

	// Pipeline
	config.Pipeline.MaxAttempts = envInt("PIPELINE_MAX_ATTEMPTS", 3)
	config.Pipeline.PollIntervalSecs = envInt("PIPELINE_POLL_INTERVAL_SECS", 15)
	config.Pipeline.ExtractTimeout = envInt("PIPELINE_EXTRACT_TIMEOUT_MINS", 180)
	config.Pipeline.WatchdogSpec = os.Getenv("PIPELINE_WATCHDOG_SPEC")
	if config.Pipeline.WatchdogSpec == "" {
		config.Pipeline.WatchdogSpec = "@every 1m"
	}
	config.Pipeline.BatchConcurrency = envInt("PIPELINE_BATCH_CONCURRENCY", 1)

	// External services
	config.ExternalService.ExtractionServiceURL = os.Getenv("EXTRACTION_SERVICE_URL")
	if config.ExternalService.ExtractionServiceURL == "" {
		config.ExternalService.ExtractionServiceURL = "http://localhost:8091"
	}
	config.ExternalService.TranscriptionServiceURL = os.Getenv("TRANSCRIPTION_SERVICE_URL")
	if config.ExternalService.TranscriptionServiceURL == "" {
		config.ExternalService.TranscriptionServiceURL = "http://localhost:8092"
	}
	config.ExternalService.EmailServiceURL = os.Getenv("EMAIL_SERVICE_URL")
	if config.ExternalService.EmailServiceURL == "" {
		config.ExternalService.EmailServiceURL = "http://localhost:8093"
	}
	config.ExternalService.AIServiceURL = os.Getenv("AI_SERVICE_URL")
	if config.ExternalService.AIServiceURL == "" {
		config.ExternalService.AIServiceURL = "http://localhost:8094"
	}

	// Grafana/OpenTelemetry
	config.Grafana.OTLPEndpoint = os.Getenv("GRAFANA_OTLP_ENDPOINT")
	config.Grafana.ServiceName = os.Getenv("SERVICE_NAME")
	if config.Grafana.ServiceName == "" {
		config.Grafana.ServiceName = "coursereel"
	}

	config.Environment.Mode = os.Getenv("DEPLOY_ENV")
	if config.Environment.Mode == "" {
		config.Environment.Mode = "development"
	}
	config.Environment.Group = os.Getenv("GROUP_NAME")
	if config.Environment.Group == "" {
		config.Environment.Group = "local"
	}

	config.DomainName = os.Getenv("DOMAIN_NAME")
	if config.DomainName == "" {
		config.DomainName = "localhost:8080"
	}

	return &config
}

func envInt64(key string, def int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
