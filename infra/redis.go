package infra

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/ducnh/coursereel/config"
	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	Client *redis.Client
}

func InitRedisClient(cfg *config.EnvConfig) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Redis connection failed: %v", err)
	}

	log.Println("Connected to Redis:", cfg.Redis.Host+":"+cfg.Redis.Port)

	return &RedisClient{Client: client}
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errors.New("key not found in cache")
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

// ModuleProgress is the cached processing projection served to the UI so
// status polls do not hit Postgres on every request.
type ModuleProgress struct {
	Status          string    `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	ProgressStep    string    `json:"progress_step"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}

func moduleProgressKey(moduleID string) string {
	return "module:progress:" + moduleID
}

// SetModuleProgress caches the projection for five minutes; the pipeline
// refreshes it on every heartbeat.
func (r *RedisClient) SetModuleProgress(ctx context.Context, moduleID string, progress ModuleProgress) error {
	return r.Set(ctx, moduleProgressKey(moduleID), progress, 5*time.Minute)
}

func (r *RedisClient) GetModuleProgress(ctx context.Context, moduleID string) (*ModuleProgress, error) {
	var progress ModuleProgress
	if err := r.Get(ctx, moduleProgressKey(moduleID), &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (r *RedisClient) ClearModuleProgress(ctx context.Context, moduleID string) error {
	return r.Delete(ctx, moduleProgressKey(moduleID))
}
