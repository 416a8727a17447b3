package config

import (
	"fmt"
	"os"
	"strconv"
)

type NatsConfig struct {
	URL string
}

type RedisConfig struct {
	TTL            int
	ClientPassword string
	URL            string
}

type FreeCacheConfig struct {
	SIZE_BYTES int
	TTL        int
}

type MinioConfig struct {
	URL            string
	RESULTS_BUCKET string
	ACCESS_KEY     string
	SECRET_KEY     string
	USE_SSL        bool
}

type PostgresConfig struct {
	URL string
}

type SandboxConfig struct {
	SECCOMP_PROFILE    string
	CPU_QUOTA          int64
	MEMORY_LIMIT_BYTES int64
	MAX_OUTPUT_BYTES   int64
	DEFAULT_TIMEOUT_MS int
}

type WorkerConfig struct {
	POOL_SIZE int
}

type ServerConfig struct {
	ADDR string
}

type Config struct {
	SERVICE_NAME string
	TRACE_URL    string
	CACHE_TYPE   string
}

func env(key string) string {
	v := os.Getenv(key)
	return v
}

func convertStringToInt(s string, key string) (int, error) {
	sInt, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("error initializing config with key: %s, err: %v", key, err)
	}
	return sInt, nil
}

func GetNatsConfig() (*NatsConfig, error) {
	url := env("JETSTREAM_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_URL is empty")
	}
	return &NatsConfig{
		URL: url,
	}, nil
}

func GetRedisConfig() (*RedisConfig, error) {
	ttl, err := convertStringToInt(env("REDIS_TTL"), "REDIS_TTL")
	if err != nil {
		return nil, err
	}

	url := env("REDIS_ENDPOINT")
	if url == "" {
		return nil, fmt.Errorf("KEY: REDIS_ENDPOINT is empty")
	}

	return &RedisConfig{
		TTL:            ttl,
		ClientPassword: env("REDIS_CLIENT_PASSWORD"),
		URL:            url,
	}, nil
}

func GetFreeCacheConfig() (*FreeCacheConfig, error) {
	ttl, err := convertStringToInt(env("FREECACHE_TTL"), "FREECACHE_TTL")
	if err != nil {
		return nil, err
	}
	fs, err := convertStringToInt(env("FREECACHE_SIZE"), "FREECACHE_SIZE")
	if err != nil {
		return nil, err
	}
	return &FreeCacheConfig{
		TTL:        ttl,
		SIZE_BYTES: fs,
	}, nil
}

func GetPostgresConfig() (*PostgresConfig, error) {
	url := env("POSTGRES_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: POSTGRES_URL is empty")
	}
	return &PostgresConfig{
		URL: url,
	}, nil
}

func GetMinioConfig() (*MinioConfig, error) {
	url := env("MINIO_ENDPOINT")
	if url == "" {
		return nil, fmt.Errorf("KEY: MINIO_ENDPOINT is empty")
	}

	rb := env("MINIO_RESULTS_BUCKET")
	if rb == "" {
		return nil, fmt.Errorf("KEY: MINIO_RESULTS_BUCKET is empty")
	}

	ssl := env("MINIO_USE_SSL")
	if ssl != "true" && ssl != "false" {
		return nil, fmt.Errorf("KEY: MINIO_USE_SSL is invalid")
	}

	ak := env("MINIO_ACCESS_KEY")
	if ak == "" {
		return nil, fmt.Errorf("KEY: MINIO_ACCESS_KEY is empty")
	}

	sk := env("MINIO_SECRET_KEY")
	if sk == "" {
		return nil, fmt.Errorf("KEY: MINIO_SECRET_KEY is empty")
	}

	return &MinioConfig{
		URL:            url,
		RESULTS_BUCKET: rb,
		USE_SSL:        ssl == "true",
		ACCESS_KEY:     ak,
		SECRET_KEY:     sk,
	}, nil
}

func GetSandboxConfig() (*SandboxConfig, error) {
	cq, err := convertStringToInt(env("SANDBOX_CPU_QUOTA"), "SANDBOX_CPU_QUOTA")
	if err != nil {
		return nil, err
	}
	ml, err := convertStringToInt(env("SANDBOX_MEMORY_LIMIT"), "SANDBOX_MEMORY_LIMIT")
	if err != nil {
		return nil, err
	}
	mo, err := convertStringToInt(env("SANDBOX_MAX_OUTPUT"), "SANDBOX_MAX_OUTPUT")
	if err != nil {
		return nil, err
	}
	dt, err := convertStringToInt(env("SANDBOX_DEFAULT_TIMEOUT_MS"), "SANDBOX_DEFAULT_TIMEOUT_MS")
	if err != nil {
		return nil, err
	}
	return &SandboxConfig{
		SECCOMP_PROFILE:    env("SECCOMP_PROFILE"),
		CPU_QUOTA:          int64(cq),
		MEMORY_LIMIT_BYTES: int64(ml),
		MAX_OUTPUT_BYTES:   int64(mo),
		DEFAULT_TIMEOUT_MS: dt,
	}, nil
}

func GetWorkerConfig() (*WorkerConfig, error) {
	ps, err := convertStringToInt(env("WORKER_POOL_SIZE"), "WORKER_POOL_SIZE")
	if err != nil {
		return nil, err
	}
	if ps <= 0 {
		return nil, fmt.Errorf("KEY: WORKER_POOL_SIZE must be > 0")
	}
	return &WorkerConfig{
		POOL_SIZE: ps,
	}, nil
}

func GetServerConfig() (*ServerConfig, error) {
	addr := env("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return &ServerConfig{
		ADDR: addr,
	}, nil
}

func GetConfig() (*Config, error) {
	sn := env("SERVICE_NAME")
	if sn == "" {
		return nil, fmt.Errorf("KEY: SERVICE_NAME is empty")
	}
	turl := env("TRACE_URL")
	ct := env("CACHE_TYPE")
	if ct == "" {
		return nil, fmt.Errorf("KEY: CACHE_TYPE is empty")
	}
	return &Config{
		SERVICE_NAME: sn,
		TRACE_URL:    turl,
		CACHE_TYPE:   ct,
	}, nil
}
