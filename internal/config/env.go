package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// APIKey protects the review API when set. Empty means no auth, which is
	// only sensible for local single-operator use.
	APIKey string `envconfig:"API_KEY"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".segreview/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"segreview/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

type TurkEnv struct {
	// Environment selects the exchange endpoint: "sandbox" or "production".
	Environment string `envconfig:"TURK_ENVIRONMENT" default:"sandbox"`
	// TaskURL is the annotation UI the posted question embeds.
	TaskURL string `envconfig:"TASK_URL" default:"https://segreview-ui.s3.amazonaws.com/annotate.html"`
	// GroupSeedPath is the operator-managed experiment group file.
	GroupSeedPath string `envconfig:"GROUP_SEED_PATH" default:".segreview/groups.yaml"`
	// SyncBatchLimit caps how many reviewable items one sync pass requests
	// from the exchange.
	SyncBatchLimit int `envconfig:"SYNC_BATCH_LIMIT" default:"100"`
}

type Env struct {
	BaseEnv
	StorageEnv
	TurkEnv
}

const namespace = "SEGREVIEW"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func TurkEnvFromEnv(env *Env) *TurkEnv {
	return &env.TurkEnv
}
