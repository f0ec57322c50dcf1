package logger

import (
	"os"
	"strings"
)

type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

// ParseEnv: пустое и неизвестное значение — dev.
func ParseEnv(s string) Env {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return EnvProd
	case "stage", "staging", "preprod":
		return EnvStage
	default:
		return EnvDev
	}
}

// DetectEnv читает SOULSYNC_ENV, затем APP_ENV.
func DetectEnv() Env {
	for _, key := range []string{"SOULSYNC_ENV", "APP_ENV"} {
		if v := os.Getenv(key); v != "" {
			return ParseEnv(v)
		}
	}
	return EnvDev
}
