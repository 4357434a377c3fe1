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

func DetectEnv() Env {
	return ParseEnv(os.Getenv("APP_ENV"))
}

// ParseEnv нормализует значение из конфига или переменной окружения.
func ParseEnv(raw string) Env {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return EnvProd
	case "stage", "staging", "preprod", "pre-production":
		return EnvStage
	default:
		return EnvDev
	}
}
