// Package trun holds application-wide defaults shared by config, storage and the CLI.
package trun

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultAppName = "toolrun"

	DefaultAssistantAPIURL = "https://api.openai.com/v1"
	DefaultAssistantModel  = "gpt-3.5-turbo"
	DefaultAssistantName   = "Math Tutor"

	DefaultAssistantInstructions = "You are a personal math tutor. When asked a math question, " +
		"use the available functions to compute the answer and follow BODMAS."
	DefaultRunInstructions = "Please address the user as Jane Doe. The user has a premium account."

	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
	DefaultMaxWait         = 2 * time.Minute
	DefaultRequestTimeout  = 30 * time.Second
	DefaultToolTimeout     = 30 * time.Second

	DefaultStoreDriver = "none"
)

var (
	DefaultConfigPath    = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDataDir       = filepath.Join(userDataDir(), DefaultAppName)
	DefaultDatabaseDSN   = filepath.Join(DefaultDataDir, "threads.db")
	DefaultQuoteAPIURL   = "https://query1.finance.yahoo.com/v7/finance/quote"
	DefaultWeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
