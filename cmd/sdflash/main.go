package main

import (
	"log/slog"
	"os"

	"github.com/raspi-ops/sdflash/cmd/sdflash/commands"
)

func main() {
	// Logs go to stderr; stdout carries only the result path so the
	// command composes in scripts.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
