package main

import (
	"log/slog"

	"github.com/BioHazard786/Warpcall/internal/cli"
	"github.com/BioHazard786/Warpcall/internal/logging"
)

func main() {
	// Keep the terminal quiet unless LOG_LEVEL asks for more.
	logging.Init(slog.LevelError)
	cli.Execute()
}
