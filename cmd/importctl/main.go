// Command importctl stages, validates and publishes CSV imports from the
// shell. It reads the same environment and .env file as the server.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/results-america/internal/cli"
	"github.com/JonMunkholm/results-america/internal/config"
	"github.com/JonMunkholm/results-america/internal/core"
	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/logging"
)

func main() {
	// Unlike the server, the shell environment wins over .env here.
	_ = godotenv.Load()

	root := cli.NewRootCmd(openService)
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", errorText(err))
		os.Exit(1)
	}
}

// errorText keeps domain messages, which name the row or status at fault,
// and maps infrastructure errors to their support message.
func errorText(err error) string {
	switch {
	case core.IsDomainError(err):
		return err.Error() + " (" + core.MapError(err).Code + ")"
	case core.IsUserFacing(err):
		return core.FormatUserError(err)
	default:
		return err.Error()
	}
}

func openService(ctx context.Context) (*core.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	pool, err := database.OpenPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	svc, err := core.NewService(database.NewStore(pool), cfg, nil)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return svc, pool.Close, nil
}
