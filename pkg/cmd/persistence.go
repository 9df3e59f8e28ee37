package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fakturo/fakturo/pkg/persistence"
	"github.com/fakturo/fakturo/pkg/persistence/file"
	"github.com/fakturo/fakturo/pkg/persistence/postgresql"
)

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider := strings.SplitN(databaseURL, "://", 2)[0]

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgresql persistence: %w", err))
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}
