package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/engageflow/flows/pkg/persistence"
	"github.com/engageflow/flows/pkg/persistence/file"
	"github.com/engageflow/flows/pkg/persistence/postgresql"
)

// NewPersistence selects a store backend from the database URL scheme.
// postgres URLs get the SQL backend; anything else falls back to the
// file-based store, which is meant for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgresql persistence: %w", err)
		}

		return p, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
