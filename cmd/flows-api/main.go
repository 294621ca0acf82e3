package main

import (
	"context"
	"os"

	"github.com/engageflow/flows/pkg/cmd"
	"github.com/engageflow/flows/pkg/dispatch"
	"github.com/engageflow/flows/pkg/engine"
	"github.com/engageflow/flows/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "flows-api",
		Usage:                 "Manage flow definitions and trigger runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Dispatch mode: local (in-process worker pool), gochannel, or kafka",
				Value:   "local",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing flows API")

			registry := cmd.NewRegistry(logger)

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			var dispatcher dispatch.Dispatcher

			if provider := command.String("event-bus"); provider == "local" {
				exec := engine.NewEngine(persistence, registry, logger)
				dispatcher = dispatch.NewLocal(exec, logger, 0)
			} else {
				eventBus, err := cmd.NewEventBus(provider, "flows-api", command.String("kafka-brokers"), logger)
				if err != nil {
					return err
				}

				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()

				dispatcher = dispatch.NewBus(eventBus, logger)
			}

			defer func() {
				if err := dispatcher.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close dispatcher", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, registry, dispatcher)

			return api.Start(int(command.Int("port")))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
