// Package main provides the flows worker: it consumes dispatched runs from
// the event bus, executes them, and optionally listens on a Redis queue for
// external resumes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/engageflow/flows/pkg/cmd"
	"github.com/engageflow/flows/pkg/dispatch"
	"github.com/engageflow/flows/pkg/engine"
	"github.com/engageflow/flows/pkg/gateway"
	"github.com/engageflow/flows/pkg/log"
	"github.com/engageflow/flows/pkg/queue"
	"github.com/engageflow/flows/pkg/worker"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("worker")

	command := &cli.Command{
		Name:                  "flows-worker",
		Usage:                 "Execute dispatched flow runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis address for the external resume queue (empty disables the listener)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "resume-queue",
				Usage:   "Redis list the resume listener pops from",
				Value:   queue.DefaultQueue,
				Sources: cli.EnvVars("RESUME_QUEUE"),
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

			logger.InfoContext(ctx, "Initializing flows worker")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "flows-worker", command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			exec := engine.NewEngine(persistence, registry, logger)

			w := worker.NewWorker(exec, persistence, eventBus, logger)

			err = w.Start(ctx)
			if err != nil {
				return err
			}

			if redisURL := command.String("redis-url"); redisURL != "" {
				// External resumes re-enter through the bus so any worker
				// can claim them.
				gw := gateway.NewGateway(persistence, dispatch.NewBus(eventBus, logger), logger)
				listener := queue.NewListener(redisURL, "", 0, command.String("resume-queue"), gw, logger)

				err = listener.Start(ctx)
				if err != nil {
					return err
				}

				defer func() {
					if err := listener.Stop(context.Background()); err != nil {
						logger.Error("Failed to stop queue listener", "error", err)
					}
				}()
			}

			<-ctx.Done()
			logger.Info("Shutting down flows worker")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
