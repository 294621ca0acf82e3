// Package main provides the flows scheduler: it polls for waiting runs whose
// deadline has passed and resumes them through the event bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/engageflow/flows/pkg/cmd"
	"github.com/engageflow/flows/pkg/dispatch"
	"github.com/engageflow/flows/pkg/gateway"
	"github.com/engageflow/flows/pkg/log"
	"github.com/engageflow/flows/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("scheduler")

	command := &cli.Command{
		Name:                  "flows-scheduler",
		Usage:                 "Resume flow runs whose wait deadline has passed",
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
				Name:    "poll",
				Usage:   "Cron spec for the due-run poll",
				Value:   scheduler.DefaultPollSpec,
				Sources: cli.EnvVars("SCHEDULER_POLL"),
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

			logger.InfoContext(ctx, "Initializing flows scheduler")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "flows-scheduler", command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			gw := gateway.NewGateway(persistence, dispatch.NewBus(eventBus, logger), logger)

			sched := scheduler.NewScheduler(persistence.RunRepository(), gw, logger, command.String("poll"))

			err = sched.Start(ctx)
			if err != nil {
				return err
			}

			defer sched.Stop()

			<-ctx.Done()
			logger.Info("Shutting down flows scheduler")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
