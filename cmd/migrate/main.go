package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/vladislavdragonenkov/ordersaga/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

// schemaMigrator - операции *postgres.Migrator, нужные командам.
type schemaMigrator interface {
	Up(ctx context.Context, steps int) error
	Down(ctx context.Context, steps int) error
	Status(ctx context.Context) (postgres.MigrationStatus, error)
}

// opener открывает хранилище и возвращает мигратор с функцией закрытия.
type opener func(ctx context.Context, dsn string) (schemaMigrator, func() error, error)

func openPostgres(ctx context.Context, dsn string) (schemaMigrator, func() error, error) {
	store, err := postgres.Open(ctx, dsn, postgres.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	return store.Migrator(), store.Close, nil
}

func newCommand(open opener, out io.Writer) *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "dsn",
			Usage:   "PostgreSQL DSN",
			Sources: cli.EnvVars("POSTGRES_DSN"),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: defaultTimeout,
			Usage: "deadline for the whole run",
		},
	}
	stepsFlag := func() cli.Flag {
		return &cli.IntFlag{
			Name:  "steps",
			Usage: "number of migrations to apply or roll back (0 = all for up, 1 for down)",
		}
	}

	withMigrator := func(fn func(ctx context.Context, m schemaMigrator, cmd *cli.Command) error) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			dsn := strings.TrimSpace(cmd.String("dsn"))
			if dsn == "" {
				return errors.New("POSTGRES_DSN (or --dsn) is required")
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			m, closeFn, err := open(ctx, dsn)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			return fn(ctx, m, cmd)
		}
	}

	printStatus := func(ctx context.Context, m schemaMigrator, prefix string) error {
		status, err := m.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", prefix, status.Current, status.Applied, len(status.Pending))
		for _, name := range status.Pending {
			_, _ = fmt.Fprintf(out, "  pending %s\n", name)
		}
		return nil
	}

	return &cli.Command{
		Name:   "migrate",
		Usage:  "Manage ordersaga PostgreSQL schema",
		Flags:  flags,
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply pending migrations",
				Flags: []cli.Flag{stepsFlag()},
				Action: withMigrator(func(ctx context.Context, m schemaMigrator, cmd *cli.Command) error {
					if err := m.Up(ctx, cmd.Int("steps")); err != nil {
						return fmt.Errorf("migrate up failed: %w", err)
					}
					return printStatus(ctx, m, "migrate up ok")
				}),
			},
			{
				Name:  "down",
				Usage: "Roll back applied migrations",
				Flags: []cli.Flag{stepsFlag()},
				Action: withMigrator(func(ctx context.Context, m schemaMigrator, cmd *cli.Command) error {
					steps := cmd.Int("steps")
					if steps <= 0 {
						steps = 1
					}
					if err := m.Down(ctx, steps); err != nil {
						return fmt.Errorf("migrate down failed: %w", err)
					}
					return printStatus(ctx, m, "migrate down ok")
				}),
			},
			{
				Name:  "status",
				Usage: "Show schema version",
				Action: withMigrator(func(ctx context.Context, m schemaMigrator, _ *cli.Command) error {
					return printStatus(ctx, m, "migration status")
				}),
			},
		},
	}
}

func main() {
	if err := newCommand(openPostgres, os.Stdout).Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
