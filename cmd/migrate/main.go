package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// offline commands never open a database connection.
var offline = map[string]func(opts options) error{
	"create": func(opts options) error {
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return fmt.Errorf("create migration: %w", err)
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(opts options) error {
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return fmt.Errorf("migration validation failed: %w", err)
		}
		fmt.Println("migration validation passed")
		return nil
	},
}

var online = map[string]func(ctx context.Context, sqlDB *sql.DB, opts options) error{
	"up":     gooseCommand("up"),
	"down":   gooseCommand("down"),
	"status": gooseCommand("status"),
	"version": func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		if opts.version == "" {
			return errors.New("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	},
}

func gooseCommand(command string) func(ctx context.Context, sqlDB *sql.DB, opts options) error {
	return func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		if err := migrate.Run(ctx, sqlDB, opts.dir, command); err != nil {
			return fmt.Errorf("goose %s failed: %w", command, err)
		}
		return nil
	}
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if run, ok := offline[*cmd]; ok {
		exitOnError(run(opts))
		return
	}
	run, ok := online[*cmd]
	if !ok {
		exitOnError(fmt.Errorf("unknown -cmd value: %s", *cmd))
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")
	if err := run(ctx, sqlDB, opts); err != nil {
		logg.Error(ctx, "migration failed", err)
		dbClient.Close()
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
