// Package main applies the embedded schema migrations.
//
// Usage:
//
//	migrate [up|down|steps N|version|force V]
package main

import (
	"fmt"
	"os"
	"strconv"

	"pharmapos/internal/infrastructure/config"
	"pharmapos/internal/infrastructure/migration"
	"pharmapos/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if !cfg.UsesPostgres() {
		log.Fatalw("database url is required", "env", config.EnvPrefix+"_DATABASE_URL")
	}

	args := os.Args[1:]
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	m, err := migration.New(cfg.Database.URL, log.Desugar())
	if err != nil {
		log.Fatalw("create migrator", "error", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warnw("close migrator", "error", err)
		}
	}()

	if err := run(m, command, args); err != nil {
		log.Fatalw("migration failed", "command", command, "error", err)
	}
}

func run(m *migration.Migrator, command string, args []string) error {
	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "steps":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return m.Steps(n)
	case "force":
		v, err := intArg(args)
		if err != nil {
			return err
		}
		return m.Force(v)
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want up, down, steps, force or version)", command)
	}
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s needs a numeric argument", args[0])
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", args[1], err)
	}
	return n, nil
}
