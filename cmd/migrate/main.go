package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/logger"
)

const usage = `Manage the exstem-grader schema (exams, exam_versions, exam_attempts, exam_answers).

Usage:
  migrate [-path DIR] <command> [arg]

Commands:
  up [N]           apply all pending migrations, or the next N
  down [N]         roll back one migration, or the last N
  version          print the applied schema version
  force <VERSION>  mark VERSION as applied and clear the dirty flag

The database comes from DATABASE_URL. Migration files are read from
-path, falling back to MIGRATIONS_PATH, then ./migrations.

Flags:
`

func main() {
	cfg := config.Load()
	log := logger.Component(logger.Setup(cfg.LogLevel, cfg.LogFormat), "migrate")

	dir := flag.String("path", cfg.MigrationsPath, "Directory holding the grader's *.up.sql and *.down.sql files")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dir).Msg("Failed to open migrations")
	}
	defer m.Close()

	if err := run(m, args, log); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Migration failed")
	}
}

func run(m *migrate.Migrate, args []string, log zerolog.Logger) error {
	switch args[0] {
	case "up":
		n, err := stepArg(args, 0)
		if err != nil {
			return err
		}
		if n == 0 {
			err = m.Up()
		} else {
			err = m.Steps(n)
		}
		return report(m, "up", err, log)
	case "down":
		n, err := stepArg(args, 1)
		if err != nil {
			return err
		}
		return report(m, "down", m.Steps(-n), log)
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("Schema has no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info().Uint("version", v).Bool("dirty", dirty).Msg("Schema version")
		return nil
	case "force":
		if len(args) < 2 {
			return errors.New("force needs a version")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := m.Force(v); err != nil {
			return err
		}
		log.Warn().Int("version", v).Msg("Schema version forced")
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// stepArg reads the optional step count after up/down.
func stepArg(args []string, fallback int) (int, error) {
	if len(args) < 2 {
		return fallback, nil
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid step count %q", args[1])
	}
	return n, nil
}

func report(m *migrate.Migrate, direction string, err error, log zerolog.Logger) error {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Str("direction", direction).Msg("Schema already current")
		return nil
	}
	if err != nil {
		return err
	}
	v, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return verr
	}
	log.Info().Str("direction", direction).Uint("version", v).Bool("dirty", dirty).Msg("Migrations applied")
	return nil
}
