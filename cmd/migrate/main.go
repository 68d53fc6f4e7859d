package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

// Usage:
//
//	migrate              apply pending migrations
//	migrate down         roll everything back
//	migrate force <ver>  mark the schema as <ver> after a failed run
//	migrate version      print the current version
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "migrate")

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		logger.Error("create migrator", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("close migrator", "error", err)
		}
	}()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "force":
		if len(os.Args) < 3 {
			logger.Error("force requires a version")
			os.Exit(2)
		}
		version, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Error("invalid version", "value", os.Args[2], "error", convErr)
			os.Exit(2)
		}
		err = m.Force(version)
	case "version":
		v, dirty, vErr := m.Version()
		if vErr != nil {
			err = vErr
			break
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return
	default:
		logger.Error("unknown command", "command", cmd)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("migration failed", "command", cmd, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "command", cmd)
}
