package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/db"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory (default: files embedded in the binary; create uses "+migrate.DefaultDir+")")
	name := flag.String("name", "", "migration name for -cmd=create")
	target := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version; empty prints the current one")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := logg.WithField(context.Background(), "cmd", *cmd)

	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create")
		}
		out := *dir
		if out == "" {
			out = migrate.DefaultDir
		}
		path, err := migrate.Create(out, *name, time.Now())
		if err != nil {
			fail("create migration: %v", err)
		}
		fmt.Println("created", path)
		return
	case "validate":
		source, err := migrate.Source(*dir)
		if err != nil {
			fail("%v", err)
		}
		if err := migrate.Validate(source); err != nil {
			fail("validation failed: %v", err)
		}
		fmt.Println("migrations ok")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail("extract sql.DB: %v", err)
	}
	source, err := migrate.Source(*dir)
	if err != nil {
		fail("%v", err)
	}
	migrator, err := migrate.NewMigrator(sqlDB, source)
	if err != nil {
		fail("%v", err)
	}

	if err := run(ctx, migrator, *cmd, *target); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, m *migrate.Migrator, cmd, target string) error {
	switch cmd {
	case "up":
		applied, err := m.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d migration(s) %v\n", len(applied), applied)
	case "down":
		reverted, err := m.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("rolled back %v\n", reverted)
	case "status":
		rows, err := m.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tAPPLIED AT\tFILE")
		for _, row := range rows {
			applied := "pending"
			if row.Applied {
				applied = row.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", row.Version, applied, row.Path)
		}
		return w.Flush()
	case "version":
		if target == "" {
			current, err := m.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Println(current)
			return nil
		}
		version, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid -version %q: %w", target, err)
		}
		moved, err := m.To(ctx, version)
		if err != nil {
			return err
		}
		fmt.Printf("now at %d (ran %v)\n", version, moved)
	default:
		return fmt.Errorf("unknown -cmd %q", cmd)
	}
	return nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
