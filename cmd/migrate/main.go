package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"meteo-ingest/internal/app"
	"meteo-ingest/internal/config"
	"meteo-ingest/internal/logging"
)

const usage = `usage: %s <command>
  migrate                     apply pending schema migrations
  import-stations <file.csv>  upsert stations from a station_id;local_tz file
`

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, "meteo-migrate")
	ctx := context.Background()

	switch os.Args[1] {
	case "migrate":
		n, err := app.Migrate(ctx, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d migrations applied\n", n)
	case "import-stations":
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, usage, os.Args[0])
			os.Exit(1)
		}
		n, err := app.ImportStations(ctx, cfg, logger, os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "import-stations: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d stations imported\n", n)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}
}
