package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/bidscout/bidscout/internal/config"
	"github.com/bidscout/bidscout/internal/db"
)

func main() {
	source := flag.String("source", "", "filter by source id")
	limit := flag.Int("limit", 20, "number of runs to show")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).RecentRuns(ctx, *source, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Status", "Items", "Duration", "Version", "Started At", "Error"})

	for _, run := range runs {
		errText := run.Error
		if len(errText) > 60 {
			errText = errText[:57] + "..."
		}
		t.AppendRow(table.Row{
			run.Source,
			run.Status,
			run.ItemsScraped,
			run.Duration.Round(time.Millisecond),
			run.ScraperVersion,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			errText,
		})
	}
	t.Render()
}
