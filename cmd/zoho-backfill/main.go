package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/mmdatafocus/sales_backend/zohobooks"
)

func main() {
	mode := flag.String("mode", models.SyncModeFull, "Sync mode: full (no date filter) or delta (since last successful sync).")
	modulesFlag := flag.String("modules", "", "Optional: comma separated modules (invoices,purchaseorders). Defaults to all.")
	migrate := flag.Bool("migrate", true, "Run AutoMigrate before syncing.")
	flag.Parse()

	if *mode != models.SyncModeFull && *mode != models.SyncModeDelta {
		fmt.Fprintf(os.Stderr, "invalid -mode %q (want full or delta)\n", *mode)
		os.Exit(2)
	}

	var names []string
	for _, n := range strings.Split(*modulesFlag, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	modules, unknown := zohobooks.ResolveModules(names)
	if len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "unknown modules: %s\n", strings.Join(unknown, ", "))
		os.Exit(2)
	}

	zohoCfg, err := config.LoadZohoConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if *migrate {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := utils.SetCorrelationIdInContext(context.Background(), uuid.NewString())
	ctx = utils.SetTriggeredByInContext(ctx, models.SyncTriggeredCLI)

	svc := zohobooks.NewService(zohoCfg, db, config.GetLogger())
	report := svc.Syncer.Run(ctx, *mode, modules)

	for _, m := range report.Modules {
		line := fmt.Sprintf("%-15s %-8s fetched=%d upserted=%d failed=%d", m.Module, m.Status, m.Fetched, m.Applied, m.Failed)
		if m.Window != nil {
			line += fmt.Sprintf(" window=%s..%s", m.Window.Start, m.Window.End)
		}
		if m.Error != "" {
			line += " error=" + m.Error
		}
		fmt.Println(line)
	}

	if report.Failed() {
		os.Exit(1)
	}
	fmt.Println("Backfill complete")
}
