package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/SiteAudit/internal/state"
)

func runReport(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if config.Server.StorePath == "" {
		return fmt.Errorf("no report store configured (use --store or server.store_path)")
	}

	store, err := state.OpenStore(config.Server.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if len(args) == 0 {
		reports, err := store.List(0)
		if err != nil {
			return fmt.Errorf("failed to list reports: %w", err)
		}
		for _, r := range reports {
			fmt.Printf("%s  %s  %d/%d pages  %s\n",
				r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.PagesScanned, r.TotalPages, r.URL)
		}
		return nil
	}

	report, err := store.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load report %s: %w", args[0], err)
	}
	return enc.Encode(report)
}
