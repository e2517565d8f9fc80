package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/SiteAudit/internal/output"
	"github.com/PentesterFlow/SiteAudit/internal/progress"
	"github.com/PentesterFlow/SiteAudit/internal/shutdown"
	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(config)
	if err != nil {
		return err
	}

	outCfg := output.Config{
		Format:   outputFormat,
		Pretty:   !stream,
		Stream:   stream,
		FilePath: outputFile,
	}
	dest, err := output.Open(outCfg)
	if err != nil {
		return err
	}
	w, err := output.NewWriter(dest, outCfg)
	if err != nil {
		dest.Close()
		return err
	}
	defer w.Close()

	scanner, err := crawler.New(crawler.WithConfig(config), crawler.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	// A progress bar on stdout would interleave with the results.
	enableProgress := !noProgress && (outputFile != "" || outputFormat == output.FormatText)
	var bar *progress.Bar
	if enableProgress {
		bar = progress.NewBar(os.Stderr)
		bar.Start(target)
	}

	// Setup signal handling
	sd := shutdown.New(cmd.Context(), shutdown.Config{
		Timeout: config.Server.ShutdownTimeout,
		Signals: shutdown.DefaultConfig().Signals,
		Logger:  log,
	})
	defer sd.Shutdown()

	obs := crawler.ObserverFunc(func(stats crawler.ScanStats) {
		if bar != nil {
			bar.Update(stats.PagesScanned, stats.TotalPages)
		}
		if err := w.WriteProgress(stats); err != nil {
			log.WithError(err).Warn("Writing progress")
		}
	})

	result, scanErr := scanner.Scan(sd.Context(), target, obs)
	if bar != nil {
		bar.Stop(scanErr != nil)
		skipped := 0
		if result != nil {
			skipped = len(result.Skipped)
		}
		bar.PrintSummary(os.Stderr, skipped)
	}

	if scanErr != nil {
		_ = w.WriteError(scanErr)
		return fmt.Errorf("scan failed: %w", scanErr)
	}

	if err := w.WriteResult(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return w.Flush()
}

func runDiscover(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(config)
	if err != nil {
		return err
	}

	scanner, err := crawler.New(crawler.WithConfig(config), crawler.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	sd := shutdown.New(cmd.Context(), shutdown.Config{
		Timeout: config.Server.ShutdownTimeout,
		Signals: shutdown.DefaultConfig().Signals,
		Logger:  log,
	})
	defer sd.Shutdown()

	pages, err := scanner.Discover(sd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	for _, page := range pages {
		fmt.Println(page)
	}
	return nil
}
