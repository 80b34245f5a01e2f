// Command dumper runs one parallel logical dump against a MySQL-protocol
// server, driven by a TOML config file.
//
// Grounded on dataWriter's src/main.go: flag.String for the config path,
// toml.DecodeFile to load it, a fixed -threads override, log.Fatalf on
// any unrecoverable setup error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"dumpcore/internal/config"
	"dumpcore/internal/dumper"
)

var (
	cfgPath = flag.String("cfg", "", "config file path")
	threads = flag.Int("threads", 0, "override db.threads from the config file (0 = use config value)")
	dryRun  = flag.Bool("dry-run", false, "plan the dump and validate compatibility without writing any file")
	showBar = flag.Bool("bar", true, "show a fallback row-count progress bar (the dumper's own 10Hz status line covers interactive use)")
)

// watchProgress polls d.Progress() and drives an indeterminate spinner
// bar as a fallback status indicator for non-interactive invocations;
// grounded on dataWriter's main.go ShowProcess, which polls a
// writtenFiles counter on a 5s ticker into a schollz/progressbar bar.
func watchProgress(d *dumper.Dumper, stop <-chan struct{}) {
	bar := progressbar.Default(-1, "dumping")
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rows, _, _ := d.Progress()
			bar.Set64(rows)
		case <-stop:
			return
		}
	}
}

func main() {
	flag.Parse()

	if *cfgPath == "" {
		log.Fatalf("missing required -cfg flag")
	}

	var cfg config.Config
	if _, err := toml.DecodeFile(*cfgPath, &cfg); err != nil {
		log.Fatalf("loading %s: %v", *cfgPath, err)
	}
	if *threads > 0 {
		cfg.DB.Threads = *threads
	}
	if *dryRun {
		cfg.Common.DryRun = true
	}

	if err := config.Validate(&cfg); err != nil {
		log.Fatalf("%v", err)
	}
	if err := config.Normalize(&cfg); err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	start := time.Now()
	d := dumper.New(&cfg, logger)

	if *showBar && !cfg.Common.DryRun {
		stop := make(chan struct{})
		go watchProgress(d, stop)
		defer close(stop)
	}

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dump failed after %s: %v\n", time.Since(start).Round(time.Second), err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "dump completed in %s\n", time.Since(start).Round(time.Second))
}
