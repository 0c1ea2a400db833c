// Command gpuspoke collects this machine's GPU stats and copies them to the
// hub. It is meant to be run from cron or a systemd timer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mycoool/gpuhub/internal/collector"
	"github.com/mycoool/gpuhub/internal/config"
	"github.com/mycoool/gpuhub/internal/pidfile"
	"github.com/mycoool/gpuhub/internal/spoke"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		flagDir     = flag.String("dir", "", "base directory for config and stats files (default: directory of the executable)")
		flagConfig  = flag.String("config", config.SpokeFileName, "spoke configuration file, relative to -dir")
		flagVerbose = flag.Bool("verbose", false, "log progress to stderr")
		flagLogFile = flag.String("logfile", "", "append log output to this file (implies -verbose)")
	)
	flag.Parse()

	closeLog, err := setupLogging(*flagVerbose, *flagLogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	defer closeLog()

	base, err := config.BaseDir(*flagDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: resolve base directory:", err)
		return 1
	}
	if err := config.LoadDotEnv(base); err != nil {
		log.Printf("gpuspoke: failed to load .env: %v", err)
	}

	cfg, err := config.LoadSpoke(config.Resolve(base, *flagConfig))
	if err != nil {
		log.Printf("gpuspoke: %v", err)
		fmt.Println(config.SpokeConfigMessage)
		return 1
	}

	lock, err := pidfile.New(config.Resolve(base, ".gpuspoke.pid"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	defer lock.Remove()

	s, err := spoke.New(base, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("gpuspoke: syncing %s to %s", s.Hostname, s.Target())
	if err := s.Sync(ctx); err != nil {
		switch {
		case errors.Is(err, collector.ErrFetch):
			fmt.Fprintln(os.Stderr, "Error: fetching stats failed:", err)
		default:
			fmt.Fprintln(os.Stderr, "Error: sending stats to hub failed:", err)
		}
		return collector.ExitCode(err)
	}
	return 0
}

// setupLogging configures the std logger:
// silent unless -verbose, appended to -logfile when given.
func setupLogging(verbose bool, logFile string) (func(), error) {
	log.SetPrefix("[gpuspoke] ")
	log.SetFlags(log.Ldate | log.Ltime)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %v", logFile, err)
		}
		log.SetOutput(f)
		return func() { f.Close() }, nil
	}
	if !verbose {
		log.SetOutput(io.Discard)
	}
	return func() {}, nil
}
