// Command gpuhub refreshes the cluster stats and publishes them to git
// (update, the default), serves them as a dashboard API (serve) or mints an
// API token (token).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mycoool/gpuhub/internal/collector"
	"github.com/mycoool/gpuhub/internal/config"
	"github.com/mycoool/gpuhub/internal/database"
	"github.com/mycoool/gpuhub/internal/hub"
	"github.com/mycoool/gpuhub/internal/pidfile"
	"github.com/mycoool/gpuhub/internal/publish"
	"github.com/mycoool/gpuhub/internal/server"
)

type globalFlags struct {
	dir     string
	config  string
	verbose bool
	logFile string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.dir, "dir", "", "base directory for config and data files (default: directory of the executable)")
	fs.StringVar(&g.config, "config", config.HubFileName, "hub configuration file, relative to -dir")
	fs.BoolVar(&g.verbose, "verbose", false, "log progress to stderr")
	fs.StringVar(&g.logFile, "logfile", "", "append log output to this file (implies -verbose)")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "update"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var g globalFlags
	fs := flag.NewFlagSet("gpuhub "+cmd, flag.ExitOnError)
	g.register(fs)

	switch cmd {
	case "update":
		fs.Parse(args)
		return withHub(g, runUpdate)
	case "serve":
		listen := fs.String("listen", "", "listen address (default: listen from hub.yaml)")
		fs.Parse(args)
		return withHub(g, func(ctx context.Context, base string, cfg *config.Hub) int {
			return runServe(ctx, base, cfg, *listen)
		})
	case "token":
		ttl := fs.Duration("ttl", 0, "token lifetime (default: jwt_expiry_hours from hub.yaml)")
		subject := fs.String("name", "api", "name recorded in the token")
		fs.Parse(args)
		return withHub(g, func(ctx context.Context, base string, cfg *config.Hub) int {
			return runToken(cfg, *subject, *ttl)
		})
	}
	fmt.Fprintf(os.Stderr, "unknown command %q (want update, serve or token)\n", cmd)
	return 2
}

// withHub prepares logging, the base directory, .env and hub.yaml, then
// hands over to fn.
func withHub(g globalFlags, fn func(ctx context.Context, base string, cfg *config.Hub) int) int {
	log.SetPrefix("[gpuhub] ")
	log.SetFlags(log.Ldate | log.Ltime)
	if g.logFile != "" {
		f, err := os.OpenFile(g.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open log file %q: %v\n", g.logFile, err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	} else if !g.verbose {
		log.SetOutput(io.Discard)
	}

	base, err := config.BaseDir(g.dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: resolve base directory:", err)
		return 1
	}
	if err := config.LoadDotEnv(base); err != nil {
		log.Printf("gpuhub: failed to load .env: %v", err)
	}
	cfg, err := config.LoadHub(config.Resolve(base, g.config))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	if cfg.Database.Type != "" {
		dbCfg := database.DefaultDatabaseConfig()
		dbCfg.Type = cfg.Database.Type
		if cfg.Database.Database != "" {
			dbCfg.Database = cfg.Database.Database
		}
		dbCfg.Database = config.Resolve(base, dbCfg.Database)
		if err := database.InitDatabase(dbCfg); err != nil {
			log.Printf("gpuhub: database disabled: %v", err)
		} else {
			defer database.CloseDB()
			database.InitLogService()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return fn(ctx, base, cfg)
}

func runUpdate(ctx context.Context, base string, cfg *config.Hub) int {
	lock, err := pidfile.New(config.Resolve(base, ".gpuhub.pid"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	defer lock.Remove()

	h, err := hub.New(base, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	if _, err := h.Update(ctx); err != nil {
		switch {
		case errors.Is(err, collector.ErrFetch):
			fmt.Fprintln(os.Stderr, "Error: fetching stats failed:", err)
		case errors.Is(err, publish.ErrPush):
			fmt.Fprintln(os.Stderr, "Error: pushing stats failed:", err)
		default:
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return collector.ExitCode(err)
	}
	return 0
}

func runServe(ctx context.Context, base string, cfg *config.Hub, listen string) int {
	if listen == "" {
		listen = cfg.Listen
	}
	srv := server.New(base, cfg, func(ctx context.Context) (*hub.Report, error) {
		h, err := hub.New(base, cfg)
		if err != nil {
			return nil, err
		}
		h.Trigger = "api"
		h.Out = io.Discard
		return h.Update(ctx)
	})
	if cfg.Database.Type != "" {
		database.ScheduleLogCleanup(ctx, 0)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: listen:", err)
		return 1
	}
	log.Printf("serving dashboard API on http://%s", ln.Addr())
	if err := srv.Serve(ctx, ln); err != nil {
		log.Print(err)
		return 1
	}
	return 0
}

func runToken(cfg *config.Hub, subject string, ttl time.Duration) int {
	if ttl <= 0 {
		ttl = time.Duration(cfg.JWTExpiryHours) * time.Hour
	}
	if cfg.DefaultSecret() {
		fmt.Fprintln(os.Stderr, "Error: set jwt_secret in hub.yaml before minting tokens")
		return 1
	}
	token, err := server.GenerateToken(cfg.JWTSecret, subject, ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
