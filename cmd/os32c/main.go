// Command os32c acquires scans from an OS32C safety laser scanner, either by
// polling or by streaming, and publishes them on the debug HTTP server, an
// optional UDP forward and the session journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/os32c/internal/config"
	"github.com/banshee-data/os32c/internal/db"
	"github.com/banshee-data/os32c/internal/enip"
	"github.com/banshee-data/os32c/internal/forward"
	"github.com/banshee-data/os32c/internal/healthsrv"
	"github.com/banshee-data/os32c/internal/monitoring"
	"github.com/banshee-data/os32c/internal/replay"
	"github.com/banshee-data/os32c/internal/scanmux"
	"github.com/banshee-data/os32c/internal/scanstats"
	"github.com/banshee-data/os32c/internal/session"
	"github.com/banshee-data/os32c/internal/timeutil"
	"github.com/banshee-data/os32c/internal/version"
)

func main() {
	flags := registerFlags(flag.CommandLine)
	flag.Parse()

	if *flags.showVersion {
		fmt.Println(version.String("os32c"))
		return
	}

	cfg := &config.HostConfig{}
	if *flags.configPath != "" {
		var err error
		cfg, err = config.LoadHostConfig(*flags.configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if err := applyOverrides(flag.CommandLine, cfg); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	if args := flag.Args(); len(args) > 0 {
		if args[0] != "migrate" {
			log.Fatalf("unknown command %q", args[0])
		}
		if err := db.RunMigrateCommand(args[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if *flags.replayPath != "" && cfg.GetMode() != config.ModeStream {
		log.Fatalf("-replay needs -mode %s: captures hold I/O datagrams only", config.ModeStream)
	}

	logOut := monitoring.SetupLogOutput(monitoring.LogFile{
		Path:       cfg.GetLogFile(),
		MaxSizeMB:  cfg.GetLogMaxSizeMB(),
		MaxBackups: cfg.GetLogMaxBackups(),
		MaxAgeDays: cfg.GetLogMaxAgeDays(),
	}, *flags.logStderr)
	defer logOut.Close()
	log.Printf("starting %s", version.String("os32c"))

	clock := timeutil.RealClock{}

	sessionDB, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open session journal: %v", err)
	}
	defer sessionDB.Close()

	stats := scanstats.NewCounters(clock)
	mux := scanmux.New(cfg.GetFrameID(), scanmux.Options{Clock: clock})
	defer mux.Close()

	health := healthsrv.NewServer(cfg.GetGRPCListen())
	if err := health.Start(); err != nil {
		log.Fatalf("failed to start health server: %v", err)
	}
	defer health.Stop()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acq := &acquirer{
		newSession: newSessionFactory(cfg, flags),
		clock:      clock,
		mux:        mux,
		stats:      stats,
		health:     health,
		journal:    sessionDB,
	}

	if addr := cfg.GetForwardAddr(); addr != "" {
		logInterval := cfg.GetStatsInterval()
		if logInterval <= 0 {
			logInterval = time.Minute
		}
		fwd, err := forward.NewScanForwarder(addr, stats, logInterval)
		if err != nil {
			log.Fatalf("failed to create scan forwarder: %v", err)
		}
		fwd.Start(ctx)
		defer func() {
			fwd.Close()
			<-fwd.Done()
		}()
		acq.forward = fwd
	}

	settings := scanSettings{
		address:      cfg.GetHost(),
		mode:         cfg.GetMode(),
		rangeFormat:  cfg.GetRangeFormat(),
		reflectivity: cfg.GetReflectivityFormat(),
		startAngle:   cfg.GetStartAngle(),
		endAngle:     cfg.GetEndAngle(),
	}
	// open and configure failures stop the process before anything is served
	if err := acq.start(ctx, settings); err != nil {
		log.Fatalf("failed to start session on %s: %v", settings.address, err)
	}

	// acquisition routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		if err := acq.resume(ctx, settings, cfg.GetReconnectDelay()); err != nil {
			log.Printf("acquisition stopped: %v", err)
		}
		log.Print("acquisition routine terminated")
	}()

	// stats routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if cfg.GetStatsInterval() <= 0 {
			<-ctx.Done()
			return
		}
		ticker := clock.NewTicker(cfg.GetStatsInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				stats.LogStats()
			case <-ctx.Done():
				stats.LogStats()
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpMux := http.NewServeMux()
		mux.AttachAdminRoutes(httpMux)
		if err := sessionDB.AttachAdminRoutes(httpMux); err != nil {
			log.Printf("failed to attach journal routes: %v", err)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: httpMux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}

// newSessionFactory returns a function building a fresh session on a fresh
// transport, live or replayed.
func newSessionFactory(cfg *config.HostConfig, flags *hostFlags) func() *session.Session {
	opts := session.Options{KeepaliveInterval: cfg.GetKeepaliveInterval()}
	if path := *flags.replayPath; path != "" {
		return func() *session.Session {
			t := replay.NewTransport(path, replay.Options{Port: cfg.GetIOPort(), Realtime: *flags.realtime})
			return session.New(t, opts)
		}
	}
	return func() *session.Session {
		c := enip.NewClient(enip.ClientOptions{
			Timeout: cfg.GetIOTimeout(),
			IOPort:  cfg.GetIOPort(),
		})
		return session.New(c, opts)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [migrate <action>]\n\nFlags override values from -config.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}
