package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/fieldtrack/internal/api"
	"github.com/banshee-data/fieldtrack/internal/config"
	"github.com/banshee-data/fieldtrack/internal/fsutil"
	"github.com/banshee-data/fieldtrack/internal/geolocation"
	"github.com/banshee-data/fieldtrack/internal/monitoring"
	"github.com/banshee-data/fieldtrack/internal/records"
	"github.com/banshee-data/fieldtrack/internal/serialmux"
	"github.com/banshee-data/fieldtrack/internal/timeutil"
	"github.com/banshee-data/fieldtrack/internal/tracks"
	"github.com/banshee-data/fieldtrack/internal/units"
	"github.com/banshee-data/fieldtrack/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Replay a synthetic NMEA stream instead of opening the receiver")
	listen      = flag.String("listen", ":8080", "Listen address")
	port        = flag.String("port", "", "GPS serial port (default from config)")
	disableGPS  = flag.Bool("disable-gps", false, "Run without a GPS receiver; only debug captures work")
	configPath  = flag.String("config", "", "Capture config JSON (default "+config.DefaultConfigPath+" if present)")
	dbPath      = flag.String("db-path", "fieldtrack.db", "Record database path; empty keeps records in memory")
	assetsDir   = flag.String("assets-dir", "", "Directory for GPX files (default from config)")
	debugLog    = flag.Bool("debug-log", false, "Log rejected samples and autosaves")
	unitsFlag   = flag.String("units", units.KPH, "Display units for capture summaries ("+units.GetValidUnitsString()+")")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig() (*config.CaptureConfig, error) {
	if *configPath != "" {
		return config.LoadCaptureConfig(*configPath)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadCaptureConfig(config.DefaultConfigPath)
	}
	return config.DefaultCaptureConfig(), nil
}

func openReceiver(cfg *config.CaptureConfig) (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableGPS:
		return serialmux.NewDisabledSerialMux(), nil
	case *devMode:
		return serialmux.NewMockSerialMux(devSentences(time.Now(), 120), 500*time.Millisecond), nil
	}
	path := *port
	if path == "" {
		path = cfg.GetSerialPort()
	}
	return serialmux.NewRealSerialMux(path, serialmux.PortOptions(cfg.GetSerial()), serialmux.DefaultInitCommands()...)
}

type recordStore interface {
	records.Store
	Close() error
}

type memoryStore struct{ *records.MemoryStore }

func (memoryStore) Close() error { return nil }

func openStore(assets string) (recordStore, *records.SQLiteStore, error) {
	if *dbPath == "" {
		log.Printf("no --db-path, records are kept in memory")
		return memoryStore{records.NewMemoryStore(assets)}, nil, nil
	}
	s, err := records.OpenSQLiteStore(*dbPath, assets)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*unitsFlag) {
		log.Fatalf("invalid --units %q, must be one of: %s", *unitsFlag, units.GetValidUnitsString())
	}
	monitoring.SetDebug(*debugLog)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	assets := *assetsDir
	if assets == "" {
		assets = cfg.GetAssetsDir()
	}

	receiver, err := openReceiver(cfg)
	if err != nil {
		log.Fatalf("failed to open GPS receiver: %v", err)
	}
	defer receiver.Close()
	if err := receiver.Initialise(); err != nil {
		log.Fatalf("failed to initialise GPS receiver: %v", err)
	}

	store, sqliteStore, err := openStore(assets)
	if err != nil {
		log.Fatalf("failed to open record store: %v", err)
	}
	defer store.Close()

	clock := timeutil.RealClock{}
	positioning := geolocation.NewSerialPositioning(receiver, clock, cfg.GetUEREMeters())
	sampler := geolocation.NewSampler(positioning, clock, geolocation.SamplerConfig{
		HighAccuracy:  cfg.GetHighAccuracy(),
		SignalTimeout: cfg.GetSignalTimeout(),
		RetryDelay:    cfg.GetRetryDelay(),
		DebugPeriod:   cfg.GetDebugSamplePeriod(),
	})

	events := api.NewEventHub(*unitsFlag)
	ctrlCfg := tracks.ControllerConfigFromCapture(cfg)
	ctrlCfg.Sampler = sampler
	ctrlCfg.Positioning = positioning
	ctrlCfg.Store = store
	ctrlCfg.FS = fsutil.OSFileSystem{}
	ctrlCfg.Clock = clock
	ctrlCfg.Listener = events
	ctrl := tracks.NewController(ctrlCfg)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// serial I/O
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := receiver.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor GPS receiver: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// NMEA decoding into fixes
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := positioning.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("positioning stopped: %v", err)
		}
		log.Print("positioning routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ctrl, store, fsutil.OSFileSystem{}, events, api.Options{
			DebugDefault: cfg.GetDebugMode() || *devMode,
			Units:        *unitsFlag,
		}).ServeMux()
		receiver.AttachAdminRoutes(mux)
		if sqliteStore != nil {
			if err := sqliteStore.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach record admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
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

	// An open capture is completed so its points reach disk.
	if ctrl.Started() {
		done, err := ctrl.Complete(context.Background())
		if err != nil {
			log.Printf("failed to complete capture on shutdown: %v", err)
		} else {
			log.Printf("completed capture %s on shutdown (%d points)", done.RecordID, done.Points)
		}
	}
	sampler.Stop()
	ctrl.Wait()
	log.Printf("Graceful shutdown complete")
}
