// posebridge connects a marker detection service to renderer clients: it
// consumes detection cycles over TCP, estimates and smooths the tracked
// marker's pose, records accepted poses to SQLite, and serves the result
// over HTTP for per-frame polling.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arview/posebridge/internal/api"
	"github.com/arview/posebridge/internal/config"
	"github.com/arview/posebridge/internal/detect"
	"github.com/arview/posebridge/internal/monitor"
	"github.com/arview/posebridge/internal/monitoring"
	"github.com/arview/posebridge/internal/pose"
	"github.com/arview/posebridge/internal/security"
	"github.com/arview/posebridge/internal/session"
	"github.com/arview/posebridge/internal/storage"
	"github.com/arview/posebridge/internal/timeutil"
	"github.com/arview/posebridge/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Replay fixture detections instead of dialing the detection service")
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Path to bridge config JSON")
	dbPath     = flag.String("db", "", "SQLite database path (overrides config; \"off\" disables recording)")
	framesDir  = flag.String("frames", "", "Directory of JPEG frames to submit to the detection service")
	debug      = flag.Bool("debug", false, "Enable per-cycle debug logging")
)

const fixturesFile = "fixtures.jsonl"

// dirFrameSource cycles through the JPEG files of a directory, standing in
// for a camera when replaying recorded footage.
type dirFrameSource struct {
	dir   string
	paths []string

	mu   sync.Mutex
	next int
}

func newDirFrameSource(dir string) (*dirFrameSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no JPEG frames in %s", dir)
	}
	sort.Strings(paths)

	return &dirFrameSource{dir: dir, paths: paths}, nil
}

func (s *dirFrameSource) CaptureJPEG(ctx context.Context, quality float64) ([]byte, int, int, error) {
	s.mu.Lock()
	path := s.paths[s.next%len(s.paths)]
	s.next++
	s.mu.Unlock()

	// Directory entries can be symlinks; never follow one out of the
	// frames directory.
	if err := security.ValidatePathWithinDirectory(path, s.dir); err != nil {
		return nil, 0, 0, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read frame %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}

	return data, cfg.Width, cfg.Height, nil
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("posebridge %s", version.String())
	monitoring.SetDebug(*debug)

	cfg := config.EmptyBridgeConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadBridgeConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	clock := timeutil.RealClock{}

	var m detect.MuxInterface
	if *devMode {
		data, err := os.ReadFile(fixturesFile)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		m = detect.NewMockDetectorMux(data, cfg.GetCaptureInterval(), clock)
	} else {
		m = detect.NewDetectorMux(cfg.GetDetectorAddr(), clock)
	}
	defer m.Close()

	databasePath := cfg.GetDatabasePath()
	if *dbPath != "" {
		databasePath = *dbPath
	}

	var store *storage.Store
	if databasePath != "off" {
		var err error
		store, err = storage.NewStore(databasePath)
		if err != nil {
			log.Fatalf("failed to open pose store: %v", err)
		}
		defer store.Close()
	}

	smootherCfg := pose.SmootherConfig{
		Alpha:           cfg.GetSmoothingAlpha(),
		JitterAmplitude: cfg.GetJitterAmplitude(),
		JitterPeriod:    cfg.GetJitterPeriod(),
		JitterThreshold: pose.DefaultSmootherConfig().JitterThreshold,
	}
	sess := session.New(session.Config{
		TrackedMarkerID:    cfg.GetTrackedMarkerID(),
		MarkerPhysicalSize: cfg.GetMarkerPhysicalSize(),
		RenderRate:         cfg.GetRenderRate(),
		Smoother:           smootherCfg,
	}, store, clock)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the detector connection
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor detector connection: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// consume detection cycles and drive the render tick loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx, m); err != nil && err != context.Canceled {
			log.Printf("session loop failed: %v", err)
		}
		log.Print("session routine terminated")
	}()

	// submit recorded frames to the detection service when a frames
	// directory was given (otherwise the detector captures its own)
	if *framesDir != "" {
		src, err := newDirFrameSource(*framesDir)
		if err != nil {
			log.Fatalf("failed to open frame source: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := detect.RunCapture(ctx, clock, m, src, cfg.GetCaptureInterval(), cfg.GetCaptureQuality())
			if err != nil && err != context.Canceled {
				log.Printf("capture loop failed: %v", err)
			}
			log.Print("capture routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the debugging chart routes when recording is enabled
		if store != nil {
			monitor.NewWebServer(store, sess).AttachDebugRoutes(mux)
		}

		apiMux := api.NewServer(sess, store).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
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
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
