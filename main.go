package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Tutortoise/parking-occupancy-service/config"
	"github.com/Tutortoise/parking-occupancy-service/detections"
	"github.com/Tutortoise/parking-occupancy-service/logger"
	"github.com/Tutortoise/parking-occupancy-service/metrics"
	"github.com/Tutortoise/parking-occupancy-service/occupancy"
	"github.com/Tutortoise/parking-occupancy-service/overlay"
	"github.com/Tutortoise/parking-occupancy-service/source"
)

const shutdownTimeout = 10 * time.Second

type flags struct {
	configPath string
	addr       string
	model      string
	library    string
	regions    string
	video      string
	fps        float64
	logLevel   string
	logPretty  bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "config.yaml", "YAML configuration file")
	flag.StringVar(&f.addr, "addr", "", "HTTP listen address")
	flag.StringVar(&f.model, "model", "", "YOLO ONNX model path")
	flag.StringVar(&f.library, "onnxruntime", "", "onnxruntime shared library path")
	flag.StringVar(&f.regions, "regions", "", "Persisted regions file")
	flag.StringVar(&f.video, "video", "", "Video file, stream URL or camera id")
	flag.Float64Var(&f.fps, "fps", 0, "Video processing rate (0 uses the source rate)")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error, disabled, silent)")
	flag.BoolVar(&f.logPretty, "log-pretty", false, "Human readable log output")
	flag.Parse()
	return f
}

// apply overrides cfg with the flags given on the command line.
func (f flags) apply(cfg *config.Config) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			cfg.Server.Addr = f.addr
		case "model":
			cfg.Model.Path = f.model
		case "onnxruntime":
			cfg.Model.SharedLibrary = f.library
		case "regions":
			cfg.Regions.Path = f.regions
		case "video":
			cfg.Video.Source = f.video
		case "fps":
			cfg.Video.FPS = f.fps
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "log-pretty":
			cfg.Log.Pretty = f.logPretty
		}
	})
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Pretty, os.Stderr); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("service stopped")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	style, err := overlayStyle(cfg.Overlay)
	if err != nil {
		return err
	}
	state := &AppState{Metrics: m, Overlay: style}

	opts := occupancy.Options{
		VehicleLabels: cfg.Vehicles.Labels,
		RegionsPath:   cfg.Regions.Path,
		Recorder:      m,
	}

	if cfg.Model.Path != "" {
		detector, err := newDetector(cfg.Model)
		if err != nil {
			return err
		}
		defer detections.DestroyRuntime()
		defer detector.Close()

		opts.Detector = detector
		state.Pool = detector.Pool()
		m.RegisterPool(detector.Pool())
	} else {
		log.Warn().Msg("no model configured, frames will be rejected")
	}

	session := occupancy.NewSession(opts)
	state.Session = session

	if err := session.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("path", cfg.Regions.Path).Msg("no saved regions")
		} else {
			log.Warn().Err(err).Str("path", cfg.Regions.Path).Msg("ignoring saved regions")
		}
	}

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.Server.Addr,
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Video.Source != "" {
		g.Go(func() error {
			return runVideo(gctx, session, cfg.Video)
		})
	}

	return g.Wait()
}

func overlayStyle(oc config.OverlayConfig) (overlay.Style, error) {
	free, occupied, vehicle, err := oc.Colors()
	if err != nil {
		return overlay.Style{}, err
	}
	return overlay.Style{Free: free, Occupied: occupied, Vehicle: vehicle, Alpha: oc.Alpha}, nil
}

func newDetector(mc config.ModelConfig) (*detections.OnnxDetector, error) {
	if err := detections.InitRuntime(resolveSharedLibrary(mc.SharedLibrary)); err != nil {
		return nil, err
	}
	log.Info().Interface("cpu", detections.CPUFeatures()).Msg("onnxruntime initialized")

	detector, err := detections.NewOnnxDetector(detections.OnnxConfig{
		ModelPath:     mc.Path,
		InputSize:     mc.InputSize,
		ClassNames:    mc.ClassNames,
		ConfThreshold: mc.ConfThreshold,
		IouThreshold:  float32(mc.IouThreshold),
		PoolSize:      mc.PoolSize,
	})
	if err != nil {
		detections.DestroyRuntime()
		return nil, err
	}
	log.Info().Str("model", mc.Path).Int("pool_size", mc.PoolSize).Msg("detector ready")
	return detector, nil
}

// runVideo classifies the video stream until it ends. The end of the stream
// stops detection only; the HTTP server keeps serving.
func runVideo(ctx context.Context, session *occupancy.Session, vc config.VideoConfig) error {
	src, err := source.OpenVideo(vc.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	interval := vc.FrameInterval()
	if interval == 0 {
		interval = time.Duration(float64(time.Second) / src.FPS())
	}

	err = session.Run(ctx, src, interval, func(fr occupancy.FrameResult) {
		log.Debug().Uint64("frame", fr.Sequence).Msg(fr.Summary())
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
