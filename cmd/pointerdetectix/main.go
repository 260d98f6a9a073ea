package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gocv.io/x/gocv"

	"github.com/Telmate/kms-pointerdetectix/calibration"
	"github.com/Telmate/kms-pointerdetectix/config"
	"github.com/Telmate/kms-pointerdetectix/detection"
	"github.com/Telmate/kms-pointerdetectix/filter"
	"github.com/Telmate/kms-pointerdetectix/overlay"
	"github.com/Telmate/kms-pointerdetectix/snapshot"
	"github.com/Telmate/kms-pointerdetectix/tracking"
)

const (
	defaultFrameRate   = 30               // Used when the source does not report one
	perfReportInterval = 15 * time.Second // Performance reporting interval
)

var (
	// Command-line flags
	inputSource    = flag.String("input", "", "Video source: camera index, file path or stream URL (env POINTERDETECTIX_INPUT)")
	configPath     = flag.String("config", "", "JSON configuration file (env POINTERDETECTIX_CONFIG)")
	outputPath     = flag.String("output", "", "Write the annotated video to this file (MJPG)")
	debugMode      = flag.Bool("debug", false, "Draw the calibration region, pointer marker and recent events")
	verbose        = flag.Bool("verbose", false, "Log at debug level and clear the silent parameter")
	calibrateAfter = flag.Int("calibrate-after", 0, "Calibrate from the calibration region after this many frames (0 disables)")
	calibRegion    = flag.String("calibration-region", "", "Calibration region as x,y,width,height")
	smooth         = flag.Bool("smooth", false, "Smooth the pointer position with a Kalman filter")
	maxFrames      = flag.Int("max-frames", 0, "Stop after this many frames (0 runs until the source ends)")
	saveConfig     = flag.String("save-config", "", "Write the effective configuration to this file and exit")
)

func main() {
	// Load .env file if it exists
	envLoaded := godotenv.Load() == nil

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := NewLogger(level)
	if envLoaded {
		logger.Info("loaded environment variables from .env file")
	}

	hook := debugHook(logger)
	calibration.SetDebugFunction(hook)
	detection.SetDebugFunction(hook)
	tracking.SetDebugFunction(hook)
	overlay.SetDebugFunction(hook)
	snapshot.SetDebugFunction(hook)
	filter.SetDebugFunction(hook)

	if *inputSource == "" {
		*inputSource = os.Getenv("POINTERDETECTIX_INPUT")
	}
	if *configPath == "" {
		*configPath = os.Getenv("POINTERDETECTIX_CONFIG")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if *saveConfig != "" {
		if err := cfg.Save(*saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving configuration: %v\n", err)
			os.Exit(1)
		}
		logger.Info("configuration written", "path", *saveConfig)
		return
	}

	if *inputSource == "" {
		fmt.Fprintf(os.Stderr, "Error: -input flag is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(logger, cfg); err != nil {
		logger.Error("stopped", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies flag overrides
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *debugMode {
		cfg.ShowDebug = true
	}
	if *verbose {
		cfg.Silent = false
	}
	if *smooth {
		cfg.Smooth = true
	}
	if *calibRegion != "" {
		r, err := parseRegion(*calibRegion)
		if err != nil {
			return nil, err
		}
		cfg.CalibrationArea = r
	}
	return cfg, cfg.Validate()
}

func parseRegion(s string) (config.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return config.Region{}, fmt.Errorf("calibration region %q: expected x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return config.Region{}, fmt.Errorf("calibration region %q: %v", s, err)
		}
		v[i] = n
	}
	return config.Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func openCapture(source string) (*gocv.VideoCapture, error) {
	if id, err := strconv.Atoi(source); err == nil {
		return gocv.OpenVideoCapture(id)
	}
	return gocv.OpenVideoCapture(source)
}

func run(logger *slog.Logger, cfg *config.Config) error {
	capture, err := openCapture(*inputSource)
	if err != nil {
		return fmt.Errorf("can't open %s: %w", *inputSource, err)
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = defaultFrameRate
	}
	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	logger.Info("capture opened", "source", *inputSource, "width", width, "height", height, "fps", fps)

	opts := cfg.FilterOptions(fps)
	opts.Notifier = tracking.NotifierFunc(func(e tracking.Event) {
		logger.Info(e.Kind.String(), "window", e.ZoneID)
	})
	f := filter.New(opts)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cfg.Apply(ctx, f); err != nil {
		return err
	}
	logger.Info("filter configured", "zones", len(f.Zones()), "range", f.Range().String(), "params", f.ParamsList())

	var writer *gocv.VideoWriter
	if *outputPath != "" {
		writer, err = gocv.VideoWriterFile(*outputPath, "MJPG", fps, width, height, true)
		if err != nil {
			return fmt.Errorf("can't create %s: %w", *outputPath, err)
		}
		defer writer.Close()
	}

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	frame := gocv.NewMat()
	defer frame.Close()

	lastReport := time.Now()
	frames := 0
	for {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig.String())
			return nil
		default:
		}

		if ok := capture.Read(&frame); !ok || frame.Empty() {
			logger.Info("end of input", "frames", frames)
			return nil
		}
		frames++

		if _, err := f.ProcessFrame(&frame); err != nil {
			logger.Warn("frame skipped", "frame", frames, "error", err)
			continue
		}

		if *calibrateAfter > 0 && frames == *calibrateAfter {
			if err := f.Calibrate(); err != nil {
				logger.Warn("calibration failed", "error", err)
			} else {
				logger.Info("calibrated", "range", f.Range().String())
			}
		}

		if writer != nil {
			if err := writer.Write(frame); err != nil {
				logger.Warn("write failed", "frame", frames, "error", err)
			}
		}

		if time.Since(lastReport) >= perfReportInterval {
			logger.Info("performance", "stats", f.Stats().String(), "state", f.State().String())
			if note, _ := f.GetParam(filter.ParamNote); note != "none" {
				logger.Warn("filter note", "note", note)
			}
			lastReport = time.Now()
		}

		if *maxFrames > 0 && frames >= *maxFrames {
			logger.Info("frame limit reached", "frames", frames)
			return nil
		}
	}
}
