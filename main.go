package main

import (
	// standard library
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	// third-party
	"github.com/joho/godotenv"

	// internal
	"github.com/rmitchellscott/onebit/internal/config"
	"github.com/rmitchellscott/onebit/internal/database"
	"github.com/rmitchellscott/onebit/internal/handlers"
	"github.com/rmitchellscott/onebit/internal/imageprocessing"
	"github.com/rmitchellscott/onebit/internal/logging"
	"github.com/rmitchellscott/onebit/internal/maintenance"
	"github.com/rmitchellscott/onebit/internal/middleware"
	"github.com/rmitchellscott/onebit/internal/server"
	"github.com/rmitchellscott/onebit/internal/storage"
	"github.com/rmitchellscott/onebit/internal/urlpolicy"
	"github.com/rmitchellscott/onebit/internal/version"
)

const usage = `Usage:
  onebit <input-path> <output-path>   convert an image to black and white
  onebit --serve                      run the HTTP service
  onebit --version                    print the version`

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println(version.String())
		os.Exit(0)
	}

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(settings.LogLevel, settings.LogFormat)

	if len(os.Args) > 1 && os.Args[1] == "--serve" {
		os.Exit(serve(settings))
	}
	os.Exit(convert(settings, os.Args[1:], os.Stderr))
}

func processingOptions(p config.ProcessingSettings) imageprocessing.ProcessingOptions {
	return imageprocessing.ProcessingOptions{
		MaxWidth:    p.MaxWidth,
		MaxHeight:   p.MaxHeight,
		MaxPixels:   p.MaxPixels,
		JPEGQuality: p.JPEGQuality,
	}
}

// convert runs the command-line conversion and returns the exit status
func convert(settings *config.Settings, args []string, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	input, output := args[0], args[1]

	session := imageprocessing.NewSession(processingOptions(settings.Processing))
	defer session.Close()

	var history *database.ConversionService
	if settings.History.Enabled {
		db, err := database.Open(database.ConfigFromSettings(settings.History))
		if err != nil {
			logging.WarnWithComponent(logging.ComponentDatabase, "Conversion history unavailable", "error", err)
		} else {
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			history = database.NewConversionService(db)
		}
	}

	start := time.Now()
	stats, err := session.ConvertFile(input, output)

	if history != nil {
		rec := &database.ConversionRecord{
			Source:      input,
			Output:      output,
			Format:      filepath.Ext(output),
			Width:       stats.Width,
			Height:      stats.Height,
			WhitePixels: stats.White,
			BlackPixels: stats.Black,
			DurationMs:  time.Since(start).Milliseconds(),
			Options:     database.EncodeOptions(session.Options()),
		}
		if format, ferr := imageprocessing.FormatFromPath(output); ferr == nil {
			rec.Format = format
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if rerr := history.Record(rec); rerr != nil {
			logging.WarnWithComponent(logging.ComponentDatabase, "Failed to record conversion", "error", rerr)
		}
	}

	if err != nil {
		logging.ErrorWithComponent(logging.ComponentCLI, "Conversion failed", "input", input, "output", output, "error", err)
		fmt.Fprintln(stderr, failureMessage(err, input))
		return 1
	}
	return 0
}

// failureMessage names the stage that failed
func failureMessage(err error, input string) string {
	switch {
	case errors.Is(err, imageprocessing.ErrRead):
		return fmt.Sprintf("Failed to read image %q", input)
	case errors.Is(err, imageprocessing.ErrIterator):
		return "Failed to create pixel iterator"
	case errors.Is(err, imageprocessing.ErrConvert):
		return "Failed to convert"
	case errors.Is(err, imageprocessing.ErrWrite):
		return "Failed to save image"
	default:
		return err.Error()
	}
}

// serve runs the HTTP service until SIGINT or SIGTERM and returns the exit
// status
func serve(settings *config.Settings) int {
	logging.InfoWithComponent(logging.ComponentStartup, "Starting onebit", "version", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := imageprocessing.NewSession(processingOptions(settings.Processing))
	defer session.Close()

	imageStorage := storage.NewImageStorage(settings.Server.StaticDir, settings.Server.StaticURL)
	logging.InfoWithComponent(logging.ComponentStorage, "Serving stored images",
		"dir", imageStorage.GetBasePath(), "url", imageStorage.GetBaseURL())
	scheduler := maintenance.NewScheduler()
	scheduler.Register(maintenance.NewImageCleanupTask(imageStorage, settings.Server.StorageMaxAge, settings.Server.CleanupInterval))

	h := &handlers.Handler{
		Session:       session,
		Storage:       imageStorage,
		FetchTimeout:  settings.Server.FetchTimeout,
		MaxFetchBytes: int64(settings.Server.MaxUploadMB) << 20,
		URLPolicy: urlpolicy.Policy{
			BlockPrivateIPs: settings.Server.BlockPrivateIPs,
			BlockedDomains:  settings.Server.BlockedDomains,
		},
	}

	if settings.History.Enabled {
		if err := database.Initialize(database.ConfigFromSettings(settings.History)); err != nil {
			logging.ErrorWithComponent(logging.ComponentStartup, "Failed to initialize database", "error", err)
			return 1
		}
		defer database.Close()

		history := database.NewConversionService(database.GetDB())
		h.History = history
		scheduler.Register(maintenance.NewHistoryPruneTask(history, settings.History.Retention, settings.Server.CleanupInterval))
	}

	limiter := middleware.NewClientRateLimiter(settings.Server.RateLimitPerSecond, settings.Server.RateLimitBurst)
	limiter.StartCleanup(5*time.Minute, ctx.Done())

	if err := scheduler.Start(ctx); err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Failed to start maintenance tasks", "error", err)
		return 1
	}
	defer scheduler.Stop()

	router := server.NewRouter(settings.Server, h, limiter)
	if err := server.Run(ctx, ":"+settings.Server.Port, router); err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Server failed", "error", err)
		return 1
	}
	return 0
}
