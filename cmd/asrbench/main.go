// Command asrbench runs an ASR benchmark: it fetches an audio-set catalog,
// stages each file locally, transcribes it with the configured engine,
// uploads the result for scoring, and writes a local run report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mfukui/asrbench/internal/asr"
	"github.com/mfukui/asrbench/internal/asr/speechapi"
	"github.com/mfukui/asrbench/internal/asr/whispercli"
	"github.com/mfukui/asrbench/internal/bench"
	"github.com/mfukui/asrbench/internal/catalog"
	"github.com/mfukui/asrbench/internal/config"
	"github.com/mfukui/asrbench/internal/diaglog"
	"github.com/mfukui/asrbench/internal/metrics"
	"github.com/mfukui/asrbench/internal/pidfile"
	"github.com/mfukui/asrbench/internal/report"
	"github.com/mfukui/asrbench/internal/results"
	"github.com/mfukui/asrbench/internal/server"
	"github.com/mfukui/asrbench/internal/stager"
	"github.com/mfukui/asrbench/internal/telemetry"
)

const logPrefix = "[asrbench]"

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		audioSetID  = flag.String("audio-set", "", "audio set ID (overrides config)")
		category    = flag.String("category", "", "catalog category filter (overrides config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("asrbench " + Version)
		return 0
	}

	logger := log.New(os.Stderr, logPrefix+" ", log.LstdFlags)

	cfg, err := config.Loader{}.Load(*configPath)
	if err != nil {
		logger.Printf("config: %v", err)
		return 2
	}
	if *audioSetID != "" {
		cfg.AudioSetID = *audioSetID
	}
	if *category != "" {
		cfg.Category = *category
	}

	diag, err := diaglog.New("/tmp/asrbench-debug.log")
	if err != nil {
		logger.Printf("diaglog unavailable: %v", err)
		diag = diaglog.NewNoOp()
	}
	defer diag.Close()

	lock, err := pidfile.Acquire(pidfile.DefaultPath())
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	defer lock.Release()

	engine, err := buildEngine(cfg)
	if err != nil {
		logger.Printf("engine: %v", err)
		return 2
	}
	adapter := asr.NewAdapter(engine)

	cat := catalog.NewClient(catalog.Config{
		BaseURL:        cfg.BaseURL,
		TimeoutSeconds: cfg.TimeoutSeconds,
	})
	cat.SetLogger(diag)

	st, err := stager.New(stager.Config{
		BaseURL:    cfg.BaseURL,
		ScratchDir: cfg.ScratchDir,
	})
	if err != nil {
		logger.Printf("stager: %v", err)
		return 1
	}
	st.SetLogger(diag)

	rep := report.NewReporter(report.Config{
		BaseURL:        cfg.BaseURL,
		TimeoutSeconds: cfg.TimeoutSeconds,
	})
	rep.SetLogger(diag)

	orch := bench.New(cat, st, adapter, rep, bench.RunConfig{
		AudioSetID:  cfg.AudioSetID,
		Category:    cfg.Category,
		DeviceName:  cfg.DeviceName,
		DeviceModel: cfg.DeviceModel,
		Memo:        cfg.Memo,
	}, bench.Options{
		Telemetry: telemetry.NewSampler(),
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
		Logger:    diag,
	})

	// Optional status server.
	var srv *server.Server
	if cfg.ListenAddr != "" {
		srv = server.New(server.Config{ListenAddr: cfg.ListenAddr}, orch, diag)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Printf("status server: %v", err)
			}
		}()
		logger.Printf("status server listening on %s", cfg.ListenAddr)
	}

	// First signal cancels the run cooperatively; a second one kills us.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		orch.Cancel()
	}()

	logger.Printf("starting run: audio set %q engine %q device %q", cfg.AudioSetID, cfg.Engine, cfg.DeviceName)
	summary, runErr := orch.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		cancel()
	}

	switch {
	case runErr == nil:
		logger.Printf("run completed: %d/%d items, total processing time %s",
			summary.Completed, summary.Items, summary.TotalProcessingTime)
		if summary.AverageCER != nil {
			logger.Printf("average CER: %.4f", *summary.AverageCER)
		}
	case errors.Is(runErr, bench.ErrRunCancelled):
		logger.Printf("run cancelled")
	default:
		logger.Printf("run failed: %v", runErr)
	}

	if err := writeReport(cfg, orch, summary); err != nil {
		logger.Printf("report: %v", err)
	} else {
		logger.Printf("report written to %s.*", cfg.Report.Path)
	}

	switch {
	case runErr == nil:
		return 0
	case errors.Is(runErr, bench.ErrRunCancelled):
		return 130
	default:
		return 1
	}
}

func buildEngine(cfg config.Config) (asr.Engine, error) {
	switch cfg.Engine {
	case "whisper_cpp":
		return whispercli.NewEngine(whispercli.Config{
			BinaryPath:     cfg.Whisper.BinaryPath,
			ModelPath:      cfg.Whisper.ModelPath,
			Model:          cfg.Whisper.Model,
			ModelVersion:   cfg.Whisper.ModelVersion,
			Language:       cfg.Whisper.Language,
			Threads:        cfg.Whisper.Threads,
			TimeoutSeconds: cfg.Whisper.TimeoutSeconds,
		}), nil
	case "speech_api":
		return speechapi.NewEngine(speechapi.Config{
			BaseURL:        cfg.SpeechAPI.BaseURL,
			Token:          cfg.SpeechAPI.APIToken,
			Model:          cfg.SpeechAPI.Model,
			ModelVersion:   cfg.SpeechAPI.ModelVersion,
			Language:       cfg.SpeechAPI.Language,
			TimeoutSeconds: cfg.SpeechAPI.TimeoutSeconds,
		}), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

func writeReport(cfg config.Config, orch *bench.Orchestrator, summary bench.Summary) error {
	snap := orch.Snapshot()
	return results.WriteAll(cfg.Report.Path, &results.Report{
		AudioSetID: cfg.AudioSetID,
		Category:   cfg.Category,
		EngineName: cfg.Engine,
		FinishedAt: time.Now().UTC(),
		Items:      snap.Results,
		Summary:    summary,
	}, cfg.Report.Formats)
}
