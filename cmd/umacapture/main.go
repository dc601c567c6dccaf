package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/umasagashi/capture-core/internal/capture/recognize"
	"github.com/umasagashi/capture-core/internal/config"
	"github.com/umasagashi/capture-core/internal/logging"
	"github.com/umasagashi/capture-core/internal/orchestrator"
	"github.com/umasagashi/capture-core/internal/replay"
	"github.com/umasagashi/capture-core/internal/workerpool"
)

var (
	version = "0.1.0"
	cfgFile string
)

var (
	runSessionConfig string
	runFramesDir     string
	runRecordTo      string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "umacapture",
	Short: "umacapture capture pipeline",
	Long:  "umacapture drives the scene-detection, scroll-capture, and stitching pipeline for the character detail screen.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture pipeline against a session config and a frame source",
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config <session-config.json>",
	Short: "Validate a session config file without starting capture",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		validateSessionConfig(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("umacapture v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "agent settings file (default is /etc/umacapture/settings.yaml)")

	runCmd.Flags().StringVar(&runSessionConfig, "session-config", "", "path to the JSON session config pushed by the host (required)")
	runCmd.Flags().StringVar(&runFramesDir, "frames", "", "directory of pre-extracted PNG frames to replay (required)")
	runCmd.Flags().StringVar(&runRecordTo, "record-notifications", "", "optional path to append a JSON-lines notification trail to")
	runCmd.MarkFlagRequired("session-config")
	runCmd.MarkFlagRequired("frames")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from the agent-local settings.
func initLogging(settings *config.Settings) {
	var output io.Writer = os.Stdout

	if settings.LogFile != "" {
		rw, err := logging.NewRotatingWriter(settings.LogFile, settings.LogMaxSizeMB, settings.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", settings.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(settings.LogFormat, settings.LogLevel, output)
	log = logging.L("main")
}

// run loads the agent settings and a pushed session config, wires an
// Orchestrator against a NoopPredictor and a directory-of-PNGs replay
// FrameSource (the CLI video-file replay mode), and drives it to
// completion. This is the local-testing/E1-E6-scenario entry point
// described in SPEC_FULL.md; native frame acquisition and ML inference
// remain out of scope and are stood in for by replay.DirSource and
// recognize.NoopPredictor respectively.
func run() {
	settings, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
		os.Exit(1)
	}
	initLogging(settings)

	sessionCfg, err := config.LoadSessionConfig(runSessionConfig)
	if err != nil {
		log.Error("failed to load session config", "error", err)
		os.Exit(1)
	}
	sessionCfg.VideoMode = true

	source, err := replay.NewDirSource(runFramesDir)
	if err != nil {
		log.Error("failed to open frame source", "error", err)
		os.Exit(1)
	}

	var recorderOut io.Writer
	if runRecordTo != "" {
		f, err := os.OpenFile(runRecordTo, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Error("failed to open notification record file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		recorderOut = f
	}

	pool := workerpool.New(3, settings.QueueCapacity)

	notify := func(n orchestrator.Notification) {
		payload, err := json.Marshal(n)
		if err != nil {
			log.Error("marshal notification failed", "error", err)
			return
		}
		log.Info("notification", "payload", string(payload))
	}

	orch, err := orchestrator.New(sessionCfg, notify, recognize.NoopPredictor{}, pool, recorderOut)
	if err != nil {
		log.Error("failed to construct orchestrator", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	orch.Start()
	log.Info("replay started", "frames", source.Len(), "session_config", runSessionConfig)

	done := make(chan struct{})
	go feedFrames(orch, source, done)

	select {
	case <-done:
		log.Info("replay finished")
	case <-sigChan:
		log.Info("interrupted, stopping early")
	}

	// Let queued scrape/stitch work settle before the recognizer pool stops
	// accepting, so a session that completed on the final frames still gets
	// its prediction tasks submitted.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if !orch.WaitIdle(settleCtx) {
		log.Warn("pipeline did not go idle before teardown")
	}
	settleCancel()

	pool.StopAccepting()
	poolDrainCtx, poolCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer poolCancel()
	pool.Drain(poolDrainCtx)

	// Flush outcome notifications the drained prediction tasks emitted.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	orch.WaitIdle(flushCtx)
	flushCancel()

	if err := orch.Stop(); err != nil {
		log.Error("orchestrator stop reported errors", "error", err)
		os.Exit(1)
	}
}

func feedFrames(orch *orchestrator.Orchestrator, source *replay.DirSource, done chan<- struct{}) {
	defer close(done)
	for {
		pixels, width, height, ts, ok, err := source.Next()
		if err != nil {
			log.Error("frame source error", "error", err)
			return
		}
		if !ok {
			return
		}
		if err := orch.UpdateFrame(pixels, width, height, ts); err != nil {
			log.Error("update frame failed", "error", err)
		}
	}
}

func validateSessionConfig(path string) {
	cfg, err := config.LoadSessionConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("valid session config: trainer_id=%q storage_dir=%q scraping_dir=%q\n",
		cfg.TrainerID, cfg.StorageDir, cfg.CharaDetail.ScrapingDir)
}
