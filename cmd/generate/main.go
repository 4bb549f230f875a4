// Command generate runs one generation against the configured model and
// writes the resulting files to a directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/orchestration"
)

const snapshotFile = ".codegen-snapshot.json"

func main() {
	prompt := flag.String("prompt", "", "What to build (required)")
	out := flag.String("out", "generated", "Output directory")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	maxIterations := flag.Int("max-iterations", 0, "Override orchestrator.max_iterations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *maxIterations > 0 {
		cfg.Orchestrator.MaxIterations = *maxIterations
	}
	cfg.Log.Format = "console"
	logger, err := logging.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(*prompt) == "" {
		logger.Fatal(ctx, "A prompt is required (-prompt)")
	}

	gw, err := llm.New(cfg.LLM, logger, nil)
	if err != nil {
		logger.Fatal(ctx, "Failed to create model gateway", zap.Error(err))
	}
	orchestrator, err := orchestration.NewFromConfig(cfg, gw, logger, nil)
	if err != nil {
		logger.Fatal(ctx, "Failed to create orchestrator", zap.Error(err))
	}

	snap, err := loadSnapshot(*out)
	if err != nil {
		logger.Fatal(ctx, "Failed to read previous snapshot", zap.Error(err))
	}

	res, err := generate(ctx, orchestrator, orchestration.Request{
		GenerationID: uuid.NewString(),
		Prompt:       *prompt,
		Snapshot:     snap,
	}, logger)
	if err != nil {
		logger.Fatal(ctx, "Generation failed", zap.Error(err))
	}

	if err := writeResult(*out, res); err != nil {
		logger.Fatal(ctx, "Failed to write files", zap.Error(err))
	}
	logger.Info(ctx, "Files written",
		zap.String("dir", *out),
		zap.Int("files", len(res.Snapshot.Files)),
		zap.String("status", string(res.State.Status)),
		zap.Int("findings", len(res.State.Findings)))
}

type runner interface {
	Run(ctx context.Context, req orchestration.Request, sink orchestration.ProgressSink) (*models.Result, error)
}

// generate runs req and logs progress from a separate goroutine so slow
// terminal output never holds up the agents. All events are logged before
// it returns.
func generate(ctx context.Context, r runner, req orchestration.Request, logger *logging.Logger) (*models.Result, error) {
	sink := orchestration.NewChannelSink(64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range sink.Events() {
			fields := []zap.Field{zap.Int64("seq", e.Sequence), zap.Int("iteration", e.Iteration)}
			if e.Kind != "" {
				fields = append(fields, zap.String("kind", string(e.Kind)))
			}
			logger.Info(ctx, fmt.Sprintf("[%s] %s", e.Stage, e.Message), fields...)
		}
	}()

	res, err := r.Run(ctx, req, sink)
	sink.Close()
	<-printed
	return res, err
}

// loadSnapshot reads the snapshot a previous run left in dir, so follow-up
// prompts continue the same project.
func loadSnapshot(dir string) (models.ProjectSnapshot, error) {
	var snap models.ProjectSnapshot
	data, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode %s: %w", snapshotFile, err)
	}
	return snap, nil
}

func writeResult(dir string, res *models.Result) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, f := range res.Snapshot.Files {
		target := filepath.Join(root, filepath.FromSlash(f.Path))
		if !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("file path escapes output directory: %s", f.Path)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(res.Snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, snapshotFile), data, 0o644)
}
