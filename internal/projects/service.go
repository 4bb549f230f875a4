package projects

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/orchestration"
)

// persistTimeout bounds the writes made after a generation ends, which run
// detached from the request context.
const persistTimeout = 30 * time.Second

// Orchestrator runs one generation request.
type Orchestrator interface {
	Run(ctx context.Context, req orchestration.Request, sink orchestration.ProgressSink) (*models.Result, error)
}

// SinkProvider hands out the live progress sink for a generation.
type SinkProvider interface {
	SinkFor(generationID string) orchestration.ProgressSink
}

// Service owns the lifecycle of generations: it creates the record, runs
// the orchestrator in the background and persists the outcome.
type Service struct {
	store        Store
	orchestrator Orchestrator
	sinks        SinkProvider
	logger       *logging.Logger
	metrics      *metrics.GenerationMetrics

	base   context.Context
	cancel context.CancelFunc
	// mu orders wg.Add in StartGeneration against Shutdown.
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithServiceMetrics(m *metrics.GenerationMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithSinks streams progress to live subscribers in addition to the audit
// trail.
func WithSinks(p SinkProvider) ServiceOption {
	return func(s *Service) { s.sinks = p }
}

// NewService creates a generation service.
func NewService(store Store, orchestrator Orchestrator, opts ...ServiceOption) *Service {
	base, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:        store,
		orchestrator: orchestrator,
		logger:       logging.NewNop(),
		base:         base,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProject creates an empty project owned by userID.
func (s *Service) CreateProject(ctx context.Context, name, description, userID string) (*models.Project, error) {
	p, err := s.store.CreateProject(ctx, strings.TrimSpace(name), description, userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "Project created", zap.String("project_id", p.ID), zap.String("user_id", userID))
	return p, nil
}

// GetProject returns the project and its current snapshot if userID owns it.
func (s *Service) GetProject(ctx context.Context, projectID, userID string) (*models.Project, models.ProjectSnapshot, error) {
	p, err := s.authorize(ctx, projectID, userID)
	if err != nil {
		return nil, models.ProjectSnapshot{}, err
	}
	snap, err := s.store.LoadSnapshot(ctx, projectID)
	if err != nil {
		return nil, models.ProjectSnapshot{}, err
	}
	return p, snap, nil
}

// GetGeneration returns a generation of a project userID owns.
func (s *Service) GetGeneration(ctx context.Context, generationID, userID string) (*models.Generation, error) {
	g, err := s.store.GetGeneration(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, g.ProjectID, userID); err != nil {
		return nil, err
	}
	return g, nil
}

// StartGeneration records a pending generation and runs it in the
// background. The returned record is in pending status.
func (s *Service) StartGeneration(ctx context.Context, projectID, userID, prompt string) (*models.Generation, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, orchestration.ErrEmptyRequest
	}
	if _, err := s.authorize(ctx, projectID, userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	g, err := s.store.CreateGeneration(ctx, projectID, userID, prompt)
	if err != nil {
		s.wg.Done()
		return nil, err
	}

	go func() {
		defer s.wg.Done()
		s.execute(g)
	}()
	return g, nil
}

// Shutdown cancels running generations and waits for them to persist their
// outcome, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all background generations have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) authorize(ctx context.Context, projectID, userID string) (*models.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != userID {
		return nil, ErrForbidden
	}
	return p, nil
}

func (s *Service) execute(g *models.Generation) {
	ctx := logging.WithProjectID(logging.WithGenerationID(s.base, g.ID), g.ProjectID)
	start := time.Now()
	s.metrics.RecordGenerationStarted(ctx, g.ProjectID)

	sinks := orchestration.MultiSink{s.auditSink(g.ID)}
	if s.sinks != nil {
		sinks = append(sinks, s.sinks.SinkFor(g.ID))
	}
	progress := &progressGate{sink: sinks}

	if err := s.store.MarkRunning(ctx, g.ID); err != nil {
		s.fail(ctx, g, progress, start, models.ErrorKindPersistenceFailure, err)
		return
	}

	snap, err := s.store.LoadSnapshot(ctx, g.ProjectID)
	if err != nil {
		s.fail(ctx, g, progress, start, models.ErrorKindPersistenceFailure, err)
		return
	}

	res, err := s.orchestrator.Run(ctx, orchestration.Request{
		GenerationID: g.ID,
		Prompt:       g.Prompt,
		Snapshot:     snap,
	}, progress)
	if err != nil {
		s.fail(ctx, g, progress, start, failureKind(err), err)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.CompleteGeneration(pctx, g.ID, res); err != nil {
		s.fail(ctx, g, progress, start, models.ErrorKindPersistenceFailure, err)
		return
	}
	progress.release(pctx)

	s.metrics.RecordGenerationFinished(ctx, g.ProjectID, string(res.State.Status), res.State.IterationIndex+1, time.Since(start))
	s.logger.Info(ctx, "Generation persisted",
		zap.String("status", string(res.State.Status)),
		zap.Int("files", len(res.Snapshot.Files)),
		zap.Duration("duration", time.Since(start)))
}

func (s *Service) fail(ctx context.Context, g *models.Generation, progress *progressGate, start time.Time, kind models.ErrorKind, cause error) {
	s.logger.Error(ctx, "Generation failed", zap.Error(cause), zap.String("kind", string(kind)))
	s.metrics.RecordGenerationFinished(ctx, g.ProjectID, string(models.GenerationFailed), 0, time.Since(start))

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.FailGeneration(pctx, g.ID, cause.Error()); err != nil {
		s.logger.Error(ctx, "Failed to mark generation failed", zap.Error(err))
	}
	progress.abort(pctx, g.ID, kind, cause)
}

func failureKind(err error) models.ErrorKind {
	var dep *orchestration.DependencyError
	if errors.As(err, &dep) {
		return models.ErrorKindDependencyFailure
	}
	return models.ErrorKindAgentFailure
}

// progressGate forwards events to the generation's sinks but holds back the
// done event until the result is stored. A generation that ends without a
// terminal event gets an error event from abort.
type progressGate struct {
	sink orchestration.ProgressSink

	mu       sync.Mutex
	last     int64
	held     *models.ProgressEvent
	terminal bool
}

func (p *progressGate) Emit(ctx context.Context, event models.ProgressEvent) {
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return
	}
	p.last = event.Sequence
	if event.Stage == models.StageDone {
		p.held = &event
		p.mu.Unlock()
		return
	}
	p.terminal = event.Terminal()
	p.mu.Unlock()
	p.sink.Emit(ctx, event)
}

// release sends the held done event.
func (p *progressGate) release(ctx context.Context) {
	p.mu.Lock()
	held := p.held
	p.held = nil
	if held != nil {
		p.terminal = true
	}
	p.mu.Unlock()
	if held != nil {
		p.sink.Emit(ctx, *held)
	}
}

// abort ends the stream with an error event unless a terminal event was
// already sent. A held done event is replaced.
func (p *progressGate) abort(ctx context.Context, generationID string, kind models.ErrorKind, cause error) {
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return
	}
	p.terminal = true
	seq := p.last + 1
	if p.held != nil {
		seq = p.held.Sequence
		p.held = nil
	}
	p.mu.Unlock()

	p.sink.Emit(ctx, models.ProgressEvent{
		GenerationID: generationID,
		Sequence:     seq,
		Stage:        models.StageError,
		Kind:         kind,
		Message:      "Generation failed: " + cause.Error(),
		Timestamp:    time.Now().UTC(),
	})
}

// auditSink stores every event in the generation's audit trail. Write
// failures are logged and do not stop the run.
func (s *Service) auditSink(generationID string) orchestration.ProgressSink {
	return orchestration.SinkFunc(func(ctx context.Context, event models.ProgressEvent) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := s.store.AppendAudit(pctx, generationID, event); err != nil {
			s.logger.Warn(ctx, "Failed to append audit entry",
				zap.Int64("sequence", event.Sequence),
				zap.Error(err))
		}
	})
}
