package projects

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// MemoryStore is an in-process Store and UserStore for tests and for the
// offline CLI.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]models.User // keyed by email
	projects    map[string]models.Project
	snapshots   map[string]models.ProjectSnapshot
	generations map[string]*memoryGeneration
	now         func() time.Time
}

type memoryGeneration struct {
	record models.Generation
	audit  []models.ProgressEvent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]models.User),
		projects:    make(map[string]models.Project),
		snapshots:   make(map[string]models.ProjectSnapshot),
		generations: make(map[string]*memoryGeneration),
		now:         time.Now,
	}
}

// AddUser registers a login account and returns its ID.
func (m *MemoryStore) AddUser(name, email, hashedPassword string, roles ...string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := models.User{
		ID:             uuid.NewString(),
		Name:           name,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		HashedPassword: hashedPassword,
		Roles:          roles,
		CreatedAt:      m.now(),
		UpdatedAt:      m.now(),
	}
	m.users[u.Email] = u
	return u.ID
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryStore) CreateProject(_ context.Context, name, description, ownerID string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := models.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   m.now(),
		UpdatedAt:   m.now(),
	}
	m.projects[p.ID] = p
	m.snapshots[p.ID] = models.ProjectSnapshot{ProjectID: p.ID}
	return &p, nil
}

func (m *MemoryStore) GetProject(_ context.Context, projectID string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return &p, nil
}

func (m *MemoryStore) LoadSnapshot(_ context.Context, projectID string) (models.ProjectSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[projectID]
	if !ok {
		return models.ProjectSnapshot{ProjectID: projectID}, ErrProjectNotFound
	}
	return models.ProjectSnapshot{
		ProjectID: projectID,
		History:   models.CloneMessages(snap.History),
		Files:     models.CloneFiles(snap.Files),
	}, nil
}

func (m *MemoryStore) CreateGeneration(_ context.Context, projectID, userID, prompt string) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; !ok {
		return nil, ErrProjectNotFound
	}
	for _, g := range m.generations {
		if g.record.ProjectID == projectID &&
			(g.record.Status == models.GenerationPending || g.record.Status == models.GenerationRunning) {
			return nil, ErrGenerationRunning
		}
	}
	g := &memoryGeneration{record: models.Generation{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		Prompt:    prompt,
		Status:    models.GenerationPending,
		CreatedAt: m.now(),
	}}
	m.generations[g.record.ID] = g
	rec := g.record
	return &rec, nil
}

func (m *MemoryStore) GetGeneration(_ context.Context, generationID string) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.generations[generationID]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	rec := g.record
	return &rec, nil
}

func (m *MemoryStore) MarkRunning(_ context.Context, generationID string) error {
	_, err := m.transition(generationID, models.GenerationRunning)
	return err
}

func (m *MemoryStore) CompleteGeneration(_ context.Context, generationID string, result *models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.transitionLocked(generationID, models.GenerationCompleted)
	if err != nil {
		return err
	}

	snap := m.snapshots[g.record.ProjectID]
	snap.History = models.CloneMessages(result.Snapshot.History)
	files := models.FilesByPath(snap.Files)
	for _, f := range result.Snapshot.Files {
		files[f.Path] = f
	}
	snap.Files = snap.Files[:0:0]
	for _, f := range files {
		snap.Files = append(snap.Files, f)
	}
	sortFiles(snap.Files)
	m.snapshots[g.record.ProjectID] = snap

	p := m.projects[g.record.ProjectID]
	p.UpdatedAt = m.now()
	m.projects[p.ID] = p

	g.record.Result = result.Summary()
	completed := m.now()
	g.record.CompletedAt = &completed
	return nil
}

func (m *MemoryStore) FailGeneration(_ context.Context, generationID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.transitionLocked(generationID, models.GenerationFailed)
	if err != nil {
		return err
	}
	g.record.Error = &reason
	completed := m.now()
	g.record.CompletedAt = &completed
	return nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, generationID string, event models.ProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.generations[generationID]
	if !ok {
		return ErrGenerationNotFound
	}
	g.audit = append(g.audit, event)
	return nil
}

// Audit returns a copy of the audit trail of a generation.
func (m *MemoryStore) Audit(generationID string) []models.ProgressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.generations[generationID]
	if !ok {
		return nil
	}
	return append([]models.ProgressEvent(nil), g.audit...)
}

func (m *MemoryStore) transition(generationID string, to models.GenerationStatus) (*memoryGeneration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(generationID, to)
}

func (m *MemoryStore) transitionLocked(generationID string, to models.GenerationStatus) (*memoryGeneration, error) {
	g, ok := m.generations[generationID]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	if err := ValidateTransition(g.record.Status, to); err != nil {
		return nil, err
	}
	g.record.Status = to
	return g, nil
}

func sortFiles(files []models.FileArtifact) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}
