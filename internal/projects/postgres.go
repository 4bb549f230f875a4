package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// PostgresStore implements Store and UserStore on PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresStore creates a store on an open pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateProject inserts a project owned by ownerID.
func (s *PostgresStore) CreateProject(ctx context.Context, name, description, ownerID string) (*models.Project, error) {
	p := models.Project{Name: name, Description: description, OwnerID: ownerID}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, description, created_by_user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		name, description, ownerID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return &p, nil
}

// GetProject retrieves a project by ID.
func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_by_user_id, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID).Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// LoadSnapshot returns the stored history in turn order and files by path.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, projectID string) (models.ProjectSnapshot, error) {
	snap := models.ProjectSnapshot{ProjectID: projectID}

	if _, err := s.GetProject(ctx, projectID); err != nil {
		return snap, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at
		FROM project_messages
		WHERE project_id = $1
		ORDER BY position
	`, projectID)
	if err != nil {
		return snap, fmt.Errorf("failed to query messages: %w", err)
	}
	snap.History, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ConversationMessage, error) {
		var m models.ConversationMessage
		var role string
		err := row.Scan(&role, &m.Content, &m.CreatedAt)
		m.Role = models.MessageRole(role)
		return m, err
	})
	if err != nil {
		return snap, fmt.Errorf("failed to scan messages: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT file_path, content, language
		FROM project_files
		WHERE project_id = $1
		ORDER BY file_path
	`, projectID)
	if err != nil {
		return snap, fmt.Errorf("failed to query files: %w", err)
	}
	snap.Files, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.FileArtifact, error) {
		var f models.FileArtifact
		err := row.Scan(&f.Path, &f.Content, &f.Language)
		return f, err
	})
	if err != nil {
		return snap, fmt.Errorf("failed to scan files: %w", err)
	}

	return snap, nil
}

// CreateGeneration locks the project row so two requests cannot both start a
// generation for the same project.
func (s *PostgresStore) CreateGeneration(ctx context.Context, projectID, userID, prompt string) (*models.Generation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to lock project: %w", err)
	}

	var busy bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM generations
			WHERE project_id = $1 AND status IN ('pending', 'running')
		)
	`, projectID).Scan(&busy)
	if err != nil {
		return nil, fmt.Errorf("failed to check running generations: %w", err)
	}
	if busy {
		return nil, ErrGenerationRunning
	}

	g := models.Generation{ProjectID: projectID, UserID: userID, Prompt: prompt}
	var status string
	err = tx.QueryRow(ctx,
		`INSERT INTO generations (project_id, created_by_user_id, prompt, status)
		 VALUES ($1, $2, $3, 'pending')
		 RETURNING id, status, created_at`,
		projectID, userID, prompt,
	).Scan(&g.ID, &status, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}
	g.Status = models.GenerationStatus(status)

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &g, nil
}

// GetGeneration retrieves a generation record.
func (s *PostgresStore) GetGeneration(ctx context.Context, generationID string) (*models.Generation, error) {
	var (
		g      models.Generation
		status string
		result []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, created_by_user_id, prompt, status, result, error, created_at, completed_at
		FROM generations
		WHERE id = $1
	`, generationID).Scan(&g.ID, &g.ProjectID, &g.UserID, &g.Prompt, &status, &result, &g.Error, &g.CreatedAt, &g.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	g.Status = models.GenerationStatus(status)

	if len(result) > 0 {
		var summary models.ResultSummary
		if err := json.Unmarshal(result, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode generation result: %w", err)
		}
		g.Result = &summary
	}
	return &g, nil
}

// MarkRunning moves a pending generation to running.
func (s *PostgresStore) MarkRunning(ctx context.Context, generationID string) error {
	return s.transition(ctx, generationID, models.GenerationRunning, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE generations SET status = 'running', started_at = NOW()
			WHERE id = $1
		`, generationID)
		return err
	})
}

// CompleteGeneration writes the result snapshot: the history is replaced,
// files are upserted by path, and the generation is marked completed.
func (s *PostgresStore) CompleteGeneration(ctx context.Context, generationID string, result *models.Result) error {
	summary, err := json.Marshal(result.Summary())
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	return s.transition(ctx, generationID, models.GenerationCompleted, func(tx pgx.Tx) error {
		var projectID string
		if err := tx.QueryRow(ctx, `SELECT project_id FROM generations WHERE id = $1`, generationID).Scan(&projectID); err != nil {
			return fmt.Errorf("failed to get generation project: %w", err)
		}

		if err := replaceHistory(ctx, tx, projectID, result.Snapshot.History); err != nil {
			return err
		}
		if err := upsertFiles(ctx, tx, projectID, result.Snapshot.Files); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE projects SET updated_at = NOW() WHERE id = $1`, projectID); err != nil {
			return fmt.Errorf("failed to update project timestamp: %w", err)
		}
		_, err := tx.Exec(ctx, `
			UPDATE generations
			SET status = 'completed', result = $2::jsonb, completed_at = NOW()
			WHERE id = $1
		`, generationID, string(summary))
		return err
	})
}

// FailGeneration records reason and marks the generation failed.
func (s *PostgresStore) FailGeneration(ctx context.Context, generationID, reason string) error {
	return s.transition(ctx, generationID, models.GenerationFailed, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE generations SET status = 'failed', error = $2, completed_at = NOW()
			WHERE id = $1
		`, generationID, reason)
		return err
	})
}

// AppendAudit appends one progress event to the generation's audit trail.
func (s *PostgresStore) AppendAudit(ctx context.Context, generationID string, event models.ProgressEvent) error {
	entry, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE generations
		SET audit_trail = COALESCE(audit_trail, '[]'::jsonb) || jsonb_build_array($1::jsonb)
		WHERE id = $2
	`, string(entry), generationID)
	if err != nil {
		return fmt.Errorf("failed to append audit trail: %w", err)
	}
	return nil
}

// FindUserByEmail returns the login account for email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, hashed_password, roles, created_at, updated_at
		FROM users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&u.ID, &u.Name, &u.Email, &u.HashedPassword, &u.Roles, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a login account. An existing email is reported as an
// error wrapping the unique violation.
func (s *PostgresStore) CreateUser(ctx context.Context, name, email, hashedPassword string, roles []string) (string, error) {
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, hashed_password, roles)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		name, strings.ToLower(strings.TrimSpace(email)), hashedPassword, roles,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("user with email %s already exists: %w", email, err)
		}
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// transition locks the generation row, validates the status change and runs
// apply in the same transaction.
func (s *PostgresStore) transition(ctx context.Context, generationID string, to models.GenerationStatus, apply func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockGenerationForUpdate(ctx, tx, generationID)
	if err != nil {
		return err
	}
	if err := ValidateTransition(current, to); err != nil {
		return err
	}
	if err := apply(tx); err != nil {
		return fmt.Errorf("failed to mark generation %s: %w", to, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.Debug(ctx, "Generation status changed",
		zap.String("generation_id", generationID),
		zap.String("from", string(current)),
		zap.String("to", string(to)))
	return nil
}

func lockGenerationForUpdate(ctx context.Context, tx pgx.Tx, generationID string) (models.GenerationStatus, error) {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT status FROM generations
		WHERE id = $1
		FOR UPDATE
	`, generationID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrGenerationNotFound
		}
		return "", fmt.Errorf("failed to lock generation: %w", err)
	}
	return models.GenerationStatus(status), nil
}

func replaceHistory(ctx context.Context, tx pgx.Tx, projectID string, history []models.ConversationMessage) error {
	if _, err := tx.Exec(ctx, `DELETE FROM project_messages WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	if len(history) == 0 {
		return nil
	}

	now := time.Now().UTC()
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"project_messages"},
		[]string{"project_id", "position", "role", "content", "created_at"},
		pgx.CopyFromSlice(len(history), func(i int) ([]any, error) {
			m := history[i]
			created := m.CreatedAt
			if created.IsZero() {
				created = now
			}
			return []any{projectID, i, string(m.Role), m.Content, created}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to store history: %w", err)
	}
	return nil
}

func upsertFiles(ctx context.Context, tx pgx.Tx, projectID string, files []models.FileArtifact) error {
	if len(files) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range files {
		batch.Queue(`
			INSERT INTO project_files (project_id, file_path, content, language, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			ON CONFLICT (project_id, file_path)
			DO UPDATE SET content = EXCLUDED.content, language = EXCLUDED.language, updated_at = NOW()
		`, projectID, f.Path, f.Content, f.Language)
	}

	results := tx.SendBatch(ctx, batch)
	for _, f := range files {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to store file %s: %w", f.Path, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to store files: %w", err)
	}
	return nil
}
