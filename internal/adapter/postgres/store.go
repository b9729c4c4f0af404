package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ForgeFlow/internal/domain/credential"
	"github.com/Strob0t/ForgeFlow/internal/domain/staging"
	"github.com/Strob0t/ForgeFlow/internal/domain/task"
	"github.com/Strob0t/ForgeFlow/internal/domain/worktree"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Tasks ---

const taskColumns = `id, project_id, spec_id, title, status, source, subtasks, review_reason, progress, is_stuck, archived_at, version, created_at, updated_at`

func (s *Store) ListTasks(ctx context.Context, projectID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE ($1 = '' OR project_id = $1)
		 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	now := time.Now().UTC()
	t := task.Task{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		SpecID:    req.SpecID,
		Title:     req.Title,
		Status:    task.StatusBacklog,
		Source:    req.Source,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, project_id, spec_id, title, status, source, subtasks, review_reason, progress, is_stuck, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '[]', '', '{}', false, $7, $8, $8)`,
		t.ID, t.ProjectID, t.SpecID, t.Title, t.Status, t.Source, t.Version, now)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	subtasks, err := json.Marshal(orEmptySubtasks(t.Subtasks))
	if err != nil {
		return fmt.Errorf("marshal subtasks: %w", err)
	}
	progress, err := json.Marshal(t.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks
		 SET title = $2, status = $3, source = $4, subtasks = $5, review_reason = $6,
		     progress = $7, is_stuck = $8, archived_at = $9, version = version + 1, updated_at = $10
		 WHERE id = $1 AND version = $11`,
		t.ID, t.Title, t.Status, t.Source, subtasks, string(t.ReviewReason),
		progress, t.IsStuck, nullTime(t.ArchivedAt), now, t.Version)
	if err := execExpectOne(tag, err, "update task %s", t.ID); err != nil {
		return err
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status, reason task.ReviewReason) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, review_reason = $3, version = version + 1, updated_at = now()
		 WHERE id = $1`, id, status, string(reason))
	return execExpectOne(tag, err, "update task status %s", id)
}

func (s *Store) SetTaskStuck(ctx context.Context, id string, stuck bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET is_stuck = $2, version = version + 1, updated_at = now()
		 WHERE id = $1`, id, stuck)
	return execExpectOne(tag, err, "set task stuck %s", id)
}

func (s *Store) ArchiveTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET archived_at = COALESCE(archived_at, now()), updated_at = now()
		 WHERE id = $1`, id)
	return execExpectOne(tag, err, "archive task %s", id)
}

func scanTask(row scannable) (task.Task, error) {
	var (
		t            task.Task
		subtasks     []byte
		progress     []byte
		reviewReason string
		archivedAt   *time.Time
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.SpecID, &t.Title, &t.Status, &t.Source,
		&subtasks, &reviewReason, &progress, &t.IsStuck, &archivedAt,
		&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	if err := json.Unmarshal(subtasks, &t.Subtasks); err != nil {
		return task.Task{}, fmt.Errorf("unmarshal subtasks for task %s: %w", t.ID, err)
	}
	if err := json.Unmarshal(progress, &t.Progress); err != nil {
		return task.Task{}, fmt.Errorf("unmarshal progress for task %s: %w", t.ID, err)
	}
	t.ReviewReason = task.ReviewReason(reviewReason)
	t.ArchivedAt = archivedAt
	return t, nil
}

func orEmptySubtasks(s []task.Subtask) []task.Subtask {
	if s == nil {
		return []task.Subtask{}
	}
	return s
}

// --- Worktrees ---

const worktreeColumns = `spec_name, task_id, branch, base_branch, path, commits_ahead, files_changed, additions, deletions, disk_usage_mb, last_activity_at, created_at`

func (s *Store) ListWorktrees(ctx context.Context, projectID string) ([]worktree.Worktree, error) {
	// Worktrees carry no project of their own; filter through the owning task.
	rows, err := s.pool.Query(ctx,
		`SELECT w.spec_name, w.task_id, w.branch, w.base_branch, w.path, w.commits_ahead, w.files_changed, w.additions, w.deletions, w.disk_usage_mb, w.last_activity_at, w.created_at
		 FROM worktrees w
		 LEFT JOIN tasks t ON t.id = w.task_id
		 WHERE ($1 = '' OR t.project_id = $1)
		 ORDER BY w.created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	defer rows.Close()

	var trees []worktree.Worktree
	for rows.Next() {
		w, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		trees = append(trees, w)
	}
	return trees, rows.Err()
}

func (s *Store) GetWorktree(ctx context.Context, specName string) (*worktree.Worktree, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+worktreeColumns+` FROM worktrees WHERE spec_name = $1`, specName)
	w, err := scanWorktree(row)
	if err != nil {
		return nil, notFoundWrap(err, "get worktree %s", specName)
	}
	return &w, nil
}

func (s *Store) GetWorktreeByTask(ctx context.Context, taskID string) (*worktree.Worktree, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+worktreeColumns+` FROM worktrees WHERE task_id = $1`, taskID)
	w, err := scanWorktree(row)
	if err != nil {
		return nil, notFoundWrap(err, "get worktree for task %s", taskID)
	}
	return &w, nil
}

func (s *Store) CreateWorktree(ctx context.Context, w *worktree.Worktree) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO worktrees (spec_name, task_id, branch, base_branch, path, commits_ahead, files_changed, additions, deletions, disk_usage_mb, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.SpecName, w.TaskID, w.Branch, w.BaseBranch, w.Path,
		w.CommitsAhead, w.FilesChanged, w.Additions, w.Deletions, w.DiskUsageMb,
		zeroTimeNull(w.LastActivityAt), w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create worktree %s: %w", w.SpecName, err)
	}
	return nil
}

func (s *Store) UpdateWorktreeStats(ctx context.Context, w *worktree.Worktree) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE worktrees
		 SET commits_ahead = $2, files_changed = $3, additions = $4, deletions = $5,
		     disk_usage_mb = $6, last_activity_at = $7
		 WHERE spec_name = $1`,
		w.SpecName, w.CommitsAhead, w.FilesChanged, w.Additions, w.Deletions,
		w.DiskUsageMb, zeroTimeNull(w.LastActivityAt))
	return execExpectOne(tag, err, "update worktree stats %s", w.SpecName)
}

func (s *Store) DeleteWorktree(ctx context.Context, specName string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM worktrees WHERE spec_name = $1`, specName)
	return execExpectOne(tag, err, "delete worktree %s", specName)
}

func scanWorktree(row scannable) (worktree.Worktree, error) {
	var (
		w            worktree.Worktree
		lastActivity *time.Time
	)
	err := row.Scan(&w.SpecName, &w.TaskID, &w.Branch, &w.BaseBranch, &w.Path,
		&w.CommitsAhead, &w.FilesChanged, &w.Additions, &w.Deletions,
		&w.DiskUsageMb, &lastActivity, &w.CreatedAt)
	if err != nil {
		return worktree.Worktree{}, err
	}
	if lastActivity != nil {
		w.LastActivityAt = *lastActivity
	}
	return w, nil
}

func zeroTimeNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// --- Staged changes ---

func (s *Store) ListStagedChanges(ctx context.Context) ([]staging.StagedChange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, spec_name, files, merge_source, staged_at
		 FROM staged_changes ORDER BY staged_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list staged changes: %w", err)
	}
	defer rows.Close()

	var changes []staging.StagedChange
	for rows.Next() {
		var c staging.StagedChange
		if err := rows.Scan(&c.TaskID, &c.SpecName, &c.Files, &c.MergeSource, &c.StagedAt); err != nil {
			return nil, fmt.Errorf("scan staged change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (s *Store) UpsertStagedChange(ctx context.Context, c *staging.StagedChange) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO staged_changes (task_id, spec_name, files, merge_source, staged_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (task_id) DO UPDATE
		 SET spec_name = EXCLUDED.spec_name, files = EXCLUDED.files,
		     merge_source = EXCLUDED.merge_source, staged_at = EXCLUDED.staged_at`,
		c.TaskID, c.SpecName, pgTextArray(c.Files), c.MergeSource, c.StagedAt)
	if err != nil {
		return fmt.Errorf("upsert staged change %s: %w", c.TaskID, err)
	}
	return nil
}

func (s *Store) DeleteStagedChange(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM staged_changes WHERE task_id = $1`, taskID)
	return execExpectOne(tag, err, "delete staged change %s", taskID)
}

func (s *Store) ClearStagedChanges(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM staged_changes`); err != nil {
		return fmt.Errorf("clear staged changes: %w", err)
	}
	return nil
}

// --- Credential profiles ---

const profileColumns = `id, name, is_default, is_active, is_authenticated, quota_used, quota_limit, quota_reset_at, created_at, updated_at`

func (s *Store) ListProfiles(ctx context.Context) ([]credential.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM credential_profiles ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []credential.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *Store) GetProfile(ctx context.Context, id string) (*credential.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM credential_profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, notFoundWrap(err, "get profile %s", id)
	}
	return &p, nil
}

func (s *Store) CreateProfile(ctx context.Context, p *credential.Profile, encryptedToken []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credential_profiles (id, name, is_default, is_active, is_authenticated, encrypted_token, quota_used, quota_limit, quota_reset_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Name, p.IsDefault, p.IsActive, p.IsAuthenticated, encryptedToken,
		p.Quota.Used, p.Quota.Limit, nullTime(p.Quota.ResetAt), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create profile %s: %w", p.Name, err)
	}
	return nil
}

// SetActiveProfile marks one profile active and all others inactive,
// atomically.
func (s *Store) SetActiveProfile(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin set active profile: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE credential_profiles SET is_active = false, updated_at = now() WHERE is_active`); err != nil {
		return fmt.Errorf("deactivate profiles: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE credential_profiles SET is_active = true, updated_at = now() WHERE id = $1`, id)
	if err := execExpectOne(tag, err, "activate profile %s", id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit set active profile: %w", err)
	}
	return nil
}

func (s *Store) UpdateProfileQuota(ctx context.Context, id string, quota credential.Quota) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credential_profiles
		 SET quota_used = $2, quota_limit = $3, quota_reset_at = $4, updated_at = now()
		 WHERE id = $1`, id, quota.Used, quota.Limit, nullTime(quota.ResetAt))
	return execExpectOne(tag, err, "update profile quota %s", id)
}

func scanProfile(row scannable) (credential.Profile, error) {
	var (
		p       credential.Profile
		resetAt *time.Time
	)
	err := row.Scan(&p.ID, &p.Name, &p.IsDefault, &p.IsActive, &p.IsAuthenticated,
		&p.Quota.Used, &p.Quota.Limit, &resetAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return credential.Profile{}, err
	}
	p.Quota.ResetAt = resetAt
	return p, nil
}

// --- Rate-limit events ---

func (s *Store) CreatePendingRateLimit(ctx context.Context, ev *credential.RateLimitEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rate_limit_events (id, source, task_id, profile_id, limit_type, reset_time, resolved, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		ev.ID, ev.Source, ev.TaskID, ev.ProfileID, ev.LimitType, nullTime(ev.ResetTime), ev.DetectedAt)
	if err != nil {
		return fmt.Errorf("create rate limit event: %w", err)
	}
	return nil
}

func (s *Store) ListPendingRateLimits(ctx context.Context) ([]credential.RateLimitEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, task_id, profile_id, limit_type, reset_time, resolved, detected_at
		 FROM rate_limit_events WHERE NOT resolved ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending rate limits: %w", err)
	}
	defer rows.Close()

	var events []credential.RateLimitEvent
	for rows.Next() {
		var (
			ev        credential.RateLimitEvent
			resetTime *time.Time
		)
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.TaskID, &ev.ProfileID,
			&ev.LimitType, &resetTime, &ev.Resolved, &ev.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan rate limit event: %w", err)
		}
		ev.ResetTime = resetTime
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ResolveRateLimit marks all pending events from a source (and task, when
// given) as resolved. Resolving with no matching events is not an error.
func (s *Store) ResolveRateLimit(ctx context.Context, source, taskID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rate_limit_events SET resolved = true
		 WHERE source = $1 AND ($2 = '' OR task_id = $2) AND NOT resolved`,
		source, taskID)
	if err != nil {
		return fmt.Errorf("resolve rate limit %s: %w", source, err)
	}
	return nil
}
