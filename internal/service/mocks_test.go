package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ForgeFlow/internal/domain"
	"github.com/Strob0t/ForgeFlow/internal/domain/credential"
	"github.com/Strob0t/ForgeFlow/internal/domain/staging"
	"github.com/Strob0t/ForgeFlow/internal/domain/task"
	"github.com/Strob0t/ForgeFlow/internal/domain/worktree"
	"github.com/Strob0t/ForgeFlow/internal/port/agentproc"
	"github.com/Strob0t/ForgeFlow/internal/port/gitops"
	"github.com/Strob0t/ForgeFlow/internal/port/messagequeue"
)

// mockStore is an in-memory database.Store for testing.
type mockStore struct {
	mu        sync.Mutex
	tasks     []task.Task
	worktrees []worktree.Worktree
	staged    []staging.StagedChange
	profiles  []credential.Profile
	pending   []credential.RateLimitEvent

	updateTaskErr error
	updateStatErr error
}

func (s *mockStore) ListTasks(_ context.Context, projectID string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if projectID == "" {
		return append([]task.Task(nil), s.tasks...), nil
	}
	var out []task.Task
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			t := s.tasks[i]
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *mockStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := task.Task{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		SpecID:    req.SpecID,
		Title:     req.Title,
		Status:    task.StatusBacklog,
		Source:    req.Source,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.tasks = append(s.tasks, t)
	return &t, nil
}

func (s *mockStore) UpdateTask(_ context.Context, t *task.Task) error {
	if s.updateTaskErr != nil {
		return s.updateTaskErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == t.ID {
			s.tasks[i] = *t
			s.tasks[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) UpdateTaskStatus(_ context.Context, id string, status task.Status, reason task.ReviewReason) error {
	if s.updateTaskErr != nil {
		return s.updateTaskErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].Status = status
			s.tasks[i].ReviewReason = reason
			s.tasks[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) SetTaskStuck(_ context.Context, id string, stuck bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].IsStuck = stuck
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) ArchiveTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			now := time.Now()
			s.tasks[i].ArchivedAt = &now
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) ListWorktrees(_ context.Context, _ string) ([]worktree.Worktree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]worktree.Worktree(nil), s.worktrees...), nil
}

func (s *mockStore) GetWorktree(_ context.Context, specName string) (*worktree.Worktree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.worktrees {
		if s.worktrees[i].SpecName == specName {
			w := s.worktrees[i]
			return &w, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *mockStore) GetWorktreeByTask(_ context.Context, taskID string) (*worktree.Worktree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.worktrees {
		if s.worktrees[i].TaskID == taskID {
			w := s.worktrees[i]
			return &w, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *mockStore) CreateWorktree(_ context.Context, w *worktree.Worktree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worktrees = append(s.worktrees, *w)
	return nil
}

func (s *mockStore) UpdateWorktreeStats(_ context.Context, w *worktree.Worktree) error {
	if s.updateStatErr != nil {
		return s.updateStatErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.worktrees {
		if s.worktrees[i].SpecName == w.SpecName {
			s.worktrees[i] = *w
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) DeleteWorktree(_ context.Context, specName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.worktrees {
		if s.worktrees[i].SpecName == specName {
			s.worktrees = append(s.worktrees[:i], s.worktrees[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) ListStagedChanges(_ context.Context) ([]staging.StagedChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]staging.StagedChange(nil), s.staged...), nil
}

func (s *mockStore) UpsertStagedChange(_ context.Context, c *staging.StagedChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.staged {
		if s.staged[i].TaskID == c.TaskID {
			s.staged[i] = *c
			return nil
		}
	}
	s.staged = append(s.staged, *c)
	return nil
}

func (s *mockStore) DeleteStagedChange(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.staged {
		if s.staged[i].TaskID == taskID {
			s.staged = append(s.staged[:i], s.staged[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) ClearStagedChanges(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
	return nil
}

func (s *mockStore) ListProfiles(_ context.Context) ([]credential.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]credential.Profile(nil), s.profiles...), nil
}

func (s *mockStore) GetProfile(_ context.Context, id string) (*credential.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.profiles {
		if s.profiles[i].ID == id {
			p := s.profiles[i]
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *mockStore) CreateProfile(_ context.Context, p *credential.Profile, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append(s.profiles, *p)
	return nil
}

func (s *mockStore) SetActiveProfile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.profiles {
		s.profiles[i].IsActive = s.profiles[i].ID == id
		if s.profiles[i].ID == id {
			found = true
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

func (s *mockStore) UpdateProfileQuota(_ context.Context, id string, quota credential.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.profiles {
		if s.profiles[i].ID == id {
			s.profiles[i].Quota = quota
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) CreatePendingRateLimit(_ context.Context, ev *credential.RateLimitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, *ev)
	return nil
}

func (s *mockStore) ListPendingRateLimits(_ context.Context) ([]credential.RateLimitEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []credential.RateLimitEvent
	for _, ev := range s.pending {
		if !ev.Resolved {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *mockStore) ResolveRateLimit(_ context.Context, source, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].Source == source && s.pending[i].TaskID == taskID {
			s.pending[i].Resolved = true
		}
	}
	return nil
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.published {
		if p.subject == subject {
			n++
		}
	}
	return n
}

// mockRunner implements agentproc.Runner for testing.
type mockRunner struct {
	mu       sync.Mutex
	alive    map[string]bool
	startErr error
	stopErr  error
	starts   int
	stops    int
}

func newMockRunner() *mockRunner {
	return &mockRunner{alive: make(map[string]bool)}
}

func (r *mockRunner) Start(_ context.Context, req agentproc.StartRequest) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[req.TaskID] = true
	r.starts++
	return nil
}

func (r *mockRunner) Stop(_ context.Context, taskID string) error {
	if r.stopErr != nil {
		return r.stopErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.alive, taskID)
	r.stops++
	return nil
}

func (r *mockRunner) IsAlive(_ context.Context, taskID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive[taskID], nil
}

// mockGit implements gitops.Client for testing.
type mockGit struct {
	mu           sync.Mutex
	changed      map[string][]string // worktreePath -> files
	contents     map[string][]byte   // branch:file -> content
	stats        gitops.Stats
	commits      []string
	stagedFiles  []string
	addErr       error
	removeErr    error
	commitErr    error
	removedPaths []string
}

func newMockGit() *mockGit {
	return &mockGit{
		changed:  make(map[string][]string),
		contents: make(map[string][]byte),
	}
}

func (g *mockGit) AddWorktree(_ context.Context, _, _, _, _ string) error { return g.addErr }

func (g *mockGit) RemoveWorktree(_ context.Context, _, path, _ string) error {
	if g.removeErr != nil {
		return g.removeErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removedPaths = append(g.removedPaths, path)
	return nil
}

func (g *mockGit) Stats(_ context.Context, _, _ string) (*gitops.Stats, error) {
	st := g.stats
	return &st, nil
}

func (g *mockGit) ChangedFiles(_ context.Context, worktreePath, _ string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed[worktreePath], nil
}

func (g *mockGit) ShowFile(_ context.Context, _, branch, file string) ([]byte, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	content, ok := g.contents[branch+":"+file]
	return content, ok, nil
}

func (g *mockGit) StageFiles(_ context.Context, _ string, files []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stagedFiles = append(g.stagedFiles, files...)
	return nil
}

func (g *mockGit) UnstageAll(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stagedFiles = nil
	return nil
}

func (g *mockGit) StagedFiles(_ context.Context, _ string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.stagedFiles...), nil
}

func (g *mockGit) Commit(_ context.Context, _, message string) (string, error) {
	if g.commitErr != nil {
		return "", g.commitErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits = append(g.commits, message)
	g.stagedFiles = nil
	return "abc123", nil
}

func (g *mockGit) ResetIndex(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stagedFiles = nil
	return nil
}

// mockHub implements broadcast.Broadcaster for testing.
type mockHub struct {
	mu       sync.Mutex
	events   []string
	payloads map[string]any // eventType -> last payload
}

func (h *mockHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
	if h.payloads == nil {
		h.payloads = make(map[string]any)
	}
	h.payloads[eventType] = payload
}

func (h *mockHub) payload(eventType string) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payloads[eventType]
}

func (h *mockHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// mockCache implements cache.Cache for testing.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
