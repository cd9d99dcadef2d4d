package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const stopTimeout = 5 * time.Second

// JobHandler runs a job and returns its textual result.
type JobHandler func(ctx context.Context, job CronJob) (string, error)

// Service schedules jobs persisted in a JSON file. Cron expressions go
// through robfig/cron; "every" and "at" jobs are polled once a second.
type Service struct {
	storePath string
	OnJob     JobHandler

	mu       sync.Mutex
	jobs     []CronJob
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID
	runCtx   context.Context
	cancel   context.CancelFunc
}

func NewService(storePath string) *Service {
	return &Service{
		storePath: storePath,
		entryMap:  make(map[string]rcron.EntryID),
		runCtx:    context.Background(),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.Load(); err != nil {
		logrus.Warnf("[cron] failed to load jobs: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCtx, s.cancel = runCtx, cancel
	s.cron = rcron.New(rcron.WithSeconds())
	for i := range s.jobs {
		if s.jobs[i].Enabled && s.jobs[i].Schedule.Kind == KindCron {
			s.registerLocked(s.jobs[i])
		}
	}
	n := len(s.jobs)
	c := s.cron
	s.mu.Unlock()

	c.Start()
	logrus.Infof("[cron] started with %d jobs", n)

	go s.tickLoop(runCtx)
	go func() {
		<-runCtx.Done()
		s.stopScheduler()
	}()
	return nil
}

func (s *Service) registerLocked(job CronJob) {
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() { s.executeJob(job) })
	if err != nil {
		logrus.Warnf("[cron] failed to register job %s (%s): %v", job.Name, job.Schedule.Expr, err)
		return
	}
	s.entryMap[job.ID] = id
}

func (s *Service) unregisterLocked(id string) {
	if entryID, ok := s.entryMap[id]; ok {
		if s.cron != nil {
			s.cron.Remove(entryID)
		}
		delete(s.entryMap, id)
	}
}

func (s *Service) indexLocked(id string) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

func (s *Service) executeJob(job CronJob) {
	if s.OnJob == nil {
		logrus.Warnf("[cron] no handler set, skipping job %s", job.Name)
		return
	}
	logrus.Infof("[cron] executing job %s (%s)", job.Name, job.ID)
	result, err := s.OnJob(s.jobContext(), job)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(job.ID)
	if i < 0 {
		return
	}
	st := &s.jobs[i].State
	st.LastRunAtMs = time.Now().UnixMilli()
	if err != nil {
		st.LastStatus, st.LastError = "error", err.Error()
		logrus.Errorf("[cron] job %s error: %v", job.Name, err)
	} else {
		st.LastStatus, st.LastError = "ok", ""
		logrus.Infof("[cron] job %s result: %s", job.Name, truncate(result, 100))
	}

	if s.jobs[i].DeleteAfterRun {
		s.unregisterLocked(job.ID)
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
	}
	if err := s.save(); err != nil {
		logrus.Warnf("[cron] save jobs: %v", err)
	}
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, job := range s.collectDue(time.Now().UnixMilli()) {
				s.executeJob(job)
			}
		case <-ctx.Done():
			return
		}
	}
}

// collectDue returns due interval and one-shot jobs. One-shot jobs are
// disabled here so they cannot fire twice.
func (s *Service) collectDue(now int64) []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []CronJob
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.due(now) {
			continue
		}
		if job.Schedule.Kind == KindAt {
			job.Enabled = false
		} else {
			// claim this interval before running outside the lock
			job.State.LastRunAtMs = now
		}
		due = append(due, *job)
	}
	return due
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.stopScheduler()
}

func (s *Service) stopScheduler() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entryMap = make(map[string]rcron.EntryID)
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-time.After(stopTimeout):
		logrus.Warnf("[cron] stop timeout waiting for running jobs")
	}
	logrus.Infof("[cron] stopped")
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	if schedule.Kind == KindCron {
		if _, err := rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow).Parse(schedule.Expr); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", schedule.Expr, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := NewCronJob(name, schedule, payload)
	s.jobs = append(s.jobs, job)
	if job.Schedule.Kind == KindCron && s.cron != nil {
		s.registerLocked(job)
	}
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	return &job, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.unregisterLocked(id)
	s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
	_ = s.save()
	return true
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CronJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *Service) EnableJob(id string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}
	s.jobs[i].Enabled = enabled
	if s.jobs[i].Schedule.Kind == KindCron && s.cron != nil {
		_, registered := s.entryMap[id]
		switch {
		case enabled && !registered:
			s.registerLocked(s.jobs[i])
		case !enabled:
			s.unregisterLocked(id)
		}
	}
	_ = s.save()
	job := s.jobs[i]
	return &job, nil
}

// Load replaces the in-memory jobs with the store's. A missing store is empty.
func (s *Service) Load() error {
	data, err := os.ReadFile(s.storePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var jobs []CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
	return nil
}

func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
