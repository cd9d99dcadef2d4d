package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellarlinkco/payqr/internal/bus"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cron", "jobs.json")
	return NewService(path), path
}

func (s *Service) entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entryMap)
}

func writeJobs(t *testing.T, path string, jobs []CronJob) {
	t.Helper()
	data, _ := json.MarshalIndent(jobs, "", "  ")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNewCronJob(t *testing.T) {
	job := NewCronJob("test", Schedule{Kind: KindCron, Expr: "0 * * * * *"}, Payload{Message: "hello"})
	if len(job.ID) != 36 {
		t.Errorf("ID = %q, want a uuid", job.ID)
	}
	if job.Name != "test" || !job.Enabled || job.Payload.Message != "hello" {
		t.Errorf("unexpected job %+v", job)
	}
	if other := NewCronJob("test", job.Schedule, job.Payload); other.ID == job.ID {
		t.Error("IDs should be unique")
	}
}

func TestPayload_Origin(t *testing.T) {
	p := Payload{Channel: "telegram", To: "42"}
	if got := p.Origin(); got != (bus.Origin{Channel: "telegram", ChatID: "42"}) {
		t.Errorf("Origin = %+v", got)
	}
	if !(Payload{Channel: "telegram"}).Origin().IsZero() {
		t.Error("origin without recipient should be zero")
	}
}

func TestCronJob_Due(t *testing.T) {
	now := time.Now().UnixMilli()
	tests := []struct {
		name string
		job  CronJob
		want bool
	}{
		{"every due", CronJob{Enabled: true, Schedule: Schedule{Kind: KindEvery, EveryMs: 100}, State: JobState{LastRunAtMs: now - 200}}, true},
		{"every not yet", CronJob{Enabled: true, Schedule: Schedule{Kind: KindEvery, EveryMs: 1000}, State: JobState{LastRunAtMs: now}}, false},
		{"every zero interval", CronJob{Enabled: true, Schedule: Schedule{Kind: KindEvery}}, false},
		{"at passed", CronJob{Enabled: true, Schedule: Schedule{Kind: KindAt, AtMs: now - 1}}, true},
		{"at future", CronJob{Enabled: true, Schedule: Schedule{Kind: KindAt, AtMs: now + 60000}}, false},
		{"disabled", CronJob{Schedule: Schedule{Kind: KindAt, AtMs: now - 1}}, false},
		{"cron polled never", CronJob{Enabled: true, Schedule: Schedule{Kind: KindCron, Expr: "* * * * * *"}}, false},
	}
	for _, tt := range tests {
		if got := tt.job.due(now); got != tt.want {
			t.Errorf("%s: due = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestService_AddListPersist(t *testing.T) {
	s, path := newTestService(t)

	job, err := s.AddJob("job1", Schedule{Kind: KindEvery, EveryMs: 60000}, Payload{Message: "tick"})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if jobs := s.ListJobs(); len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("ListJobs = %+v", jobs)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var stored []CronJob
	if err := json.Unmarshal(data, &stored); err != nil || len(stored) != 1 {
		t.Fatalf("stored = %v, err %v", stored, err)
	}

	reloaded := NewService(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if jobs := reloaded.ListJobs(); len(jobs) != 1 || jobs[0].Name != "job1" {
		t.Errorf("reloaded jobs = %+v", jobs)
	}
}

func TestService_AddJob_InvalidCron(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.AddJob("bad", Schedule{Kind: KindCron, Expr: "invalid"}, Payload{}); err == nil {
		t.Error("expected error for invalid expression")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("invalid job must not be stored")
	}
}

func TestService_RemoveAndEnable(t *testing.T) {
	s, _ := newTestService(t)
	job, _ := s.AddJob("toggle", Schedule{Kind: KindEvery, EveryMs: 1000}, Payload{Message: "x"})

	if updated, err := s.EnableJob(job.ID, false); err != nil || updated.Enabled {
		t.Errorf("disable: %+v, %v", updated, err)
	}
	if updated, err := s.EnableJob(job.ID, true); err != nil || !updated.Enabled {
		t.Errorf("enable: %+v, %v", updated, err)
	}
	if _, err := s.EnableJob("nonexistent", true); err == nil {
		t.Error("expected error for unknown job")
	}

	if !s.RemoveJob(job.ID) {
		t.Error("RemoveJob returned false")
	}
	if s.RemoveJob(job.ID) {
		t.Error("second RemoveJob should return false")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("job not removed")
	}
}

func TestService_ExecuteJob(t *testing.T) {
	s, _ := newTestService(t)

	// no handler: nothing recorded
	job, _ := s.AddJob("j", Schedule{Kind: KindEvery, EveryMs: 1000}, Payload{Message: "hi"})
	s.executeJob(*job)
	if st := s.ListJobs()[0].State; st.LastStatus != "" {
		t.Errorf("state = %+v, want untouched", st)
	}

	var got CronJob
	s.OnJob = func(_ context.Context, j CronJob) (string, error) {
		got = j
		return "done", nil
	}
	s.executeJob(*job)
	if got.Payload.Message != "hi" {
		t.Errorf("handler got %+v", got)
	}
	if st := s.ListJobs()[0].State; st.LastStatus != "ok" || st.LastRunAtMs == 0 {
		t.Errorf("state = %+v", st)
	}

	s.OnJob = func(context.Context, CronJob) (string, error) { return "", errors.New("agent down") }
	s.executeJob(*job)
	if st := s.ListJobs()[0].State; st.LastStatus != "error" || st.LastError != "agent down" {
		t.Errorf("state = %+v", st)
	}
}

func TestService_ExecuteJob_DeleteAfterRun(t *testing.T) {
	s, _ := newTestService(t)
	s.OnJob = func(context.Context, CronJob) (string, error) { return "ok", nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	job, err := s.AddJob("once", Schedule{Kind: KindCron, Expr: "0 0 0 1 1 *"}, Payload{Message: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if s.entries() != 1 {
		t.Fatalf("expected 1 cron entry, got %d", s.entries())
	}

	s.mu.Lock()
	s.jobs[0].DeleteAfterRun = true
	jobCopy := s.jobs[0]
	s.mu.Unlock()
	if jobCopy.ID != job.ID {
		t.Fatal("unexpected job order")
	}

	s.executeJob(jobCopy)
	if len(s.ListJobs()) != 0 || s.entries() != 0 {
		t.Errorf("job and entry should be gone: jobs=%d entries=%d", len(s.ListJobs()), s.entries())
	}
}

func TestService_StartStop(t *testing.T) {
	s, path := newTestService(t)
	writeJobs(t, path, []CronJob{
		{ID: "bad", Name: "bad", Enabled: true, Schedule: Schedule{Kind: KindCron, Expr: "invalid"}},
		{ID: "hourly", Name: "hourly", Enabled: true, Schedule: Schedule{Kind: KindCron, Expr: "0 0 * * * *"}},
		{ID: "off", Name: "off", Schedule: Schedule{Kind: KindCron, Expr: "0 0 * * * *"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start should tolerate bad jobs: %v", err)
	}
	if s.entries() != 1 {
		t.Errorf("expected only the valid enabled job registered, got %d", s.entries())
	}

	s.Stop()
	s.Stop()
	if s.entries() != 0 {
		t.Error("Stop should drop scheduler entries")
	}
}

func TestService_ParentCancelStops(t *testing.T) {
	s, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cron == nil
	})
}

func TestService_CronToggle(t *testing.T) {
	s, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	job, _ := s.AddJob("toggle", Schedule{Kind: KindCron, Expr: "*/5 * * * * *"}, Payload{Message: "x"})
	if s.entries() != 1 {
		t.Fatalf("entries after add = %d", s.entries())
	}
	if _, err := s.EnableJob(job.ID, false); err != nil || s.entries() != 0 {
		t.Fatalf("entries after disable = %d, err %v", s.entries(), err)
	}
	if _, err := s.EnableJob(job.ID, true); err != nil || s.entries() != 1 {
		t.Fatalf("entries after enable = %d, err %v", s.entries(), err)
	}
	if !s.RemoveJob(job.ID) || s.entries() != 0 {
		t.Fatalf("entries after remove = %d", s.entries())
	}
}

func TestService_TickLoop(t *testing.T) {
	s, _ := newTestService(t)

	var every, at atomic.Int32
	var origin atomic.Value
	s.OnJob = func(_ context.Context, j CronJob) (string, error) {
		switch j.Schedule.Kind {
		case KindEvery:
			every.Add(1)
		case KindAt:
			origin.Store(j.Payload.Origin())
			at.Add(1)
		}
		return "ok", nil
	}

	tick := NewCronJob("tick", Schedule{Kind: KindEvery, EveryMs: 100}, Payload{Message: "tick"})
	once := NewCronJob("once", Schedule{Kind: KindAt, AtMs: time.Now().UnixMilli()},
		Payload{Message: "remind", Deliver: true, Channel: "telegram", To: "42"})
	s.jobs = append(s.jobs, tick, once)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return every.Load() > 0 && at.Load() > 0 })
	time.Sleep(1200 * time.Millisecond)
	if n := at.Load(); n != 1 {
		t.Errorf("one-shot job ran %d times", n)
	}
	if got := origin.Load().(bus.Origin); got.String() != "telegram:42" {
		t.Errorf("origin = %q", got)
	}
}

func TestService_JobContextFollowsStart(t *testing.T) {
	s, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	jobCtx := s.jobContext()
	cancel()
	select {
	case <-jobCtx.Done():
	case <-time.After(time.Second):
		t.Error("job context should end with the service")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer than ten", 10, "this is lo..."},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}
