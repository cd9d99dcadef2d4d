package cron

import (
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/payqr/internal/bus"
)

// Schedule kinds.
const (
	KindCron  = "cron"  // Expr, six fields with seconds
	KindEvery = "every" // EveryMs
	KindAt    = "at"    // AtMs, runs once
)

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload is the prompt a job runs and where its result goes.
type Payload struct {
	Message string `json:"message"`
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// Origin is the conversation the job acts on behalf of. Zero when the job
// has no target.
func (p Payload) Origin() bus.Origin {
	if p.Channel == "" || p.To == "" {
		return bus.Origin{}
	}
	return bus.Origin{Channel: p.Channel, ChatID: p.To}
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// due reports whether a non-cron job should fire at now (unix ms).
func (j *CronJob) due(now int64) bool {
	if !j.Enabled {
		return false
	}
	switch j.Schedule.Kind {
	case KindEvery:
		return j.Schedule.EveryMs > 0 && now >= j.State.LastRunAtMs+j.Schedule.EveryMs
	case KindAt:
		return j.Schedule.AtMs > 0 && now >= j.Schedule.AtMs
	}
	return false
}
