// Package workerpool wraps alitto/pond worker pools for the core's two
// background workloads: draining the transactional outbox onto the event
// bus, and sweeping expired presence/typing state. Adapted from the
// teacher's pool manager.
package workerpool

import (
	"log/slog"
	"time"

	"github.com/alitto/pond"
)

type Config struct {
	PublisherWorkers int
	SweepWorkers     int
}

type Manager struct {
	Publisher *pond.WorkerPool
	Sweeper   *pond.WorkerPool
}

func NewManager(cfg Config) *Manager {
	if cfg.PublisherWorkers < 1 {
		cfg.PublisherWorkers = 4
	}
	if cfg.SweepWorkers < 1 {
		cfg.SweepWorkers = 1
	}
	return &Manager{
		Publisher: pond.New(
			cfg.PublisherWorkers, cfg.PublisherWorkers*2,
			pond.MinWorkers(1), pond.IdleTimeout(30*time.Second),
		),
		Sweeper: pond.New(
			cfg.SweepWorkers, cfg.SweepWorkers*2,
			pond.MinWorkers(1), pond.IdleTimeout(30*time.Second),
		),
	}
}

func (m *Manager) SubmitPublish(task func()) {
	m.Publisher.Submit(task)
}

func (m *Manager) SubmitSweep(task func()) {
	m.Sweeper.Submit(task)
}

func (m *Manager) Stats() map[string]any {
	return map[string]any{
		"publisher": poolStats(m.Publisher),
		"sweeper":   poolStats(m.Sweeper),
	}
}

func poolStats(p *pond.WorkerPool) map[string]any {
	return map[string]any{
		"running_workers":  p.RunningWorkers(),
		"idle_workers":     p.IdleWorkers(),
		"submitted_tasks":  p.SubmittedTasks(),
		"waiting_tasks":    p.WaitingTasks(),
		"successful_tasks": p.SuccessfulTasks(),
		"failed_tasks":     p.FailedTasks(),
	}
}

func (m *Manager) Shutdown() {
	slog.Info("shutting down worker pools")
	m.Publisher.StopAndWait()
	slog.Info("outbox publisher pool stopped")
	m.Sweeper.StopAndWait()
	slog.Info("presence/typing sweep pool stopped")
}
