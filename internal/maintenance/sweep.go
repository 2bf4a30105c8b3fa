// Package maintenance runs the background upkeep the core needs but no
// agent or administrator request triggers directly: marking pending
// commands past their expires_at as expired in the kv.CommandQueue
// (spec.md §4.8, SPEC_FULL.md §5).
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetward/control-plane/internal/kv"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/pkg/logger"
)

// DefaultSweepSchedule runs the sweep every five minutes, well inside the
// 24h default command TTL (spec.md §3).
const DefaultSweepSchedule = "@every 5m"

// Sweeper periodically expires stale pending commands for every known
// device.
type Sweeper struct {
	devices storage.DeviceStore
	queue   *kv.CommandQueue
	log     *logger.Logger
	cron    *cron.Cron
}

// New wires a Sweeper. schedule is a robfig/cron/v3 spec; pass "" for
// DefaultSweepSchedule.
func New(devices storage.DeviceStore, queue *kv.CommandQueue, log *logger.Logger, schedule string) (*Sweeper, error) {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{devices: devices, queue: queue, log: log, cron: cron.New()}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the background schedule; it does not block.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule, waiting for any in-flight run to finish.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	devices, err := s.devices.ListDevices(ctx, "")
	if err != nil {
		s.log.WithField("error", err.Error()).Warn("maintenance sweep: list devices failed")
		return
	}

	total := 0
	for _, d := range devices {
		swept, err := s.queue.SweepExpired(ctx, d.ID)
		if err != nil {
			s.log.WithDevice(d.ID).WithField("error", err.Error()).Warn("maintenance sweep: command sweep failed")
			continue
		}
		total += swept
	}
	if total > 0 {
		s.log.WithField("expired_commands", total).Info("maintenance sweep: expired stale commands")
	}
}
