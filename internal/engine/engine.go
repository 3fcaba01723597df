// Package engine implements the Engine Scheduler of §4.8: a tick loop
// running the event consumer and cron due-time scan, shutdown-pipe
// quiescence, and an ordered shutdown. Grounded on
// consumer.Service.QueueTasks's tasks.Queue("service.GracefulStop", ...)
// pattern -- a select over the shutdown signal and the task-group
// context, draining in a defined order.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"twclone/internal/consumer"
	"twclone/internal/taskgroup"
)

// CronJob is a due-time scan the scheduler runs once per tick, alongside
// the event consumer, per §4.8 ("tick(deadline) runs event_consumer.tick()
// and cron.run_due(now) then yields").
type CronJob func(now time.Time) error

// Scheduler runs the Engine's tick loop. It depends only on
// internal/consumer, a shutdown signal, and plain Go time/io -- never on
// os.Exec directly, so §2A's single-process embedding and two-process
// split are both supported by the same type.
type Scheduler struct {
	Consumer     *consumer.Consumer
	Cron         CronJob
	TickInterval time.Duration
	Shutdown     io.Reader // readable (including EOF) signals shutdown
	OnClose      func() error
}

// Run blocks until the shutdown signal becomes readable (or returns EOF),
// running one tick every TickInterval in the meantime. It returns the
// exit code per §6: 0 on ordered shutdown, 1 on an unrecoverable tick
// error.
func (s *Scheduler) Run() int {
	var tasks = taskgroup.New(context.Background())
	var shutdownCh = make(chan struct{})

	tasks.Queue("engine.shutdown-watch", func() error {
		var buf = make([]byte, 1)
		s.Shutdown.Read(buf) // any readability, including EOF, signals shutdown
		close(shutdownCh)
		return nil
	})

	var ticker = time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdownCh:
			return s.shutdown(tasks)
		case now := <-ticker.C:
			if err := s.tick(now); err != nil {
				log.WithError(err).Error("engine: tick failed")
				s.shutdown(tasks)
				return 1
			}
		}
	}
}

// tick runs exactly one consumer tick and one cron scan, per §4.8.
func (s *Scheduler) tick(now time.Time) error {
	var _, err = s.Consumer.Tick()
	if err != nil {
		return errors.WithMessage(err, "engine: consumer tick")
	}
	if s.Cron != nil {
		if err := s.Cron(now); err != nil {
			return errors.WithMessage(err, "engine: cron run_due")
		}
	}
	return nil
}

// shutdown performs the ordered drain of §4.8: stop accepting S2S (left
// to the caller's listener, closed via OnClose), finish the in-flight
// tick (already returned by the time this runs, since Run's select loop
// only reaches here between ticks), close the database connections,
// exit.
func (s *Scheduler) shutdown(tasks *taskgroup.Group) int {
	tasks.Cancel()
	if s.OnClose != nil {
		if err := s.OnClose(); err != nil {
			log.WithError(err).Error("engine: error during shutdown close")
			return 1
		}
	}
	log.Info("engine: shutdown complete")
	return 0
}
