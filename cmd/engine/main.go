// Command engine runs the Engine process of §2A/§4.8: the event consumer
// tick loop and cron scan, reading its shutdown signal from an inherited
// pipe file descriptor (or, when launched standalone for local testing,
// from stdin).
package main

import (
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"twclone/internal/applog"
	"twclone/internal/consumer"
	"twclone/internal/engine"
	"twclone/internal/repo"
)

func main() {
	var dbPath = flag.String("db", "twclone.db", "path to the sqlite3 database")
	var tickInterval = flag.Duration("tick", 250*time.Millisecond, "tick interval")
	var batchSize = flag.Int("batch-size", 200, "consumer batch size per tick")
	var backlogThreshold = flag.Int64("backlog-prio-threshold", 500, "lag at which the priority pass engages")
	var shutdownFD = flag.Int("shutdown-fd", 0, "inherited fd to poll for shutdown readability (0 = stdin)")
	flag.Parse()

	applog.Default.Info("engine: starting")

	var store, err = repo.Open(*dbPath)
	if err != nil {
		log.WithError(err).Error("engine: failed to open database")
		os.Exit(2)
	}

	var c = consumer.New(store, consumer.Config{
		ConsumerKey:          "engine",
		BatchSize:            *batchSize,
		BacklogPrioThreshold: *backlogThreshold,
		PriorityTypes:        map[string]bool{"ship.self_destruct.initiated": true},
	}, defaultHandlers())

	var shutdown = os.NewFile(uintptr(*shutdownFD), "shutdown-pipe")
	if shutdown == nil {
		shutdown = os.Stdin
	}

	var s = &engine.Scheduler{
		Consumer:     c,
		TickInterval: *tickInterval,
		Shutdown:     shutdown,
		OnClose:      store.Close,
	}

	os.Exit(s.Run())
}

// defaultHandlers registers the example handlers named in §4.4: a real
// deployment registers its full command surface here; this port's core
// ships only the two handlers the spec describes by name.
func defaultHandlers() map[string]consumer.Handler {
	return map[string]consumer.Handler{
		"ship.self_destruct.initiated": func(e repo.Event) error {
			applog.Default.WithField("event_id", e.ID).Info("engine: ship self-destruct applied")
			return nil
		},
		"player.trade.v1": func(e repo.Event) error {
			applog.Default.WithField("event_id", e.ID).Info("engine: trade xp/alignment applied")
			return nil
		},
	}
}
