package cli

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/modegate/internal/config"
	"github.com/randalmurphal/modegate/internal/db"
	"github.com/randalmurphal/modegate/internal/events"
	"github.com/randalmurphal/modegate/internal/mode"
)

// engine bundles the pieces a command needs to run the coordinator.
type engine struct {
	coordinator *mode.Coordinator
	publisher   events.Publisher
	journal     *db.DB
}

// buildEngine wires publisher, journal and coordinator from cfg.
func buildEngine(cfg *config.Config, logger *slog.Logger, extra ...mode.Option) (*engine, error) {
	var (
		journal   *db.DB
		publisher events.Publisher
		err       error
	)

	if cfg.Journal.Enabled {
		journal, err = db.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		publisher = events.NewPersistentPublisher(journal, "engine", logger)
	} else {
		publisher = events.NewMemoryPublisher()
	}

	opts := []mode.Option{
		mode.WithLogger(logger),
		mode.WithPublisher(publisher),
	}
	if cfg.Executor == config.ExecutorSynchronous {
		opts = append(opts, mode.WithSynchronousExecution())
	}
	opts = append(opts, extra...)

	coordinator := mode.New(config.StaticSettings{Config: cfg}, opts...)

	return &engine{
		coordinator: coordinator,
		publisher:   publisher,
		journal:     journal,
	}, nil
}

// close tears the engine down in dependency order.
func (e *engine) close() {
	e.coordinator.Dispose()
	e.publisher.Close()
	if e.journal != nil {
		_ = e.journal.Close()
	}
}
