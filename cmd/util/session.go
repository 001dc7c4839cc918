package util

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ValentinKolb/ikv/lib/common"
	"github.com/ValentinKolb/ikv/lib/db/engines/poly"
	"github.com/ValentinKolb/ikv/lib/store/lstore"
	"github.com/ValentinKolb/ikv/lib/task"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

// Session is an open store handle together with the loop and scheduler it runs on
type Session struct {
	Config *common.Config
	Loop   *task.Loop
	Sched  *task.Scheduler
	Handle *lstore.Handle
}

// OpenSession configures logging, opens the store described by config and runs the loop
// until the open completed.
func OpenSession(ctx context.Context, config *common.Config) (*Session, error) {
	if err := common.InitLoggers(config); err != nil {
		return nil, err
	}
	logger.GetLogger("cli").Debugf("configuration:%s", config)

	mode, err := config.OpenMode()
	if err != nil {
		return nil, err
	}

	loop := task.NewLoop(nil)
	sched := task.NewScheduler(loop, config.Workers)
	s := &Session{Config: config, Loop: loop, Sched: sched}

	var openErr error
	s.Handle = lstore.Open(sched, poly.NewPolyDB, config.Path, mode, func(err error) {
		openErr = err
	})
	if err := s.Run(ctx); err != nil {
		s.stop()
		return nil, err
	}
	if openErr != nil {
		s.stop()
		return nil, fmt.Errorf("failed to open %s: %w", config.Path, openErr)
	}
	return s, nil
}

// Run delivers completions until no operation is outstanding
func (s *Session) Run(ctx context.Context) error {
	return s.Loop.Run(ctx)
}

// Close closes the handle, waits for its completion and stops the scheduler.
func (s *Session) Close(ctx context.Context) error {
	var closeErr error
	s.Handle.Close(func(err error) { closeErr = err })
	runErr := s.Run(ctx)
	s.stop()
	return errors.Join(closeErr, runErr)
}

func (s *Session) stop() {
	s.Sched.Stop()
	s.Loop.Close()
	if s.Config.Metrics {
		metrics.WritePrometheus(os.Stderr, true)
	}
}
