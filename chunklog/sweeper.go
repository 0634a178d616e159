package chunklog

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionSweeper periodically deletes captured chunks older than the
// retention window from a DB sink.
type RetentionSweeper struct {
	sink      *DBSink
	retention time.Duration
	schedule  string
	logger    *log.Logger
	cron      *cron.Cron
}

func NewRetentionSweeper(sink *DBSink, retention time.Duration, logger *log.Logger) *RetentionSweeper {
	if logger == nil {
		logger = log.New(os.Stdout, "[chunklog sweep] ", log.LstdFlags)
	}
	return &RetentionSweeper{
		sink:      sink,
		retention: retention,
		schedule:  "@hourly",
		logger:    logger,
	}
}

// WithSchedule overrides the default hourly cron schedule.
func (s *RetentionSweeper) WithSchedule(spec string) *RetentionSweeper {
	s.schedule = spec
	return s
}

func (s *RetentionSweeper) Start() error {
	if s.cron != nil {
		return fmt.Errorf("chunklog: sweeper already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("chunklog: schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *RetentionSweeper) Stop() {
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
}

// Sweep runs one retention pass immediately.
func (s *RetentionSweeper) Sweep() {
	cutoff := time.Now().Add(-s.retention)
	n, err := s.sink.SweepOlderThan(cutoff)
	if err != nil {
		s.logger.Printf("sweep failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("swept %d chunk records older than %s", n, s.retention)
	}
}
