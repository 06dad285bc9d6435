package tasks

import (
	"github.com/robfig/cron/v3"

	"marketchat/internal/logger"
)

// Sweeper is anything that can drop expired state in one pass.
type Sweeper interface {
	Sweep() (int, error)
}

type UploadCleaner struct {
	sweeper  Sweeper
	schedule string
	log      *logger.Logger
	cron     *cron.Cron
}

// NewUploadCleaner runs sweeper on schedule, a standard five field cron
// expression or a descriptor such as "@every 5m".
func NewUploadCleaner(sweeper Sweeper, schedule string, log *logger.Logger) *UploadCleaner {
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &UploadCleaner{
		sweeper:  sweeper,
		schedule: schedule,
		log:      log.With("component", "WORKER"),
		cron:     cron.New(),
	}
}

func (t *UploadCleaner) run() {
	n, err := t.sweeper.Sweep()
	if err != nil {
		t.log.Error("upload cleanup failed", "error", err)
		return
	}
	t.log.Debug("upload cleanup finished", "removed", n)
}

func (t *UploadCleaner) Start() error {
	if _, err := t.cron.AddFunc(t.schedule, t.run); err != nil {
		t.log.Error("error scheduling cron", "schedule", t.schedule, "error", err)
		return err
	}
	t.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep.
func (t *UploadCleaner) Stop() {
	<-t.cron.Stop().Done()
}
