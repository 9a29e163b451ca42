package sync

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/logger"
)

type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *Manager
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start schedules periodic refreshes. It returns an error only for an
// invalid cron expression.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync()
	})
	if err != nil {
		logger.Log.Error("Failed to schedule job", zap.Error(err))
		return err
	}

	s.entryID = id
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	if s.manager.WorkerID() == "" {
		logger.Log.Debug("No active worker, skipping scheduled refresh")
		return
	}
	if s.manager.Refreshing() {
		logger.Log.Info("Refresh already running, skipping scheduled run")
		return
	}

	logger.Log.Info("Triggering scheduled refresh", zap.String("worker", s.manager.WorkerID()))
	s.manager.Refresh(s.ctx)
}
