package services

import (
	"github.com/huangang/testsentry/pkg/logger"
	"github.com/robfig/cron/v3"
)

// InvitationSweeper periodically persists the EXPIRED status on elapsed
// pending invitations so listings and reports stay honest without relying
// on lazy evaluation alone.
type InvitationSweeper struct {
	invitations   *InvitationService
	cronScheduler *cron.Cron
}

func NewInvitationSweeper(invitations *InvitationService) *InvitationSweeper {
	return &InvitationSweeper{invitations: invitations}
}

// StartScheduler runs the sweep hourly until StopScheduler is called.
func (s *InvitationSweeper) StartScheduler() {
	s.cronScheduler = cron.New()

	_, err := s.cronScheduler.AddFunc("@hourly", s.runSweep)
	if err != nil {
		logger.Errorf("[InvitationSweeper] failed to schedule sweep: %v", err)
		return
	}

	s.cronScheduler.Start()
	logger.Infof("[InvitationSweeper] Scheduler started")
}

func (s *InvitationSweeper) StopScheduler() {
	if s.cronScheduler != nil {
		s.cronScheduler.Stop()
	}
}

func (s *InvitationSweeper) runSweep() {
	swept, err := s.invitations.SweepExpired()
	if err != nil {
		logger.Errorf("[InvitationSweeper] sweep failed: %v", err)
		return
	}
	if swept > 0 {
		logger.Infof("[InvitationSweeper] marked %d invitations expired", swept)
	}
}
