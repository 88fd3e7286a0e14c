package tabs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/metrics"
)

func (p *Pool) monitor(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range p.sweep() {
				if err := p.recoverSlot(ctx, s); err != nil && ctx.Err() == nil {
					p.logger.Error("tab recovery failed", zap.Int("slot", s.id), zap.Error(err))
				}
			}
		}
	}
}

// sweep marks stuck slots as Timeout, cancels their work and reports load.
func (p *Pool) sweep() []*Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	now := p.now()
	var stuck []*Slot
	for _, s := range p.slots {
		if s.state != StateBusy || now.Sub(s.startedAt) <= p.cfg.StuckTimeout {
			continue
		}
		p.logger.Warn("tab stuck, forcing timeout",
			zap.Int("slot", s.id),
			zap.String("isbn", s.job.ISBN),
			zap.String("resource", s.job.ResourceID),
			zap.Duration("busy_for", now.Sub(s.startedAt)),
		)
		s.state = StateTimeout
		s.gen++
		s.lastErr = fmt.Errorf("timed out after %s", p.cfg.StuckTimeout)
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		metrics.ObserveTabTimeout()
		stuck = append(stuck, s)
	}

	busy, total := p.loadLocked()
	metrics.SetTabLoad(busy, total)
	if load := float64(busy) / float64(total); load > p.cfg.LoadWarningThreshold {
		p.logger.Warn("tab pool load high",
			zap.Int("busy", busy),
			zap.Int("total", total),
			zap.Float64("load", load),
		)
	}
	return stuck
}

// recoverSlot resets a Timeout slot's session. Success returns the slot to
// Ready; failure leaves it in Error until an operator calls Recover.
func (p *Pool) recoverSlot(ctx context.Context, s *Slot) error {
	resetCtx, cancel := context.WithTimeout(ctx, p.cfg.RecoveryTimeout)
	defer cancel()
	err := s.session.Reset(resetCtx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if s.state != StateTimeout {
		return nil
	}
	s.job = Job{}
	if err != nil {
		s.state = StateError
		s.lastErr = err
		metrics.ObserveTabRecovery("failed")
		return fmt.Errorf("reset tab %d: %w", s.id, err)
	}
	s.state = StateReady
	metrics.ObserveTabRecovery("recovered")
	p.logger.Info("tab recovered", zap.Int("slot", s.id))
	return nil
}
