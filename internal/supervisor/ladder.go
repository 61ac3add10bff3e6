package supervisor

import (
	"context"
	"fmt"
)

// runLadder walks the recovery ladder. The caller holds opMu.
func (s *Supervisor) runLadder(ctx context.Context) {
	if s.recoverNormal(ctx) || s.stopped(ctx) {
		return
	}
	if s.recoverAdvanced(ctx) || s.stopped(ctx) {
		return
	}

	s.logger.Error("advanced recovery failed, backing off", "wait", s.cfg.BackoffWait.String())
	s.setState(StateBackoffWait)
	if err := s.sleep(ctx, s.cfg.BackoffWait); err != nil {
		return
	}

	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.setState(StateStale)
}

// recoverNormal makes plain reconnect attempts until the counter reaches
// MaxReconnectAttempts.
func (s *Supervisor) recoverNormal(ctx context.Context) bool {
	s.setState(StateRecoveringNormal)

	for {
		s.mu.Lock()
		if s.attempts >= s.cfg.MaxReconnectAttempts {
			s.mu.Unlock()
			return false
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		s.logger.Info("reconnecting to device", "attempt", attempt, "max", s.cfg.MaxReconnectAttempts)
		err := s.open(ctx)
		if err == nil {
			s.logger.Info("reconnection successful", "attempt", attempt)
			return true
		}
		s.stepFailed(fmt.Sprintf("reconnect_%d", attempt), err)
		if s.stopped(ctx) {
			return false
		}

		if err := s.sleep(ctx, s.cfg.ReconnectDelay); err != nil {
			return false
		}
	}
}

// recoverAdvanced runs the fixed advanced ladder once.
func (s *Supervisor) recoverAdvanced(ctx context.Context) bool {
	s.setState(StateRecoveringAdvanced)
	s.logger.Info("attempting advanced recovery", "after_attempts", s.cfg.MaxReconnectAttempts)

	// Plain reconnect, once more.
	err := s.open(ctx)
	if err == nil {
		s.logger.Info("reconnection successful", "step", "reconnect")
		return true
	}
	s.stepFailed("reconnect", err)
	if s.stopped(ctx) {
		return false
	}

	if s.cfg.DevicePath == "" || s.host == nil {
		s.logger.Info("no local device path, skipping driver reset")
		return false
	}

	// Path check. A missing node is reported, but the reset runs either way:
	// the driver can be wedged while the node still exists.
	if s.host.PathExists(s.cfg.DevicePath) {
		s.logger.Info("device path exists, resetting driver anyway", "path", s.cfg.DevicePath)
	} else {
		s.logger.Warn("device path not found", "path", s.cfg.DevicePath)
		s.status.PublishStatus(StatusRecovery, "path_check: "+s.cfg.DevicePath+" not found")
		s.logAvailablePorts()
	}

	if !s.cfg.DriverResetEnabled {
		s.logger.Info("driver reset disabled")
		return false
	}

	if err := s.resetDriver(ctx); err != nil {
		s.stepFailed("driver_reset", err)
		return false
	}

	if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
		return false
	}

	if err := s.open(ctx); err != nil {
		s.stepFailed("post_reset_reconnect", err)
		return false
	}
	s.logger.Info("reconnection successful after driver reset")
	return true
}

// resetDriver unloads and reloads the serial driver module.
func (s *Supervisor) resetDriver(ctx context.Context) error {
	s.logger.Info("resetting USB serial driver")

	loaded, err := s.host.DriverLoaded(ctx)
	if err != nil {
		return &DriverResetError{Step: "check", Err: err}
	}

	if loaded {
		if err := s.host.UnloadDriver(ctx); err != nil {
			return &DriverResetError{Step: "unload", Err: err}
		}
		if err := s.sleep(ctx, s.cfg.UnloadDelay); err != nil {
			return &DriverResetError{Step: "unload", Err: err}
		}
	} else {
		s.logger.Warn("driver module not loaded, loading it")
	}

	if err := s.host.LoadDriver(ctx); err != nil {
		return &DriverResetError{Step: "load", Err: err}
	}
	if err := s.sleep(ctx, s.cfg.ReloadDelay); err != nil {
		return &DriverResetError{Step: "load", Err: err}
	}

	s.logger.Info("USB serial driver reset complete")
	return nil
}

// logAvailablePorts lists candidate serial ports for diagnostics.
func (s *Supervisor) logAvailablePorts() {
	ports := s.host.ListPorts(s.cfg.PortPatterns)
	if len(ports) == 0 {
		s.logger.Warn("no serial ports found", "patterns", s.cfg.PortPatterns)
		return
	}
	s.logger.Info("found serial ports", "ports", ports)
	s.logger.Info("configured device missing, consider updating device.address", "current", s.cfg.DevicePath, "suggested", ports[0])
}

// stopped reports whether the ladder should give up: shutdown was requested
// or the supervisor was closed.
func (s *Supervisor) stopped(ctx context.Context) bool {
	return ctx.Err() != nil || s.isClosed()
}

func (s *Supervisor) stepFailed(step string, err error) {
	s.logger.Warn("recovery step failed", "step", step, "error", err)
	s.status.PublishStatus(StatusRecovery, step+": "+err.Error())
}
