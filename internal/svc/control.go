// Package svc is a thin control layer over the OS service manager, used by
// cleanup to stop and unregister the grid services before touching their
// files. Commands go through a swappable runner so the flows are testable
// without a live service manager.
package svc

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CommandRunner executes one service-manager command and returns its
// combined output. The default runs the platform's sc-style tool through
// os/exec.
type CommandRunner func(ctx context.Context, args ...string) (string, error)

func execRunner(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	return string(out), err
}

// Status is the service state as reported by the manager.
type Status int

const (
	// StatusNotFound covers both an unregistered service and a manager
	// that could not be asked.
	StatusNotFound Status = iota
	StatusRunning
	StatusStopped
	// StatusOther is any transitional state (start/stop pending).
	StatusOther
)

// Options configures a Controller. The poll settings bound how long a stop
// request may take to be confirmed.
type Options struct {
	// Runner executes manager commands. Nil means sc via os/exec.
	Runner      CommandRunner
	PollInitial time.Duration
	PollMax     time.Duration
	PollElapsed time.Duration
}

// Controller talks to the service manager.
type Controller struct {
	run    CommandRunner
	logger *slog.Logger

	pollInitial time.Duration
	pollMax     time.Duration
	pollElapsed time.Duration
}

// NewController creates a Controller with defaults applied.
func NewController(opts Options, logger *slog.Logger) *Controller {
	if opts.Runner == nil {
		opts.Runner = execRunner
	}
	if opts.PollInitial <= 0 {
		opts.PollInitial = 500 * time.Millisecond
	}
	if opts.PollMax <= 0 {
		opts.PollMax = 5 * time.Second
	}
	if opts.PollElapsed <= 0 {
		opts.PollElapsed = 30 * time.Second
	}
	return &Controller{
		run:         opts.Runner,
		logger:      logger,
		pollInitial: opts.PollInitial,
		pollMax:     opts.PollMax,
		pollElapsed: opts.PollElapsed,
	}
}

// Query reports the current state of a service. Manager trouble is treated
// as not-found so callers can keep going on machines where the services
// were never registered.
func (c *Controller) Query(ctx context.Context, name string) Status {
	out, err := c.run(ctx, "sc", "query", name)
	if err != nil || strings.Contains(out, "does not exist") {
		return StatusNotFound
	}
	if !strings.Contains(out, "STATE") {
		return StatusOther
	}
	switch {
	case strings.Contains(out, "RUNNING"):
		return StatusRunning
	case strings.Contains(out, "STOPPED"):
		return StatusStopped
	default:
		return StatusOther
	}
}

// Stop asks the manager to stop a service and polls until it reports
// stopped. A missing or already stopped service counts as success. The stop
// command only requests the stop, so the confirmation poll is what makes
// the later file removal safe.
func (c *Controller) Stop(ctx context.Context, name string) error {
	switch c.Query(ctx, name) {
	case StatusNotFound:
		c.logger.Info("service not found, nothing to stop", "service", name)
		return nil
	case StatusStopped:
		c.logger.Info("service already stopped", "service", name)
		return nil
	}

	c.logger.Info("stopping service", "service", name)
	out, err := c.run(ctx, "sc", "stop", name)
	if err != nil {
		// 1062: the service has not been started. It raced to stopped
		// between the query and the stop.
		if strings.Contains(out, "1062") {
			c.logger.Info("service was not running", "service", name)
			return nil
		}
		return fmt.Errorf("stopping %s: %w (%s)", name, err, strings.TrimSpace(out))
	}

	operation := func() error {
		switch c.Query(ctx, name) {
		case StatusStopped, StatusNotFound:
			return nil
		default:
			return fmt.Errorf("service %s still stopping", name)
		}
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.pollInitial
	bo.MaxInterval = c.pollMax
	bo.MaxElapsedTime = c.pollElapsed

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("service %s did not stop in time: %w", name, err)
	}
	c.logger.Info("service stopped", "service", name)
	return nil
}

// Unregister deletes a service registration. A missing service or one
// already marked for deletion counts as success.
func (c *Controller) Unregister(ctx context.Context, name string) error {
	if c.Query(ctx, name) == StatusNotFound {
		c.logger.Info("service not registered, nothing to remove", "service", name)
		return nil
	}

	c.logger.Info("unregistering service", "service", name)
	out, err := c.run(ctx, "sc", "delete", name)
	if err != nil {
		if strings.Contains(strings.ToLower(out), "marked for deletion") {
			c.logger.Info("service already marked for deletion, pending reboot", "service", name)
			return nil
		}
		return fmt.Errorf("unregistering %s: %w (%s)", name, err, strings.TrimSpace(out))
	}
	c.logger.Info("service unregistered", "service", name)
	return nil
}

// StopAll stops every named service in order, logging and continuing past
// failures. It returns the names that could not be stopped.
func (c *Controller) StopAll(ctx context.Context, names []string) []string {
	var failed []string
	for _, name := range names {
		if err := c.Stop(ctx, name); err != nil {
			c.logger.Warn("could not stop service", "service", name, "error", err)
			failed = append(failed, name)
		}
	}
	return failed
}

// UnregisterAll unregisters every named service in order, logging and
// continuing past failures. It returns the names that could not be removed.
func (c *Controller) UnregisterAll(ctx context.Context, names []string) []string {
	var failed []string
	for _, name := range names {
		if err := c.Unregister(ctx, name); err != nil {
			c.logger.Warn("could not unregister service", "service", name, "error", err)
			failed = append(failed, name)
		}
	}
	return failed
}
