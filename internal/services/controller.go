// Package services stops and restarts the containers whose data is being
// backed up.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

var errNoRuntime = errors.New("container runtime unavailable")

// Runtime is the container engine the controller drives.
type Runtime interface {
	// ComposeProject returns the compose project the sidecar belongs to, or
	// "" when it is not running under compose.
	ComposeProject(ctx context.Context) (string, error)
	StopService(ctx context.Context, project, service string) error
	StartService(ctx context.Context, project, service string) error
	StopContainer(ctx context.Context, name string) error
	StartContainer(ctx context.Context, name string) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Controller struct {
	runtime   Runtime
	stopWait  time.Duration
	startWait time.Duration
	sleep     SleepFunc
	log       logger.Logger
}

type Option func(*Controller)

// WithWaits sets the grace windows after stopping and after starting.
func WithWaits(stop, start time.Duration) Option {
	return func(c *Controller) {
		c.stopWait = stop
		c.startWait = start
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) { c.sleep = fn }
}

// NewController accepts a nil runtime; every operation then only warns.
func NewController(rt Runtime, log logger.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	c := &Controller{runtime: rt, sleep: Sleep, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stopped is the set of services a Stop call acted on. Release restarts them
// at most once.
type Stopped struct {
	ctrl  *Controller
	names []string
	once  sync.Once
}

// Names returns the services that Release will start.
func (s *Stopped) Names() []string {
	return append([]string(nil), s.names...)
}

// Release starts the services again. It ignores cancellation of ctx so that
// an interrupted run still brings its services back.
func (s *Stopped) Release(ctx context.Context) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.ctrl.Start(context.WithoutCancel(ctx), s.names)
	})
}

// Stop stops each service in order. Failures are logged and do not prevent
// the remaining services from being processed.
func (c *Controller) Stop(ctx context.Context, names []string) *Stopped {
	stopped := &Stopped{ctrl: c, names: append([]string(nil), names...)}
	if len(names) == 0 {
		return stopped
	}

	project := c.project(ctx)
	for _, name := range names {
		if err := c.apply(ctx, project, name, c.stopOne); err != nil {
			c.log.Warn("failed to stop service", "service", name, "error", err)
			continue
		}
		c.log.Info("service stopped", "service", name)
	}
	c.wait(ctx, c.stopWait, "stop")
	return stopped
}

// Start starts each service in order with the same best-effort policy as Stop.
func (c *Controller) Start(ctx context.Context, names []string) {
	if len(names) == 0 {
		return
	}

	project := c.project(ctx)
	for _, name := range names {
		if err := c.apply(ctx, project, name, c.startOne); err != nil {
			c.log.Warn("failed to start service", "service", name, "error", err)
			continue
		}
		c.log.Info("service started", "service", name)
	}
	c.wait(ctx, c.startWait, "start")
}

type action func(ctx context.Context, project, name string) error

func (c *Controller) apply(ctx context.Context, project, name string, fn action) error {
	if c.runtime == nil {
		return errNoRuntime
	}
	return fn(ctx, project, name)
}

func (c *Controller) stopOne(ctx context.Context, project, name string) error {
	if project != "" {
		err := c.runtime.StopService(ctx, project, name)
		if err == nil {
			return nil
		}
		c.log.Debug("compose stop failed, stopping container directly", "service", name, "project", project, "error", err)
	}
	return c.runtime.StopContainer(ctx, name)
}

func (c *Controller) startOne(ctx context.Context, project, name string) error {
	if project != "" {
		err := c.runtime.StartService(ctx, project, name)
		if err == nil {
			return nil
		}
		c.log.Debug("compose start failed, starting container directly", "service", name, "project", project, "error", err)
	}
	return c.runtime.StartContainer(ctx, name)
}

func (c *Controller) project(ctx context.Context) string {
	if c.runtime == nil {
		return ""
	}
	project, err := c.runtime.ComposeProject(ctx)
	if err != nil {
		c.log.Debug("compose project not detected", "error", err)
		return ""
	}
	return project
}

func (c *Controller) wait(ctx context.Context, d time.Duration, phase string) {
	if d <= 0 {
		return
	}
	c.log.Info("waiting for services to settle", "phase", phase, "duration", d)
	if err := c.sleep(ctx, d); err != nil {
		c.log.Warn("service grace period interrupted", "phase", phase, "error", err)
	}
}
