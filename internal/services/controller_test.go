package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

type fakeRuntime struct {
	project     string
	projectErr  error
	failService map[string]bool
	failDirect  map[string]bool
	calls       []string
}

func (f *fakeRuntime) ComposeProject(context.Context) (string, error) {
	return f.project, f.projectErr
}

func (f *fakeRuntime) StopService(_ context.Context, project, service string) error {
	f.calls = append(f.calls, "compose-stop:"+project+"/"+service)
	if f.failService[service] {
		return errors.New("compose failure")
	}
	return nil
}

func (f *fakeRuntime) StartService(_ context.Context, project, service string) error {
	f.calls = append(f.calls, "compose-start:"+project+"/"+service)
	if f.failService[service] {
		return errors.New("compose failure")
	}
	return nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, name string) error {
	f.calls = append(f.calls, "stop:"+name)
	if f.failDirect[name] {
		return errors.New("no such container")
	}
	return nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, name string) error {
	f.calls = append(f.calls, "start:"+name)
	if f.failDirect[name] {
		return errors.New("no such container")
	}
	return nil
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func TestStopWithoutComposeUsesDirectCalls(t *testing.T) {
	rt := &fakeRuntime{}
	ctrl := NewController(rt, logger.Nop())

	stopped := ctrl.Stop(context.Background(), []string{"db", "app"})

	assert.Equal(t, []string{"stop:db", "stop:app"}, rt.calls)
	assert.Equal(t, []string{"db", "app"}, stopped.Names())
}

func TestStopFallsBackWhenComposeFails(t *testing.T) {
	rt := &fakeRuntime{project: "stack", failService: map[string]bool{"app": true}}
	ctrl := NewController(rt, logger.Nop())

	ctrl.Stop(context.Background(), []string{"db", "app"})

	assert.Equal(t, []string{
		"compose-stop:stack/db",
		"compose-stop:stack/app",
		"stop:app",
	}, rt.calls)
}

func TestStopContinuesPastFailures(t *testing.T) {
	rt := &fakeRuntime{failDirect: map[string]bool{"first": true}}
	ctrl := NewController(rt, logger.Nop())

	ctrl.Stop(context.Background(), []string{"first", "second"})

	assert.Equal(t, []string{"stop:first", "stop:second"}, rt.calls)
}

func TestProjectDetectionErrorMeansDirect(t *testing.T) {
	rt := &fakeRuntime{project: "ignored", projectErr: errors.New("not in a container")}
	ctrl := NewController(rt, logger.Nop())

	ctrl.Start(context.Background(), []string{"db"})

	assert.Equal(t, []string{"start:db"}, rt.calls)
}

func TestGraceWindows(t *testing.T) {
	rec := &sleepRecorder{}
	rt := &fakeRuntime{}
	ctrl := NewController(rt, logger.Nop(), WithWaits(5*time.Second, 2*time.Second), WithSleep(rec.sleep))

	stopped := ctrl.Stop(context.Background(), []string{"db"})
	stopped.Release(context.Background())

	assert.Equal(t, []time.Duration{5 * time.Second, 2 * time.Second}, rec.slept)
}

func TestZeroWaitAndEmptySetSkipSleep(t *testing.T) {
	rec := &sleepRecorder{}
	ctrl := NewController(&fakeRuntime{}, logger.Nop(), WithWaits(0, 0), WithSleep(rec.sleep))
	ctrl.Stop(context.Background(), []string{"db"}).Release(context.Background())
	assert.Empty(t, rec.slept)

	ctrl = NewController(&fakeRuntime{}, logger.Nop(), WithWaits(time.Second, time.Second), WithSleep(rec.sleep))
	ctrl.Stop(context.Background(), nil).Release(context.Background())
	assert.Empty(t, rec.slept)
}

func TestReleaseIsIdempotentAndIgnoresCancellation(t *testing.T) {
	rt := &fakeRuntime{}
	ctrl := NewController(rt, logger.Nop())

	stopped := ctrl.Stop(context.Background(), []string{"db"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stopped.Release(ctx)
	stopped.Release(ctx)

	assert.Equal(t, []string{"stop:db", "start:db"}, rt.calls)
}

func TestNilRuntimeOnlyWarns(t *testing.T) {
	ctrl := NewController(nil, logger.Nop())
	stopped := ctrl.Stop(context.Background(), []string{"db"})
	require.NotNil(t, stopped)
	stopped.Release(context.Background())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, Sleep(context.Background(), 0))
}
