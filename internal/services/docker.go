package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

const (
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"

	stopTimeoutSeconds = 30
)

var errNoComposeMatch = errors.New("no container matches compose service")

// Docker implements Runtime against the Docker Engine API.
type Docker struct {
	client *client.Client
	// project overrides compose detection when set.
	project string

	detectOnce sync.Once
	detected   string
	detectErr  error
}

var _ Runtime = (*Docker)(nil)

// NewDocker connects using the standard DOCKER_* environment.
func NewDocker(project string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Docker{client: cli, project: project}, nil
}

func (d *Docker) Close() error {
	return d.client.Close()
}

// ComposeProject reads the compose label of the sidecar's own container,
// found by hostname.
func (d *Docker) ComposeProject(ctx context.Context) (string, error) {
	if d.project != "" {
		return d.project, nil
	}
	d.detectOnce.Do(func() {
		hostname, err := os.Hostname()
		if err != nil {
			d.detectErr = err
			return
		}
		info, err := d.client.ContainerInspect(ctx, hostname)
		if err != nil {
			d.detectErr = fmt.Errorf("failed to inspect own container %s: %w", hostname, err)
			return
		}
		if info.Config != nil {
			d.detected = info.Config.Labels[composeProjectLabel]
		}
	})
	return d.detected, d.detectErr
}

func (d *Docker) StopService(ctx context.Context, project, service string) error {
	ids, err := d.serviceContainers(ctx, project, service)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := d.StopContainer(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (d *Docker) StartService(ctx context.Context, project, service string) error {
	ids, err := d.serviceContainers(ctx, project, service)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := d.StartContainer(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (d *Docker) StopContainer(ctx context.Context, name string) error {
	timeout := stopTimeoutSeconds
	if err := d.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

func (d *Docker) StartContainer(ctx context.Context, name string) error {
	if err := d.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

func (d *Docker) serviceContainers(ctx context.Context, project, service string) ([]string, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", composeProjectLabel+"="+project),
			filters.Arg("label", composeServiceLabel+"="+service),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", errNoComposeMatch, project, service)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
