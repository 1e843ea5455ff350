package modelserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	ContainerNamePrefix  = "snappify-"
	DefaultContainerPort = "8080/tcp"
	ModelCacheDir        = "/models"
	Label                = "snappify-model-server"
)

// ErrImageUnavailable is returned when the model server image is neither
// present locally nor pullable.
var ErrImageUnavailable = errors.New("model server image unavailable")

// ContainerStatus represents the state of a model server container.
type ContainerStatus string

const (
	StatusRunning   ContainerStatus = "running"
	StatusStopped   ContainerStatus = "stopped"
	StatusNotFound  ContainerStatus = "not_found"
	StatusUnhealthy ContainerStatus = "unhealthy"
	StatusStarting  ContainerStatus = "starting"
)

// DockerManager manages one model server container.
type DockerManager struct {
	cli           *client.Client
	containerName string
	imageName     string
	hostPort      string
	containerPort nat.Port
	gpu           bool
	env           []string
	cachePath     string // Host path mounted at ModelCacheDir for downloaded weights
	labels        map[string]string
	readyTimeout  time.Duration
}

// DockerConfig holds configuration for the Docker manager.
type DockerConfig struct {
	// Engine is used to derive the default container name.
	Engine        string
	ContainerName string
	Image         string
	HostPort      string
	ContainerPort string
	// GPU requests all GPUs for the container.
	GPU       bool
	Env       map[string]string
	CachePath string
	Labels    map[string]string // Optional labels for container (used for test cleanup)
	// ReadyTimeout bounds the wait after start. Zero means 120s since
	// model servers download weights on first start.
	ReadyTimeout time.Duration
}

// ContainerName returns the default container name for an engine.
func ContainerName(engine string) string {
	return ContainerNamePrefix + strings.ToLower(engine)
}

// NewDockerManager creates a new Docker manager for a model server.
func NewDockerManager(cfg DockerConfig) (*DockerManager, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("model server image is required")
	}
	if cfg.HostPort == "" {
		return nil, fmt.Errorf("model server host port is required")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	// Set defaults
	if cfg.ContainerName == "" {
		cfg.ContainerName = ContainerName(cfg.Engine)
	}
	if cfg.ContainerPort == "" {
		cfg.ContainerPort = DefaultContainerPort
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 120 * time.Second
	}
	port, err := nat.NewPort(nat.SplitProtoPort(cfg.ContainerPort))
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("invalid container port %q: %w", cfg.ContainerPort, err)
	}

	labels := map[string]string{Label: "true", Label + ".engine": cfg.Engine}
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	return &DockerManager{
		cli:           cli,
		containerName: cfg.ContainerName,
		imageName:     cfg.Image,
		hostPort:      cfg.HostPort,
		containerPort: port,
		gpu:           cfg.GPU,
		env:           env,
		cachePath:     cfg.CachePath,
		labels:        labels,
		readyTimeout:  cfg.ReadyTimeout,
	}, nil
}

// Close closes the Docker client.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}

// URL returns the model server URL on the host.
func (m *DockerManager) URL() string {
	return fmt.Sprintf("http://localhost:%s", m.hostPort)
}

// Start starts the container if it is not already running and waits for
// the server to answer health checks.
func (m *DockerManager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	status, containerID, err := m.getContainerStatus(ctx)
	if err != nil {
		return err
	}

	switch status {
	case StatusRunning:
		return m.waitForReady(ctx, m.readyTimeout)
	case StatusStopped:
		if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start existing container: %w", err)
		}
		return m.waitForReady(ctx, m.readyTimeout)
	case StatusNotFound:
		return m.createAndStart(ctx)
	default:
		return fmt.Errorf("container in unexpected state: %s", status)
	}
}

// Stop stops the container.
func (m *DockerManager) Stop(ctx context.Context) error {
	status, containerID, err := m.getContainerStatus(ctx)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}

	timeout := 10
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove stops and removes the container.
func (m *DockerManager) Remove(ctx context.Context) error {
	status, containerID, err := m.getContainerStatus(ctx)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Status returns the current status of the container.
func (m *DockerManager) Status(ctx context.Context) (ContainerStatus, error) {
	status, _, err := m.getContainerStatus(ctx)
	return status, err
}

// Logs returns the container logs.
func (m *DockerManager) Logs(ctx context.Context, tail string) (string, error) {
	status, containerID, err := m.getContainerStatus(ctx)
	if err != nil {
		return "", err
	}
	if status == StatusNotFound {
		return "", fmt.Errorf("container not found")
	}

	logs, err := m.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer logs.Close()

	logBytes, err := io.ReadAll(logs)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(logBytes), nil
}

func (m *DockerManager) createAndStart(ctx context.Context) error {
	if err := m.ensureImage(ctx); err != nil {
		return err
	}

	containerConfig := &container.Config{
		Image:  m.imageName,
		Env:    m.env,
		Labels: m.labels,
		ExposedPorts: nat.PortSet{
			m.containerPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			m.containerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: m.hostPort},
			},
		},
	}
	if m.gpu {
		hostConfig.DeviceRequests = []container.DeviceRequest{
			{Count: -1, Capabilities: [][]string{{"gpu"}}},
		}
	}
	if m.cachePath != "" {
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: m.cachePath,
				Target: ModelCacheDir,
			},
		}
	}

	resp, err := m.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, m.containerName)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up on failure
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}

	return m.waitForReady(ctx, m.readyTimeout)
}

func (m *DockerManager) getContainerStatus(ctx context.Context) (ContainerStatus, string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", m.containerName)

	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return StatusNotFound, "", nil
	}

	c := containers[0]
	switch c.State {
	case "running":
		return StatusRunning, c.ID, nil
	case "exited", "dead":
		return StatusStopped, c.ID, nil
	case "created", "restarting":
		return StatusStarting, c.ID, nil
	default:
		return ContainerStatus(c.State), c.ID, nil
	}
}

// waitForReady polls the server's health endpoint until it answers.
func (m *DockerManager) waitForReady(ctx context.Context, timeout time.Duration) error {
	httpClient := &http.Client{Timeout: 2 * time.Second}
	url := m.URL() + "/v1/health"

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(timeout.Seconds())),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.FixedDelay),
	)
}

// ensureImage pulls the image if not present.
func (m *DockerManager) ensureImage(ctx context.Context) error {
	if _, err := m.cli.ImageInspect(ctx, m.imageName); err == nil {
		return nil
	}

	reader, err := m.cli.ImagePull(ctx, m.imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImageUnavailable, m.imageName, err)
	}
	defer reader.Close()

	// Drain reader to complete pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImageUnavailable, m.imageName, err)
	}
	return nil
}

// DockerProber detects GPUs through the Docker daemon's registered
// runtimes.
type DockerProber struct {
	cli *client.Client
}

// NewDockerProber creates a prober using the environment's Docker settings.
func NewDockerProber() (*DockerProber, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerProber{cli: cli}, nil
}

// ProbeAccelerator reports whether the daemon can run GPU containers.
func (p *DockerProber) ProbeAccelerator(ctx context.Context) (bool, error) {
	info, err := p.cli.Info(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to query docker daemon: %w", err)
	}
	if info.DefaultRuntime == "nvidia" {
		return true, nil
	}
	_, ok := info.Runtimes["nvidia"]
	return ok, nil
}

// Close closes the Docker client.
func (p *DockerProber) Close() error {
	return p.cli.Close()
}
