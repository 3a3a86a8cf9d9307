package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/types"
)

const (
	// minionLabel marks every container the Overlord owns
	minionLabel = "overlord.minion"
)

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	cli         *client.Client
	image       string
	networkName string
	callbackURL string
	extraEnv    []string
}

// NewDockerRuntime connects to the engine configured by the standard
// DOCKER_HOST environment.
func NewDockerRuntime(image, networkName, callbackURL string, extraEnv []string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	return &DockerRuntime{
		cli:         cli,
		image:       image,
		networkName: networkName,
		callbackURL: callbackURL,
		extraEnv:    extraEnv,
	}, nil
}

// Close closes the engine client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Available reports whether the engine responds to a ping.
func (r *DockerRuntime) Available(ctx context.Context) bool {
	_, err := r.cli.Ping(ctx)
	return err == nil
}

// EnsureNetwork creates the overlord bridge network if it does not exist.
func (r *DockerRuntime) EnsureNetwork(ctx context.Context) error {
	_, err := r.cli.NetworkInspect(ctx, r.networkName, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect network %s: %w", r.networkName, err)
	}

	_, err = r.cli.NetworkCreate(ctx, r.networkName, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("failed to create network %s: %w", r.networkName, err)
	}
	log.WithComponent("runtime").Info().Str("network", r.networkName).Msg("created minion network")
	return nil
}

// Spawn starts one minion container for an issue and returns its id. The
// callback URL, repo target, and issue number travel as environment
// variables the worker reads at boot.
func (r *DockerRuntime) Spawn(ctx context.Context, repo string, issue int) (string, error) {
	id := fmt.Sprintf("minion-%s", uuid.New().String()[:8])

	env := append([]string{
		"MINION_ID=" + id,
		"MINION_REPO=" + repo,
		"MINION_ISSUE=" + strconv.Itoa(issue),
		"OVERLORD_URL=" + r.callbackURL,
	}, r.extraEnv...)

	cfg := &container.Config{
		Image: r.image,
		Env:   env,
		Labels: map[string]string{
			minionLabel:      "true",
			"overlord.repo":  repo,
			"overlord.issue": strconv.Itoa(issue),
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(r.networkName),
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, id)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best-effort teardown of the half-created container
		_ = r.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	return id, nil
}

// Status inspects a minion container.
func (r *DockerRuntime) Status(ctx context.Context, id string) (types.ContainerState, error) {
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return types.ContainerNone, nil
		}
		return types.ContainerNone, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	if inspect.State != nil && inspect.State.Running {
		return types.ContainerRunning, nil
	}
	return types.ContainerExited, nil
}

// Logs returns the last tail lines of a container's combined output.
func (r *DockerRuntime) Logs(ctx context.Context, id string, tail int) (string, error) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read logs for %s: %w", id, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("failed to demux logs for %s: %w", id, err)
	}
	return buf.String(), nil
}

// Kill terminates and removes a minion container. A missing container is
// not an error.
func (r *DockerRuntime) Kill(ctx context.Context, id string) error {
	if err := r.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
		log.WithComponent("runtime").Warn().Str("minion_id", id).Err(err).Msg("kill failed, removing anyway")
	}
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// List returns the ids of all overlord-owned containers, running or not.
func (r *DockerRuntime) List(ctx context.Context) ([]string, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", minionLabel+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		if len(c.Names) > 0 {
			ids = append(ids, trimSlash(c.Names[0]))
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// CleanupDead removes exited minion containers and returns how many.
func (r *DockerRuntime) CleanupDead(ctx context.Context) (int, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", minionLabel+"=true"), filters.Arg("status", "exited")),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list dead containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{}); err != nil {
			log.WithComponent("runtime").Warn().Str("container", c.ID).Err(err).Msg("failed to remove dead container")
			continue
		}
		removed++
	}
	return removed, nil
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
