package runner

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/sync/errgroup"
)

const (
	WORKING_DIR   = "/workspace"
	DOCKER_SOCKET = "/var/run/docker.sock"
)

type DockerRunnerOptions struct {
	// ShowImagePull copies the image pull progress to the command's stdout.
	ShowImagePull bool

	// AlwaysPull pulls the image even when it is already present locally.
	AlwaysPull bool

	// MountDockerSocket exposes the host docker socket to the container.
	MountDockerSocket bool
}

// DockerRunner runs every command in a fresh container of the same image.
// The workspace is bind mounted at WORKING_DIR, so files a command writes
// there stay on the host for later stages.
type DockerRunner struct {
	image     string
	workspace string
	username  string
	password  string
	opts      DockerRunnerOptions
}

func NewDockerRunner(image, workspace string, opts DockerRunnerOptions) *DockerRunner {
	return &DockerRunner{
		image:     image,
		workspace: workspace,
		opts:      opts,
	}
}

func (d *DockerRunner) WithCredentials(username, password string) *DockerRunner {
	d.username = username
	d.password = password
	return d
}

func (d *DockerRunner) Exec(ctx context.Context, c Command) (int, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return -1, fmt.Errorf("unable to create docker client for %s: %w", c.Name, err)
	}
	defer cli.Close()

	stdout := orDiscard(c.Stdout)
	stderr := orDiscard(c.Stderr)

	if err := d.pull(ctx, cli, stdout); err != nil {
		return -1, fmt.Errorf("unable to pull image %s for %s: %w", d.image, c.Name, err)
	}

	workspace, err := filepath.Abs(d.workspace)
	if err != nil {
		return -1, err
	}

	mounts := []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: WORKING_DIR,
		},
	}
	if d.opts.MountDockerSocket {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: DOCKER_SOCKET,
			Target: DOCKER_SOCKET,
		})
	}

	workDir := WORKING_DIR
	if c.Dir != "" && !filepath.IsAbs(c.Dir) {
		workDir = filepath.ToSlash(filepath.Join(WORKING_DIR, c.Dir))
	}

	name := slug.Make(c.Name + "-" + uuid.NewString()[:8])

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:      d.image,
		Env:        c.Env,
		Cmd:        []string{"/bin/sh", "-c", c.Script},
		WorkingDir: workDir,
	}, &container.HostConfig{
		Mounts: mounts,
	}, nil, nil, name)
	if err != nil {
		return -1, fmt.Errorf("unable to create container %s: %w", name, err)
	}
	defer cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, types.ContainerRemoveOptions{Force: true})

	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return -1, fmt.Errorf("unable to start container %s: %w", name, err)
	}

	logs, err := cli.ContainerLogs(ctx, resp.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("unable to attach logs for %s: %w", name, err)
	}
	defer logs.Close()

	var eg errgroup.Group
	eg.Go(func() error {
		if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
			return fmt.Errorf("unable to read container logs from %s: %w", name, err)
		}
		return nil
	})

	statusCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)

	var code int
	select {
	case err := <-errCh:
		logs.Close()
		eg.Wait()
		if ctx.Err() != nil {
			return -1, fmt.Errorf("command %s interrupted, stopping container %s: %w", c.Name, name, ctx.Err())
		}
		return -1, fmt.Errorf("error waiting for container %s to stop: %w", name, err)
	case status := <-statusCh:
		if status.Error != nil {
			logs.Close()
			eg.Wait()
			return -1, fmt.Errorf("container %s: %s", name, status.Error.Message)
		}
		code = int(status.StatusCode)
	}

	if err := eg.Wait(); err != nil {
		return code, err
	}
	return code, nil
}

func (d *DockerRunner) pull(ctx context.Context, cli *client.Client, w io.Writer) error {
	if !d.opts.AlwaysPull {
		if _, _, err := cli.ImageInspectWithRaw(ctx, d.image); err == nil {
			return nil
		}
	}

	opts := types.ImagePullOptions{}
	if d.username != "" {
		auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
			Username: d.username,
			Password: d.password,
		})
		if err != nil {
			return err
		}
		opts.RegistryAuth = auth
	}

	reader, err := cli.ImagePull(ctx, d.image, opts)
	if err != nil {
		return err
	}
	defer reader.Close()

	if !d.opts.ShowImagePull {
		w = io.Discard
	}
	_, err = io.Copy(w, reader)
	return err
}
