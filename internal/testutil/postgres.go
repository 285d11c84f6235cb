package testutil

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresPort  = nat.Port("5432/tcp")

	postgresUser = "storyforge"
	postgresPass = "storyforge"
	postgresDB   = "storyforge"
)

// StartPostgres runs a throwaway Postgres container bound to an ephemeral
// host port and returns its connection URL. The container is removed when
// the test finishes.
func StartPostgres(t TestingT) string {
	t.Helper()

	cli := DockerClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := ensureImage(ctx, cli); err != nil {
		panic(fmt.Sprintf("failed to pull %s: %v", postgresImage, err))
	}

	containerConfig := &container.Config{
		Image: postgresImage,
		Env: []string{
			"POSTGRES_USER=" + postgresUser,
			"POSTGRES_PASSWORD=" + postgresPass,
			"POSTGRES_DB=" + postgresDB,
		},
		Labels: ContainerLabels(t),
		ExposedPorts: nat.PortSet{
			postgresPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			postgresPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: ""},
			},
		},
	}

	name := UniqueContainerName(t, "postgres")
	resp, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		panic(fmt.Sprintf("failed to create postgres container: %v", err))
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		panic(fmt.Sprintf("failed to start postgres container: %v", err))
	}

	info, err := cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		panic(fmt.Sprintf("failed to inspect postgres container: %v", err))
	}
	bindings := info.NetworkSettings.Ports[postgresPort]
	if len(bindings) == 0 {
		panic("postgres container has no bound host port")
	}

	dsn := fmt.Sprintf("postgres://%s:%s@127.0.0.1:%s/%s?sslmode=disable",
		postgresUser, postgresPass, bindings[0].HostPort, postgresDB)

	if err := waitForPostgres(ctx, dsn); err != nil {
		panic(fmt.Sprintf("postgres not ready: %v", err))
	}
	t.Logf("postgres ready at %s", dsn)
	return dsn
}

// waitForPostgres polls until the database accepts connections.
func waitForPostgres(ctx context.Context, dsn string) error {
	return retry.Do(
		func() error {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()
			return pool.Ping(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(1*time.Second),
	)
}

// ensureImage pulls the Postgres image if not present.
func ensureImage(ctx context.Context, cli *client.Client) error {
	_, err := cli.ImageInspect(ctx, postgresImage)
	if err == nil {
		return nil // Image exists
	}

	reader, err := cli.ImagePull(ctx, postgresImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain reader to complete pull
	_, err = io.Copy(io.Discard, reader)
	return err
}
