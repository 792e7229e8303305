package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	docker_network "github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/willeasp/id2203-distributed-kv-store/config"
)

// Build the image first: docker build -t distkv-node:latest .
const nodeImage = "distkv-node:latest"

type testKVNode struct {
	id        int
	container testcontainers.Container
	httpPort  nat.Port // e.g. 9001/tcp
}

func (n *testKVNode) url(ctx context.Context, path string) (string, error) {
	host, err := n.container.Host(ctx)
	if err != nil {
		return "", err
	}

	port, err := n.container.MappedPort(ctx, n.httpPort)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("http://%s:%s%s", host, port.Port(), path), nil
}

func (n *testKVNode) get(ctx context.Context, path string) (string, error) {
	url, err := n.url(ctx, path)
	if err != nil {
		return "", err
	}

	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	return string(body), nil
}

type testKVCluster struct {
	t   *testing.T
	ctx context.Context

	nodes   []*testKVNode
	network *testcontainers.DockerNetwork
}

func newE2eTestCluster(t *testing.T, ctx context.Context, nodesCount int) (*testKVCluster, error) {
	testDockerNetwork, err := docker_network.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start docker network: %v", err)
	}

	cluster := &testKVCluster{
		t:       t,
		ctx:     ctx,
		network: testDockerNetwork,
	}

	var peers []string
	for id := 1; id <= nodesCount; id++ {
		peers = append(peers, fmt.Sprintf("%d", id))
	}

	for id := 1; id <= nodesCount; id++ {
		node, _err := cluster.startNode(id, strings.Join(peers, ","))
		if _err != nil {
			cluster.shutdown()
			return nil, fmt.Errorf("failed to start node %d: %v", id, _err)
		}

		cluster.nodes = append(cluster.nodes, node)
	}

	return cluster, nil
}

func (c *testKVCluster) startNode(id int, peers string) (*testKVNode, error) {
	var name = fmt.Sprintf("distkv-node-%d", id)
	var httpPort = nat.Port(fmt.Sprintf("%d/tcp", config.DefaultHTTPPortBase+id))

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        nodeImage,
			Name:         name,
			ExposedPorts: []string{string(httpPort)},
			Env: map[string]string{
				"DISTKV_ID":        fmt.Sprintf("%d", id),
				"DISTKV_PEERS":     peers,
				"DISTKV_PEER_HOST": "distkv-node-%d",
				"DISTKV_DATA_DIR":  "/data",
			},
			Networks:       []string{c.network.Name},
			NetworkAliases: map[string][]string{c.network.Name: {name}},
			WaitingFor: wait.ForHTTP("/health").
				WithPort(httpPort).
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	}

	container, err := testcontainers.GenericContainer(c.ctx, req)
	if err != nil {
		return nil, err
	}

	return &testKVNode{id: id, container: container, httpPort: httpPort}, nil
}

func (c *testKVCluster) shutdown() {
	for _, node := range c.nodes {
		if node.container != nil {
			_ = node.container.Terminate(c.ctx)
		}
	}

	if c.network != nil {
		_ = c.network.Remove(c.ctx)
	}
}

// put offers the write to every node until all of them serve it back.
func (c *testKVCluster) put(t *testing.T, key, value string) {
	var want = fmt.Sprintf("%s -> %s", key, value)

	require.Eventually(t, func() bool {
		for _, node := range c.nodes {
			if _, err := node.get(c.ctx, fmt.Sprintf("/kv/%s/%s", key, value)); err != nil {
				t.Logf("put on node %d: %v", node.id, err)
			}
		}
		time.Sleep(500 * time.Millisecond)

		for _, node := range c.nodes {
			got, err := node.get(c.ctx, "/kv/"+key)
			if err != nil || got != want {
				return false
			}
		}
		return true
	}, 30*time.Second, 100*time.Millisecond)
}

func TestE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E tests in short mode")
	}

	ctx := context.Background()
	nodesCount := 3

	cluster, err := newE2eTestCluster(t, ctx, nodesCount)
	require.NoError(t, err)
	defer cluster.shutdown()

	t.Logf("Cluster created with %d nodes", nodesCount)

	cluster.put(t, "foo", "bar")
	t.Logf("Write replicated to all nodes")

	listing, err := cluster.nodes[0].get(ctx, "/")
	require.NoError(t, err)
	require.Contains(t, listing, "\tfoo -> bar, \n")

	// restart a node, it must come back with the decided write from its recovery directory
	var restarted = cluster.nodes[2]
	require.NoError(t, restarted.container.Stop(ctx, nil))
	require.NoError(t, restarted.container.Start(ctx))

	require.Eventually(t, func() bool {
		got, err := restarted.get(ctx, "/kv/foo")
		return err == nil && got == "foo -> bar"
	}, 30*time.Second, 200*time.Millisecond)

	t.Logf("Node %d recovered its state", restarted.id)
}
