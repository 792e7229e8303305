// kvclient sends commands typed as "<id> <command>" to the given node and prints
// every response arriving at the well-known response address.
//
//	$ kvclient
//	1 write foo bar
//	1 read foo
//	Received message: "bar"
//
// With -management the commands go to the management port instead
// (break_link <id>, restore_links, get_links). "<id> health" asks the node's
// gRPC health service in both modes.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/codec"
	"github.com/willeasp/id2203-distributed-kv-store/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to the yaml config file used for addressing")
		management = flag.Bool("management", false, "Send management commands instead of client commands")
	)

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	var responseAddr = cfg.Cluster.ClientResponseAddr
	if *management {
		responseAddr = cfg.Cluster.ManagementResponseAddr
	}

	ln, err := net.Listen("tcp", responseAddr)
	if err != nil {
		logrus.WithError(err).Fatalf("Failed to listen on %s", responseAddr)
	}
	defer ln.Close()

	go printResponses(ln, *management)

	var scanner = bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), distkv.MaxCommandLine+32)
	for scanner.Scan() {
		var line = strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		id, command, err := parseLine(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		if command == "health" {
			status, err := checkHealth(cfg.HealthAddr(id))
			if err != nil {
				fmt.Fprintf(os.Stderr, "node %d: %v\n", id, err)
				continue
			}
			fmt.Printf("Node %d: %s\n", id, status)
			continue
		}

		var addr = cfg.CommandAddr(id)
		if *management {
			addr = cfg.ManagementAddr(id)
		}

		if err = send(addr, command); err != nil {
			fmt.Fprintf(os.Stderr, "node %d: %v\n", id, err)
		}
	}
}

// parseLine splits "<id> <command...>".
func parseLine(line string) (distkv.NodeID, string, error) {
	idStr, command, ok := strings.Cut(line, " ")
	if !ok || strings.TrimSpace(command) == "" {
		return 0, "", fmt.Errorf("usage: <id> <command>")
	}

	id, err := config.ParseNodeID(idStr)
	if err != nil {
		return 0, "", err
	}

	return id, strings.TrimSpace(command), nil
}

func send(addr, command string) error {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(command + "\n"))
	return err
}

func printResponses(ln net.Listener, management bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		data, err := io.ReadAll(conn)
		_ = conn.Close()
		if err != nil {
			logrus.WithError(err).Warn("Failed to read response")
			continue
		}

		fmt.Println(formatResponse(data, management))
	}
}

func formatResponse(data []byte, management bool) string {
	if !management {
		return fmt.Sprintf("Received message: %q", string(data))
	}

	ids, err := codec.DecodeNodeIDs(data)
	if err != nil {
		return fmt.Sprintf("Malformed response: %v", err)
	}
	return fmt.Sprintf("Response received: %v", ids)
}

func checkHealth(addr string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return "", err
	}
	return resp.Status.String(), nil
}
