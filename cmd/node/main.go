package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/config"
	"github.com/willeasp/id2203-distributed-kv-store/gateway"
	"github.com/willeasp/id2203-distributed-kv-store/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to the yaml config file")
		id         = flag.Uint64("id", 0, "ID of this node, overrides the config")
		peers      = flag.String("peers", "", "Comma separated list of all node IDs (e.g., 1,2,3)")
		dataDir    = flag.String("data", "", "Directory holding the recovery directories")
	)

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	if *id != 0 {
		cfg.Node.ID = distkv.NodeID(*id)
	}
	if *peers != "" {
		if cfg.Cluster.Peers, err = config.ParsePeers(*peers); err != nil {
			logrus.WithError(err).Fatal("Invalid peers")
		}
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}

	if err = cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if err = cfg.Log.Apply(); err != nil {
		logrus.WithError(err).Fatal("Invalid log configuration")
	}

	var logger = logrus.WithField("node", cfg.Node.ID)

	node, err := server.NewNode(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create node")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var handler = gateway.NewHTTPHandler(node.ID(), node, node.Store(), logger)

	var (
		wg         sync.WaitGroup
		gatewayErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if gatewayErr = gateway.Serve(ctx, cfg.HTTPListenAddr(), handler); gatewayErr != nil {
			// the gateway is part of the node, take the rest down with it
			stop()
		}
	}()

	err = node.Run(ctx)
	stop()
	wg.Wait()

	if err != nil {
		logger.WithError(err).Fatal("Node failed")
	}
	if gatewayErr != nil {
		logger.WithError(gatewayErr).Fatal("Gateway failed")
	}

	logger.Info("Shutting down...")
}
