package server

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/config"
	engine "github.com/willeasp/id2203-distributed-kv-store/raft-engine"
	"github.com/willeasp/id2203-distributed-kv-store/storage"
)

// Bootstrap builds the engine for cfg. A missing recovery directory means a
// fresh boot; an existing one is opened and the engine is told it crashed.
// The returned closer releases the storage.
func Bootstrap(cfg *config.Config, logger *logrus.Entry) (distkv.Engine, io.Closer, bool, error) {
	var dir = cfg.RecoveryDir()
	var engineCfg = engine.Config{
		ID:     cfg.Node.ID,
		Peers:  cfg.GetPeerIDs(),
		Logger: logger.WithField("component", "raft"),
	}

	if !storage.Exists(dir) {
		disk, err := storage.Create(dir)
		if err != nil {
			return nil, nil, false, fmt.Errorf("create storage: %w", err)
		}

		eng, err := engine.New(engineCfg, disk)
		if err != nil {
			_ = disk.Close()
			return nil, nil, false, err
		}

		logger.WithField("dir", dir).Info("fresh boot")
		return eng, disk, false, nil
	}

	disk, err := storage.Open(dir)
	if err != nil {
		return nil, nil, false, fmt.Errorf("open storage: %w", err)
	}

	eng, err := engine.New(engineCfg, disk)
	if err != nil {
		_ = disk.Close()
		return nil, nil, false, err
	}

	eng.RecoverFromCrash()

	logger.WithField("dir", dir).Info("recovered from existing storage")
	return eng, disk, true, nil
}
