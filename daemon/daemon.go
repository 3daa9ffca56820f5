package daemon

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/meshpay/lnrouter/channeldb"
	"github.com/meshpay/lnrouter/discovery"
)

// staticHeight is a ChainHeightSource that always reports the height it was
// built with. A full deployment would instead consult a real chain backend;
// standing one up is out of scope, so the daemon seeds the tip once at
// startup from config and relies on an operator (or a supervising process
// restarting with an updated --assumechainheight) to keep it current.
type staticHeight uint32

func (h staticHeight) BestHeight() (uint32, error) { return uint32(h), nil }

// parseSelfNodeID decodes a hex-encoded compressed pubkey, returning the zero
// NodeID if none was supplied.
func parseSelfNodeID(s string) (discovery.NodeID, error) {
	var id discovery.NodeID
	if s == "" {
		return id, nil
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("selfnodeid: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("selfnodeid: expected %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// Main parses the command line, wires up persistent storage and the router,
// and blocks until it receives a termination signal. It mirrors the
// teacher's own LndMain in shape: parse config, stand up logging, construct
// the long-lived subsystems, then wait for shutdown.
func Main(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	initLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileMB, cfg.MaxLogFiles,
	)
	setLogLevels(cfg.DebugLevel)

	selfNodeID, err := parseSelfNodeID(cfg.SelfNodeID)
	if err != nil {
		return err
	}

	var chain chainhash.Hash
	if cfg.ChainHash != "" {
		h, err := chainhash.NewHashFromStr(cfg.ChainHash)
		if err != nil {
			return fmt.Errorf("chainhash: %w", err)
		}
		chain = *h
	}

	db, err := channeldb.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening graph database: %w", err)
	}
	defer db.Close()

	graphDB := channeldb.NewGraphDB(db)

	if cfg.Routing.UseNoGraphUpdatingOnStartup() {
		ltndLog.Info("graph updating on startup disabled by config")
	}

	router, err := discovery.New(discovery.Config{
		Chain:             chain,
		SelfNodeID:        selfNodeID,
		Verifier:          ecdsaVerifier{},
		DB:                graphDB,
		Bus:               discovery.NewEventBus(),
		Height:            staticHeight(cfg.AssumeChainHeight),
		ExclusionDuration: defaultExclusionDuration,
		RouteWorkers:      cfg.RouteWorkers,
	})
	if err != nil {
		return fmt.Errorf("constructing router: %w", err)
	}

	ltndLog.Infof("loaded graph database from %v", cfg.DataDir)

	router.Start()
	defer router.Stop()

	ltndLog.Info("lnrouter started")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	ltndLog.Info("received shutdown signal, stopping")

	return nil
}
