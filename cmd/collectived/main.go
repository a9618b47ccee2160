// Command collectived is the per-machine daemon hosting components
// M, S, Y, A, C and the RPC server (SPEC_FULL §2's process layout).
// Bootstrap sequence adapted from the teacher's cmd/bd/main.go daemon
// path and internal/daemon/nats.go.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/coordination"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/daemonlock"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/eventbus"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/notification"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/observability"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/registry"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/rpc"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/semantic"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/storage"
	collectivesync "github.com/lancejames221b/agent-hivemind-sub004/internal/sync"
)

func main() {
	configPath := flag.String("config", "", "path to collective.yaml")
	peersPath := flag.String("peers", "peers.yaml", "path to peers.yaml")
	dumpConfigPath := flag.String("dump-config", "", "write the resolved config as TOML to this path and exit")
	flag.Parse()

	if err := run(*configPath, *peersPath, *dumpConfigPath); err != nil {
		log.Fatalf("collectived: %v", err)
	}
}

func run(configPath, peersPath, dumpConfigPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.MachineID == "" {
		cfg.MachineID = clockid.NewMachineID()
	}
	if dumpConfigPath != "" {
		return config.WriteSnapshot(dumpConfigPath, cfg)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	lock, err := daemonlock.Acquire(cfg.DataDir, cfg.MachineID)
	if err != nil {
		return err
	}
	defer lock.Close()

	obsShutdown, err := observability.Init(io.Discard)
	if err != nil {
		return err
	}
	defer obsShutdown(context.Background())

	clock := clockid.NewClock(cfg.MachineID)
	index := semantic.NewFlatIndex()

	store, err := storage.Open(storage.Config{
		Dir: cfg.DataDir, MachineID: cfg.MachineID, Clock: clock,
		Index: index, Retention: cfg.Retention(),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	transport, err := collectivesync.StartTransport(collectivesync.TransportConfig{
		Port: cfg.NATSPort, StoreDir: filepath.Join(cfg.DataDir, "nats"),
	})
	if err != nil {
		return err
	}
	defer transport.Shutdown()

	bus := eventbus.New()
	bus.SetJetStream(transport.JetStream())

	notifier := notification.NewDispatcher(store, cfg.MachineID, cfg.QuarantineWebhookURL)
	engine := collectivesync.NewEngine(cfg.MachineID, store, transport, notifier)
	if peers, err := config.LoadPeerList(peersPath); err == nil {
		for _, p := range peers.Peers() {
			engine.AddPeer(p.MachineID, p.Endpoint)
		}
		_ = peers.Watch(func(entries []config.PeerEntry) {
			for _, p := range entries {
				engine.AddPeer(p.MachineID, p.Endpoint)
			}
		})
	}

	sub, err := transport.Subscribe(collectivesync.SubjectForPeer(cfg.MachineID), "sync-inbound-"+cfg.MachineID, func(data []byte) {
		env, err := collectivesync.DecodeEnvelope(data)
		if err != nil {
			log.Printf("sync: decode inbound envelope: %v", err)
			return
		}
		if err := engine.ApplyIncoming(context.Background(), env); err != nil {
			log.Printf("sync: apply incoming %s from %s: %v", env.Kind, env.From, err)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	reg := registry.New(cfg.MachineID)
	coord := coordination.New(cfg.MachineID, bus, reg, store)

	srv := rpc.NewServer(rpc.Deps{
		MachineID: cfg.MachineID, Store: store, Index: index,
		Registry: reg, Coord: coord, Engine: engine,
	}, cfg.SocketPath, cfg.TCPAddr, cfg.TCPToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := engine.Run(ctx); err != nil {
			log.Printf("sync: engine stopped: %v", err)
		}
	}()

	log.Printf("collectived: machine %s listening on %s", cfg.MachineID, cfg.SocketPath)
	return srv.Serve(ctx)
}
