// Package sync implements component Y: gossips memory changes between
// peer machines, resolves conflicts via internal/merge, and enforces
// scope rules (spec §4.4).
//
// The transport is an embedded NATS server with JetStream per machine,
// adapted directly from the teacher's internal/daemon/nats.go — that file
// already does exactly this for the teacher's own event distribution.
package sync

import (
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// TransportConfig configures the embedded NATS server (adapted from the
// teacher's NATSConfig).
type TransportConfig struct {
	Port      int // 0 = pick any free port
	StoreDir  string
	Token     string
}

// Transport wraps an embedded NATS server plus an in-process client
// connection and JetStream context, mirroring the teacher's NATSServer.
type Transport struct {
	server *server.Server
	conn   *nats.Conn
	js     nats.JetStreamContext
	port   int
}

// StartTransport boots an embedded NATS server with JetStream enabled and
// returns a ready Transport with an in-process connection already
// established. Adapted from the teacher's StartNATSServer.
func StartTransport(cfg TransportConfig) (*Transport, error) {
	opts := &server.Options{
		Host:          "127.0.0.1",
		Port:          cfg.Port,
		JetStream:     true,
		StoreDir:      cfg.StoreDir,
		Authorization: cfg.Token,
		NoLog:         true,
		NoSigs:        true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("sync: create embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("sync: embedded nats server not ready after 10s")
	}

	connOpts := []nats.Option{nats.InProcessServer(ns)}
	if cfg.Token != "" {
		connOpts = append(connOpts, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(ns.ClientURL(), connOpts...)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("sync: connect in-process nats client: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("sync: acquire jetstream context: %w", err)
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     "COLLECTIVE_SYNC",
		Subjects: []string{"collective.sync.>"},
		Storage:  nats.FileStorage,
	}); err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("sync: create sync stream: %w", err)
	}

	port := cfg.Port
	if addr, ok := ns.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return &Transport{server: ns, conn: conn, js: js, port: port}, nil
}

// Conn returns the in-process NATS connection.
func (t *Transport) Conn() *nats.Conn { return t.conn }

// JetStream returns the JetStream context for publish/subscribe.
func (t *Transport) JetStream() nats.JetStreamContext { return t.js }

// Port returns the server's listening port.
func (t *Transport) Port() int { return t.port }

// Subscribe binds a durable JetStream push consumer to subject, invoking
// handler for each message and ack'ing it once handler returns. Used by the
// daemon to receive the Changes/Digests/Requests/Heartbeats peers publish
// to this machine's subject (spec §4.4 step 3).
func (t *Transport) Subscribe(subject, durable string, handler func(data []byte)) (*nats.Subscription, error) {
	return t.js.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck())
}

// Shutdown drains the connection and stops the embedded server.
func (t *Transport) Shutdown() {
	if t.conn != nil {
		t.conn.Drain()
	}
	if t.server != nil {
		t.server.Shutdown()
	}
}

// Health mirrors the teacher's NATSHealth for the status endpoint (spec §6).
type Health struct {
	Connected bool
	NumPeers  int
}

func (t *Transport) Health() Health {
	return Health{Connected: t.conn != nil && t.conn.IsConnected()}
}
