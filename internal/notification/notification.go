// Package notification implements the quarantine operator alert of spec
// §7 ("a failed peer application is ... quarantined and an operator alert
// is raised") via the Open Question (c) resolution of SPEC_FULL §9: the
// alert is itself stored as a searchable QuarantineAlert memory under
// category monitoring, tag quarantine, reusing Discovery (§4.6) rather
// than inventing a new channel.
//
// Grounded on the teacher's internal/notification/dispatch.go Dispatcher
// shape (config + baseURL + http.Client), generalized from webhook
// dispatch to an in-fabric memory-backed alert plus an optional webhook.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// QuarantineAlert is the payload recorded as a memory and optionally
// POSTed to a webhook when a replicated Change is quarantined.
type QuarantineAlert struct {
	MemoryID string    `json:"memory_id"`
	PeerID   string    `json:"peer_id"`
	Attempts int       `json:"attempts"`
	LastErr  string    `json:"last_error"`
	RaisedAt time.Time `json:"raised_at"`
}

// Dispatcher raises operator alerts, mirroring the teacher's
// Dispatcher{config, baseURL, httpClient} shape.
type Dispatcher struct {
	store      storage.Store
	machineID  string
	webhookURL string
	httpClient *http.Client
}

// NewDispatcher wires a Dispatcher to the local Store (required) and an
// optional webhook URL (external collaborator, out of scope per spec §1 —
// callers may leave it empty).
func NewDispatcher(store storage.Store, machineID, webhookURL string) *Dispatcher {
	return &Dispatcher{
		store: store, machineID: machineID, webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Raise records a QuarantineAlert as a searchable memory and, if a webhook
// is configured, best-effort POSTs it too.
func (d *Dispatcher) Raise(ctx context.Context, alert QuarantineAlert) error {
	alert.RaisedAt = clockid.WallNow()

	body, err := json.Marshal(alert)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "marshal quarantine alert", err)
	}
	content := fmt.Sprintf("quarantine alert: memory %s failed to apply to peer %s after %d attempts: %s",
		alert.MemoryID, alert.PeerID, alert.Attempts, alert.LastErr)

	_, err = d.store.Store(ctx, content, types.CategoryMonitoring, []string{"quarantine"},
		types.ScopeCollective, types.ImportanceHigh,
		types.Origin{MachineID: d.machineID, CreatedAtWall: alert.RaisedAt})
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, "store quarantine alert", err)
	}

	if d.webhookURL != "" {
		d.postWebhook(ctx, body)
	}
	return nil
}

func (d *Dispatcher) postWebhook(ctx context.Context, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
