package sync

import (
	"encoding/json"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// MessageKind is the SyncMessage.kind enumeration of spec §4.4.
type MessageKind string

const (
	KindChange    MessageKind = "Change"
	KindDigest    MessageKind = "Digest"
	KindRequest   MessageKind = "Request"
	KindHeartbeat MessageKind = "Heartbeat"
	KindBroadcast MessageKind = "Broadcast"
	KindTask      MessageKind = "Task"
)

// Broadcast destination sentinel for SyncMessage.To.
const Broadcast = "*"

// Envelope is the wire-neutral SyncMessage of spec §4.4. Unknown fields on
// receipt must be ignored (forward compatibility) — enforced by decoding
// through json.RawMessage for Payload and tolerant struct decoding.
type Envelope struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Kind    MessageKind     `json:"kind"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses a wire message received off the transport, for the
// daemon's inbound subscription loop to hand to Engine.ApplyIncoming.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// ChangePayload carries one storage.Change (spec §4.4 algorithm step 1, 3).
type ChangePayload struct {
	ChangeKind string       `json:"change_kind"`
	Memory     types.Memory `json:"memory"`
}

func encodeChange(c storage.Change) (json.RawMessage, error) {
	return json.Marshal(ChangePayload{ChangeKind: string(c.Kind), Memory: c.Memory})
}

func decodeChange(raw json.RawMessage) (storage.Change, error) {
	var p ChangePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return storage.Change{}, err
	}
	return storage.Change{Kind: storage.ChangeKind(p.ChangeKind), Memory: p.Memory}, nil
}

// DigestPayload is exchanged every interval D to detect divergence (spec §4.4 step 2).
type DigestPayload struct {
	CheckpointVersionPerOrigin map[string]types.Version `json:"checkpoint_version_per_origin"`
	HashOfRecentIDs            string                    `json:"hash_of_recent_ids"`
}

func decodeDigest(raw json.RawMessage) (DigestPayload, error) {
	var d DigestPayload
	err := json.Unmarshal(raw, &d)
	return d, err
}

// RequestPayload lists what the initiator is missing after a digest diverges.
type RequestPayload struct {
	Origins []OriginRange `json:"origins"`
}

func marshalRequest(r RequestPayload) (json.RawMessage, error) { return json.Marshal(r) }

func decodeRequest(raw json.RawMessage) (RequestPayload, error) {
	var r RequestPayload
	err := json.Unmarshal(raw, &r)
	return r, err
}

// OriginRange asks for every Change from MachineID with counter in
// (After, ...] — an open-ended range since the responder streams
// everything newer.
type OriginRange struct {
	MachineID string `json:"machine_id"`
	After     uint64 `json:"after"`
}

// HeartbeatPayload carries liveness + load (spec §4.4 step 5).
type HeartbeatPayload struct {
	MachineID string  `json:"machine_id"`
	NowWall   int64   `json:"now_wall"` // unix millis
	LoadHint  float64 `json:"load_hint"`
}

func marshalHeartbeat(h HeartbeatPayload) (json.RawMessage, error) { return json.Marshal(h) }

func decodeHeartbeat(raw json.RawMessage) (HeartbeatPayload, error) {
	var h HeartbeatPayload
	err := json.Unmarshal(raw, &h)
	return h, err
}
