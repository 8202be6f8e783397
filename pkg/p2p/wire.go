package p2p

import (
	"encoding/json"
	"io"

	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
)

// EventBatch is one gossip message: the events a single engine call committed
type EventBatch struct {
	Events []predict.Event `json:"events"`
}

// SyncRequest asks a peer for journal entries of one market with Seq > After
type SyncRequest struct {
	MarketID string `json:"marketId"`
	After    uint64 `json:"after"`
	Limit    int    `json:"limit"`
}

type SyncResponse struct {
	Events []predict.Event `json:"events"`
	Error  string          `json:"error,omitempty"`
}

// maxSyncBytes bounds a sync response read from a peer
const maxSyncBytes = 16 << 20

func encode(v any) ([]byte, error) { return json.Marshal(v) }

func decode(b []byte, v any) error { return json.Unmarshal(b, v) }

func readJSON(r io.Reader, limit int64, v any) error {
	return json.NewDecoder(io.LimitReader(r, limit)).Decode(v)
}
