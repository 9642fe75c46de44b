// File: internal/domain/sync_messages.go
package domain

import "time"

// Protocol WebSocket: client gửi ClientSyncMessage, server trả các message
// có trường "type" phân biệt ("snapshot", "delta", "lagging", "error").

type ClientSyncMessage struct {
	Type   string   `json:"type"` // "subscribe" hoặc "heartbeat"
	Topics []string `json:"topics,omitempty"`
}

const (
	ClientMessageSubscribe = "subscribe"
	ClientMessageHeartbeat = "heartbeat"
)

// SnapshotMessage - Full snapshot gửi cho client ngay sau khi subscribe.
// Versions là watermark cho từng resource; mọi delta có version <= watermark
// đã được phản ánh trong snapshot và sẽ không được gửi lại.
type SnapshotMessage struct {
	Type      string           `json:"type"` // "snapshot"
	Spots     []*ParkingSpot   `json:"spots,omitempty"`
	Gates     []*Gate          `json:"gates,omitempty"`
	Versions  map[string]int64 `json:"versions"`
	Timestamp time.Time        `json:"timestamp"`
}

type DeltaMessage struct {
	Type  string `json:"type"` // "delta"
	Delta Delta  `json:"delta"`
}

// LaggingMessage - Queue của subscriber đã tràn; client phải re-subscribe để
// nhận snapshot mới thay vì tiếp tục nhận stream đã đứt đoạn.
type LaggingMessage struct {
	Type   string `json:"type"` // "lagging"
	Reason string `json:"reason,omitempty"`
}

type ErrorMessage struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}
