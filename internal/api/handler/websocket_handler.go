package handler

import (
	"facility_sync/internal/bus"
	"facility_sync/internal/domain"
	"facility_sync/internal/service"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Cho phép kết nối từ mọi nguồn
	},
}

// SyncSocketHandler phục vụ stream delta qua WebSocket. Hợp đồng với client:
// gửi {"type":"subscribe","topics":[...]} -> nhận snapshot message rồi các
// delta message; gửi {"type":"heartbeat"} định kỳ để không bị Registry expire.
// Nhận {"type":"lagging"} nghĩa là queue đã tràn — subscribe lại để re-snapshot.
type SyncSocketHandler struct {
	syncService *service.SyncService
}

func NewSyncSocketHandler(ss *service.SyncService) *SyncSocketHandler {
	return &SyncSocketHandler{syncService: ss}
}

// syncClient gói một WebSocket connection với write mutex — snapshot được ghi
// từ read loop còn delta từ pump goroutine, gorilla chỉ cho một writer một lúc.
type syncClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (cl *syncClient) writeJSON(v interface{}) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	return cl.conn.WriteJSON(v)
}

func (h *SyncSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := &syncClient{id: uuid.NewString(), conn: conn}
	log.Printf("WebSocket client connected: %s", client.id)

	defer func() {
		h.syncService.Detach(client.id)
		conn.Close()
		log.Printf("WebSocket client disconnected: %s", client.id)
	}()

	for {
		var msg domain.ClientSyncMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error (%s): %v", client.id, err)
			}
			return
		}

		switch msg.Type {
		case domain.ClientMessageSubscribe:
			h.handleSubscribe(client, msg.Topics)
		case domain.ClientMessageHeartbeat:
			if !h.syncService.Heartbeat(client.id) {
				// Connection đã bị expire; client phải kết nối lại từ đầu.
				client.writeJSON(domain.ErrorMessage{Type: "error", Error: "connection đã hết hạn, vui lòng kết nối lại"})
				return
			}
		default:
			client.writeJSON(domain.ErrorMessage{Type: "error", Error: "loại message không được hỗ trợ: " + msg.Type})
		}
	}
}

// handleSubscribe thực hiện hợp đồng snapshot-then-subscribe: Attach trả về
// snapshot mà version của nó đã là watermark của subscription, gửi snapshot
// trước rồi mới pump delta — client không hụt và không nhận trùng update nào.
func (h *SyncSocketHandler) handleSubscribe(client *syncClient, rawTopics []string) {
	topics := make([]domain.ResourceType, 0, len(rawTopics))
	for _, t := range rawTopics {
		topics = append(topics, domain.ResourceType(t))
	}

	result, err := h.syncService.Attach(client.id, topics)
	if err != nil {
		client.writeJSON(domain.ErrorMessage{Type: "error", Error: err.Error()})
		return
	}

	snapshot := domain.SnapshotMessage{
		Type:      "snapshot",
		Versions:  make(map[string]int64, len(result.Versions)),
		Timestamp: result.Timestamp,
	}
	for _, res := range result.Resources {
		switch v := res.(type) {
		case *domain.ParkingSpot:
			snapshot.Spots = append(snapshot.Spots, v)
		case *domain.Gate:
			snapshot.Gates = append(snapshot.Gates, v)
		}
	}
	for key, v := range result.Versions {
		snapshot.Versions[key.String()] = v
	}

	if err := client.writeJSON(snapshot); err != nil {
		log.Printf("Lỗi gửi snapshot cho client %s: %v", client.id, err)
		return
	}

	go h.pumpDeltas(client, result.Subscription)
}

// pumpDeltas chuyển delta từ subscription ra WebSocket cho đến khi channel
// đóng (unsubscribe, re-subscribe, hoặc lagging). Nếu đóng vì lagging thì báo
// client re-snapshot.
func (h *SyncSocketHandler) pumpDeltas(client *syncClient, sub *bus.Subscription) {
	for delta := range sub.Deltas() {
		if err := client.writeJSON(domain.DeltaMessage{Type: "delta", Delta: delta}); err != nil {
			log.Printf("Lỗi ghi delta cho client %s: %v", client.id, err)
			return
		}
	}
	if sub.IsLagging() {
		client.writeJSON(domain.LaggingMessage{
			Type:   "lagging",
			Reason: "queue delta đã tràn, hãy subscribe lại để nhận snapshot mới",
		})
	}
}
