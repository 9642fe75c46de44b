package domain

import "time"

// Delta là một thay đổi trạng thái đã commit của một resource, gắn với version
// mới của resource đó. Delta là ephemeral: được tạo khi commit, fan-out qua
// Change Bus rồi bỏ đi — client mất kết nối luôn re-snapshot thay vì replay.
type Delta struct {
	EventID      string                 `json:"event_id"`
	ResourceType ResourceType           `json:"resource_type"`
	ResourceID   int                    `json:"resource_id"`
	Version      int64                  `json:"version"`
	Fields       map[string]interface{} `json:"fields"` // Chỉ các trường đã thay đổi
	Timestamp    time.Time              `json:"timestamp"`
}

func (d Delta) Key() ResourceKey {
	return ResourceKey{Type: d.ResourceType, ID: d.ResourceID}
}
