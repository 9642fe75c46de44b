package domain

type CommandOp string

const (
	CommandPark       CommandOp = "park"
	CommandLeave      CommandOp = "leave"
	CommandToggleGate CommandOp = "toggle_gate"
)

// CommandDTO là body của POST /api/v1/commands (frontend gửi lên).
// UserID không nằm trong body — lấy từ JWT qua auth middleware.
type CommandDTO struct {
	Op           CommandOp `json:"op" binding:"required,oneof=park leave toggle_gate"`
	ResourceID   int       `json:"resource_id" binding:"required"`
	DesiredState *bool     `json:"desired_state,omitempty"` // Chỉ dùng cho toggle_gate
}

// CommandResult trả về cho caller sau khi lệnh được xử lý.
// Changed=false khi lệnh là no-op (ví dụ toggle gate về trạng thái hiện tại).
type CommandResult struct {
	Resource Resource `json:"resource"`
	Changed  bool     `json:"changed"`
}

// CommandEnvelope là message từ SQS queue — các hệ thống nội bộ của facility
// (kiosk, đầu đọc thẻ) gửi lệnh kèm sẵn user và cờ eligibility đã xác thực.
type CommandEnvelope struct {
	Op           CommandOp `json:"op"`
	ResourceID   int       `json:"resource_id"`
	UserID       string    `json:"user_id,omitempty"`
	DesiredState *bool     `json:"desired_state,omitempty"`
	Eligibility  struct {
		Handicap bool `json:"handicap"`
		EV       bool `json:"ev"`
	} `json:"eligibility"`
	Source string `json:"source,omitempty"` // Ví dụ: "entry_kiosk_1"
}

func (e CommandEnvelope) User() UserContext {
	return UserContext{
		UserID:            e.UserID,
		HasHandicapPermit: e.Eligibility.Handicap,
		HasEVCredential:   e.Eligibility.EV,
	}
}

// GateControlCommandPayload là payload MQTT publish xuống barrier controller
// sau khi một lệnh toggle gate đã được commit.
type GateControlCommandPayload struct {
	Command   string `json:"command"` // "open" hoặc "close"
	RequestID string `json:"request_id"`
}
