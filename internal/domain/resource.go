package domain

import (
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"
)

type ResourceType string

const (
	ResourceTypeSpot ResourceType = "spot"
	ResourceTypeGate ResourceType = "gate"
)

type SpotType string

const (
	SpotTypeRegular  SpotType = "regular"
	SpotTypeHandicap SpotType = "handicap"
	SpotTypeEV       SpotType = "ev"
)

// ResourceKey định danh duy nhất một resource trong Store và Change Bus.
type ResourceKey struct {
	Type ResourceType `json:"type"`
	ID   int          `json:"id"`
}

func (k ResourceKey) String() string {
	return fmt.Sprintf("%s:%d", k.Type, k.ID)
}

func SpotKey(id int) ResourceKey {
	return ResourceKey{Type: ResourceTypeSpot, ID: id}
}

func GateKey(id int) ResourceKey {
	return ResourceKey{Type: ResourceTypeGate, ID: id}
}

// Resource là kiểu chung cho ParkingSpot và Gate.
// Identity là bất biến sau khi tạo; chỉ các trường mutable được thay đổi,
// và chỉ thông qua Store.Commit (version tăng đúng 1 mỗi lần commit).
type Resource interface {
	Key() ResourceKey
	ResourceVersion() int64
	SetVersion(v int64)
	Touch(t time.Time)
	IsActive() bool
	Clone() Resource
}

type ParkingSpot struct {
	ID         int         `json:"id"`
	SpotNumber string      `json:"spot_number"` // Ví dụ: "A-101", duy nhất trong facility
	Floor      int         `json:"floor"`
	Type       SpotType    `json:"type"`
	Occupied   bool        `json:"occupied"`
	OccupantID null.String `json:"occupant_id"` // Bắt buộc khác null khi và chỉ khi Occupied=true
	Active     bool        `json:"active"`
	Version    int64       `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (s *ParkingSpot) Key() ResourceKey       { return SpotKey(s.ID) }
func (s *ParkingSpot) ResourceVersion() int64 { return s.Version }
func (s *ParkingSpot) SetVersion(v int64)     { s.Version = v }
func (s *ParkingSpot) Touch(t time.Time)      { s.UpdatedAt = t }
func (s *ParkingSpot) IsActive() bool         { return s.Active }

func (s *ParkingSpot) Clone() Resource {
	c := *s
	return &c
}

type Gate struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"` // Ví dụ: "entry_gate_north"
	Operational bool      `json:"operational"`
	Active      bool      `json:"active"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (g *Gate) Key() ResourceKey       { return GateKey(g.ID) }
func (g *Gate) ResourceVersion() int64 { return g.Version }
func (g *Gate) SetVersion(v int64)     { g.Version = v }
func (g *Gate) Touch(t time.Time)      { g.UpdatedAt = t }
func (g *Gate) IsActive() bool         { return g.Active }

func (g *Gate) Clone() Resource {
	c := *g
	return &c
}

// UserContext chứa thông tin người gọi đã được lớp auth xác thực trước khi
// lệnh đến core. Core tin tưởng userID và các cờ eligibility được cung cấp.
type UserContext struct {
	UserID            string `json:"user_id"`
	HasHandicapPermit bool   `json:"has_handicap_permit"`
	HasEVCredential   bool   `json:"has_ev_credential"`
}
