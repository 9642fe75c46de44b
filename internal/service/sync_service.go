package service

import (
	"context"
	"errors"
	"facility_sync/internal/bus"
	"facility_sync/internal/domain"
	"facility_sync/internal/registry"
	"facility_sync/internal/store"
	"fmt"
	"time"
)

var ErrInvalidCommand = errors.New("lệnh không hợp lệ")

// AttachResult là snapshot + subscription trả về từ Attach. Versions của
// snapshot chính là watermark khởi điểm của subscription nên client không
// bị hụt hay nhận trùng delta nào giữa snapshot và subscribe.
type AttachResult struct {
	Subscription *bus.Subscription
	Resources    []domain.Resource
	Versions     map[domain.ResourceKey]int64
	Timestamp    time.Time
}

// SyncService là bề mặt mà transport (HTTP handler, WebSocket handler, SQS
// consumer) gọi vào: snapshot, submit command, attach/detach subscriber.
type SyncService struct {
	store     *store.ResourceStore
	occupancy *OccupancyService
	bus       *bus.ChangeBus
	registry  *registry.ConnectionRegistry
}

func NewSyncService(st *store.ResourceStore, occupancy *OccupancyService, changeBus *bus.ChangeBus, reg *registry.ConnectionRegistry) *SyncService {
	return &SyncService{
		store:     st,
		occupancy: occupancy,
		bus:       changeBus,
		registry:  reg,
	}
}

// Snapshot đọc point-in-time toàn bộ resource của một loại, kèm watermark
// version từng resource. Dùng cho client mới kết nối và cho admin view.
func (s *SyncService) Snapshot(resourceType domain.ResourceType) ([]domain.Resource, map[domain.ResourceKey]int64, error) {
	switch resourceType {
	case domain.ResourceTypeSpot, domain.ResourceTypeGate:
	default:
		return nil, nil, fmt.Errorf("%w: loại resource '%s' không hợp lệ", ErrInvalidCommand, resourceType)
	}
	resources, versions := s.store.Snapshot(resourceType)
	return resources, versions, nil
}

// SubmitCommand định tuyến park/leave/toggle_gate tới Coordinator.
// Lỗi domain được trả nguyên vẹn để handler dịch sang taxonomy HTTP.
func (s *SyncService) SubmitCommand(ctx context.Context, user domain.UserContext, cmd domain.CommandDTO) (*domain.CommandResult, error) {
	switch cmd.Op {
	case domain.CommandPark:
		if user.UserID == "" {
			return nil, fmt.Errorf("%w: lệnh park yêu cầu user", ErrInvalidCommand)
		}
		spot, _, err := s.occupancy.Park(ctx, user, cmd.ResourceID)
		if err != nil {
			return nil, err
		}
		return &domain.CommandResult{Resource: spot, Changed: true}, nil

	case domain.CommandLeave:
		if user.UserID == "" {
			return nil, fmt.Errorf("%w: lệnh leave yêu cầu user", ErrInvalidCommand)
		}
		spot, _, err := s.occupancy.Leave(ctx, user, cmd.ResourceID)
		if err != nil {
			return nil, err
		}
		return &domain.CommandResult{Resource: spot, Changed: true}, nil

	case domain.CommandToggleGate:
		if cmd.DesiredState == nil {
			return nil, fmt.Errorf("%w: lệnh toggle_gate yêu cầu desired_state", ErrInvalidCommand)
		}
		gate, changed, err := s.occupancy.ToggleGate(ctx, cmd.ResourceID, *cmd.DesiredState)
		if err != nil {
			return nil, err
		}
		return &domain.CommandResult{Resource: gate, Changed: changed}, nil

	default:
		return nil, fmt.Errorf("%w: op '%s' không được hỗ trợ", ErrInvalidCommand, cmd.Op)
	}
}

// Attach nối một connection sống vào Registry + Change Bus theo hợp đồng
// snapshot-then-subscribe. Thứ tự bên trong là subscribe trước rồi mới đọc
// snapshot: delta commit trong khe hở đã nằm trong snapshot và bị watermark
// chặn lại, delta sau snapshot được giao bình thường — không hụt, không trùng.
func (s *SyncService) Attach(connectionID string, topics []domain.ResourceType) (*AttachResult, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: subscribe cần ít nhất một topic", ErrInvalidCommand)
	}
	for _, t := range topics {
		if t != domain.ResourceTypeSpot && t != domain.ResourceTypeGate {
			return nil, fmt.Errorf("%w: topic '%s' không hợp lệ", ErrInvalidCommand, t)
		}
	}

	s.registry.Register(connectionID)
	s.registry.SetTopics(connectionID, topics)
	sub := s.bus.Subscribe(connectionID, topics)

	var resources []domain.Resource
	versions := make(map[domain.ResourceKey]int64)
	for _, t := range topics {
		rs, vs := s.store.Snapshot(t)
		resources = append(resources, rs...)
		for k, v := range vs {
			versions[k] = v
		}
	}
	s.bus.SetWatermarks(connectionID, versions)

	return &AttachResult{
		Subscription: sub,
		Resources:    resources,
		Versions:     versions,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Detach gỡ connection khỏi Registry (Registry tự unsubscribe khỏi bus).
func (s *SyncService) Detach(connectionID string) {
	s.registry.Deregister(connectionID)
}

// Heartbeat chuyển tiếp tới Registry. Trả về false nếu connection đã expire.
func (s *SyncService) Heartbeat(connectionID string) bool {
	return s.registry.Heartbeat(connectionID)
}
