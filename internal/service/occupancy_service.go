package service

import (
	"context"
	"errors"
	"facility_sync/internal/domain"
	"facility_sync/internal/repository"
	"facility_sync/internal/store"
	"fmt"
	"log"
	"sync"

	"gopkg.in/guregu/null.v4"
)

var (
	ErrAlreadyOccupied    = errors.New("chỗ đỗ đã có xe")
	ErrUserAlreadyParked  = errors.New("người dùng đang đỗ ở một chỗ khác")
	ErrIneligibleSpotType = errors.New("người dùng không đủ điều kiện cho loại chỗ đỗ này")
	ErrNotOccupant        = errors.New("người dùng không phải người đang đỗ tại chỗ này")
	ErrContention         = errors.New("xung đột ghi liên tục, vui lòng thử lại")
)

const DefaultCommitRetries = 3

// DeltaPublisher là phần của Change Bus mà Coordinator cần.
type DeltaPublisher interface {
	Publish(delta domain.Delta)
}

// GateCommander đẩy lệnh open/close xuống barrier controller vật lý
// sau khi một toggle đã commit. Best-effort, có thể nil.
type GateCommander interface {
	SendGateCommand(ctx context.Context, gate *domain.Gate, open bool) error
}

// OccupancyService mã hóa các quy tắc nghiệp vụ trên nền raw commit của Store:
// park/leave với các guard về occupancy và eligibility, toggle gate idempotent.
// VersionConflict từ Store được retry nội bộ (đọc lại + validate lại) tối đa
// retries lần; hết budget mới trả ErrContention cho caller.
type OccupancyService struct {
	store   *store.ResourceStore
	bus     DeltaPublisher
	gates   GateCommander
	retries int

	// Index occupant phụ trợ cho tra cứu O(1) "user này đang đỗ ở đâu".
	// Được giữ đồng bộ với Store: reserve trước commit, release khi commit
	// thất bại — reserve chính là cái gate khiến hai lệnh park đồng thời của
	// cùng một user chỉ có đúng một lệnh thành công.
	occMu     sync.Mutex
	occupants map[string]int // userID -> spotID
}

func NewOccupancyService(st *store.ResourceStore, bus DeltaPublisher, gates GateCommander, retries int) *OccupancyService {
	if retries <= 0 {
		retries = DefaultCommitRetries
	}
	s := &OccupancyService{
		store:     st,
		bus:       bus,
		gates:     gates,
		retries:   retries,
		occupants: make(map[string]int),
	}
	s.rebuildOccupantIndex()
	return s
}

func (s *OccupancyService) rebuildOccupantIndex() {
	resources, _ := s.store.Snapshot(domain.ResourceTypeSpot)
	s.occMu.Lock()
	defer s.occMu.Unlock()
	for _, res := range resources {
		spot, ok := res.(*domain.ParkingSpot)
		if !ok {
			continue
		}
		if spot.Occupied && spot.OccupantID.Valid {
			s.occupants[spot.OccupantID.String] = spot.ID
		}
	}
}

// Park chuyển một spot từ Free sang Occupied cho user.
func (s *OccupancyService) Park(ctx context.Context, user domain.UserContext, spotID int) (*domain.ParkingSpot, *domain.Delta, error) {
	key := domain.SpotKey(spotID)

	for attempt := 0; attempt < s.retries; attempt++ {
		res, err := s.store.Get(key)
		if err != nil {
			return nil, nil, err
		}
		spot := res.(*domain.ParkingSpot)
		if !spot.Active {
			return nil, nil, fmt.Errorf("%w: chỗ đỗ %d đã ngừng hoạt động", repository.ErrNotFound, spotID)
		}
		if spot.Occupied {
			return nil, nil, ErrAlreadyOccupied
		}
		if err := checkSpotEligibility(spot.Type, user); err != nil {
			return nil, nil, err
		}
		if !s.reserveOccupant(user.UserID, spotID) {
			return nil, nil, ErrUserAlreadyParked
		}

		updated, delta, err := s.store.Commit(ctx, key, spot.Version, func(r domain.Resource) (domain.Resource, map[string]interface{}) {
			sp := r.(*domain.ParkingSpot)
			sp.Occupied = true
			sp.OccupantID = null.StringFrom(user.UserID)
			return sp, map[string]interface{}{
				"occupied":    true,
				"occupant_id": user.UserID,
			}
		})
		if err != nil {
			s.releaseOccupant(user.UserID, spotID)
			if errors.Is(err, store.ErrVersionConflict) {
				// Race lành tính: đọc lại state mới và validate lại quy tắc.
				continue
			}
			return nil, nil, err
		}

		s.bus.Publish(*delta)
		log.Printf("OccupancyService: User '%s' đã đỗ vào chỗ %d (version %d)", user.UserID, spotID, delta.Version)
		return updated.(*domain.ParkingSpot), delta, nil
	}
	return nil, nil, ErrContention
}

// Leave chuyển spot từ Occupied về Free; chỉ người đang đỗ mới được rời.
func (s *OccupancyService) Leave(ctx context.Context, user domain.UserContext, spotID int) (*domain.ParkingSpot, *domain.Delta, error) {
	key := domain.SpotKey(spotID)

	for attempt := 0; attempt < s.retries; attempt++ {
		res, err := s.store.Get(key)
		if err != nil {
			return nil, nil, err
		}
		spot := res.(*domain.ParkingSpot)
		if !spot.Occupied || !spot.OccupantID.Valid || spot.OccupantID.String != user.UserID {
			return nil, nil, ErrNotOccupant
		}

		updated, delta, err := s.store.Commit(ctx, key, spot.Version, func(r domain.Resource) (domain.Resource, map[string]interface{}) {
			sp := r.(*domain.ParkingSpot)
			sp.Occupied = false
			sp.OccupantID = null.String{}
			return sp, map[string]interface{}{
				"occupied":    false,
				"occupant_id": nil,
			}
		})
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// Hai lệnh leave đua nhau: vòng sau sẽ thấy chỗ đã trống
				// và trả ErrNotOccupant thay vì lỗi giả cho caller.
				continue
			}
			return nil, nil, err
		}

		s.releaseOccupant(user.UserID, spotID)
		s.bus.Publish(*delta)
		log.Printf("OccupancyService: User '%s' đã rời chỗ %d (version %d)", user.UserID, spotID, delta.Version)
		return updated.(*domain.ParkingSpot), delta, nil
	}
	return nil, nil, ErrContention
}

// ToggleGate đặt gate về trạng thái mong muốn. Idempotent: gate đã ở đúng
// trạng thái thì trả state hiện tại, không bump version, không phát delta.
func (s *OccupancyService) ToggleGate(ctx context.Context, gateID int, desiredState bool) (*domain.Gate, bool, error) {
	key := domain.GateKey(gateID)

	for attempt := 0; attempt < s.retries; attempt++ {
		res, err := s.store.Get(key)
		if err != nil {
			return nil, false, err
		}
		gate := res.(*domain.Gate)
		if !gate.Active {
			return nil, false, fmt.Errorf("%w: gate %d đã ngừng hoạt động", repository.ErrNotFound, gateID)
		}
		if gate.Operational == desiredState {
			return gate, false, nil
		}

		updated, delta, err := s.store.Commit(ctx, key, gate.Version, func(r domain.Resource) (domain.Resource, map[string]interface{}) {
			g := r.(*domain.Gate)
			g.Operational = desiredState
			return g, map[string]interface{}{
				"operational": desiredState,
			}
		})
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return nil, false, err
		}

		s.bus.Publish(*delta)
		updatedGate := updated.(*domain.Gate)
		if s.gates != nil {
			if cmdErr := s.gates.SendGateCommand(ctx, updatedGate, desiredState); cmdErr != nil {
				// Trạng thái logic đã commit; lệnh xuống phần cứng chỉ log lỗi.
				log.Printf("OccupancyService: Lỗi gửi lệnh xuống gate %d: %v", gateID, cmdErr)
			}
		}
		log.Printf("OccupancyService: Gate %d chuyển operational=%t (version %d)", gateID, desiredState, delta.Version)
		return updatedGate, true, nil
	}
	return nil, false, ErrContention
}

// OccupiedSpotOf trả về spotID mà user đang đỗ, nếu có.
func (s *OccupancyService) OccupiedSpotOf(userID string) (int, bool) {
	s.occMu.Lock()
	defer s.occMu.Unlock()
	spotID, ok := s.occupants[userID]
	return spotID, ok
}

// reserveOccupant giữ chỗ mapping user->spot trước khi commit. Trả về false
// nếu user đã giữ một spot khác.
func (s *OccupancyService) reserveOccupant(userID string, spotID int) bool {
	s.occMu.Lock()
	defer s.occMu.Unlock()
	if existing, ok := s.occupants[userID]; ok {
		return existing == spotID
	}
	s.occupants[userID] = spotID
	return true
}

// releaseOccupant gỡ mapping, chỉ khi nó vẫn trỏ đúng spot này.
func (s *OccupancyService) releaseOccupant(userID string, spotID int) {
	s.occMu.Lock()
	defer s.occMu.Unlock()
	if existing, ok := s.occupants[userID]; ok && existing == spotID {
		delete(s.occupants, userID)
	}
}

func checkSpotEligibility(spotType domain.SpotType, user domain.UserContext) error {
	switch spotType {
	case domain.SpotTypeHandicap:
		if !user.HasHandicapPermit {
			return ErrIneligibleSpotType
		}
	case domain.SpotTypeEV:
		if !user.HasEVCredential {
			return ErrIneligibleSpotType
		}
	}
	return nil
}
