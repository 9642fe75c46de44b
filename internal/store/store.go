package store

import (
	"context"
	"errors"
	"facility_sync/internal/domain"
	"facility_sync/internal/repository"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrVersionConflict = errors.New("version không khớp, resource đã bị thay đổi")
var ErrStoreUnavailable = errors.New("kho lưu trữ bền vững không khả dụng")

// Mutator nhận một bản sao của resource hiện tại, thay đổi các trường mutable
// và trả về resource mới cùng map các trường đã thay đổi (dùng để build Delta).
type Mutator func(res domain.Resource) (domain.Resource, map[string]interface{})

type entry struct {
	mu  sync.Mutex
	res domain.Resource
}

// ResourceStore là nơi duy nhất giữ và mutate trạng thái resource trong memory.
// Commit dùng optimistic concurrency theo từng resource (không có global lock):
// đọc version hiện tại, nếu không khớp expectedVersion thì trả ErrVersionConflict
// thay vì ghi đè — đây là cơ chế chặn hai lệnh "park vào chỗ 101" cùng thành công.
// Store không bao giờ gọi Change Bus; fan-out là việc của Coordinator.
type ResourceStore struct {
	mu      sync.RWMutex
	entries map[domain.ResourceKey]*entry

	repo        repository.ResourceRepository
	saveTimeout time.Duration
}

func NewResourceStore(repo repository.ResourceRepository, saveTimeout time.Duration) *ResourceStore {
	if saveTimeout <= 0 {
		saveTimeout = 5 * time.Second
	}
	return &ResourceStore{
		entries:     make(map[domain.ResourceKey]*entry),
		repo:        repo,
		saveTimeout: saveTimeout,
	}
}

// Load nạp toàn bộ spots và gates từ repository vào memory. Gọi một lần lúc khởi động.
func (s *ResourceStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, rt := range []domain.ResourceType{domain.ResourceTypeSpot, domain.ResourceTypeGate} {
		resources, err := s.repo.Load(ctx, rt)
		if err != nil {
			return fmt.Errorf("lỗi nạp %s từ repository: %w", rt, err)
		}
		for _, res := range resources {
			s.entries[res.Key()] = &entry{res: res}
		}
		total += len(resources)
	}
	log.Printf("ResourceStore: Đã nạp %d resource từ repository", total)
	return nil
}

// Get trả về bản sao của resource; caller không bao giờ thấy state nội bộ.
func (s *ResourceStore) Get(key domain.ResourceKey) (domain.Resource, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.res.Clone(), nil
}

// Snapshot trả về bản sao của mọi resource thuộc một loại cùng watermark
// version cho từng resource. Mỗi resource nhất quán tại thời điểm đọc; không
// có yêu cầu thứ tự chéo giữa các resource.
func (s *ResourceStore) Snapshot(resourceType domain.ResourceType) ([]domain.Resource, map[domain.ResourceKey]int64) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for key, e := range s.entries {
		if key.Type == resourceType {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	resources := make([]domain.Resource, 0, len(entries))
	versions := make(map[domain.ResourceKey]int64, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		res := e.res.Clone()
		e.mu.Unlock()
		resources = append(resources, res)
		versions[res.Key()] = res.ResourceVersion()
	}
	return resources, versions
}

// Commit là con đường mutate duy nhất. Atomic theo từng resource id:
//   - expectedVersion không khớp -> ErrVersionConflict (không ghi đè).
//   - Ghi repository thất bại -> ErrStoreUnavailable, memory giữ nguyên
//     (all-or-nothing: hoặc cả memory lẫn repository thành công, hoặc không gì cả).
//   - Thành công -> version tăng đúng 1, trả về resource mới và Delta.
func (s *ResourceStore) Commit(ctx context.Context, key domain.ResourceKey, expectedVersion int64, mutate Mutator) (domain.Resource, *domain.Delta, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, repository.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.res
	if current.ResourceVersion() != expectedVersion {
		return nil, nil, ErrVersionConflict
	}

	now := time.Now().UTC()
	next, changed := mutate(current.Clone())
	next.SetVersion(expectedVersion + 1)
	next.Touch(now)

	saveCtx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()
	if err := s.repo.Save(saveCtx, next); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.res = next

	delta := &domain.Delta{
		EventID:      uuid.NewString(),
		ResourceType: key.Type,
		ResourceID:   key.ID,
		Version:      next.ResourceVersion(),
		Fields:       changed,
		Timestamp:    now,
	}
	return next.Clone(), delta, nil
}
