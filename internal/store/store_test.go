package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"facility_sync/internal/domain"
	"facility_sync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResourceRepository là repo in-memory cho test, có thể ép lỗi Save.
type fakeResourceRepository struct {
	mu        sync.Mutex
	seed      []domain.Resource
	saved     []domain.Resource
	saveError error
}

func (f *fakeResourceRepository) Load(ctx context.Context, resourceType domain.ResourceType) ([]domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Resource
	for _, res := range f.seed {
		if res.Key().Type == resourceType {
			out = append(out, res.Clone())
		}
	}
	return out, nil
}

func (f *fakeResourceRepository) Save(ctx context.Context, res domain.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveError != nil {
		return f.saveError
	}
	f.saved = append(f.saved, res.Clone())
	return nil
}

func newTestSpot(id int, number string) *domain.ParkingSpot {
	now := time.Now().UTC()
	return &domain.ParkingSpot{
		ID:         id,
		SpotNumber: number,
		Floor:      1,
		Type:       domain.SpotTypeRegular,
		Active:     true,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newTestGate(id int, name string) *domain.Gate {
	now := time.Now().UTC()
	return &domain.Gate{
		ID:          id,
		Name:        name,
		Operational: true,
		Active:      true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newLoadedStore(t *testing.T, repo *fakeResourceRepository) *ResourceStore {
	t.Helper()
	st := NewResourceStore(repo, time.Second)
	require.NoError(t, st.Load(context.Background()))
	return st
}

func TestResourceStore_Get_NotFound(t *testing.T) {
	st := newLoadedStore(t, &fakeResourceRepository{})

	_, err := st.Get(domain.SpotKey(99))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResourceStore_Get_ReturnsClone(t *testing.T) {
	repo := &fakeResourceRepository{seed: []domain.Resource{newTestSpot(1, "A-101")}}
	st := newLoadedStore(t, repo)

	res, err := st.Get(domain.SpotKey(1))
	require.NoError(t, err)

	// Sửa bản sao không được ảnh hưởng state trong store.
	res.(*domain.ParkingSpot).Occupied = true

	again, err := st.Get(domain.SpotKey(1))
	require.NoError(t, err)
	assert.False(t, again.(*domain.ParkingSpot).Occupied)
}

func TestResourceStore_Commit_IncrementsVersionAndEmitsDelta(t *testing.T) {
	repo := &fakeResourceRepository{seed: []domain.Resource{newTestSpot(1, "A-101")}}
	st := newLoadedStore(t, repo)

	updated, delta, err := st.Commit(context.Background(), domain.SpotKey(1), 1, func(r domain.Resource) (domain.Resource, map[string]interface{}) {
		sp := r.(*domain.ParkingSpot)
		sp.Occupied = true
		return sp, map[string]interface{}{"occupied": true}
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.ResourceVersion())
	require.NotNil(t, delta)
	assert.Equal(t, domain.ResourceTypeSpot, delta.ResourceType)
	assert.Equal(t, 1, delta.ResourceID)
	assert.Equal(t, int64(2), delta.Version)
	assert.Equal(t, true, delta.Fields["occupied"])
	assert.NotEmpty(t, delta.EventID)

	// Repository đã nhận đúng state mới.
	require.Len(t, repo.saved, 1)
	assert.Equal(t, int64(2), repo.saved[0].ResourceVersion())
}

func TestResourceStore_Commit_VersionConflict(t *testing.T) {
	repo := &fakeResourceRepository{seed: []domain.Resource{newTestSpot(1, "A-101")}}
	st := newLoadedStore(t, repo)

	_, _, err := st.Commit(context.Background(), domain.SpotKey(1), 7, func(r domain.Resource) (domain.Resource, map[string]interface{}) {
		return r, nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Empty(t, repo.saved)
}

func TestResourceStore_Commit_RepoFailureLeavesMemoryUntouched(t *testing.T) {
	repo := &fakeResourceRepository{
		seed:      []domain.Resource{newTestSpot(1, "A-101")},
		saveError: errors.New("db down"),
	}
	st := newLoadedStore(t, repo)

	_, _, err := st.Commit(context.Background(), domain.SpotKey(1), 1, func(r domain.Resource) (domain.Resource, map[string]interface{}) {
		sp := r.(*domain.ParkingSpot)
		sp.Occupied = true
		return sp, map[string]interface{}{"occupied": true}
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	// All-or-nothing: memory vẫn ở version 1, chưa occupied.
	res, getErr := st.Get(domain.SpotKey(1))
	require.NoError(t, getErr)
	assert.Equal(t, int64(1), res.ResourceVersion())
	assert.False(t, res.(*domain.ParkingSpot).Occupied)
}

func TestResourceStore_Commit_ConcurrentSameResource_OnlyOneWins(t *testing.T) {
	repo := &fakeResourceRepository{seed: []domain.Resource{newTestSpot(1, "A-101")}}
	st := newLoadedStore(t, repo)

	const workers = 8
	var wg sync.WaitGroup
	var successes, conflicts int64
	var countMu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := st.Commit(context.Background(), domain.SpotKey(1), 1, func(r domain.Resource) (domain.Resource, map[string]interface{}) {
				sp := r.(*domain.ParkingSpot)
				sp.Occupied = true
				return sp, map[string]interface{}{"occupied": true}
			})
			countMu.Lock()
			defer countMu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, ErrVersionConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	// Tất cả cùng expectedVersion=1: đúng một commit thắng.
	assert.Equal(t, int64(1), successes)
	assert.Equal(t, int64(workers-1), conflicts)

	res, err := st.Get(domain.SpotKey(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.ResourceVersion())
}

func TestResourceStore_Snapshot_FiltersByTypeAndReportsVersions(t *testing.T) {
	repo := &fakeResourceRepository{seed: []domain.Resource{
		newTestSpot(1, "A-101"),
		newTestSpot(2, "A-102"),
		newTestGate(10, "entry_gate_north"),
	}}
	st := newLoadedStore(t, repo)

	spots, versions := st.Snapshot(domain.ResourceTypeSpot)
	assert.Len(t, spots, 2)
	assert.Len(t, versions, 2)
	assert.Equal(t, int64(1), versions[domain.SpotKey(1)])

	gates, gateVersions := st.Snapshot(domain.ResourceTypeGate)
	assert.Len(t, gates, 1)
	assert.Equal(t, int64(1), gateVersions[domain.GateKey(10)])
}
