package service

import (
	"context"
	"testing"
	"time"

	"facility_sync/internal/bus"
	"facility_sync/internal/domain"
	"facility_sync/internal/registry"
	"facility_sync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSync(t *testing.T, resources ...domain.Resource) (*SyncService, *bus.ChangeBus) {
	t.Helper()
	repo := &fakeResourceRepository{seed: resources}
	st := store.NewResourceStore(repo, time.Second)
	require.NoError(t, st.Load(context.Background()))
	changeBus := bus.NewChangeBus(16)
	reg := registry.NewConnectionRegistry(changeBus, 30*time.Second)
	occupancy := NewOccupancyService(st, changeBus, nil, DefaultCommitRetries)
	return NewSyncService(st, occupancy, changeBus, reg), changeBus
}

func drainDeltas(sub *bus.Subscription) []domain.Delta {
	var out []domain.Delta
	for {
		select {
		case d, ok := <-sub.Deltas():
			if !ok {
				return out
			}
			out = append(out, d)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func TestSyncService_Snapshot(t *testing.T) {
	svc, _ := newTestSync(t,
		testSpot(1, "A-101", domain.SpotTypeRegular),
		testGate(10, "entry_gate_north", true),
	)

	spots, versions, err := svc.Snapshot(domain.ResourceTypeSpot)
	require.NoError(t, err)
	assert.Len(t, spots, 1)
	assert.Equal(t, int64(1), versions[domain.SpotKey(1)])

	_, _, err = svc.Snapshot(domain.ResourceType("elevator"))
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestSyncService_SubmitCommand_Routing(t *testing.T) {
	svc, _ := newTestSync(t,
		testSpot(1, "A-101", domain.SpotTypeRegular),
		testGate(10, "entry_gate_north", true),
	)
	ctx := context.Background()
	user := regularUser("u1")

	res, err := svc.SubmitCommand(ctx, user, domain.CommandDTO{Op: domain.CommandPark, ResourceID: 1})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Resource.(*domain.ParkingSpot).Occupied)

	res, err = svc.SubmitCommand(ctx, user, domain.CommandDTO{Op: domain.CommandLeave, ResourceID: 1})
	require.NoError(t, err)
	assert.False(t, res.Resource.(*domain.ParkingSpot).Occupied)

	res, err = svc.SubmitCommand(ctx, user, domain.CommandDTO{
		Op:           domain.CommandToggleGate,
		ResourceID:   10,
		DesiredState: boolPtr(false),
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Resource.(*domain.Gate).Operational)

	// Toggle lặp lại: kết quả trả về nhưng Changed=false.
	res, err = svc.SubmitCommand(ctx, user, domain.CommandDTO{
		Op:           domain.CommandToggleGate,
		ResourceID:   10,
		DesiredState: boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestSyncService_SubmitCommand_Invalid(t *testing.T) {
	svc, _ := newTestSync(t,
		testSpot(1, "A-101", domain.SpotTypeRegular),
		testGate(10, "entry_gate_north", true),
	)
	ctx := context.Background()

	// park/leave thiếu user.
	_, err := svc.SubmitCommand(ctx, domain.UserContext{}, domain.CommandDTO{Op: domain.CommandPark, ResourceID: 1})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = svc.SubmitCommand(ctx, domain.UserContext{}, domain.CommandDTO{Op: domain.CommandLeave, ResourceID: 1})
	assert.ErrorIs(t, err, ErrInvalidCommand)

	// toggle_gate thiếu desired_state.
	_, err = svc.SubmitCommand(ctx, regularUser("u1"), domain.CommandDTO{Op: domain.CommandToggleGate, ResourceID: 10})
	assert.ErrorIs(t, err, ErrInvalidCommand)

	// op lạ.
	_, err = svc.SubmitCommand(ctx, regularUser("u1"), domain.CommandDTO{Op: "teleport", ResourceID: 1})
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestSyncService_Attach_ValidatesTopics(t *testing.T) {
	svc, _ := newTestSync(t)

	_, err := svc.Attach("conn-1", nil)
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = svc.Attach("conn-1", []domain.ResourceType{"elevator"})
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestSyncService_Attach_SnapshotThenDeltas(t *testing.T) {
	occupied := testSpot(1, "A-101", domain.SpotTypeRegular)
	occupied.Occupied = true
	occupied.OccupantID.SetValid("u1")
	occupied.Version = 7

	svc, _ := newTestSync(t, occupied, testSpot(2, "A-102", domain.SpotTypeRegular))

	attach, err := svc.Attach("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})
	require.NoError(t, err)
	assert.Len(t, attach.Resources, 2)
	assert.Equal(t, int64(7), attach.Versions[domain.SpotKey(1)])

	// Client attach khi S1 ở version 7; một lệnh leave commit ngay sau đó.
	_, err = svc.SubmitCommand(context.Background(), regularUser("u1"), domain.CommandDTO{Op: domain.CommandLeave, ResourceID: 1})
	require.NoError(t, err)

	// Client phải nhận đúng một delta version 8 — không hụt, không trùng.
	deltas := drainDeltas(attach.Subscription)
	require.Len(t, deltas, 1)
	assert.Equal(t, 1, deltas[0].ResourceID)
	assert.Equal(t, int64(8), deltas[0].Version)
	assert.Equal(t, false, deltas[0].Fields["occupied"])
}

func TestSyncService_Attach_WatermarkBlocksSnapshotOverlap(t *testing.T) {
	svc, changeBus := newTestSync(t, testSpot(1, "A-101", domain.SpotTypeRegular))

	attach, err := svc.Attach("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})
	require.NoError(t, err)

	// Delta có version đã nằm trong snapshot không bao giờ đến client.
	changeBus.Publish(domain.Delta{
		EventID:      "evt-stale",
		ResourceType: domain.ResourceTypeSpot,
		ResourceID:   1,
		Version:      attach.Versions[domain.SpotKey(1)],
		Fields:       map[string]interface{}{"occupied": true},
		Timestamp:    time.Now().UTC(),
	})
	assert.Empty(t, drainDeltas(attach.Subscription))
}

func TestSyncService_ToggleNoOpEmitsNoDelta(t *testing.T) {
	svc, _ := newTestSync(t, testGate(10, "entry_gate_north", true))

	attach, err := svc.Attach("conn-1", []domain.ResourceType{domain.ResourceTypeGate})
	require.NoError(t, err)

	// Gate đã operational=true, yêu cầu true là no-op.
	res, err := svc.SubmitCommand(context.Background(), regularUser("u1"), domain.CommandDTO{
		Op:           domain.CommandToggleGate,
		ResourceID:   10,
		DesiredState: boolPtr(true),
	})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, drainDeltas(attach.Subscription))
}

func TestSyncService_DetachUnsubscribes(t *testing.T) {
	svc, changeBus := newTestSync(t, testSpot(1, "A-101", domain.SpotTypeRegular))

	attach, err := svc.Attach("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})
	require.NoError(t, err)
	require.True(t, svc.Heartbeat("conn-1"))

	svc.Detach("conn-1")
	assert.False(t, svc.Heartbeat("conn-1"))
	assert.Equal(t, 0, changeBus.SubscriberCount())

	_, open := <-attach.Subscription.Deltas()
	assert.False(t, open)
}
