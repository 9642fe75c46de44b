package bus

import (
	"testing"
	"time"

	"facility_sync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spotDelta(id int, version int64) domain.Delta {
	return domain.Delta{
		EventID:      "evt",
		ResourceType: domain.ResourceTypeSpot,
		ResourceID:   id,
		Version:      version,
		Fields:       map[string]interface{}{"occupied": true},
		Timestamp:    time.Now().UTC(),
	}
}

func drain(sub *Subscription) []domain.Delta {
	var out []domain.Delta
	for {
		select {
		case d, ok := <-sub.Deltas():
			if !ok {
				return out
			}
			out = append(out, d)
		default:
			return out
		}
	}
}

func TestChangeBus_PublishFiltersByTopic(t *testing.T) {
	b := NewChangeBus(16)
	spotSub := b.Subscribe("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})
	gateSub := b.Subscribe("conn-2", []domain.ResourceType{domain.ResourceTypeGate})

	b.Publish(spotDelta(1, 2))

	assert.Len(t, drain(spotSub), 1)
	assert.Empty(t, drain(gateSub))
}

func TestChangeBus_DeliveryIsMonotonicPerResource(t *testing.T) {
	b := NewChangeBus(16)
	sub := b.Subscribe("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})

	b.Publish(spotDelta(1, 2))
	b.Publish(spotDelta(1, 3))
	// Version cũ đến muộn (publish đua nhau) không bao giờ được giao.
	b.Publish(spotDelta(1, 2))

	deltas := drain(sub)
	require.Len(t, deltas, 2)
	assert.Equal(t, int64(2), deltas[0].Version)
	assert.Equal(t, int64(3), deltas[1].Version)
}

func TestChangeBus_WatermarkSuppressesSnapshotDeltas(t *testing.T) {
	b := NewChangeBus(16)
	sub := b.Subscribe("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})

	// Client đã có snapshot với S1 ở version 5.
	b.SetWatermarks("conn-1", map[domain.ResourceKey]int64{domain.SpotKey(1): 5})

	b.Publish(spotDelta(1, 5)) // đã nằm trong snapshot -> bị chặn
	b.Publish(spotDelta(1, 6)) // delta mới -> được giao

	deltas := drain(sub)
	require.Len(t, deltas, 1)
	assert.Equal(t, int64(6), deltas[0].Version)
}

func TestChangeBus_WatermarkNeverLowers(t *testing.T) {
	b := NewChangeBus(16)
	sub := b.Subscribe("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})

	b.SetWatermarks("conn-1", map[domain.ResourceKey]int64{domain.SpotKey(1): 5})
	b.SetWatermarks("conn-1", map[domain.ResourceKey]int64{domain.SpotKey(1): 3})

	b.Publish(spotDelta(1, 4))
	assert.Empty(t, drain(sub))
}

func TestChangeBus_OverflowMarksLaggingAndClosesStream(t *testing.T) {
	b := NewChangeBus(2)
	sub := b.Subscribe("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})

	b.Publish(spotDelta(1, 2))
	b.Publish(spotDelta(1, 3))
	// Queue (cap 2) đầy — delta thứ ba làm subscriber lagging.
	b.Publish(spotDelta(1, 4))

	assert.True(t, sub.IsLagging())

	// Hai delta đã enqueue vẫn đọc được, sau đó channel đóng.
	deltas := drain(sub)
	assert.Len(t, deltas, 2)
	_, open := <-sub.Deltas()
	assert.False(t, open)

	// Subscriber lagging không nhận thêm gì nữa.
	b.Publish(spotDelta(1, 5))
	assert.Empty(t, drain(sub))
}

func TestChangeBus_ResubscribeAfterLaggingGetsFreshQueue(t *testing.T) {
	b := NewChangeBus(1)
	old := b.Subscribe("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})

	b.Publish(spotDelta(1, 2))
	b.Publish(spotDelta(1, 3))
	require.True(t, old.IsLagging())

	// Client re-subscribe (sau khi re-snapshot ở version 3).
	fresh := b.Subscribe("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})
	b.SetWatermarks("conn-1", map[domain.ResourceKey]int64{domain.SpotKey(1): 3})

	b.Publish(spotDelta(1, 4))
	deltas := drain(fresh)
	require.Len(t, deltas, 1)
	assert.Equal(t, int64(4), deltas[0].Version)
	assert.False(t, fresh.IsLagging())
}

func TestChangeBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewChangeBus(16)
	sub := b.Subscribe("conn-1", []domain.ResourceType{domain.ResourceTypeSpot})

	b.Unsubscribe("conn-1")
	b.Unsubscribe("conn-1") // lần hai là no-op

	_, open := <-sub.Deltas()
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	// Publish sau unsubscribe không panic.
	b.Publish(spotDelta(1, 2))
}
