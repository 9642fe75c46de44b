package bus

import (
	"facility_sync/internal/domain"
	"log"
	"sync"
)

const DefaultQueueCapacity = 256

// Subscription là queue giao delta cho một connection. Channel bị đóng khi
// subscriber bị đánh dấu Lagging (queue tràn) hoặc khi unsubscribe; người đọc
// phân biệt hai trường hợp qua IsLagging().
type Subscription struct {
	ID string

	mu        sync.Mutex
	ch        chan domain.Delta
	topics    map[domain.ResourceType]bool
	delivered map[domain.ResourceKey]int64 // watermark: version cuối đã giao cho từng resource
	lagging   bool
	closed    bool
}

// Deltas trả về stream delta của subscriber. Channel đóng nghĩa là subscription
// đã kết thúc (lagging hoặc unsubscribe).
func (s *Subscription) Deltas() <-chan domain.Delta {
	return s.ch
}

func (s *Subscription) IsLagging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagging
}

func (s *Subscription) matches(rt domain.ResourceType) bool {
	return s.topics[rt]
}

// closeLocked đóng channel đúng một lần. Caller phải đang giữ s.mu.
func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// ChangeBus fan-out các Delta đã commit tới mọi subscriber quan tâm,
// theo thứ tự version không giảm cho từng resource, at-least-once.
// Publish không bao giờ block chờ consumer chậm: enqueue bounded, tràn thì
// đánh dấu Lagging và cắt khỏi live delivery — client phải re-snapshot.
type ChangeBus struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	capacity int
}

func NewChangeBus(queueCapacity int) *ChangeBus {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &ChangeBus{
		subs:     make(map[string]*Subscription),
		capacity: queueCapacity,
	}
}

// Subscribe đăng ký một connection với các topic quan tâm. Idempotent:
// gọi lại cho cùng connectionID sẽ thay subscription cũ bằng queue mới
// (đây cũng là đường resync sau khi bị Lagging).
func (b *ChangeBus) Subscribe(connectionID string, topics []domain.ResourceType) *Subscription {
	topicSet := make(map[domain.ResourceType]bool, len(topics))
	for _, t := range topics {
		topicSet[t] = true
	}

	sub := &Subscription{
		ID:        connectionID,
		ch:        make(chan domain.Delta, b.capacity),
		topics:    topicSet,
		delivered: make(map[domain.ResourceKey]int64),
	}

	b.mu.Lock()
	old, exists := b.subs[connectionID]
	b.subs[connectionID] = sub
	b.mu.Unlock()

	if exists {
		old.mu.Lock()
		old.closeLocked()
		old.mu.Unlock()
	}
	return sub
}

// Unsubscribe gỡ đăng ký. Idempotent: connection không tồn tại là no-op.
func (b *ChangeBus) Unsubscribe(connectionID string) {
	b.mu.Lock()
	sub, ok := b.subs[connectionID]
	delete(b.subs, connectionID)
	b.mu.Unlock()

	if ok {
		sub.mu.Lock()
		sub.closeLocked()
		sub.mu.Unlock()
	}
}

// SetWatermarks đặt version khởi điểm cho subscription — các version lấy từ
// snapshot mà client vừa nhận. Delta có version <= watermark đã nằm trong
// snapshot và sẽ không được giao lại (chống duplicate giữa snapshot và subscribe).
// Chỉ nâng lên, không bao giờ hạ watermark.
func (b *ChangeBus) SetWatermarks(connectionID string, versions map[domain.ResourceKey]int64) {
	b.mu.RLock()
	sub, ok := b.subs[connectionID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	for key, v := range versions {
		if v > sub.delivered[key] {
			sub.delivered[key] = v
		}
	}
}

// Publish giao delta cho mọi subscriber khớp topic. Không bao giờ block và
// không bao giờ trả lỗi cho publisher: queue tràn chỉ ảnh hưởng subscriber đó.
// Bất biến giao hàng: với một resource, subscriber không bao giờ nhận version
// thấp hơn hoặc bằng version đã giao (monotonic theo watermark).
func (b *ChangeBus) Publish(delta domain.Delta) {
	b.mu.RLock()
	matching := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(delta.ResourceType) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	key := delta.Key()
	for _, sub := range matching {
		sub.mu.Lock()
		if sub.lagging || sub.closed {
			sub.mu.Unlock()
			continue
		}
		if delta.Version <= sub.delivered[key] {
			// Đã phản ánh trong snapshot của subscriber hoặc đã giao rồi.
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.ch <- delta:
			sub.delivered[key] = delta.Version
		default:
			sub.lagging = true
			sub.closeLocked()
			log.Printf("ChangeBus: Queue của subscriber %s đã tràn, đánh dấu lagging. Client cần re-snapshot.", sub.ID)
		}
		sub.mu.Unlock()
	}
}

// SubscriberCount phục vụ logging/giám sát.
func (b *ChangeBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
