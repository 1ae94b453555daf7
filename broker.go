package daq

import "sync"

// broker 把事件分发给任意数量的订阅者，发送永不阻塞生产者
// 订阅者的通道满了就丢弃这条事件并回调 onDrop
type broker[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	onDrop func()
}

func newBroker[T any](onDrop func()) *broker[T] {
	return &broker[T]{
		subs:   make(map[int]chan T),
		onDrop: onDrop,
	}
}

// subscribe 返回事件通道和取消函数，取消后通道被关闭
func (b *broker[T]) subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *broker[T]) publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// active 是否有订阅者，没有时生产者可以跳过构造事件
func (b *broker[T]) active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs) > 0
}
