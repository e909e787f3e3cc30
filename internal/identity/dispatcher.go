package identity

import (
	"log/slog"
	"slices"
	"sync"
)

// Subscription はイベント購読のハンドル。
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe は購読を解除する。複数回呼んでも安全。
// 解除後に配送が始まったイベントはリスナーに届かない。
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Dispatcher はイベントを発行順に1件ずつリスナーへ配送する。
// Emitはブロックせず、配送は専用goroutineで行う。
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	queue     []Event
	closed    bool

	wake chan struct{}
	done chan struct{}
}

// NewDispatcher はDispatcherを生成し、配送goroutineを開始する。
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:    logger,
		listeners: make(map[uint64]Listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go d.loop()
	return d
}

// Subscribe はリスナーを登録する。
func (d *Dispatcher) Subscribe(l Listener) *Subscription {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	d.mu.Unlock()

	return &Subscription{cancel: func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}}
}

// Emit はイベントを配送キューに追加する。Close後のイベントは破棄する。
func (d *Dispatcher) Emit(e Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close は配送を停止する。キューに残ったイベントは配送してから終了する。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for range d.wake {
		for {
			e, ok, closed := d.next()
			if !ok {
				if closed {
					return
				}
				break
			}
			d.deliver(e)
		}
	}
}

// next はキューの先頭を取り出す。
func (d *Dispatcher) next() (Event, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Event{}, false, d.closed
	}
	e := d.queue[0]
	d.queue = d.queue[1:]
	return e, true, d.closed
}

func (d *Dispatcher) deliver(e Event) {
	d.mu.Lock()
	ids := make([]uint64, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	// 登録順に配送する
	slices.Sort(ids)
	for _, id := range ids {
		d.mu.Lock()
		l, ok := d.listeners[id]
		d.mu.Unlock()
		if !ok {
			continue
		}
		d.safeCall(l, e)
	}
}

func (d *Dispatcher) safeCall(l Listener, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("auth event listener panicked",
				slog.String("event", string(e.Type)),
				slog.Any("panic", rec),
			)
		}
	}()
	l(e)
}
