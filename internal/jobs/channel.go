package jobs

import (
	"context"
	"sync"
	"time"
)

// progressChannel は1つの生産者（ワーカー）から複数の購読者へイベントを配る無制限キューです。
// 購読者は購読開始以降に発行されたイベントだけを受け取ります。
// 全購読者が読み終えたイベントは破棄されます。
type progressChannel struct {
	mu     sync.Mutex
	events []Event // seq が [base, next) のイベント
	base   int
	next   int
	subs   map[*subscription]struct{}
	wake   chan struct{}
	closed bool
}

func newProgressChannel() *progressChannel {
	return &progressChannel{
		subs: make(map[*subscription]struct{}),
		wake: make(chan struct{}),
	}
}

// publish はイベントを追加し、待機中の購読者を起こします。
// 終端イベント発行後は何もせず false を返します。
func (c *progressChannel) publish(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if ev.Terminal() {
		c.closed = true
	}

	c.next++
	if len(c.subs) == 0 {
		c.events = nil
		c.base = c.next
	} else {
		c.events = append(c.events, ev)
	}

	close(c.wake)
	c.wake = make(chan struct{})
	return true
}

// subscribe は現在の末尾から読み始める購読を作ります。
// 終端イベント配信済みのチャネルでは即座に終了済みの購読を返します。
func (c *progressChannel) subscribe() *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &subscription{ch: c, cursor: c.next}
	if c.closed {
		s.done = true
		return s
	}
	c.subs[s] = struct{}{}
	return s
}

// isClosed は終端イベントが発行済みかを返します。
func (c *progressChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// buffered はまだ誰かが読む必要のあるイベント数を返します。
func (c *progressChannel) buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// read は次のイベントを取り出します。イベントが無ければ待機用のチャネルを返します。
// c.mu を保持していない状態で呼びます。
func (c *progressChannel) read(s *subscription) (ev Event, ok bool, wait <-chan struct{}, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.done {
		return Event{}, false, nil, true
	}
	if s.cursor < c.next {
		ev = c.events[s.cursor-c.base]
		s.cursor++
		if ev.Terminal() {
			c.detachLocked(s)
		}
		c.trimLocked()
		return ev, true, nil, false
	}
	if c.closed {
		c.detachLocked(s)
		c.trimLocked()
		return Event{}, false, nil, true
	}
	return Event{}, false, c.wake, false
}

func (c *progressChannel) unsubscribe(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked(s)
	c.trimLocked()
}

func (c *progressChannel) detachLocked(s *subscription) {
	s.done = true
	delete(c.subs, s)
}

func (c *progressChannel) trimLocked() {
	low := c.next
	for s := range c.subs {
		if s.cursor < low {
			low = s.cursor
		}
	}
	if low <= c.base {
		return
	}
	drop := low - c.base
	if drop >= len(c.events) {
		c.events = nil
	} else {
		c.events = c.events[drop:]
	}
	c.base = low
}

// subscription は1購読者分の読み出し位置です。
type subscription struct {
	ch     *progressChannel
	cursor int
	done   bool // ch.mu で保護
}

// next は次のイベントを最大 timeout 待ちます。timeout が0以下なら無期限に待ちます。
// タイムアウト時は errWaitTimeout、終端後は ErrStreamClosed を返します。
func (s *subscription) next(ctx context.Context, timeout time.Duration) (Event, error) {
	var (
		timer   *time.Timer
		expired <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		ev, ok, wait, done := s.ch.read(s)
		if ok {
			return ev, nil
		}
		if done {
			return Event{}, ErrStreamClosed
		}
		if timer == nil && timeout > 0 {
			timer = time.NewTimer(timeout)
			expired = timer.C
		}

		select {
		case <-wait:
		case <-expired:
			return Event{}, errWaitTimeout
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (s *subscription) close() {
	s.ch.unsubscribe(s)
}
