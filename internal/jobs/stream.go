package jobs

import (
	"context"
	"errors"
	"io"
	"time"
)

// Stream は進捗チャネルの読み出しをプッシュ型の配信に変換します。
// keepalive の間イベントが無ければ Keepalive イベントを返し、
// 終端イベントを返した後は io.EOF を返します。
type Stream struct {
	sub       *subscription
	keepalive time.Duration
	done      bool
}

// Next は次のイベントを返します。
func (s *Stream) Next(ctx context.Context) (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}

	ev, err := s.sub.next(ctx, s.keepalive)
	switch {
	case err == nil:
		if ev.Terminal() {
			s.done = true
		}
		return ev, nil
	case errors.Is(err, errWaitTimeout):
		return Event{Kind: EventKeepalive}, nil
	case errors.Is(err, ErrStreamClosed):
		s.done = true
		return Event{}, io.EOF
	default:
		return Event{}, err
	}
}

// Close は購読を解除します。配信途中で切断された場合に呼びます。
func (s *Stream) Close() {
	s.done = true
	s.sub.close()
}
