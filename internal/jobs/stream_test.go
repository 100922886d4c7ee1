package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func collect(stream *Stream) ([]Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []Event
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func drain(t *testing.T, stream *Stream) []Event {
	t.Helper()
	events, err := collect(stream)
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	return events
}

func TestStreamDeliversProgressThenDone(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	id, err := reg.Create(KindDocument, textInput("three pages"))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	stream, err := reg.OpenStream(id, time.Second)
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}
	if err := reg.Dispatch(id, pagedConverter(3)); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	events := drain(t, stream)
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	for i := 0; i < 3; i++ {
		ev := events[i]
		if ev.Kind != EventProgress || ev.Current != i || ev.Total != 3 {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
	done := events[3]
	if done.Kind != EventDone || done.Summary == nil || done.Summary.OutputSize != 9 {
		t.Fatalf("terminal event = %+v", done)
	}
}

func TestEveryObserverSeesTheSameSequence(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	id, err := reg.Create(KindDocument, textInput("x"))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	const observers = 4
	streams := make([]*Stream, observers)
	for i := range streams {
		s, err := reg.OpenStream(id, time.Second)
		if err != nil {
			t.Fatalf("OpenStream returned error: %v", err)
		}
		streams[i] = s
	}
	if err := reg.Dispatch(id, pagedConverter(25)); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	results := make([][]Event, observers)
	errs := make([]error, observers)
	var wg sync.WaitGroup
	for i, s := range streams {
		wg.Add(1)
		go func(i int, s *Stream) {
			defer wg.Done()
			results[i], errs[i] = collect(s)
		}(i, s)
	}
	wg.Wait()

	for i, events := range results {
		if errs[i] != nil {
			t.Fatalf("observer %d: %v", i, errs[i])
		}
		if len(events) != 26 {
			t.Fatalf("observer %d got %d events", i, len(events))
		}
		terminals := 0
		for j, ev := range events {
			if ev.Terminal() {
				terminals++
				if j != len(events)-1 {
					t.Fatalf("observer %d: terminal event at %d is not last", i, j)
				}
				continue
			}
			if ev.Current != j {
				t.Fatalf("observer %d: event %d has current %d", i, j, ev.Current)
			}
		}
		if terminals != 1 {
			t.Fatalf("observer %d saw %d terminal events", i, terminals)
		}
	}
}

func TestLateObserverGetsNoEvents(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	id, err := reg.Submit(KindDocument, textInput("x"), pagedConverter(3))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	waitForTerminal(t, reg, id)

	stream, err := reg.OpenStream(id, time.Second)
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}
	if events := drain(t, stream); len(events) != 0 {
		t.Fatalf("late observer received %+v", events)
	}
	if _, err := reg.FetchResult(id); err != nil {
		t.Fatalf("FetchResult returned error: %v", err)
	}
}

func TestMidRunObserverSeesFailure(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	gate := make(chan struct{})
	reported := make(chan struct{})
	conv := ConverterFunc(func(ctx context.Context, in *Input, report ProgressFunc) (*Output, error) {
		report(0, 2, "first")
		close(reported)
		<-gate
		report(1, 2, "second")
		return nil, errors.New("disk full")
	})

	id, err := reg.Submit(KindVideo, textInput("x"), conv)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	<-reported

	stream, err := reg.OpenStream(id, time.Second)
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}
	close(gate)

	events := drain(t, stream)
	if len(events) != 2 {
		t.Fatalf("got %+v, want second progress and failure", events)
	}
	if events[0].Kind != EventProgress || events[0].Message != "second" {
		t.Fatalf("first observed event = %+v", events[0])
	}
	if events[1].Kind != EventFailed || events[1].Message != "disk full" {
		t.Fatalf("terminal event = %+v", events[1])
	}
}

func TestStreamEmitsKeepaliveWhileIdle(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	gate := make(chan struct{})
	id, err := reg.Submit(KindVideo, textInput("x"), gatedConverter(gate, pagedConverter(0)))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	stream, err := reg.OpenStream(id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ev, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		if ev.Kind != EventKeepalive {
			t.Fatalf("event = %+v, want keepalive", ev)
		}
	}

	close(gate)
	events := drain(t, stream)
	last := events[len(events)-1]
	if last.Kind != EventDone {
		t.Fatalf("last event = %+v, want done", last)
	}
}

func TestStreamHonoursContext(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	gate := make(chan struct{})
	defer close(gate)
	id, err := reg.Submit(KindVideo, textInput("x"), gatedConverter(gate, pagedConverter(0)))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	stream, err := reg.OpenStream(id, 0)
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := stream.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next error = %v, want deadline exceeded", err)
	}
}

func TestOpenStreamUnknownJob(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	if _, err := reg.OpenStream("nope", time.Second); !errors.Is(err, ErrNotFound) {
		t.Fatalf("OpenStream error = %v, want ErrNotFound", err)
	}
}
