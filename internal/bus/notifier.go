package bus

import (
	"log/slog"
	"time"

	"github.com/yourusername/media-forge/internal/jobs"
)

// イベント種別
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Publisher は JSON メッセージを送信します。*Client が実装します。
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// JobEvent は終了したジョブについて配信するメッセージです。
type JobEvent struct {
	Type       string        `json:"type"`
	JobID      string        `json:"jobId"`
	Kind       jobs.Kind     `json:"kind"`
	State      jobs.State    `json:"state"`
	Error      string        `json:"error,omitempty"`
	Summary    *jobs.Summary `json:"summary,omitempty"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Notifier は jobs.Notifier を実装し、`<subject>.<kind>` にイベントを送信します。
type Notifier struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

// NewNotifier は Notifier を作成します。
func NewNotifier(pub Publisher, subject string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, subject: subject, logger: logger}
}

// JobFinished はジョブの終了を配信します。送信に失敗してもジョブには影響させず、ログに残すだけです。
func (n *Notifier) JobFinished(snap jobs.Snapshot) {
	subject := n.subject + "." + string(snap.Kind)
	if err := n.pub.PublishJSON(subject, NewJobEvent(snap)); err != nil {
		n.logger.Warn("failed to publish job event",
			slog.String("job_id", snap.ID),
			slog.String("subject", subject),
			slog.Any("error", err),
		)
	}
}

// NewJobEvent はスナップショットから配信メッセージを作ります。
func NewJobEvent(snap jobs.Snapshot) JobEvent {
	ev := JobEvent{
		Type:    EventJobCompleted,
		JobID:   snap.ID,
		Kind:    snap.Kind,
		State:   snap.State,
		Summary: snap.Summary,
	}
	if snap.State == jobs.StateFailed {
		ev.Type = EventJobFailed
		ev.Error = snap.Error
	}
	if snap.FinishedAt != nil {
		ev.FinishedAt = *snap.FinishedAt
	}
	return ev
}
