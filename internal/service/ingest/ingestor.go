package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhouzirui/z-recorder/backend/internal/logging"
	"github.com/zhouzirui/z-recorder/backend/internal/metrics"
	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
	"github.com/zhouzirui/z-recorder/backend/internal/service/merge"
	"github.com/zhouzirui/z-recorder/backend/internal/service/session"
)

// ControlRecordingComplete is the only control message type that changes session state.
const ControlRecordingComplete = "RECORDING_COMPLETE"

var (
	ErrMalformedControl = errors.New("malformed control message")
	ErrNotAccepting     = errors.New("session is no longer accepting fragments")
)

// Event kinds pushed back to the client.
const (
	EventSession    = "session"
	EventFinalizing = "finalizing"
	EventMerged     = "merged"
	EventFailed     = "failed"
)

// Event is an outbound notification about the session's progress.
type Event struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId"`
	Artifact  *recording.Artifact `json:"artifact,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// Notifier receives events. It may be called from a merge goroutine after the
// connection is gone, so implementations must tolerate a closed transport.
type Notifier func(Event)

// FragmentWriter persists one fragment.
type FragmentWriter interface {
	Append(sessionID string, sequence int, payload []byte) (recording.Fragment, error)
}

// Merger runs a session's merge in the background.
type Merger interface {
	Dispatch(sessionID string, done func(recording.Artifact, error))
}

// Ingestor drives one connection's session through its lifecycle. Frame callbacks
// come from the connection's read goroutine; finalization may race with a merge
// callback and is guarded by the session's state.
type Ingestor struct {
	sess   *session.Session
	store  FragmentWriter
	merger Merger
	notify Notifier
	logger *slog.Logger
}

// New binds an ingestor to an open session.
func New(sess *session.Session, store FragmentWriter, merger Merger, notify Notifier, logger *slog.Logger) *Ingestor {
	if notify == nil {
		notify = func(Event) {}
	}
	return &Ingestor{
		sess:   sess,
		store:  store,
		merger: merger,
		notify: notify,
		logger: logging.Component(logger, "ingest").With(slog.String("session_id", sess.ID)),
	}
}

// Session returns the bound session.
func (in *Ingestor) Session() *session.Session {
	return in.sess
}

// Announce tells the client which session it is feeding.
func (in *Ingestor) Announce() {
	in.notify(Event{Type: EventSession, SessionID: in.sess.ID})
}

// OnBinaryFrame stores data as the session's next fragment. A failed write is logged
// and returned but leaves the session open; the next frame reuses its sequence number.
func (in *Ingestor) OnBinaryFrame(data []byte) error {
	if !in.sess.Accepting() {
		metrics.FramesDiscardedTotal.Inc()
		in.logger.Warn("discarding frame after session left open state",
			slog.String("state", in.sess.State().String()),
			slog.Int("bytes", len(data)),
		)
		return ErrNotAccepting
	}
	if len(data) == 0 {
		return nil
	}

	seq := in.sess.PendingSequence()
	fragment, err := in.store.Append(in.sess.ID, seq, data)
	if err != nil {
		metrics.FragmentWriteErrorsTotal.Inc()
		in.logger.Error("fragment write failed", slog.Int("sequence", seq), slog.Any("error", err))
		return err
	}

	in.sess.FragmentStored()
	metrics.FragmentsWrittenTotal.Inc()
	metrics.FragmentBytesTotal.Add(float64(fragment.Size))
	in.logger.Debug("fragment stored", slog.Int("sequence", seq), slog.Int64("bytes", fragment.Size))
	return nil
}

type controlMessage struct {
	Type string `json:"type"`
}

// OnControlMessage handles a text frame. Only RECORDING_COMPLETE has an effect.
func (in *Ingestor) OnControlMessage(text []byte) error {
	var msg controlMessage
	if err := json.Unmarshal(text, &msg); err != nil {
		metrics.ControlMessagesTotal.WithLabelValues("malformed").Inc()
		in.logger.Warn("malformed control message", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrMalformedControl, err)
	}

	if msg.Type != ControlRecordingComplete {
		metrics.ControlMessagesTotal.WithLabelValues("ignored").Inc()
		in.logger.Debug("ignoring control message", slog.String("type", msg.Type))
		return nil
	}

	metrics.ControlMessagesTotal.WithLabelValues("complete").Inc()
	in.finalize("complete")
	return nil
}

// OnDisconnect runs once the transport is gone. An open session with fragments is
// merged; an open session without any fails immediately.
func (in *Ingestor) OnDisconnect() {
	if !in.sess.Accepting() {
		return
	}
	if in.sess.FragmentCount() > 0 {
		in.finalize("disconnect")
		return
	}
	if in.sess.Fail(merge.ErrEmptyInput) {
		in.logger.Info("session closed without fragments")
		in.notify(Event{Type: EventFailed, SessionID: in.sess.ID, Reason: merge.ErrEmptyInput.Error()})
	}
}

// finalize moves the session to finalizing and hands it to the merger. Losing the
// state race means another trigger already did this.
func (in *Ingestor) finalize(trigger string) bool {
	if !in.sess.BeginFinalize() {
		in.logger.Debug("finalize already in progress", slog.String("trigger", trigger))
		return false
	}

	in.logger.Info("finalizing session",
		slog.String("trigger", trigger),
		slog.Int64("fragment_count", in.sess.FragmentCount()),
	)
	in.notify(Event{Type: EventFinalizing, SessionID: in.sess.ID})

	in.merger.Dispatch(in.sess.ID, func(artifact recording.Artifact, err error) {
		in.sess.Finish(err)
		if errors.Is(err, merge.ErrShuttingDown) {
			in.logger.Warn("merge skipped at shutdown, fragments retained for manual merge", slog.Any("error", err))
		} else if err != nil {
			in.logger.Error("merge failed", slog.Any("error", err))
		}
		if err != nil {
			in.notify(Event{Type: EventFailed, SessionID: in.sess.ID, Reason: err.Error()})
			return
		}
		in.notify(Event{Type: EventMerged, SessionID: in.sess.ID, Artifact: &artifact})
	})
	return true
}
