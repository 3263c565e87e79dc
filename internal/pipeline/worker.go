package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/command"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/homeassistant"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/observe"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/resilience"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/stt"
)

// Action outcome labels used in logs and metrics.
const (
	ActionOK          = "ok"
	ActionHTTPError   = "http_error"
	ActionNoToken     = "no_token"
	ActionInvalid     = "invalid"
	ActionCircuitOpen = "circuit_open"
	ActionCancelled   = "cancelled"
	ActionError       = "error"
)

// work processes utterances one at a time until queue is closed. Utterances
// still queued after ctx is cancelled are discarded.
func (d *Driver) work(ctx context.Context, queue <-chan utterance) {
	for u := range queue {
		if ctx.Err() != nil {
			continue
		}
		d.handle(ctx, u)
	}
}

// handle runs transcribe → match → dispatch for one utterance.
func (d *Driver) handle(ctx context.Context, u utterance) {
	ctx, span := observe.StartSpan(ctx, "pipeline.utterance",
		trace.WithAttributes(
			attribute.String("cause", string(u.cause)),
			attribute.Int("bytes", len(u.pcm)),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)

	if d.recorder != nil {
		if p, err := d.recorder.Record(u.pcm, d.format, string(u.cause)); err != nil {
			log.Warn("pipeline: record utterance", "err", err)
		} else {
			log.Debug("pipeline: utterance recorded", "path", p)
		}
	}

	text, ok := d.transcribe(ctx, u)
	if !ok {
		return
	}

	rule, matched := d.matcher.Load().Match(text)
	d.metrics.RecordCommandMatch(ctx, matched)
	if !matched {
		args := []any{"transcript", text}
		if p, score, ok := d.matcher.Load().Nearest(text); ok {
			args = append(args, "closest", p, "similarity", score)
		}
		log.Info("pipeline: no command matched", args...)
		return
	}
	span.SetAttributes(attribute.String("command", rule.Pattern))
	log.Info("pipeline: command matched",
		"pattern", rule.Pattern,
		"actions", len(rule.Actions),
	)

	for i, a := range rule.Actions {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, i+1, len(rule.Actions), a)
	}
}

// transcribe sends u to the transcriber and reports whether a non-empty
// transcript came back.
func (d *Driver) transcribe(ctx context.Context, u utterance) (string, bool) {
	log := observe.Logger(ctx)
	log.Info("pipeline: transcribing",
		"bytes", len(u.pcm),
		"duration", u.duration,
	)

	start := time.Now()
	text, err := d.transcriber.Transcribe(ctx, u.pcm, d.format)
	elapsed := time.Since(start)
	status := stt.Classify(text, err)
	d.metrics.RecordTranscription(ctx, string(status), elapsed)

	switch status {
	case stt.StatusOK:
		log.Info("pipeline: transcript received", "transcript", text, "elapsed", elapsed)
		return text, true
	case stt.StatusEmpty:
		log.Info("pipeline: empty transcript", "elapsed", elapsed)
	case stt.StatusCancelled:
		log.Debug("pipeline: transcription cancelled")
	default:
		log.Warn("pipeline: no transcript",
			"status", status,
			"elapsed", elapsed,
			"err", err,
		)
	}
	return "", false
}

// dispatch runs action n of total and records its outcome.
func (d *Driver) dispatch(ctx context.Context, n, total int, a command.Action) {
	log := observe.Logger(ctx)
	log.Info("pipeline: executing action",
		"step", n,
		"of", total,
		"action", a.Name,
		"entity_id", a.EntityID,
	)

	start := time.Now()
	res, err := d.dispatcher.Dispatch(ctx, a)
	elapsed := time.Since(start)
	status := ActionStatus(res, err)
	d.metrics.RecordAction(ctx, a.Name, status, elapsed)

	switch status {
	case ActionOK:
		log.Info("pipeline: action succeeded",
			"step", n,
			"of", total,
			"action", a.Name,
			"status", res.Status,
			"elapsed", elapsed,
		)
	case ActionHTTPError:
		log.Error("pipeline: action rejected",
			"step", n,
			"of", total,
			"action", a.Name,
			"status", res.Status,
			"message", res.Message,
		)
	default:
		log.Error("pipeline: action failed",
			"step", n,
			"of", total,
			"action", a.Name,
			"outcome", status,
			"err", err,
		)
	}
}

// ActionStatus maps the result of a Dispatch call to an outcome label.
func ActionStatus(res homeassistant.Result, err error) string {
	switch {
	case err == nil && res.OK:
		return ActionOK
	case err == nil:
		return ActionHTTPError
	case errors.Is(err, homeassistant.ErrNoToken):
		return ActionNoToken
	case errors.Is(err, homeassistant.ErrInvalidAction):
		return ActionInvalid
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ActionCircuitOpen
	case errors.Is(err, context.Canceled):
		return ActionCancelled
	default:
		return ActionError
	}
}
