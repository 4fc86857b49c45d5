package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/action"
	"github.com/mailmind/mailmind/engine"
	"github.com/mailmind/mailmind/types"
)

// HandleChatStream runs one chat turn, delivering progress as frames.
//
// Frame order is fixed: zero or more chunk frames, then at most one action
// frame, then exactly one done or error frame, after which the channel
// closes. Every chunk frame carries the FULL accumulated text so far, not a
// delta; a consumer that drops a frame still renders correctly from the
// next one.
//
// A busy engine or an empty message is rejected synchronously with an
// error before any frame is produced.
func (o *Orchestrator) HandleChatStream(ctx context.Context, req types.ChatRequest) (<-chan types.Frame, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "empty user message")
	}
	if !o.tryBusy(types.KindGeneration) {
		return nil, types.NewError(types.ErrEngineBusy, "a chat turn is already in progress")
	}

	out := make(chan types.Frame)
	go o.runStream(ctx, req, out)
	return out, nil
}

func (o *Orchestrator) runStream(ctx context.Context, req types.ChatRequest, out chan<- types.Frame) {
	defer o.releaseBusy(types.KindGeneration)
	defer close(out)

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "chat.stream")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	pc, note := o.fetchContext(ctx)
	hist := o.recentHistory(ctx, req.SessionID)
	prompt := o.prompts.Build(req.UserMessage, pc, note, hist)

	chunks, err := o.openStream(ctx, prompt)
	if err != nil {
		o.emitFinal(out, o.errorFrame(err))
		o.finishStream(start, string(types.CodeOf(err)))
		return
	}

	var full strings.Builder
	for c := range chunks {
		if c.Err != nil {
			o.emitFinal(out, o.errorFrame(o.mapTimeout(ctx, c.Err)))
			o.finishStream(start, string(types.CodeOf(c.Err)))
			return
		}
		if c.Done {
			break
		}
		full.WriteString(c.Delta)
		if !o.emit(ctx, out, types.Frame{Type: types.FrameChunk, FullResponse: full.String()}) {
			o.finishStream(start, "cancelled")
			return
		}
	}
	if err := ctx.Err(); err != nil {
		o.emitFinal(out, o.errorFrame(o.mapTimeout(ctx, err)))
		o.finishStream(start, string(types.ErrTimeout))
		return
	}

	act, display := action.Extract(full.String())
	if display != full.String() {
		// The action JSON was stripped; re-render the final text.
		o.emit(ctx, out, types.Frame{Type: types.FrameChunk, FullResponse: display})
	}
	if act != nil {
		result := o.dispatch(ctx, act)
		o.emit(ctx, out, types.Frame{Type: types.FrameAction, ActionResult: &result})
	}

	o.appendHistory(ctx, req.SessionID, "user", req.UserMessage)
	o.appendHistory(ctx, req.SessionID, "assistant", display)

	o.emitFinal(out, types.Frame{Type: types.FrameDone})
	o.finishStream(start, "success")
}

// openStream starts the streaming generation, recovering once from session
// expiry before the first chunk.
func (o *Orchestrator) openStream(ctx context.Context, prompt string) (<-chan engine.Chunk, error) {
	req := engine.GenerateRequest{Prompt: prompt}
	chunks, err := o.engines.GenerateStream(ctx, types.KindGeneration, req, o.genOpts())
	if err != nil && types.IsCode(err, types.ErrSessionExpired) {
		o.logger.Warn("stream session expired, rebuilding")
		o.engines.Invalidate(types.KindGeneration)
		chunks, err = o.engines.GenerateStream(ctx, types.KindGeneration, req, o.genOpts())
	}
	if err != nil {
		return nil, o.mapTimeout(ctx, err)
	}
	return chunks, nil
}

// emit sends a frame unless the consumer is gone. Returns false when the
// context ended before the send completed.
func (o *Orchestrator) emit(ctx context.Context, out chan<- types.Frame, f types.Frame) bool {
	if o.metrics != nil {
		o.metrics.RecordStreamFrame(string(f.Type))
	}
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitFinal delivers a terminal frame unconditionally. The consumer
// contract is to drain the channel until it closes, so this cannot block
// indefinitely even after the request context ends.
func (o *Orchestrator) emitFinal(out chan<- types.Frame, f types.Frame) {
	if o.metrics != nil {
		o.metrics.RecordStreamFrame(string(f.Type))
	}
	out <- f
}

func (o *Orchestrator) errorFrame(err error) types.Frame {
	o.logger.Warn("stream turn failed", zap.Error(err))
	return types.Frame{Type: types.FrameError, Error: types.UserMessage(err)}
}

func (o *Orchestrator) finishStream(start time.Time, status string) {
	if o.metrics != nil {
		o.metrics.RecordChat("stream", status, time.Since(start))
	}
}
