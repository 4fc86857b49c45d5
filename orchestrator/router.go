package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mailmind/mailmind/engine"
	"github.com/mailmind/mailmind/types"
)

// Route dispatches one envelope to its handler and returns the
// action-specific payload. Unknown actions are an INVALID_REQUEST error;
// handler faults come back as typed errors the transport can map.
func (o *Orchestrator) Route(ctx context.Context, env types.Envelope) (any, error) {
	switch env.Action {
	case types.EnvLoadModel:
		return o.routeLoadModel(ctx, env)
	case types.EnvCheckStatus:
		return o.routeCheckStatus(env), nil
	case types.EnvChat:
		return o.HandleChat(ctx, types.ChatRequest{UserMessage: env.UserMessage, SessionID: env.RequestID}), nil
	case types.EnvGetEmails:
		return o.routeGetEmails(ctx)
	case types.EnvGetContext, types.EnvGetPageContent:
		return o.page.GetContext(ctx)
	case types.EnvExecuteAction:
		return o.routeExecuteAction(ctx, env)
	case types.EnvClassify:
		return o.Classify(ctx, env.Text)
	case types.EnvSummarize:
		return o.Summarize(ctx, env.Text)
	case types.EnvAnalyzeImage:
		return o.AnalyzeImage(ctx, env.ImageData)
	case types.EnvScreenshot:
		return o.routeScreenshot(ctx)
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown envelope action %q", env.Action))
	}
}

func (o *Orchestrator) routeLoadModel(ctx context.Context, env types.Envelope) (any, error) {
	kind := envelopeKind(env)
	if err := o.LoadEngine(ctx, kind, nil); err != nil {
		return nil, err
	}
	return o.engines.Session(kind), nil
}

func (o *Orchestrator) routeCheckStatus(env types.Envelope) any {
	if _, ok := env.Params["kind"]; ok {
		return o.engines.Session(envelopeKind(env))
	}
	// Without a kind the caller wants the whole board.
	return map[types.EngineKind]types.EngineSession{
		types.KindGeneration:     o.engines.Session(types.KindGeneration),
		types.KindClassification: o.engines.Session(types.KindClassification),
		types.KindOCR:            o.engines.Session(types.KindOCR),
	}
}

func (o *Orchestrator) routeGetEmails(ctx context.Context) (any, error) {
	pc, err := o.page.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	return pc.Items, nil
}

func (o *Orchestrator) routeExecuteAction(ctx context.Context, env types.Envelope) (any, error) {
	if env.PageAction == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "execute_action requires an action name")
	}
	act := &types.StructuredAction{
		Name:   types.ActionName(env.PageAction),
		Params: env.Params,
	}
	return o.dispatch(ctx, act), nil
}

func (o *Orchestrator) routeScreenshot(ctx context.Context) (any, error) {
	data, err := o.page.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func envelopeKind(env types.Envelope) types.EngineKind {
	if env.Params != nil {
		if k, ok := env.Params["kind"].(string); ok && k != "" {
			return types.EngineKind(k)
		}
	}
	return types.KindGeneration
}

// LoadEngine initializes one engine kind, forwarding progress events.
// Single-flight in the registry makes concurrent calls share one load.
func (o *Orchestrator) LoadEngine(ctx context.Context, kind types.EngineKind, onProgress engine.ProgressFunc) error {
	ctx, span := o.tracer.Start(ctx, "engine.load")
	defer span.End()

	start := time.Now()
	_, err := o.engines.Acquire(ctx, kind, onProgress)
	if o.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordEngineLoad(string(kind), status, time.Since(start))
	}
	return err
}

// EngineSession reports the session snapshot for kind.
func (o *Orchestrator) EngineSession(kind types.EngineKind) types.EngineSession {
	return o.engines.Session(kind)
}

// Classify runs the sentiment classification engine over text.
func (o *Orchestrator) Classify(ctx context.Context, text string) (*types.ClassifyResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "classify requires text")
	}
	if !o.tryBusy(types.KindClassification) {
		return nil, types.NewError(types.ErrEngineBusy, "classification already in progress")
	}
	defer o.releaseBusy(types.KindClassification)

	res, err := o.engines.Generate(ctx, types.KindClassification,
		engine.GenerateRequest{Prompt: text}, engine.GenerateOptions{})
	if err != nil {
		return nil, o.mapTimeout(ctx, err)
	}
	return &types.ClassifyResult{Label: res.Label, Score: res.Score}, nil
}

// Summarize runs the generation engine over arbitrary text with a fixed
// summarization instruction, outside the chat transcript.
func (o *Orchestrator) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", types.NewError(types.ErrInvalidRequest, "summarize requires text")
	}
	if !o.tryBusy(types.KindGeneration) {
		return "", types.NewError(types.ErrEngineBusy, "a chat turn is already in progress")
	}
	defer o.releaseBusy(types.KindGeneration)

	prompt := "Summarize the following email in two or three sentences:\n\n" +
		o.prompts.truncate(text, o.cfg.PromptBudget/2) + "\n\nSummary:"
	res, err := o.engines.Generate(ctx, types.KindGeneration,
		engine.GenerateRequest{Prompt: prompt}, o.genOpts())
	if err != nil {
		return "", o.mapTimeout(ctx, err)
	}
	return strings.TrimSpace(res.RawText), nil
}

// AnalyzeImage runs the OCR engine over a base64 image payload.
func (o *Orchestrator) AnalyzeImage(ctx context.Context, imageData string) (string, error) {
	if imageData == "" {
		return "", types.NewError(types.ErrInvalidRequest, "analyze-image requires image data")
	}
	if !o.tryBusy(types.KindOCR) {
		return "", types.NewError(types.ErrEngineBusy, "image analysis already in progress")
	}
	defer o.releaseBusy(types.KindOCR)

	res, err := o.engines.Generate(ctx, types.KindOCR,
		engine.GenerateRequest{ImageData: imageData}, engine.GenerateOptions{})
	if err != nil {
		return "", o.mapTimeout(ctx, err)
	}
	return res.RawText, nil
}
