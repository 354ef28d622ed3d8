package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
	"github.com/khanglvm/espresso-dialin/internal/shot"
	"github.com/khanglvm/espresso-dialin/internal/storage"
)

// Tool is one registered MCP tool.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tools returns every tool bound to svc.
func Tools(svc *dialin.Service) []Tool {
	return []Tool{
		&NextTool{svc: svc},
		&ReportTool{svc: svc},
		&HistoryTool{svc: svc},
		&BestTool{svc: svc},
		&StatusTool{svc: svc},
		&PredictTool{svc: svc},
	}
}

// refOptions are the parameters every session tool takes.
func refOptions(methods []string) []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("beanId",
			mcp.Required(),
			mcp.Description("Bean identifier (letters, digits, '.', '_' or '-')"),
		),
		mcp.WithString("method",
			mcp.Required(),
			mcp.Enum(methods...),
			mcp.Description("Brewing method"),
		),
		mcp.WithString("userId",
			mcp.Description("Optional user identifier; scopes the session to one user"),
		),
	}
}

func refArg(req mcp.CallToolRequest) dialin.Ref {
	return dialin.Ref{
		BeanID: req.GetString("beanId", ""),
		Method: req.GetString("method", ""),
		UserID: req.GetString("userId", ""),
	}
}

// ─── dialin_next ─────────────────────────────────────────────────────────────

// NextTool handles dialin_next.
type NextTool struct {
	svc *dialin.Service
}

// Definition returns the MCP tool definition for dialin_next.
func (t *NextTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Start or continue a dial-in session. Returns the next grind, dose, and target time to brew, " +
				"the session state (cold, exploring, refining, converged), and the best trial so far. " +
				"Pass lastShot to record the shot you just pulled before getting the next trial.",
		),
	}
	opts = append(opts, refOptions(t.svc.Methods())...)
	opts = append(opts, mcp.WithObject("lastShot",
		mcp.Description(`Optional feedback: {"shot": {grindSize, doseIn, weightOut, extractionTime, ...}, `+
			`"score": 0-10, "trialNumber": pending trial the shot was brewed for}`),
	))
	return mcp.NewTool("dialin_next", opts...)
}

// Handle processes the dialin_next tool call.
func (t *NextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dreq := dialin.DialInRequest{Ref: refArg(req)}

	if raw, ok := req.GetArguments()["lastShot"]; ok && raw != nil {
		var ls dialin.LastShot
		if err := decodeArg(raw, &ls); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid lastShot: %v", err)), nil
		}
		dreq.LastShot = &ls
	}

	rec, err := t.svc.StartOrContinueDialIn(ctx, dreq)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rec)
}

// ─── dialin_report ───────────────────────────────────────────────────────────

// ReportTool handles dialin_report.
type ReportTool struct {
	svc *dialin.Service
}

// Definition returns the MCP tool definition for dialin_report.
func (t *ReportTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Record the 0-10 score of a pending trial. Reporting a trial twice keeps the first score " +
				"and returns alreadyCompleted=true.",
		),
	}
	opts = append(opts, refOptions(t.svc.Methods())...)
	opts = append(opts,
		mcp.WithNumber("trialNumber", mcp.Required(), mcp.Description("Trial number from dialin_next")),
		mcp.WithNumber("score", mcp.Required(), mcp.Description("Shot quality, 0-10")),
		mcp.WithNumber("observedTime", mcp.Description("Actual extraction time in seconds")),
		mcp.WithNumber("observedYield", mcp.Description("Actual weight out in grams")),
	)
	return mcp.NewTool("dialin_report", opts...)
}

// Handle processes the dialin_report tool call.
func (t *ReportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	score := floatArg(req, "score")
	if score == nil {
		return mcp.NewToolResultError("'score' is required"), nil
	}

	res, err := t.svc.ReportResult(ctx, dialin.ReportRequest{
		Ref:           refArg(req),
		TrialNumber:   intArg(req, "trialNumber", 0),
		Score:         *score,
		ObservedTime:  floatArg(req, "observedTime"),
		ObservedYield: floatArg(req, "observedYield"),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// ─── dialin_history ──────────────────────────────────────────────────────────

// HistoryTool handles dialin_history.
type HistoryTool struct {
	svc *dialin.Service
}

// Definition returns the MCP tool definition for dialin_history.
func (t *HistoryTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("List a session's trials in ascending trial number, pending ones included."),
	}
	opts = append(opts, refOptions(t.svc.Methods())...)
	opts = append(opts, mcp.WithNumber("limit", mcp.Description("Keep only the most recent N trials (default: all)")))
	return mcp.NewTool("dialin_history", opts...)
}

// Handle processes the dialin_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	trials, err := t.svc.GetTrialHistory(ctx, refArg(req), intArg(req, "limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"trials": trials, "count": len(trials)})
}

// ─── dialin_best ─────────────────────────────────────────────────────────────

// BestTool handles dialin_best.
type BestTool struct {
	svc *dialin.Service
}

// Definition returns the MCP tool definition for dialin_best.
func (t *BestTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Get the parameters of the highest scoring trial of a session."),
	}
	opts = append(opts, refOptions(t.svc.Methods())...)
	return mcp.NewTool("dialin_best", opts...)
}

// Handle processes the dialin_best tool call.
func (t *BestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	best, err := t.svc.GetBestParameters(ctx, refArg(req))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(best)
}

// ─── dialin_status ───────────────────────────────────────────────────────────

// StatusTool handles dialin_status.
type StatusTool struct {
	svc *dialin.Service
}

// Definition returns the MCP tool definition for dialin_status.
func (t *StatusTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Summarize a session: state, trial counts, best trial, and the last few scored trials."),
	}
	opts = append(opts, refOptions(t.svc.Methods())...)
	return mcp.NewTool("dialin_status", opts...)
}

// Handle processes the dialin_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.svc.GetStatus(ctx, refArg(req))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(st)
}

// ─── shot_predict ────────────────────────────────────────────────────────────

// PredictTool handles shot_predict.
type PredictTool struct {
	svc *dialin.Service
}

// Definition returns the MCP tool definition for shot_predict.
func (t *PredictTool) Definition() mcp.Tool {
	return mcp.NewTool("shot_predict",
		mcp.WithDescription(
			"Predict a shot's 0-10 quality from its parameters. Returns the derived features, "+
				"the score, and a confidence. Linear models also return per-feature contributions. "+
				"A degraded prediction means the model was unavailable.",
		),
		mcp.WithObject("shot",
			mcp.Required(),
			mcp.Description("Shot record: grindSize, doseIn, weightOut, extractionTime, daysPastRoast, "+
				"and optional temperature, pressure, roastLevel, processMethod, usedWDT, usedPuckScreen, usedPreInfusion"),
		),
	)
}

// Handle processes the shot_predict tool call.
func (t *PredictTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["shot"]
	if !ok || raw == nil {
		return mcp.NewToolResultError("'shot' is required"), nil
	}
	var rec shot.ShotRecord
	if err := decodeArg(raw, &rec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid shot: %v", err)), nil
	}

	a, err := t.svc.PredictShot(ctx, rec)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(a)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// decodeArg converts a decoded JSON argument into a typed value.
func decodeArg(raw any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// floatArg extracts an optional number argument.
func floatArg(req mcp.CallToolRequest, key string) *float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult turns a service error into a tool error the client can act on.
func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, shot.ErrInvalidInput), errors.Is(err, dialin.ErrInvalidRequest), errors.Is(err, dialin.ErrNotFound):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		return mcp.NewToolResultError("trial history is unavailable, try again later: " + err.Error())
	default:
		return mcp.NewToolResultError(fmt.Sprintf("dial-in failed: %v", err))
	}
}
