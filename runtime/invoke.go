package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/toolport/internal/journal"
	"github.com/BaSui01/toolport/internal/metrics"
	"github.com/BaSui01/toolport/result"
	"github.com/BaSui01/toolport/types"
)

// journalTimeout 写调用日志的上限，不占用调用方的超时
const journalTimeout = 2 * time.Second

// Invoke calls tool on server. Errors carry one of the types error codes;
// a tool-level failure (isError) is a successful Result with IsError true.
func (rt *Runtime) Invoke(ctx context.Context, name, tool string, args map[string]any) (*result.Result, error) {
	start := rt.now()
	ctx, span := rt.tracer.Start(ctx, "toolport.Invoke",
		trace.WithAttributes(
			attribute.String("toolport.server", name),
			attribute.String("toolport.tool", tool),
		))
	defer span.End()

	res, err := rt.invoke(ctx, name, tool, args)

	toolErr := res != nil && res.IsError()
	outcome := metrics.Outcome(err, toolErr)
	span.SetAttributes(attribute.String("toolport.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	rt.observe(ctx, name, tool, args, outcome, toolErr, err, start)
	return res, err
}

// InvokeRequest is Invoke for a request value.
func (rt *Runtime) InvokeRequest(ctx context.Context, req types.InvocationRequest) (*result.Result, error) {
	return rt.Invoke(ctx, req.Server, req.Tool, req.Arguments)
}

func (rt *Runtime) invoke(ctx context.Context, name, tool string, args map[string]any) (*result.Result, error) {
	if _, err := rt.lookup(name); err != nil {
		return nil, err
	}

	if rt.sessions.IsHandshake(name, tool) {
		_, res, err := rt.sessions.Join(ctx, name, "", args)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	if err := rt.sessions.Guard(name, tool); err != nil {
		return nil, err
	}
	return rt.invokeChecked(ctx, name, tool, args)
}

// invokeChecked 跳过会话检查；也是握手调用的执行路径
func (rt *Runtime) invokeChecked(ctx context.Context, name, tool string, args map[string]any) (*result.Result, error) {
	s, err := rt.lookup(name)
	if err != nil {
		return nil, err
	}

	tools, err := rt.tools(ctx, s)
	switch {
	case err == nil:
		if !hasTool(tools, tool) {
			return nil, types.NewUnknownToolError(name, tool)
		}
	case discoveryUnsupported(err):
		rt.logger.Debug("server does not support tools/list, skipping tool check", zap.String("server", name))
	default:
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, types.NewTransportError(name, err).WithTool(tool).WithRetryable(true)
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	raw, err := s.binding.Invoke(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	rt.setActive(name, true)
	return result.New(name, tool, raw), nil
}

func (rt *Runtime) observe(ctx context.Context, name, tool string, args map[string]any, outcome string, toolErr bool, err error, start time.Time) {
	elapsed := rt.now().Sub(start)
	if rt.metrics != nil {
		rt.metrics.RecordInvocation(name, tool, outcome, elapsed)
	}

	fields := []zap.Field{
		zap.String("server", name),
		zap.String("tool", tool),
		zap.String("outcome", outcome),
		zap.Duration("took", elapsed),
	}
	if err != nil {
		rt.logger.Debug("invocation failed", append(fields, zap.Error(err))...)
	} else {
		rt.logger.Debug("invocation completed", fields...)
	}

	if rt.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if jerr := rt.journal.Record(jctx, journal.Entry{
		Server:    name,
		Tool:      tool,
		Arguments: args,
		Outcome:   outcome,
		ToolError: toolErr,
		Err:       err,
		Duration:  elapsed,
		StartedAt: start,
	}); jerr != nil {
		rt.logger.Warn("journal write failed", zap.Error(jerr))
	}
}
