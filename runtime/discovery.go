package runtime

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/toolport/protocol/mcp"
	"github.com/BaSui01/toolport/types"
)

// ListTools returns the tools a server advertises. The list is fetched
// once per connection and shared with concurrent callers.
func (rt *Runtime) ListTools(ctx context.Context, name string) ([]types.ToolDescriptor, error) {
	s, err := rt.lookup(name)
	if err != nil {
		return nil, err
	}

	ctx, span := rt.tracer.Start(ctx, "toolport.ListTools",
		trace.WithAttributes(attribute.String("toolport.server", name)))
	defer span.End()

	tools, err := rt.tools(ctx, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("toolport.tool_count", len(tools)))
	return cloneTools(tools), nil
}

// RefreshTools drops every cached tool list of a server.
func (rt *Runtime) RefreshTools(ctx context.Context, name string) error {
	s, err := rt.lookup(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tools, s.toolsLoaded = nil, false
	s.generation++
	s.mu.Unlock()
	rt.discovery.Forget(name)

	if rt.cache != nil {
		if err := rt.cache.Delete(ctx, s.cacheKey); err != nil {
			rt.logger.Warn("tool cache delete failed", zap.String("server", name), zap.Error(err))
		}
	}
	return nil
}

// tools 依次查本地缓存、共享缓存，最后向服务端发起（合并的）tools/list
func (rt *Runtime) tools(ctx context.Context, s *server) ([]types.ToolDescriptor, error) {
	s.mu.Lock()
	if s.toolsLoaded {
		tools := s.tools
		s.mu.Unlock()
		return tools, nil
	}
	gen := s.generation
	s.mu.Unlock()

	name := s.spec.Name
	if rt.cache != nil {
		tools, ok, err := rt.cache.Get(ctx, s.cacheKey)
		switch {
		case err != nil:
			rt.logger.Warn("tool cache read failed", zap.String("server", name), zap.Error(err))
		case ok:
			if rt.metrics != nil {
				rt.metrics.RecordCacheHit(rt.cacheName)
			}
			rt.storeTools(s, gen, tools)
			return tools, nil
		default:
			if rt.metrics != nil {
				rt.metrics.RecordCacheMiss(rt.cacheName)
			}
		}
	}

	ch := rt.discovery.DoChan(name, func() (any, error) {
		// 共享的请求不随单个调用方取消
		fetchCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, s.timeout)
			defer cancel()
		}
		tools, err := s.binding.ListTools(fetchCtx)
		if err != nil {
			return nil, err
		}
		rt.setActive(name, true)
		// 调用方可能已放弃等待，由共享请求自己写入
		rt.storeTools(s, gen, tools)
		if rt.cache != nil {
			if err := rt.cache.Set(fetchCtx, s.cacheKey, tools, 0); err != nil {
				rt.logger.Warn("tool cache write failed", zap.String("server", name), zap.Error(err))
			}
		}
		return tools, nil
	})

	select {
	case <-ctx.Done():
		return nil, types.NewTransportError(name, ctx.Err()).WithRetryable(true)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]types.ToolDescriptor), nil
	}
}

// storeTools 仅在期间没有刷新或重连时写入
func (rt *Runtime) storeTools(s *server, gen uint64, tools []types.ToolDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.tools, s.toolsLoaded = tools, true
}

// discoveryUnsupported 服务端未实现 tools/list
func discoveryUnsupported(err error) bool {
	return mcp.IsMethodNotFound(err)
}

func hasTool(tools []types.ToolDescriptor, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func cloneTools(in []types.ToolDescriptor) []types.ToolDescriptor {
	return append([]types.ToolDescriptor(nil), in...)
}
