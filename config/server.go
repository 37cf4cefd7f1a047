package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/toolport/types"
)

// LaunchKind describes how a server is reached.
type LaunchKind string

const (
	// KindSubprocess 启动本地子进程，通过 stdio 通信
	KindSubprocess LaunchKind = "subprocess"
	// KindPreconnected 连接到已经存在的远端（WebSocket / SSE 桥接）
	KindPreconnected LaunchKind = "preconnected"
)

// Transport names for preconnected servers.
const (
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
	// TransportHandle 连接由调用方在创建 Runtime 时提供，不需要 url
	TransportHandle = "handle"
)

// Framing selects the stdio wire framing.
type Framing string

const (
	FramingNDJSON        Framing = "ndjson"
	FramingContentLength Framing = "content-length"
)

// ServerSpec declares one named tool server.
type ServerSpec struct {
	Name      string            `yaml:"name" json:"name"`
	Kind      LaunchKind        `yaml:"kind" json:"kind"`
	Transport string            `yaml:"transport" json:"transport,omitempty"`
	Command   string            `yaml:"command" json:"command,omitempty"`
	Args      []string          `yaml:"args" json:"args,omitempty"`
	Cwd       string            `yaml:"cwd" json:"cwd,omitempty"`
	Env       map[string]string `yaml:"env" json:"env,omitempty"`
	URL       string            `yaml:"url" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitempty"`
	Framing   Framing           `yaml:"framing" json:"framing,omitempty"`

	// Session 非空时该服务为会话型：除握手工具外的调用都需要先完成握手
	Session *SessionSpec `yaml:"session" json:"session,omitempty"`

	RateLimit   RateLimitSpec `yaml:"rate_limit" json:"rate_limit,omitempty"`
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout,omitempty"`

	// Concurrent 覆盖传输默认的并发能力；nil 表示沿用默认值
	// （stdio 串行，WebSocket / SSE 并发）
	Concurrent *bool `yaml:"concurrent" json:"concurrent,omitempty"`

	Auth *AuthSpec `yaml:"auth" json:"auth,omitempty"`
}

// SessionSpec marks a server as session-scoped.
type SessionSpec struct {
	// 握手工具名，例如 join_channel
	HandshakeTool string `yaml:"handshake_tool" json:"handshake_tool"`
	// 携带频道 ID 的参数名，默认 channel
	ChannelArg string `yaml:"channel_arg" json:"channel_arg,omitempty"`
	// 固定频道 ID（可选）
	ChannelID string `yaml:"channel_id" json:"channel_id,omitempty"`
	// 自动生成频道 ID 时使用的前缀，默认 channel
	ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix,omitempty"`
}

// RateLimitSpec bounds invocations per second on one server. Zero RPS
// disables limiting.
type RateLimitSpec struct {
	RPS   float64 `yaml:"rps" json:"rps,omitempty"`
	Burst int     `yaml:"burst" json:"burst,omitempty"`
}

// AuthSpec configures a short-lived HS256 bearer token for bridged servers.
type AuthSpec struct {
	Secret    string        `yaml:"secret" json:"-"`
	SecretEnv string        `yaml:"secret_env" json:"secret_env,omitempty"`
	Issuer    string        `yaml:"issuer" json:"issuer,omitempty"`
	Subject   string        `yaml:"subject" json:"subject,omitempty"`
	Audience  string        `yaml:"audience" json:"audience,omitempty"`
	TTL       time.Duration `yaml:"ttl" json:"ttl,omitempty"`
}

// ResolveSecret returns the inline secret or the value of SecretEnv.
func (a AuthSpec) ResolveSecret() string {
	if a.Secret != "" {
		return a.Secret
	}
	if a.SecretEnv != "" {
		return os.Getenv(a.SecretEnv)
	}
	return ""
}

// rawServerSpec mirrors ServerSpec but keeps "command" as a node so both the
// plain form (command: npx) and the nested form
// (command: {kind: stdio, command: bunx, args: [...]}) decode.
type rawServerSpec struct {
	Name        string            `yaml:"name"`
	Kind        LaunchKind        `yaml:"kind"`
	Transport   string            `yaml:"transport"`
	Command     yaml.Node         `yaml:"command"`
	Args        []string          `yaml:"args"`
	Cwd         string            `yaml:"cwd"`
	Env         map[string]string `yaml:"env"`
	URL         string            `yaml:"url"`
	BaseURL     string            `yaml:"baseUrl"`
	Headers     map[string]string `yaml:"headers"`
	Framing     Framing           `yaml:"framing"`
	Session     *SessionSpec      `yaml:"session"`
	RateLimit   RateLimitSpec     `yaml:"rate_limit"`
	CallTimeout time.Duration     `yaml:"call_timeout"`
	Concurrent  *bool             `yaml:"concurrent"`
	Auth        *AuthSpec         `yaml:"auth"`
}

type nestedCommand struct {
	Kind    LaunchKind        `yaml:"kind"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Cwd     string            `yaml:"cwd"`
	Env     map[string]string `yaml:"env"`
}

// UnmarshalYAML 支持 command 的字符串与嵌套对象两种写法，以及 baseUrl 别名
func (s *ServerSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw rawServerSpec
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*s = ServerSpec{
		Name:        raw.Name,
		Kind:        raw.Kind,
		Transport:   raw.Transport,
		Args:        raw.Args,
		Cwd:         raw.Cwd,
		Env:         raw.Env,
		URL:         raw.URL,
		Headers:     raw.Headers,
		Framing:     raw.Framing,
		Session:     raw.Session,
		RateLimit:   raw.RateLimit,
		CallTimeout: raw.CallTimeout,
		Concurrent:  raw.Concurrent,
		Auth:        raw.Auth,
	}
	if s.URL == "" {
		s.URL = raw.BaseURL
	}

	switch raw.Command.Kind {
	case 0:
	case yaml.ScalarNode:
		s.Command = raw.Command.Value
	case yaml.MappingNode:
		var nested nestedCommand
		if err := raw.Command.Decode(&nested); err != nil {
			return fmt.Errorf("server %q: decode command: %w", raw.Name, err)
		}
		s.Command = nested.Command
		if len(nested.Args) > 0 {
			s.Args = nested.Args
		}
		if nested.Cwd != "" {
			s.Cwd = nested.Cwd
		}
		if len(nested.Env) > 0 {
			s.Env = nested.Env
		}
		if nested.Kind != "" {
			s.Kind = nested.Kind
		}
	default:
		return fmt.Errorf("server %q: command must be a string or an object", raw.Name)
	}
	return nil
}

// Normalize resolves kind aliases, infers the kind from command/url, and
// splits a single-string command into command + args.
func (s ServerSpec) Normalize() (ServerSpec, error) {
	switch strings.ToLower(string(s.Kind)) {
	case "":
		switch {
		case s.Command != "":
			s.Kind = KindSubprocess
		case s.URL != "":
			s.Kind = KindPreconnected
		}
	case "stdio", "subprocess", "process":
		s.Kind = KindSubprocess
	case "preconnected", "remote":
		s.Kind = KindPreconnected
	case "ws", "wss", "websocket":
		s.Kind = KindPreconnected
		s.Transport = TransportWebSocket
	case "sse", "http", "https":
		s.Kind = KindPreconnected
		s.Transport = TransportSSE
	case "handle":
		s.Kind = KindPreconnected
		s.Transport = TransportHandle
	default:
		return s, types.NewConfigError("server %q: unknown kind %q", s.Name, s.Kind).WithServer(s.Name)
	}

	if s.Kind == KindSubprocess {
		s.Transport = TransportStdio
		if len(s.Args) == 0 && strings.ContainsAny(s.Command, " \t") {
			parts, err := shellquote.Split(s.Command)
			if err != nil {
				return s, types.NewConfigError("server %q: parse command: %v", s.Name, err).WithServer(s.Name)
			}
			if len(parts) > 0 {
				s.Command, s.Args = parts[0], parts[1:]
			}
		}
		if s.Framing == "" {
			s.Framing = FramingNDJSON
		}
	}

	if s.Kind == KindPreconnected && s.Transport == "" && s.URL != "" {
		if u, err := url.Parse(s.URL); err == nil {
			switch u.Scheme {
			case "ws", "wss":
				s.Transport = TransportWebSocket
			case "http", "https":
				s.Transport = TransportSSE
			}
		}
	}

	if s.Session != nil {
		sess := *s.Session
		if sess.ChannelArg == "" {
			sess.ChannelArg = "channel"
		}
		if sess.ChannelPrefix == "" {
			sess.ChannelPrefix = "channel"
		}
		s.Session = &sess
	}
	return s, nil
}

// Validate checks a normalized spec.
func (s ServerSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return types.NewConfigError("server spec is missing a name")
	}
	switch s.Kind {
	case KindSubprocess:
		if strings.TrimSpace(s.Command) == "" {
			return types.NewConfigError("server %q: subprocess kind requires a command", s.Name).WithServer(s.Name)
		}
		if s.Framing != FramingNDJSON && s.Framing != FramingContentLength {
			return types.NewConfigError("server %q: unknown framing %q", s.Name, s.Framing).WithServer(s.Name)
		}
	case KindPreconnected:
		if s.Transport == TransportHandle {
			break
		}
		if s.URL == "" {
			return types.NewConfigError("server %q: preconnected kind requires a url", s.Name).WithServer(s.Name)
		}
		if s.Transport != TransportWebSocket && s.Transport != TransportSSE {
			return types.NewConfigError("server %q: cannot infer transport for url %q", s.Name, s.URL).WithServer(s.Name)
		}
	case "":
		return types.NewConfigError("server %q: missing command or url", s.Name).WithServer(s.Name)
	default:
		return types.NewConfigError("server %q: unknown kind %q", s.Name, s.Kind).WithServer(s.Name)
	}
	if s.Session != nil && strings.TrimSpace(s.Session.HandshakeTool) == "" {
		return types.NewConfigError("server %q: session requires handshake_tool", s.Name).WithServer(s.Name)
	}
	if s.RateLimit.RPS < 0 || s.RateLimit.Burst < 0 {
		return types.NewConfigError("server %q: rate_limit must not be negative", s.Name).WithServer(s.Name)
	}
	if s.Auth != nil && s.Auth.ResolveSecret() == "" {
		return types.NewConfigError("server %q: auth requires secret or secret_env", s.Name).WithServer(s.Name)
	}
	return nil
}

// SessionScoped reports whether the server needs a handshake.
func (s ServerSpec) SessionScoped() bool {
	return s.Session != nil
}

// Clone returns a deep copy so the runtime can own its specs.
func (s ServerSpec) Clone() ServerSpec {
	out := s
	out.Args = append([]string(nil), s.Args...)
	out.Env = cloneMap(s.Env)
	out.Headers = cloneMap(s.Headers)
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	if s.Concurrent != nil {
		c := *s.Concurrent
		out.Concurrent = &c
	}
	if s.Auth != nil {
		a := *s.Auth
		out.Auth = &a
	}
	return out
}

// EnvList merges Env over the parent environment in os/exec format.
func (s ServerSpec) EnvList(parent []string) []string {
	if len(s.Env) == 0 {
		return parent
	}
	out := make([]string, 0, len(parent)+len(s.Env))
	for _, kv := range parent {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := s.Env[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MergeServers normalizes, validates and merges server specs. base holds
// file specs, overrides the inline ones; an override replaces the base spec
// with the same name. Duplicate names within one layer are a ConfigError.
func MergeServers(base, overrides []ServerSpec) ([]ServerSpec, error) {
	baseSpecs, err := normalizeLayer(base, "config file")
	if err != nil {
		return nil, err
	}
	overrideSpecs, err := normalizeLayer(overrides, "inline overrides")
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(baseSpecs))
	merged := make([]ServerSpec, 0, len(baseSpecs)+len(overrideSpecs))
	for _, s := range baseSpecs {
		index[s.Name] = len(merged)
		merged = append(merged, s)
	}
	for _, s := range overrideSpecs {
		if i, ok := index[s.Name]; ok {
			merged[i] = s
			continue
		}
		index[s.Name] = len(merged)
		merged = append(merged, s)
	}
	return merged, nil
}

func normalizeLayer(specs []ServerSpec, layer string) ([]ServerSpec, error) {
	seen := make(map[string]struct{}, len(specs))
	out := make([]ServerSpec, 0, len(specs))
	for i, raw := range specs {
		s, err := raw.Normalize()
		if err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			if s.Name == "" {
				return nil, types.NewConfigError("%s: server #%d is missing a name", layer, i+1)
			}
			return nil, err
		}
		if _, dup := seen[s.Name]; dup {
			return nil, types.NewConfigError("%s: duplicate server name %q", layer, s.Name).WithServer(s.Name)
		}
		seen[s.Name] = struct{}{}
		out = append(out, s.Clone())
	}
	return out, nil
}
