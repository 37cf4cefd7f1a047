package binding

import (
	"net/http"

	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/internal/bridgeauth"
	"github.com/BaSui01/toolport/types"
)

// Factory builds a Binding for one normalized server spec. Building must
// not perform I/O; connections are opened lazily.
type Factory interface {
	New(spec config.ServerSpec, opts Options) (Binding, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(spec config.ServerSpec, opts Options) (Binding, error)

// New implements Factory.
func (f FactoryFunc) New(spec config.ServerSpec, opts Options) (Binding, error) {
	return f(spec, opts)
}

// DefaultFactory builds stdio and remote bindings from a ServerSpec.
func DefaultFactory() Factory {
	return FactoryFunc(FromSpec)
}

// FromSpec builds the binding a spec describes. Bindings that cannot take
// concurrent calls come back wrapped by Serialize.
func FromSpec(spec config.ServerSpec, opts Options) (Binding, error) {
	var b Binding
	switch spec.Kind {
	case config.KindSubprocess:
		b = NewStdioBinding(spec, opts)
	case config.KindPreconnected:
		headers, err := authHeaders(spec)
		if err != nil {
			return nil, err
		}
		rb, err := NewRemoteBinding(spec, headers, opts)
		if err != nil {
			return nil, err
		}
		b = rb
	default:
		return nil, types.NewConfigError("server %q: unknown kind %q", spec.Name, spec.Kind).WithServer(spec.Name)
	}

	if !b.Concurrent() {
		b = Serialize(b)
	}
	return b, nil
}

// authHeaders 为配置了 auth 的桥接服务生成每次拨号时签发的 Bearer 令牌
func authHeaders(spec config.ServerSpec) (HeaderFunc, error) {
	if spec.Auth == nil {
		return nil, nil
	}
	minter, err := bridgeauth.NewMinter(bridgeauth.Config{
		Secret:   []byte(spec.Auth.ResolveSecret()),
		Issuer:   spec.Auth.Issuer,
		Subject:  spec.Auth.Subject,
		Audience: spec.Auth.Audience,
		TTL:      spec.Auth.TTL,
	})
	if err != nil {
		return nil, types.NewConfigError("server %q: %v", spec.Name, err).WithServer(spec.Name)
	}
	return func() (http.Header, error) { return minter.Header() }, nil
}
