package platform

import (
	"context"

	"geofix/internal/logger"
)

// Chain：按顺序尝试多个提供方，返回首个成功结果
// 约束：ctx 结束后不再尝试后续提供方；全部失败时返回最后一个错误
type Chain struct {
	list []LocationProvider
}

func NewChain(list ...LocationProvider) *Chain {
	var out []LocationProvider
	for _, p := range list {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Chain{list: out}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Len() int { return len(c.list) }

func (c *Chain) GetLocation(ctx context.Context, opts Options) (RawFix, error) {
	if len(c.list) == 0 {
		return RawFix{}, &Error{Code: "NO_PROVIDER", Message: "service unavailable: no location provider configured"}
	}
	var last error
	for _, p := range c.list {
		if ctx.Err() != nil {
			break
		}
		fix, err := p.GetLocation(ctx, opts)
		if err == nil {
			return fix, nil
		}
		logger.L().Debug("provider_chain_fallthrough", "provider", NameOf(p), "err", err)
		last = err
	}
	if last == nil {
		return RawFix{}, &Error{Code: "TIMEOUT", Message: "timed out before any provider was tried"}
	}
	return RawFix{}, last
}

// Router：按功耗档位选择提供方，未配置的档位回退到默认提供方
type Router struct {
	def    LocationProvider
	byTier map[Power]LocationProvider
}

func NewRouter(def LocationProvider) *Router {
	return &Router{def: def, byTier: make(map[Power]LocationProvider)}
}

// Route：为档位绑定提供方；p 为空时解除绑定
func (r *Router) Route(pw Power, p LocationProvider) *Router {
	if p == nil {
		delete(r.byTier, pw)
		return r
	}
	r.byTier[pw] = p
	return r
}

func (r *Router) Name() string { return "router" }

func (r *Router) pick(pw Power) LocationProvider {
	if p, ok := r.byTier[pw]; ok {
		return p
	}
	return r.def
}

func (r *Router) GetLocation(ctx context.Context, opts Options) (RawFix, error) {
	p := r.pick(opts.Power)
	if p == nil {
		return RawFix{}, &Error{Code: "NO_PROVIDER", Message: "service unavailable: no provider for power " + opts.Power.String()}
	}
	return p.GetLocation(ctx, opts)
}
