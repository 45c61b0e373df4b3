package commands

import "context"

// Proxy inspects a command before it reaches its handler and may reject it.
type Proxy interface {
	Check(ctx context.Context, cmd Command) error
}

type ProxyFunc func(ctx context.Context, cmd Command) error

func (f ProxyFunc) Check(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

type ProxyChain struct {
	proxies []Proxy
}

func NewProxyChain(proxies ...Proxy) *ProxyChain {
	items := make([]Proxy, 0, len(proxies))
	for _, proxy := range proxies {
		if proxy != nil {
			items = append(items, proxy)
		}
	}
	return &ProxyChain{proxies: items}
}

func (p *ProxyChain) Check(ctx context.Context, cmd Command) error {
	for _, proxy := range p.proxies {
		if err := proxy.Check(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// ValidationProxy rejects commands whose Validate fails.
var ValidationProxy = ProxyFunc(func(_ context.Context, cmd Command) error {
	return cmd.Validate()
})
