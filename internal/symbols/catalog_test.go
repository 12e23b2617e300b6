package symbols

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type stubLister struct {
	pairs []string
	err   error
	calls int
}

func (s *stubLister) Symbols(context.Context) ([]string, error) {
	s.calls++
	return s.pairs, s.err
}

func TestResolveStaticBypassesDiscovery(t *testing.T) {
	l := &stubLister{pairs: []string{"BTC/USDT"}}
	c := NewCatalog(l, []string{"ETH/USDT", "SOL/USDT"})

	got := c.Resolve(context.Background())
	if len(got) != 2 || got[0] != "ETH/USDT" {
		t.Errorf("got %v", got)
	}
	if l.calls != 0 {
		t.Errorf("lister consulted %d times, want 0", l.calls)
	}
}

func TestResolveCachesDiscovery(t *testing.T) {
	l := &stubLister{pairs: []string{"BTC/USDT", "ETH/USDT"}}
	c := NewCatalog(l, nil)

	first := c.Resolve(context.Background())
	second := c.Resolve(context.Background())
	if len(first) != 2 || len(second) != 2 {
		t.Errorf("got %v then %v", first, second)
	}
	if l.calls != 1 {
		t.Errorf("lister consulted %d times, want 1", l.calls)
	}
}

func TestResolveFallsBack(t *testing.T) {
	l := &stubLister{err: errors.New("listing down")}
	c := NewCatalog(l, nil)

	got := c.Resolve(context.Background())
	if len(got) != len(Fallback) || got[0] != "BTC/USDT" {
		t.Errorf("fallback not used: %d symbols", len(got))
	}
	// A later successful discovery replaces the fallback.
	l.err = nil
	l.pairs = []string{"BTC/USDT"}
	if got := c.Resolve(context.Background()); len(got) != 1 {
		t.Errorf("retry after fallback: got %v", got)
	}
}

func TestResolveCapsUniverse(t *testing.T) {
	pairs := make([]string, MaxSymbols+100)
	for i := range pairs {
		pairs[i] = fmt.Sprintf("T%d/USDT", i)
	}
	c := NewCatalog(&stubLister{pairs: pairs}, nil)
	if got := c.Resolve(context.Background()); len(got) != MaxSymbols {
		t.Errorf("got %d symbols, want %d", len(got), MaxSymbols)
	}
}
