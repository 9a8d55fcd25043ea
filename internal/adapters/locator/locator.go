package locator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/hylla/witcopier/internal/adapters/workitems/rest"
	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
)

// Opener binds a work item store to one connection address.
type Opener func(ctx context.Context, address string) (app.WorkItemStore, error)

// TokenSource returns the credential for a connection address.
type TokenSource interface {
	Token(address string) (string, error)
}

// Locator resolves connection addresses and caches one store per address.
type Locator struct {
	accessPoint       string
	defaultCollection string
	open              Opener

	mu     sync.Mutex
	stores map[string]app.WorkItemStore
}

var _ app.StoreLocator = (*Locator)(nil)

// New constructs a locator. accessPoint is the public URL of the server,
// defaultCollection is used when a request carries no service host name.
func New(accessPoint, defaultCollection string, open Opener) (*Locator, error) {
	accessPoint = strings.TrimRight(strings.TrimSpace(accessPoint), "/")
	if accessPoint == "" {
		return nil, fmt.Errorf("access point is required: %w", app.ErrNoConnectionAddress)
	}
	if open == nil {
		return nil, fmt.Errorf("store opener is required: %w", app.ErrUnsupportedStoreMode)
	}
	return &Locator{
		accessPoint:       accessPoint,
		defaultCollection: strings.Trim(strings.TrimSpace(defaultCollection), "/"),
		open:              open,
		stores:            map[string]app.WorkItemStore{},
	}, nil
}

// AccessPoint returns the normalized access point.
func (l *Locator) AccessPoint() string {
	return l.accessPoint
}

// ResolveConnectionAddress returns "{accessPoint}/{serviceHostName}".
func (l *Locator) ResolveConnectionAddress(_ context.Context, rc domain.RequestContext) (string, error) {
	host := strings.Trim(strings.TrimSpace(rc.ServiceHostName), "/")
	if host == "" {
		host = l.defaultCollection
	}
	if host == "" {
		return "", app.ErrNoConnectionAddress
	}
	return l.accessPoint + "/" + host, nil
}

// WorkItemStore returns the store bound to address, opening it on first use.
func (l *Locator) WorkItemStore(ctx context.Context, address string) (app.WorkItemStore, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	if key == "" {
		return nil, app.ErrNoConnectionAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if store, ok := l.stores[key]; ok {
		return store, nil
	}
	store, err := l.open(ctx, strings.TrimSpace(address))
	if err != nil {
		return nil, err
	}
	l.stores[key] = store
	log.Debug("work item store opened", "address", address)
	return store, nil
}

// Len reports how many stores are cached.
func (l *Locator) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stores)
}

// StaticOpener binds every address to the same store, as the local database mode does.
func StaticOpener(store app.WorkItemStore) Opener {
	return func(context.Context, string) (app.WorkItemStore, error) {
		if store == nil {
			return nil, app.ErrUnsupportedStoreMode
		}
		return store, nil
	}
}

// RESTOpener binds each address to a remote store authenticated with tokens from src.
func RESTOpener(src TokenSource, opts ...rest.Option) Opener {
	return func(_ context.Context, address string) (app.WorkItemStore, error) {
		token := ""
		if src != nil {
			t, err := src.Token(address)
			if err != nil {
				return nil, fmt.Errorf("resolve credential for %q: %w", address, err)
			}
			token = t
		}
		return rest.NewStore(rest.NewClient(address, token, opts...)), nil
	}
}
