package products

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"purchases/internal/store"
	"purchases/internal/types"
)

// DefaultRequestTimeout bounds how long a store products request may stay
// in flight before it is cancelled.
const DefaultRequestTimeout = 30 * time.Second

// Completion receives the resolved products keyed by identifier.
type Completion func(products map[string]store.Product, err error)

type inflightRequest struct {
	completions []Completion
	request     store.ProductsRequest
	timer       *time.Timer
	done        bool
}

// Manager fetches and caches store product metadata, deduplicating
// concurrent requests for the same identifier set and enforcing a timeout.
type Manager struct {
	fetcher store.ProductsFetcher
	timeout time.Duration

	mu       sync.Mutex
	cache    map[string]store.Product
	inflight map[string]*inflightRequest // keyed by the exact requested set
}

// NewManager creates a products manager around a store fetcher.
func NewManager(fetcher store.ProductsFetcher, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Manager{
		fetcher:  fetcher,
		timeout:  timeout,
		cache:    make(map[string]store.Product),
		inflight: make(map[string]*inflightRequest),
	}
}

func setKey(identifiers []string) string {
	sorted := make([]string, len(identifiers))
	copy(sorted, identifiers)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// CachedProduct returns the cached product for an identifier, if resolved.
func (m *Manager) CachedProduct(identifier string) (store.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.cache[identifier]
	return p, ok
}

// Products resolves product metadata for a set of identifiers. Cached subsets
// return immediately with no store round-trip; an identical in-flight set
// attaches to the existing request instead of issuing a duplicate one.
func (m *Manager) Products(identifiers []string, completion Completion) {
	if len(identifiers) == 0 {
		completion(map[string]store.Product{}, nil)
		return
	}

	m.mu.Lock()

	if cached, ok := m.fromCacheLocked(identifiers); ok {
		m.mu.Unlock()
		completion(cached, nil)
		return
	}

	key := setKey(identifiers)
	if req, ok := m.inflight[key]; ok {
		req.completions = append(req.completions, completion)
		m.mu.Unlock()
		return
	}

	req := &inflightRequest{completions: []Completion{completion}}
	m.inflight[key] = req
	m.mu.Unlock()

	storeReq := m.fetcher.FetchProducts(identifiers, func(products []store.Product, err error) {
		m.resolve(key, req, identifiers, products, err)
	})

	m.mu.Lock()
	if req.done {
		// Resolved synchronously before we got the handle back.
		m.mu.Unlock()
		return
	}
	req.request = storeReq
	req.timer = time.AfterFunc(m.timeout, func() { m.timeOut(key, req) })
	m.mu.Unlock()
}

func (m *Manager) fromCacheLocked(identifiers []string) (map[string]store.Product, bool) {
	result := make(map[string]store.Product, len(identifiers))
	for _, id := range identifiers {
		p, ok := m.cache[id]
		if !ok {
			return nil, false
		}
		result[id] = p
	}
	return result, true
}

func (m *Manager) resolve(key string, req *inflightRequest, identifiers []string, products []store.Product, err error) {
	m.mu.Lock()
	if req.done {
		m.mu.Unlock()
		return
	}
	req.done = true
	if m.inflight[key] == req {
		delete(m.inflight, key)
	}
	if req.timer != nil {
		req.timer.Stop()
	}

	var result map[string]store.Product
	if err == nil {
		for _, p := range products {
			m.cache[p.Identifier] = p
		}
		result = make(map[string]store.Product, len(identifiers))
		for _, id := range identifiers {
			if p, cached := m.cache[id]; cached {
				result[id] = p
			}
		}
	}
	completions := req.completions
	m.mu.Unlock()

	if err != nil {
		err = types.WrapError(types.ErrStoreProblem, err, "products request failed")
		result = map[string]store.Product{}
	}
	for _, c := range completions {
		c(result, err)
	}
}

// timeOut cancels the underlying store request and resolves every attached
// completion with an empty result and a timeout error. The result is
// synthesized locally; the store request is never waited on again.
func (m *Manager) timeOut(key string, req *inflightRequest) {
	m.mu.Lock()
	if req.done {
		m.mu.Unlock()
		return
	}
	req.done = true
	if m.inflight[key] == req {
		delete(m.inflight, key)
	}
	storeReq := req.request
	completions := req.completions
	m.mu.Unlock()

	glog.Warningf("products request %q timed out after %s", key, m.timeout)
	if storeReq != nil {
		storeReq.Cancel()
	}
	err := types.NewError(types.ErrProductRequestTimedOut, "products request timed out after %s", m.timeout)
	for _, c := range completions {
		c(map[string]store.Product{}, err)
	}
}
