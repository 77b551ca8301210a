package crawler

import (
	"net/http"
)

//go:generate mockgen -package mock_crawler -destination mocks/mock.go github.com/mycok/zhsearch/crawler URLGetter,PrivateNetworkDetector

// URLGetter is implemented by objects that can perform HTTP requests.
type URLGetter interface {
	Do(req *http.Request) (*http.Response, error)
}

// PrivateNetworkDetector is implemented by objects that can detect whether a
// host resolves to a private network address.
type PrivateNetworkDetector interface {
	IsNetworkPrivate(host string) (bool, error)
}

// StateStore persists the frontier of a stopped crawl.
type StateStore interface {
	// Save replaces any previously saved state.
	Save(state *FrontierState) error

	// Load returns the saved state or ErrNoState.
	Load() (*FrontierState, error)

	// Clear removes the saved state. Clearing an absent state is not an
	// error.
	Clear() error
}
