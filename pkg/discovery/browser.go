package discovery

import (
	"context"
	"strings"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for LocalSync servers. The channel is closed when ctx
	// is done.
	Browse(ctx context.Context) (<-chan *ServerService, error)

	// FindByFingerprint returns the first server advertising fingerprint.
	FindByFingerprint(ctx context.Context, fingerprint string) (*ServerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindByFingerprint when ctx has no deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}

// FilterFunc is a function that filters browse results.
type FilterFunc func(*ServerService) bool

// FilterPairing returns a filter that matches servers with an open pairing
// window.
func FilterPairing() FilterFunc {
	return func(svc *ServerService) bool {
		return svc.Pairing
	}
}

// FilterByFingerprint returns a filter that matches one server.
func FilterByFingerprint(fingerprint string) FilterFunc {
	return func(svc *ServerService) bool {
		return strings.EqualFold(svc.Fingerprint, fingerprint)
	}
}

// FilterBrowseResults filters a channel of services. The returned channel
// is closed when in is closed or ctx is done.
func FilterBrowseResults(ctx context.Context, in <-chan *ServerService, filter FilterFunc) <-chan *ServerService {
	out := make(chan *ServerService)
	go func() {
		defer close(out)
		for svc := range in {
			if !filter(svc) {
				continue
			}
			select {
			case out <- svc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
