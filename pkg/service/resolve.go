package service

import (
	"context"
	"fmt"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/discovery"
)

// ResolveAddress looks up the address of the server whose certificate is
// pinned in store. Before pairing, the first server with an open pairing
// window is used instead.
func ResolveAddress(ctx context.Context, browser discovery.Browser, store *cert.TrustStore) (string, error) {
	if accepted := store.Accepted(); accepted != nil {
		svc, err := browser.FindByFingerprint(ctx, cert.Fingerprint(accepted))
		if err != nil {
			return "", err
		}
		return svc.Address(), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := browser.Browse(ctx)
	if err != nil {
		return "", err
	}
	for svc := range discovery.FilterBrowseResults(ctx, results, discovery.FilterPairing()) {
		return svc.Address(), nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", discovery.ErrNotFound, err)
	}
	return "", discovery.ErrNotFound
}
