// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retry provides the bounded ask-validate-retry loop shared by
// every component that drives the model oracle.
package retry

import "context"

// Do invokes fn up to attempts times until fn reports done. There is no
// backoff between attempts; transient oracle failures surface as empty
// responses and are simply asked again. A non-nil error from fn aborts
// the loop immediately and is returned to the caller; this is how
// cancellation propagates out of nested retry loops. Do returns whether
// fn ever reported done.
func Do(ctx context.Context, attempts int, fn func() (bool, error)) (bool, error) {
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		done, err := fn()
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
	}
	return false, nil
}
