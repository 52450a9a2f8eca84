// Package admission provides per-key rate limiting with priority queueing
// for calls to rate-limited upstream providers.
//
// A Controller enforces a fixed-window request budget per resource key.
// Calls submitted while budget remains execute immediately; the rest wait in
// a bounded priority queue that a background drain loop services as the
// window refills. Queued calls can carry a deadline and are evicted, not
// preempted, when it passes.
//
// Admission failures are hard errors: callers of Submit see ErrQueueFull,
// ErrQueueTimeout or ErrRateLimitExceeded directly and decide whether to
// retry at a higher level. Soft degradation belongs to the resilience
// package, which composes with this one.
//
//	ctrl := admission.New()
//	defer ctrl.Close()
//
//	ctrl.SetPolicy("provider-a", admission.Policy{
//	    MaxRequests: 10,
//	    Window:      time.Second,
//	})
//
//	result, err := ctrl.Submit(ctx, "provider-a", fetchListing,
//	    admission.WithPriority(admission.PriorityHigh),
//	    admission.WithQueueTimeout(5*time.Second),
//	)
package admission
