package keepa

import "errors"

// Error taxonomy for the price API client. Callers branch with errors.Is.
var (
	// ErrInvalidASIN means the ASIN failed local validation and no request
	// was made (no tokens spent).
	ErrInvalidASIN = errors.New("keepa: invalid asin")

	// ErrTokensExhausted means the token bucket could not cover the request
	// cost within the caller's wait budget.
	ErrTokensExhausted = errors.New("keepa: tokens exhausted")

	// ErrDealAccessDenied means the deal endpoint is not available on the
	// current API plan (HTTP 404). Callers should fall back permanently to
	// product queries.
	ErrDealAccessDenied = errors.New("keepa: deal endpoint not available on this plan")

	// ErrUpstreamThrottled means the API returned 429 after the local bucket
	// allowed the call; the client pauses and retries once before surfacing.
	ErrUpstreamThrottled = errors.New("keepa: upstream throttled")

	// ErrUpstreamUnavailable means a 5xx or transport failure persisted
	// through retries.
	ErrUpstreamUnavailable = errors.New("keepa: upstream unavailable")

	// ErrInvalidResponse means the API answered 2xx but the body could not
	// be decoded or lacked the expected product payload. Never retried.
	ErrInvalidResponse = errors.New("keepa: invalid response")
)
