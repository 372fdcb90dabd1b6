// Package twitter resolves account handles to media inventories against
// the platform's internal GraphQL API, with a legacy REST fallback and a
// headless-browser engine for when the structured APIs are closed off.
package twitter

import (
	"github.com/iconidentify/twmd/internal/domain"
)

// Desktop user agent presented on every request, API and browser alike.
const UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultBearerToken is the web client's public bearer. It can be
// overridden via configuration and is replaced at runtime when the
// metadata refresh pass discovers a newer one.
const DefaultBearerToken = "AAAAAAAAAAAAAAAAAAAAAFQODgEAAAAAVHTp76lzh3rFzcHbmHVvQxYYpTw%3DckAlMINMjmCwxUcaXbAN4XqJVdgMJaHqNOFgPMK0zN1qLqLQCF"

// GraphQL operations the scraper depends on, with last-known query ids.
// Stale ids are refreshed at runtime by scanning the client bundles.
const (
	OpUserByScreenName = "UserByScreenName"
	OpUserMedia        = "UserMedia"
	OpUserTweets       = "UserTweets"
)

func defaultOperationIDs() map[string][]string {
	return map[string][]string{
		OpUserByScreenName: {"x3RLKWW1Tl7JgU7YtGxuzw"},
		OpUserMedia:        {"ophTtKkfXcUKnXlxh9fU5w"},
		OpUserTweets:       {"bbmwRjH_roUoWsvbgAJY9g"},
	}
}

// FetchOptions bounds a single user-media fetch.
type FetchOptions struct {
	// MaxTweets caps how many tweets are inspected. Zero means the
	// scraper default.
	MaxTweets int
	// Kinds filters the returned media; empty keeps every kind.
	Kinds []domain.MediaKind
}

// DefaultMaxTweets is used when FetchOptions.MaxTweets is zero.
const DefaultMaxTweets = 200
