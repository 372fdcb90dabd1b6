package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strconv"

	"github.com/iconidentify/twmd/internal/domain"
)

const legacyTimelinePath = "/1.1/statuses/user_timeline.json"

// fetchLegacyTimeline walks the v1.1 user timeline when GraphQL is
// unavailable. Pagination uses max_id, set one below the last tweet id
// of the previous page; tweet ids are beyond int64 browser precision
// but not beyond a big.Int.
func (s *GraphQLScraper) fetchLegacyTimeline(ctx context.Context, username string, maxTweets int) ([]domain.MediaItem, error) {
	var items []domain.MediaItem
	tweetsSeen := 0
	maxID := ""

	for round := 0; round < maxTimelineRounds; round++ {
		count := maxTweets - tweetsSeen
		if count > 200 {
			count = 200
		}
		if count <= 0 {
			break
		}

		q := url.Values{}
		q.Set("screen_name", username)
		q.Set("count", strconv.Itoa(count))
		q.Set("include_rts", "false")
		q.Set("exclude_replies", "true")
		q.Set("tweet_mode", "extended")
		q.Set("include_ext_alt_text", "true")
		if maxID != "" {
			q.Set("max_id", maxID)
		}

		status, body, err := s.requestJSON(ctx, legacyTimelinePath, q)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("legacy timeline failed with status %d: %s", status, truncate(string(body), 200))
		}

		var tweets []legacyTweet
		if err := json.Unmarshal(body, &tweets); err != nil {
			return nil, fmt.Errorf("decode legacy timeline: %w", err)
		}
		if len(tweets) == 0 {
			break
		}

		for _, tweet := range tweets {
			tweetsSeen++
			items = append(items, tweetMediaItems(tweet, username, "")...)
		}

		next, err := decrementID(tweets[len(tweets)-1].IDStr)
		if err != nil {
			break
		}
		if next == maxID {
			break
		}
		maxID = next
	}
	return items, nil
}

func decrementID(id string) (string, error) {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return "", fmt.Errorf("non-numeric tweet id %q", id)
	}
	return n.Sub(n, big.NewInt(1)).String(), nil
}
