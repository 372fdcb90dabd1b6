package twitter

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/iconidentify/twmd/internal/domain"
)

// apiError is the error shape the platform embeds in JSON responses.
type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// legacyTweet is the tweet shape shared by the GraphQL timeline payloads
// and the legacy REST timeline.
type legacyTweet struct {
	IDStr     string `json:"id_str"`
	UserIDStr string `json:"user_id_str"`
	CreatedAt string `json:"created_at"`

	// Presence of either marks a retweet; the content is irrelevant.
	RetweetedStatusResult json.RawMessage `json:"retweeted_status_result,omitempty"`
	RetweetedStatus       json.RawMessage `json:"retweeted_status,omitempty"`

	Entities struct {
		Media []mediaEntity `json:"media"`
	} `json:"entities"`
	ExtendedEntities struct {
		Media []mediaEntity `json:"media"`
	} `json:"extended_entities"`
}

type mediaEntity struct {
	IDStr         string `json:"id_str"`
	Type          string `json:"type"` // photo, video, animated_gif
	MediaURLHTTPS string `json:"media_url_https"`
	VideoInfo     struct {
		Variants []videoVariant `json:"variants"`
	} `json:"video_info"`
}

type videoVariant struct {
	Bitrate     int    `json:"bitrate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// tweetResult is a GraphQL timeline tweet node. TweetWithVisibilityResults
// wraps the real node one level deeper.
type tweetResult struct {
	Typename string       `json:"__typename"`
	RestID   string       `json:"rest_id"`
	Tweet    *tweetResult `json:"tweet"`
	Legacy   legacyTweet  `json:"legacy"`
}

func (t *tweetResult) unwrap() *tweetResult {
	if t.Tweet != nil {
		return t.Tweet
	}
	return t
}

type timelineEntry struct {
	EntryID string `json:"entryId"`
	Content struct {
		EntryType   string `json:"entryType"`
		CursorType  string `json:"cursorType"`
		Value       string `json:"value"`
		ItemContent *struct {
			TweetResults struct {
				Result *tweetResult `json:"result"`
			} `json:"tweet_results"`
		} `json:"itemContent"`
		Items []struct {
			EntryID string `json:"entryId"`
			Item    struct {
				ItemContent struct {
					TweetResults struct {
						Result *tweetResult `json:"result"`
					} `json:"tweet_results"`
				} `json:"itemContent"`
			} `json:"item"`
		} `json:"items"`
	} `json:"content"`
}

type timelineWrap struct {
	Timeline struct {
		Instructions []struct {
			Type    string          `json:"type"`
			Entries []timelineEntry `json:"entries"`
		} `json:"instructions"`
	} `json:"timeline"`
}

// timelineResponse covers both UserTweets- and UserMedia-shaped payloads.
type timelineResponse struct {
	Data struct {
		User struct {
			Result struct {
				TimelineV2 timelineWrap `json:"timeline_v2"`
				Timeline   timelineWrap `json:"timeline"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

// timelinePage is one decoded pagination round.
type timelinePage struct {
	Tweets     []legacyTweet
	NextCursor string
}

// parseTimelinePage walks instructions[].entries[] of a timeline
// response: TimelineTweet items contribute their legacy tweet, an entry
// id starting with cursor-bottom- contributes the next cursor.
func parseTimelinePage(data []byte) (*timelinePage, error) {
	var resp timelineResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}

	wrap := resp.Data.User.Result.TimelineV2
	if len(wrap.Timeline.Instructions) == 0 {
		wrap = resp.Data.User.Result.Timeline
	}

	page := &timelinePage{}
	collect := func(res *tweetResult) {
		if res == nil {
			return
		}
		res = res.unwrap()
		if res.RestID == "" {
			return
		}
		tweet := res.Legacy
		if tweet.IDStr == "" {
			tweet.IDStr = res.RestID
		}
		page.Tweets = append(page.Tweets, tweet)
	}

	for _, instruction := range wrap.Timeline.Instructions {
		for _, entry := range instruction.Entries {
			if strings.HasPrefix(entry.EntryID, "cursor-bottom-") {
				page.NextCursor = entry.Content.Value
				continue
			}
			if entry.Content.ItemContent != nil {
				collect(entry.Content.ItemContent.TweetResults.Result)
			}
			for _, item := range entry.Content.Items {
				collect(item.Item.ItemContent.TweetResults.Result)
			}
		}
	}
	return page, nil
}

// tweetMediaItems filters and maps one tweet to media items. A tweet is
// dropped entirely when it is a retweet, when its author disagrees with
// the resolved user id, or when it carries no media.
func tweetMediaItems(tweet legacyTweet, username, userID string) []domain.MediaItem {
	if len(tweet.RetweetedStatusResult) > 0 || len(tweet.RetweetedStatus) > 0 {
		return nil
	}
	if userID != "" && tweet.UserIDStr != "" && tweet.UserIDStr != userID {
		return nil
	}

	media := tweet.ExtendedEntities.Media
	if len(media) == 0 {
		media = tweet.Entities.Media
	}
	if len(media) == 0 {
		return nil
	}

	var items []domain.MediaItem
	for i, m := range media {
		mediaID := m.IDStr
		if mediaID == "" {
			mediaID = strconv.Itoa(i)
		}
		item := domain.MediaItem{
			ID:        tweet.IDStr + "_" + mediaID,
			TweetID:   tweet.IDStr,
			MediaID:   mediaID,
			Username:  username,
			CreatedAt: tweet.CreatedAt,
		}
		switch m.Type {
		case "photo":
			if m.MediaURLHTTPS == "" {
				continue
			}
			item.Kind = domain.MediaKindImage
			item.URL = withOrigName(m.MediaURLHTTPS)
		case "video", "animated_gif":
			best := bestVariant(m.VideoInfo.Variants)
			if best == "" {
				continue
			}
			item.URL = best
			item.Kind = domain.MediaKindVideo
			if m.Type == "animated_gif" || strings.Contains(urlPath(best), "/tweet_video/") {
				item.Kind = domain.MediaKindGIF
			}
		default:
			continue
		}
		items = append(items, item)
	}
	return items
}

// bestVariant picks the single highest-bitrate variant, preferring MP4
// content types at equal bitrate.
func bestVariant(variants []videoVariant) string {
	best := ""
	bestBitrate := -1
	bestMP4 := false
	for _, v := range variants {
		if v.URL == "" {
			continue
		}
		isMP4 := strings.Contains(v.ContentType, "mp4")
		if v.Bitrate > bestBitrate || (v.Bitrate == bestBitrate && isMP4 && !bestMP4) {
			best = v.URL
			bestBitrate = v.Bitrate
			bestMP4 = isMP4
		}
	}
	return best
}

// withOrigName forces the full-resolution variant of a photo URL.
func withOrigName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("name", "orig")
	u.RawQuery = q.Encode()
	return u.String()
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
