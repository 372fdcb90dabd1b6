package domain

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind classifies a media item.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindGIF   MediaKind = "gif"
)

// AllMediaKinds returns every supported kind in stable order.
func AllMediaKinds() []MediaKind {
	return []MediaKind{MediaKindImage, MediaKindVideo, MediaKindGIF}
}

// ParseMediaKinds parses a comma-separated kind list such as "image,video".
// An empty input selects all kinds.
func ParseMediaKinds(s string) ([]MediaKind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AllMediaKinds(), nil
	}
	seen := make(map[MediaKind]bool)
	var kinds []MediaKind
	for _, part := range strings.Split(s, ",") {
		k := MediaKind(strings.ToLower(strings.TrimSpace(part)))
		switch k {
		case MediaKindImage, MediaKindVideo, MediaKindGIF:
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		case "":
			continue
		default:
			return nil, fmt.Errorf("unknown media kind: %q", part)
		}
	}
	if len(kinds) == 0 {
		return AllMediaKinds(), nil
	}
	return kinds, nil
}

// MediaItem is a single downloadable media entry discovered for a user.
// Video variants are already reduced to the single best MP4 before a
// MediaItem is exposed.
type MediaItem struct {
	ID           string    `json:"id"`       // "<tweetID>_<mediaID>"
	TweetID      string    `json:"tweet_id"`
	MediaID      string    `json:"media_id"`
	Username     string    `json:"username"`
	Kind         MediaKind `json:"kind"`
	URL          string    `json:"url"` // always absolute
	CreatedAt    string    `json:"created_at,omitempty"`
	FilenameHint string    `json:"filename_hint,omitempty"`
}

// DedupKey identifies a media item for de-duplication inside a scrape
// result. Two items with the same tweet, kind and URL are the same item.
func (m MediaItem) DedupKey() string {
	return m.TweetID + "|" + string(m.Kind) + "|" + m.URL
}

// DedupMediaItems removes duplicates by (tweetId, kind, url), preserving
// first-seen order.
func DedupMediaItems(items []MediaItem) []MediaItem {
	seen := make(map[string]bool, len(items))
	out := make([]MediaItem, 0, len(items))
	for _, it := range items {
		key := it.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

// FilterMediaKinds keeps only items whose kind is in the allowed set.
// An empty allowed set keeps everything.
func FilterMediaKinds(items []MediaItem, kinds []MediaKind) []MediaItem {
	if len(kinds) == 0 {
		return items
	}
	allowed := make(map[MediaKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	out := make([]MediaItem, 0, len(items))
	for _, it := range items {
		if allowed[it.Kind] {
			out = append(out, it)
		}
	}
	return out
}

// Timestamp returns the current time formatted as ISO-8601 (UTC).
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
