package downloader

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/iconidentify/twmd/internal/domain"
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	extPattern  = regexp.MustCompile(`^[a-z0-9]+$`)
)

// Sanitize makes a string safe for use as a file or directory name on
// every supported OS. Empty results collapse to "unknown".
func Sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

// BuildFilename derives the on-disk name for a media item:
// <tweetId>_<mediaId>.<ext>.
func BuildFilename(item domain.MediaItem) string {
	return Sanitize(item.TweetID) + "_" + Sanitize(item.MediaID) + "." + fileExt(item)
}

// fileExt picks the extension: an explicit ?format= query wins, then the
// URL path suffix, then a per-kind default.
func fileExt(item domain.MediaItem) string {
	if u, err := url.Parse(item.URL); err == nil {
		if format := strings.ToLower(u.Query().Get("format")); extPattern.MatchString(format) {
			return format
		}
		if ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), ".")); extPattern.MatchString(ext) {
			return ext
		}
	}
	switch item.Kind {
	case domain.MediaKindGIF:
		return "gif"
	case domain.MediaKindVideo:
		return "mp4"
	default:
		return "jpg"
	}
}
