package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/iconidentify/twmd/internal/domain"
	"github.com/iconidentify/twmd/internal/session"
)

const (
	browserPageTimeout = 30 * time.Second
	initialPageWait    = 1500 * time.Millisecond
	scrollRoundWait    = 900 * time.Millisecond
	maxScrollRounds    = 14
	maxStaleRounds     = 3
)

// BrowserScraper renders the profile media page in a headless browser
// and extracts media URLs from the DOM. It is the fallback for when
// the structured APIs refuse to answer.
type BrowserScraper struct {
	logger    *slog.Logger
	userAgent string

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	sess     *session.Session
	closed   bool
}

// NewBrowserScraper creates the headless-browser engine. The browser
// process is not launched until Initialize.
func NewBrowserScraper(logger *slog.Logger) *BrowserScraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserScraper{logger: logger, userAgent: UserAgent}
}

// Initialize launches the browser and remembers the session whose
// cookies will be injected into every page.
func (b *BrowserScraper) Initialize(ctx context.Context, sess *session.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bin, found := launcher.LookPath()
	if !found {
		return fmt.Errorf("%w: no Chrome or Chromium executable on this system", domain.ErrBrowserNotFound)
	}

	b.launcher = launcher.New().
		Bin(bin).
		Headless(true).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	controlURL, err := b.launcher.Context(ctx).Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	b.browser = browser
	b.sess = sess
	return nil
}

// Close tears down the browser process. Safe to call more than once.
func (b *BrowserScraper) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return err
}

// browserCandidate is what the in-page extraction script emits.
type browserCandidate struct {
	TweetID   string `json:"tweetId"`
	URL       string `json:"url"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"createdAt"`
}

// FetchUserMedia renders the media tab and a media-filtered search on
// both platform domains; the first page yielding any candidates wins.
func (b *BrowserScraper) FetchUserMedia(ctx context.Context, username string, opts FetchOptions) ([]domain.MediaItem, error) {
	b.mu.Lock()
	browser := b.browser
	b.mu.Unlock()
	if browser == nil {
		return nil, fmt.Errorf("browser scraper not initialized")
	}

	maxTweets := opts.MaxTweets
	if maxTweets <= 0 {
		maxTweets = DefaultMaxTweets
	}

	var pageErrs []string
	for _, pageURL := range candidatePageURLs(username) {
		candidates, err := b.scrapePage(ctx, browser, pageURL, username, maxTweets)
		if err != nil {
			pageErrs = append(pageErrs, fmt.Sprintf("%s: %v", pageURL, err))
			continue
		}
		if len(candidates) == 0 {
			pageErrs = append(pageErrs, fmt.Sprintf("%s: no media found", pageURL))
			continue
		}
		items := candidateItems(candidates, username)
		items = domain.DedupMediaItems(items)
		items = domain.FilterMediaKinds(items, opts.Kinds)
		if len(items) > maxTweets {
			items = items[:maxTweets]
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNoScraperResult, strings.Join(pageErrs, "; "))
}

func candidatePageURLs(username string) []string {
	search := url.QueryEscape("from:" + username + " filter:media")
	return []string{
		"https://" + session.DomainX + "/" + username + "/media",
		"https://" + session.DomainTwitter + "/" + username + "/media",
		"https://" + session.DomainX + "/search?q=" + search + "&src=typed_query&f=live",
		"https://" + session.DomainTwitter + "/search?q=" + search + "&src=typed_query&f=live",
	}
}

func (b *BrowserScraper) scrapePage(ctx context.Context, browser *rod.Browser, pageURL, username string, limit int) ([]browserCandidate, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx).Timeout(browserPageTimeout)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if err := page.SetCookies(b.cookieParams()); err != nil {
		return nil, fmt.Errorf("inject cookies: %w", err)
	}

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := sleepCtx(ctx, initialPageWait); err != nil {
		return nil, err
	}

	collected := make(map[string]browserCandidate)
	stale := 0
	for round := 0; round < maxScrollRounds; round++ {
		batch, err := extractCandidates(page, username)
		if err != nil {
			return nil, err
		}
		added := 0
		for _, c := range batch {
			key := c.TweetID + "|" + c.URL
			if _, ok := collected[key]; !ok {
				collected[key] = c
				added++
			}
		}
		if len(collected) >= limit {
			break
		}
		if added == 0 {
			stale++
			if stale >= maxStaleRounds {
				break
			}
		} else {
			stale = 0
		}

		if _, err := page.Eval(`() => window.scrollBy(0, window.innerHeight * 2.5)`); err != nil {
			return nil, fmt.Errorf("scroll: %w", err)
		}
		if err := sleepCtx(ctx, scrollRoundWait); err != nil {
			return nil, err
		}
	}

	out := make([]browserCandidate, 0, len(collected))
	for _, c := range collected {
		out = append(out, c)
	}
	return out, nil
}

// cookieParams materializes each session cookie against both platform
// domains; the media pages live on either depending on redirects.
func (b *BrowserScraper) cookieParams() []*proto.NetworkCookieParam {
	if b.sess == nil {
		return nil
	}
	var params []*proto.NetworkCookieParam
	for _, c := range b.sess.Cookies {
		name := session.CookieName(c)
		value := session.CookieValue(c)
		if name == "" || value == "" {
			continue
		}
		for _, d := range []string{session.DomainX, session.DomainTwitter} {
			params = append(params, &proto.NetworkCookieParam{
				Name:   name,
				Value:  value,
				Domain: "." + d,
				Path:   "/",
				Secure: true,
			})
		}
	}
	return params
}

// extractTweetsJS runs inside the page. It mirrors the rendered media
// timeline: per tweet article, enforce single authorship, then collect
// image and video sources.
const extractTweetsJS = `(handle) => {
	const target = handle.toLowerCase();
	const out = [];
	for (const article of document.querySelectorAll('article[data-testid="tweet"]')) {
		const social = article.querySelector('[data-testid="socialContext"]');
		if (social) {
			const t = (social.textContent || '').toLowerCase();
			if (t.includes('retweeted') || t.includes('reposted') ||
				t.includes('转推') || t.includes('リポスト') || t.includes('리트윗')) {
				continue;
			}
		}
		const links = [];
		for (const a of article.querySelectorAll('a[href]')) {
			const m = (a.getAttribute('href') || '').match(/^\/([A-Za-z0-9_]+)\/status\/(\d+)/);
			if (m) links.push({ user: m[1].toLowerCase(), id: m[2] });
		}
		if (links.length === 0) continue;
		const primary = links[0];
		if (primary.user !== target) continue;
		if (links.some((l) => l.user !== target)) continue;
		const timeEl = article.querySelector('time[datetime]');
		const createdAt = timeEl ? (timeEl.getAttribute('datetime') || '') : '';
		for (const img of article.querySelectorAll('img')) {
			const src = img.getAttribute('src') || '';
			if (!src.includes('pbs.twimg.com/media/')) continue;
			let u;
			try { u = new URL(src); } catch { continue; }
			u.searchParams.set('name', 'orig');
			out.push({ tweetId: primary.id, url: u.toString(), kind: 'image', createdAt });
		}
		for (const v of article.querySelectorAll('video[src], video source[src]')) {
			const src = v.getAttribute('src') || '';
			if (!src.includes('video.twimg.com') && !src.endsWith('.mp4') && !src.endsWith('.m3u8')) continue;
			const kind = (src.includes('/tweet_video/') || src.endsWith('.gif')) ? 'gif' : 'video';
			out.push({ tweetId: primary.id, url: src, kind, createdAt });
		}
	}
	return JSON.stringify(out);
}`

func extractCandidates(page *rod.Page, username string) ([]browserCandidate, error) {
	res, err := page.Eval(extractTweetsJS, username)
	if err != nil {
		return nil, fmt.Errorf("extract tweets: %w", err)
	}
	var out []browserCandidate
	if err := json.Unmarshal([]byte(res.Value.Str()), &out); err != nil {
		return nil, fmt.Errorf("decode extraction result: %w", err)
	}
	return out, nil
}

func candidateItems(candidates []browserCandidate, username string) []domain.MediaItem {
	items := make([]domain.MediaItem, 0, len(candidates))
	for _, c := range candidates {
		var kind domain.MediaKind
		switch c.Kind {
		case "image":
			kind = domain.MediaKindImage
		case "video":
			kind = domain.MediaKindVideo
		case "gif":
			kind = domain.MediaKindGIF
		default:
			continue
		}
		mediaID := mediaIDFromURL(c.URL)
		items = append(items, domain.MediaItem{
			ID:        c.TweetID + "_" + mediaID,
			TweetID:   c.TweetID,
			MediaID:   mediaID,
			Username:  username,
			Kind:      kind,
			URL:       c.URL,
			CreatedAt: c.CreatedAt,
		})
	}
	return items
}

// mediaIDFromURL derives a stable media id from the URL's file name,
// query and extension stripped.
func mediaIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "media"
	}
	base := path.Base(u.Path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" || base == "/" {
		return "media"
	}
	return base
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
