package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/iconidentify/twmd/internal/domain"
	"github.com/iconidentify/twmd/internal/session"
)

// Config holds GraphQL scraper configuration.
type Config struct {
	// BearerToken overrides the built-in default web bearer.
	BearerToken string
	UserAgent   string
	HTTPTimeout time.Duration
}

// GraphQLScraper resolves a handle to its media inventory through the
// platform's internal GraphQL API. It owns a rotating credential state:
// auth triples, bearer candidates and operation ids are all advanced in
// place so retries pick up whatever the last recovery step discovered.
type GraphQLScraper struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string

	// bases and homes are fixed in production; tests point them at a
	// local server.
	bases []string
	homes []string

	sess       *session.Session
	cookieRest string

	triples   []AuthTriple
	tripleIdx int
	bearers   []string
	bearerIdx int
	opIDs     map[string][]string
	features  map[string]bool
}

// NewGraphQLScraper creates the primary scraper.
func NewGraphQLScraper(cfg Config, logger *slog.Logger) *GraphQLScraper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = UserAgent
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	bearer := cfg.BearerToken
	if bearer == "" {
		bearer = DefaultBearerToken
	}
	return &GraphQLScraper{
		client:    &http.Client{Timeout: cfg.HTTPTimeout},
		logger:    logger,
		userAgent: cfg.UserAgent,
		bases: []string{
			"https://x.com/i/api",
			"https://api.x.com",
			"https://twitter.com/i/api",
			"https://api.twitter.com",
		},
		homes:    []string{"https://x.com", "https://twitter.com"},
		bearers:  []string{bearer},
		opIDs:    defaultOperationIDs(),
		features: defaultFeatures(),
	}
}

// Initialize binds the scraper to a session and enumerates its auth
// triples. An anonymous session leaves the triple list empty; guest
// endpoints may still answer.
func (s *GraphQLScraper) Initialize(ctx context.Context, sess *session.Session) error {
	s.sess = sess
	s.triples = ExtractAuthTriples(sess)
	s.tripleIdx = 0

	// Remaining session cookies ride along after the auth pair.
	var rest []string
	if sess != nil {
		for _, c := range sess.Cookies {
			switch strings.ToLower(session.CookieName(c)) {
			case "auth_token", "ct0":
			default:
				rest = append(rest, c)
			}
		}
	}
	s.cookieRest = session.CookieHeader(rest)
	return nil
}

// Close releases nothing for the GraphQL engine; it exists to satisfy
// the scraper contract.
func (s *GraphQLScraper) Close() error { return nil }

// FetchUserMedia returns the de-duplicated media list for one handle,
// at most opts.MaxTweets items, filtered to opts.Kinds, containing only
// content authored by that account.
func (s *GraphQLScraper) FetchUserMedia(ctx context.Context, username string, opts FetchOptions) ([]domain.MediaItem, error) {
	maxTweets := opts.MaxTweets
	if maxTweets <= 0 {
		maxTweets = DefaultMaxTweets
	}

	items, gqlErr := s.fetchViaGraphQL(ctx, username, maxTweets)
	if gqlErr != nil {
		s.logger.Warn("graphql scrape failed, trying legacy timeline", "username", username, "error", gqlErr)
		legacyItems, legacyErr := s.fetchLegacyTimeline(ctx, username, maxTweets)
		if legacyErr != nil {
			return nil, fmt.Errorf("graphql: %w; legacy: %v", gqlErr, legacyErr)
		}
		items = legacyItems
	}

	items = domain.DedupMediaItems(items)
	items = domain.FilterMediaKinds(items, opts.Kinds)
	if len(items) > maxTweets {
		items = items[:maxTweets]
	}
	return items, nil
}

func (s *GraphQLScraper) fetchViaGraphQL(ctx context.Context, username string, maxTweets int) ([]domain.MediaItem, error) {
	userID, err := s.resolveUserID(ctx, username)
	if err != nil {
		return nil, err
	}

	items, err := s.fetchTimeline(ctx, OpUserMedia, username, userID, maxTweets)
	if err == nil && len(items) > 0 {
		return items, nil
	}
	// The media tab can be empty or gated while the main timeline works.
	tweetItems, tweetsErr := s.fetchTimeline(ctx, OpUserTweets, username, userID, maxTweets)
	if tweetsErr != nil {
		if err != nil {
			return nil, fmt.Errorf("%s: %w; %s: %v", OpUserMedia, err, OpUserTweets, tweetsErr)
		}
		return items, nil
	}
	if len(tweetItems) > 0 {
		return tweetItems, nil
	}
	return items, err
}

// resolveUserID tries UserByScreenName with every known query id; the
// first response carrying data.user.result.rest_id wins. The id list is
// re-read on every pass so ids discovered by a metadata refresh inside
// callGraphQL join the rotation immediately.
func (s *GraphQLScraper) resolveUserID(ctx context.Context, username string) (string, error) {
	var lastErr error
	tried := make(map[string]bool)
	for {
		opID := ""
		for _, id := range s.opIDs[OpUserByScreenName] {
			if !tried[id] {
				opID = id
				break
			}
		}
		if opID == "" {
			break
		}
		tried[opID] = true

		body, err := s.callGraphQL(ctx, OpUserByScreenName, opID, map[string]any{
			"screen_name": username,
		})
		if err != nil {
			lastErr = err
			continue
		}
		var resp struct {
			Data struct {
				User struct {
					Result struct {
						RestID string `json:"rest_id"`
					} `json:"result"`
				} `json:"user"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			lastErr = fmt.Errorf("decode %s: %w", OpUserByScreenName, err)
			continue
		}
		if id := resp.Data.User.Result.RestID; id != "" {
			return id, nil
		}
		lastErr = fmt.Errorf("user %q not found", username)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no %s query ids known", OpUserByScreenName)
	}
	return "", lastErr
}

// maxTimelineRounds guards against cursor loops.
const maxTimelineRounds = 30

func (s *GraphQLScraper) fetchTimeline(ctx context.Context, opName, username, userID string, maxTweets int) ([]domain.MediaItem, error) {
	opIDs := s.opIDs[opName]
	if len(opIDs) == 0 {
		return nil, fmt.Errorf("no %s query ids known", opName)
	}

	var items []domain.MediaItem
	cursor := ""
	tweetsSeen := 0
	for round := 0; round < maxTimelineRounds; round++ {
		count := maxTweets - tweetsSeen
		if count > 100 {
			count = 100
		}
		vars := map[string]any{
			"userId":                 userID,
			"count":                  count,
			"includePromotedContent": false,
			"withClientEventToken":   false,
			"withVoice":              true,
		}
		if cursor != "" {
			vars["cursor"] = cursor
		}

		body, err := s.callGraphQL(ctx, opName, opIDs[0], vars)
		if err != nil {
			return nil, err
		}
		page, err := parseTimelinePage(body)
		if err != nil {
			return nil, err
		}

		for _, tweet := range page.Tweets {
			tweetsSeen++
			items = append(items, tweetMediaItems(tweet, username, userID)...)
		}

		if page.NextCursor == "" || page.NextCursor == cursor || tweetsSeen >= maxTweets {
			break
		}
		cursor = page.NextCursor
	}
	return items, nil
}

// maxFeatureRounds bounds the features-cannot-be-null negotiation.
const maxFeatureRounds = 4

// callGraphQL performs one logical GraphQL request with feature-flag
// negotiation and the auth recovery ladder: next triple, ct0 refresh,
// next bearer, then a single metadata refresh pass.
func (s *GraphQLScraper) callGraphQL(ctx context.Context, opName, opID string, vars map[string]any) ([]byte, error) {
	rec := recoveryState{}
	for featureRound := 0; featureRound < maxFeatureRounds; featureRound++ {
		varsJSON, err := json.Marshal(vars)
		if err != nil {
			return nil, fmt.Errorf("encode variables: %w", err)
		}
		featJSON, err := json.Marshal(s.features)
		if err != nil {
			return nil, fmt.Errorf("encode features: %w", err)
		}
		q := url.Values{}
		q.Set("variables", string(varsJSON))
		q.Set("features", string(featJSON))

		// Once a metadata refresh has run, present the freshest known
		// query id instead of the one this call started with.
		reqID := opID
		if ids := s.opIDs[opName]; rec.metadataTried && len(ids) > 0 {
			reqID = ids[0]
		}

		status, body, reqErr := s.requestJSON(ctx, "/graphql/"+reqID+"/"+opName, q)
		if reqErr != nil {
			return nil, reqErr
		}

		if missing := missingFeatureNames(body); len(missing) > 0 {
			for _, name := range missing {
				s.features[name] = false
			}
			s.logger.Debug("disabled graphql features", "operation", opName, "features", missing)
			continue
		}

		if isAuthFailure(status, body) {
			if s.tryRecover(ctx, &rec) {
				featureRound-- // recovery retries do not consume feature rounds
				continue
			}
			return nil, fmt.Errorf("%s unauthorized after exhausting credentials (status %d), bases tried: %s",
				opName, status, strings.Join(s.bases, ", "))
		}

		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("%s failed with status %d: %s", opName, status, truncate(string(body), 200))
		}
		return body, nil
	}
	return nil, fmt.Errorf("%s: feature negotiation did not converge after %d rounds", opName, maxFeatureRounds)
}

// requestJSON tries every URL base in sequence and succeeds on the
// first parseable application/json 2xx response. A JSON error response
// (401 and friends) is returned with its status for recovery handling;
// pure transport failure aggregates all bases tried.
func (s *GraphQLScraper) requestJSON(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	var errs []string
	lastStatus := 0
	var lastBody []byte
	for _, base := range s.bases {
		reqURL := base + path
		if len(q) > 0 {
			reqURL += "?" + q.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("create request: %w", err)
		}
		s.setHeaders(req, base)

		resp, err := s.client.Do(req)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", base, err))
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: read body: %v", base, err))
			continue
		}
		if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") || !json.Valid(body) {
			errs = append(errs, fmt.Sprintf("%s: status %d, non-JSON response", base, resp.StatusCode))
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.StatusCode, body, nil
		}
		lastStatus = resp.StatusCode
		lastBody = body
	}
	if lastStatus != 0 {
		return lastStatus, lastBody, nil
	}
	return 0, nil, fmt.Errorf("all bases failed: %s", strings.Join(errs, "; "))
}

func (s *GraphQLScraper) setHeaders(req *http.Request, base string) {
	platform := session.DomainTwitter
	if strings.Contains(base, session.DomainX) {
		platform = session.DomainX
	}

	bearer, _ := url.QueryUnescape(s.currentBearer())
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("x-twitter-active-user", "yes")
	req.Header.Set("x-twitter-client-language", "en")
	req.Header.Set("Referer", "https://"+platform+"/")
	req.Header.Set("Origin", "https://"+platform)
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	t := s.currentTriple()
	if t.CT0 != "" {
		req.Header.Set("x-csrf-token", t.CT0)
	}
	if t.AuthToken != "" {
		req.Header.Set("x-twitter-auth-type", "OAuth2Session")
		cookie := "auth_token=" + t.AuthToken + "; ct0=" + t.CT0
		if s.cookieRest != "" {
			cookie += "; " + s.cookieRest
		}
		req.Header.Set("Cookie", cookie)
	}
	if t.GuestToken != "" {
		req.Header.Set("x-guest-token", t.GuestToken)
	}
}

func (s *GraphQLScraper) currentTriple() AuthTriple {
	if s.tripleIdx < len(s.triples) {
		return s.triples[s.tripleIdx]
	}
	return AuthTriple{}
}

func (s *GraphQLScraper) currentBearer() string {
	if s.bearerIdx < len(s.bearers) {
		return s.bearers[s.bearerIdx]
	}
	return DefaultBearerToken
}

func (s *GraphQLScraper) nextTriple() bool {
	if s.tripleIdx+1 < len(s.triples) {
		s.tripleIdx++
		return true
	}
	return false
}

func (s *GraphQLScraper) nextBearer() bool {
	if s.bearerIdx+1 < len(s.bearers) {
		s.bearerIdx++
		return true
	}
	return false
}

// recoveryState tracks the per-request recovery ladder.
type recoveryState struct {
	step          int
	metadataTried bool
}

func (s *GraphQLScraper) tryRecover(ctx context.Context, rec *recoveryState) bool {
	for {
		switch rec.step {
		case 0:
			rec.step++
			if s.nextTriple() {
				s.logger.Debug("auth recovery: advanced to next auth triple", "triple", s.tripleIdx)
				return true
			}
		case 1:
			rec.step++
			if err := s.refreshCT0(ctx); err == nil {
				s.logger.Debug("auth recovery: refreshed ct0")
				return true
			}
		case 2:
			rec.step++
			if s.nextBearer() {
				s.logger.Debug("auth recovery: advanced to next bearer", "bearer", s.bearerIdx)
				return true
			}
		default:
			if !rec.metadataTried {
				rec.metadataTried = true
				if err := s.refreshMetadata(ctx); err == nil {
					s.logger.Debug("auth recovery: refreshed client metadata")
					return true
				}
			}
			return false
		}
	}
}

// refreshCT0 fetches the platform home page with only the current
// auth_token and harvests a fresh ct0 from Set-Cookie.
func (s *GraphQLScraper) refreshCT0(ctx context.Context) error {
	t := s.currentTriple()
	if t.AuthToken == "" {
		return fmt.Errorf("no auth token to refresh ct0 with")
	}
	var lastErr error
	for _, home := range s.homes {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, home+"/", nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", s.userAgent)
		req.Header.Set("Cookie", "auth_token="+t.AuthToken)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		cookies := resp.Cookies()
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		for _, c := range cookies {
			if strings.EqualFold(c.Name, "ct0") && c.Value != "" {
				if s.tripleIdx < len(s.triples) {
					s.triples[s.tripleIdx].CT0 = c.Value
				} else {
					s.triples = append(s.triples, AuthTriple{AuthToken: t.AuthToken, CT0: c.Value})
				}
				return nil
			}
		}
		lastErr = fmt.Errorf("%s did not set ct0", home)
	}
	return lastErr
}

// authenticateRe matches 401 bodies that demand authentication.
var authenticateRe = regexp.MustCompile(`(?i)authenticate`)

func isAuthFailure(status int, body []byte) bool {
	lower := strings.ToLower(string(body))
	switch status {
	case http.StatusUnauthorized:
		if authenticateRe.MatchString(lower) {
			return true
		}
		var resp struct {
			Errors []apiError `json:"errors"`
		}
		if err := json.Unmarshal(body, &resp); err == nil {
			for _, e := range resp.Errors {
				if e.Code == 32 {
					return true
				}
			}
		}
		return false
	case http.StatusNotFound:
		return strings.Contains(lower, "not found") || strings.Contains(lower, "page does not exist")
	}
	return false
}

var missingFeaturesRe = regexp.MustCompile(`features cannot be null:\s*([A-Za-z0-9_,\s]+)`)

// missingFeatureNames pulls flag names out of a "features cannot be
// null: a, b, c" error message anywhere in the response.
func missingFeatureNames(body []byte) []string {
	m := missingFeaturesRe.FindSubmatch(body)
	if m == nil {
		return nil
	}
	var names []string
	for _, part := range strings.FieldsFunc(string(m[1]), func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' }) {
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}

func defaultFeatures() map[string]bool {
	return map[string]bool{
		"responsive_web_graphql_timeline_navigation_enabled":                      true,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
		"responsive_web_graphql_exclude_directive_enabled":                        true,
		"responsive_web_edit_tweet_api_enabled":                                   true,
		"responsive_web_enhance_cards_enabled":                                    false,
		"creator_subscriptions_tweet_preview_api_enabled":                         true,
		"freedom_of_speech_not_reach_fetch_enabled":                               true,
		"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
		"longform_notetweets_consumption_enabled":                                 true,
		"longform_notetweets_inline_media_enabled":                                true,
		"longform_notetweets_rich_text_read_enabled":                              true,
		"standardized_nudges_misinfo":                                             true,
		"tweet_awards_web_tipping_enabled":                                        false,
		"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
		"verified_phone_label_enabled":                                            false,
		"view_counts_everywhere_api_enabled":                                      true,
		"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
		"communities_web_enable_tweet_community_results_fetch":                    true,
		"hidden_profile_subscriptions_enabled":                                    true,
		"highlights_tweets_tab_ui_enabled":                                        true,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
