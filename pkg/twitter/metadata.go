package twitter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// Client bundles carry the current bearer tokens and GraphQL query ids.
// The home page references them as main.<hash>.js on the static CDN.
var (
	bundleURLRe = regexp.MustCompile(`https?://[a-z0-9.:-]+/[^"'\s]*main[.\w-]*\.js`)
	bearerRe    = regexp.MustCompile(`(?:Bearer%20|Bearer |BEARER_TOKEN:"|"Bearer )(AAAAAAAAA[A-Za-z0-9%_-]+)`)
	bearerLitRe = regexp.MustCompile(`"(AAAAAAAAA[A-Za-z0-9%]{60,})"`)
	queryPairRe = regexp.MustCompile(`queryId\s*:\s*"([A-Za-z0-9_-]{15,30})"\s*,\s*operationName\s*:\s*"([A-Za-z0-9_]+)"`)
	opPathRe    = regexp.MustCompile(`graphql/([A-Za-z0-9_-]{15,30})/(UserByScreenName|UserMedia|UserTweets)`)
)

// refreshMetadata re-derives bearer tokens and operation query ids from
// the live web client: fetch a home page, locate its main bundle
// scripts, and scan them for credential literals. Newly found query ids
// go to the front of their candidate lists.
func (s *GraphQLScraper) refreshMetadata(ctx context.Context) error {
	var lastErr error
	for _, home := range s.homes {
		html, err := s.fetchText(ctx, home+"/")
		if err != nil {
			lastErr = err
			continue
		}
		bundles := bundleURLRe.FindAllString(html, -1)
		if len(bundles) == 0 {
			lastErr = fmt.Errorf("%s: no client bundles found", home)
			continue
		}

		found := false
		for _, bundle := range bundles {
			js, err := s.fetchText(ctx, bundle)
			if err != nil {
				lastErr = err
				continue
			}
			if s.scanBundle(js) {
				found = true
			}
		}
		if found {
			return nil
		}
		lastErr = fmt.Errorf("%s: bundles carried no usable metadata", home)
	}
	return lastErr
}

func (s *GraphQLScraper) scanBundle(js string) bool {
	found := false

	for _, m := range bearerRe.FindAllStringSubmatch(js, -1) {
		if s.addBearer(m[1]) {
			found = true
		}
	}
	for _, m := range bearerLitRe.FindAllStringSubmatch(js, -1) {
		if s.addBearer(m[1]) {
			found = true
		}
	}

	for _, m := range queryPairRe.FindAllStringSubmatch(js, -1) {
		if s.addOperationID(m[2], m[1]) {
			found = true
		}
	}
	for _, m := range opPathRe.FindAllStringSubmatch(js, -1) {
		if s.addOperationID(m[2], m[1]) {
			found = true
		}
	}
	return found
}

// addBearer records a discovered bearer token, newest first, and winds
// the rotation back so the fresh token is the next one presented. The
// stale candidates stay behind it as fallbacks.
func (s *GraphQLScraper) addBearer(token string) bool {
	for _, b := range s.bearers {
		if b == token {
			return false
		}
	}
	s.bearers = append([]string{token}, s.bearers...)
	s.bearerIdx = 0
	s.logger.Debug("discovered bearer token", "count", len(s.bearers))
	return true
}

// addOperationID records a query id for a known operation, newest
// first, and reports whether it was new.
func (s *GraphQLScraper) addOperationID(opName, queryID string) bool {
	switch opName {
	case OpUserByScreenName, OpUserMedia, OpUserTweets:
	default:
		return false
	}
	for _, id := range s.opIDs[opName] {
		if id == queryID {
			return false
		}
	}
	s.opIDs[opName] = append([]string{queryID}, s.opIDs[opName]...)
	s.logger.Debug("discovered query id", "operation", opName, "query_id", queryID)
	return true
}

func (s *GraphQLScraper) fetchText(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.userAgent)
	t := s.currentTriple()
	if t.AuthToken != "" {
		req.Header.Set("Cookie", "auth_token="+t.AuthToken+"; ct0="+t.CT0)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, resp.Body); err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return sb.String(), nil
}
