package twitter

import (
	"testing"

	"github.com/iconidentify/twmd/internal/domain"
)

const timelinePageJSON = `{
  "data": {
    "user": {
      "result": {
        "timeline_v2": {
          "timeline": {
            "instructions": [
              {
                "type": "TimelineAddEntries",
                "entries": [
                  {
                    "entryId": "tweet-100",
                    "content": {
                      "entryType": "TimelineTimelineItem",
                      "itemContent": {
                        "tweet_results": {
                          "result": {
                            "__typename": "Tweet",
                            "rest_id": "100",
                            "legacy": {
                              "id_str": "100",
                              "user_id_str": "42",
                              "created_at": "Mon Jan 01 10:00:00 +0000 2024",
                              "extended_entities": {
                                "media": [
                                  {
                                    "id_str": "9001",
                                    "type": "photo",
                                    "media_url_https": "https://pbs.twimg.com/media/abc.jpg"
                                  }
                                ]
                              }
                            }
                          }
                        }
                      }
                    }
                  },
                  {
                    "entryId": "tweet-101",
                    "content": {
                      "entryType": "TimelineTimelineItem",
                      "itemContent": {
                        "tweet_results": {
                          "result": {
                            "__typename": "TweetWithVisibilityResults",
                            "tweet": {
                              "rest_id": "101",
                              "legacy": {
                                "id_str": "101",
                                "user_id_str": "42",
                                "extended_entities": {
                                  "media": [
                                    {
                                      "id_str": "9002",
                                      "type": "video",
                                      "video_info": {
                                        "variants": [
                                          {"bitrate": 320000, "content_type": "video/mp4", "url": "https://video.twimg.com/low.mp4"},
                                          {"bitrate": 2176000, "content_type": "video/mp4", "url": "https://video.twimg.com/high.mp4"},
                                          {"content_type": "application/x-mpegURL", "url": "https://video.twimg.com/pl.m3u8"}
                                        ]
                                      }
                                    }
                                  ]
                                }
                              }
                            }
                          }
                        }
                      }
                    }
                  },
                  {
                    "entryId": "profile-grid-0",
                    "content": {
                      "entryType": "TimelineTimelineModule",
                      "items": [
                        {
                          "entryId": "profile-grid-0-tweet-102",
                          "item": {
                            "itemContent": {
                              "tweet_results": {
                                "result": {
                                  "__typename": "Tweet",
                                  "rest_id": "102",
                                  "legacy": {
                                    "id_str": "102",
                                    "user_id_str": "42",
                                    "extended_entities": {
                                      "media": [
                                        {
                                          "id_str": "9003",
                                          "type": "animated_gif",
                                          "video_info": {
                                            "variants": [
                                              {"bitrate": 0, "content_type": "video/mp4", "url": "https://video.twimg.com/tweet_video/fun.mp4"}
                                            ]
                                          }
                                        }
                                      ]
                                    }
                                  }
                                }
                              }
                            }
                          }
                        }
                      ]
                    }
                  },
                  {
                    "entryId": "cursor-top-1",
                    "content": {"entryType": "TimelineTimelineCursor", "cursorType": "Top", "value": "TOP_CUR"}
                  },
                  {
                    "entryId": "cursor-bottom-1",
                    "content": {"entryType": "TimelineTimelineCursor", "cursorType": "Bottom", "value": "NEXT_CUR"}
                  }
                ]
              }
            ]
          }
        }
      }
    }
  }
}`

func TestParseTimelinePage(t *testing.T) {
	page, err := parseTimelinePage([]byte(timelinePageJSON))
	if err != nil {
		t.Fatalf("parseTimelinePage: %v", err)
	}
	if len(page.Tweets) != 3 {
		t.Fatalf("got %d tweets, want 3", len(page.Tweets))
	}
	if page.NextCursor != "NEXT_CUR" {
		t.Errorf("NextCursor = %q, want NEXT_CUR", page.NextCursor)
	}
	ids := []string{page.Tweets[0].IDStr, page.Tweets[1].IDStr, page.Tweets[2].IDStr}
	want := []string{"100", "101", "102"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("tweet %d id = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestParseTimelinePageLegacyShape(t *testing.T) {
	data := `{"data":{"user":{"result":{"timeline":{"timeline":{"instructions":[
		{"type":"TimelineAddEntries","entries":[
			{"entryId":"tweet-7","content":{"entryType":"TimelineTimelineItem","itemContent":{"tweet_results":{"result":{"rest_id":"7","legacy":{"id_str":"7","user_id_str":"1"}}}}}}
		]}
	]}}}}}}`
	page, err := parseTimelinePage([]byte(data))
	if err != nil {
		t.Fatalf("parseTimelinePage: %v", err)
	}
	if len(page.Tweets) != 1 || page.Tweets[0].IDStr != "7" {
		t.Fatalf("unexpected tweets: %+v", page.Tweets)
	}
}

func TestTweetMediaItems(t *testing.T) {
	photo := mediaEntity{IDStr: "m1", Type: "photo", MediaURLHTTPS: "https://pbs.twimg.com/media/a.jpg"}

	t.Run("retweet dropped", func(t *testing.T) {
		tweet := legacyTweet{IDStr: "1", UserIDStr: "42", RetweetedStatusResult: []byte(`{}`)}
		tweet.ExtendedEntities.Media = []mediaEntity{photo}
		if got := tweetMediaItems(tweet, "alice", "42"); got != nil {
			t.Errorf("want nil, got %+v", got)
		}
	})

	t.Run("author mismatch dropped", func(t *testing.T) {
		tweet := legacyTweet{IDStr: "1", UserIDStr: "99"}
		tweet.ExtendedEntities.Media = []mediaEntity{photo}
		if got := tweetMediaItems(tweet, "alice", "42"); got != nil {
			t.Errorf("want nil, got %+v", got)
		}
	})

	t.Run("photo forced to orig", func(t *testing.T) {
		tweet := legacyTweet{IDStr: "1", UserIDStr: "42"}
		tweet.ExtendedEntities.Media = []mediaEntity{photo}
		got := tweetMediaItems(tweet, "alice", "42")
		if len(got) != 1 {
			t.Fatalf("got %d items, want 1", len(got))
		}
		if got[0].Kind != domain.MediaKindImage {
			t.Errorf("kind = %q, want image", got[0].Kind)
		}
		if got[0].URL != "https://pbs.twimg.com/media/a.jpg?name=orig" {
			t.Errorf("url = %q", got[0].URL)
		}
		if got[0].ID != "1_m1" {
			t.Errorf("id = %q, want 1_m1", got[0].ID)
		}
	})

	t.Run("gif by tweet_video path", func(t *testing.T) {
		gif := mediaEntity{IDStr: "m2", Type: "video"}
		gif.VideoInfo.Variants = []videoVariant{{Bitrate: 0, ContentType: "video/mp4", URL: "https://video.twimg.com/tweet_video/x.mp4"}}
		tweet := legacyTweet{IDStr: "2", UserIDStr: "42"}
		tweet.ExtendedEntities.Media = []mediaEntity{gif}
		got := tweetMediaItems(tweet, "alice", "42")
		if len(got) != 1 || got[0].Kind != domain.MediaKindGIF {
			t.Fatalf("unexpected items: %+v", got)
		}
	})

	t.Run("no media dropped", func(t *testing.T) {
		tweet := legacyTweet{IDStr: "3", UserIDStr: "42"}
		if got := tweetMediaItems(tweet, "alice", "42"); got != nil {
			t.Errorf("want nil, got %+v", got)
		}
	})
}

func TestBestVariant(t *testing.T) {
	variants := []videoVariant{
		{ContentType: "application/x-mpegURL", URL: "https://v/pl.m3u8"},
		{Bitrate: 832000, ContentType: "video/mp4", URL: "https://v/mid.mp4"},
		{Bitrate: 2176000, ContentType: "video/mp4", URL: "https://v/high.mp4"},
	}
	if got := bestVariant(variants); got != "https://v/high.mp4" {
		t.Errorf("bestVariant = %q, want high.mp4", got)
	}
	if got := bestVariant(nil); got != "" {
		t.Errorf("bestVariant(nil) = %q, want empty", got)
	}
}
