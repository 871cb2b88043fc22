// Package feed is the out-of-scope feed adapter collaborator: given a feed
// source, produce normalized items. The default implementation is
// deliberately minimal stdlib HTTP/JSON, since the feed-parsing concern
// itself is an explicit non-goal of the core.
package feed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"marketpulse/pkg/models"
)

// Item is a single normalized entry returned by a fetch.
type Item struct {
	ExternalID  string
	Title       string
	PublishedAt time.Time
	Body        string
	AudioURL    string
}

// Fetcher is the external collaborator the feed_fetch handler calls.
type Fetcher interface {
	Fetch(ctx context.Context, source models.FeedSource) ([]Item, error)
}

// HTTPFetcher handles the `rss` and `api` source kinds with plain HTTP. It
// does not attempt podcast/YouTube/Reddit-specific scraping; those source
// kinds return an error until a dedicated adapter is registered.
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, source models.FeedSource) ([]Item, error) {
	switch source.Kind {
	case "api":
		return f.fetchJSON(ctx, source.Endpoint)
	case "rss":
		return f.fetchRSS(ctx, source.Endpoint)
	default:
		return nil, fmt.Errorf("feed kind %q has no registered fetcher", source.Kind)
	}
}

func (f *HTTPFetcher) fetchJSON(ctx context.Context, endpoint string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Items []struct {
			ID          string    `json:"id"`
			Title       string    `json:"title"`
			PublishedAt time.Time `json:"published_at"`
			Body        string    `json:"body"`
			AudioURL    string    `json:"audio_url"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}

	items := make([]Item, 0, len(payload.Items))
	for _, it := range payload.Items {
		items = append(items, Item{
			ExternalID:  it.ID,
			Title:       it.Title,
			PublishedAt: it.PublishedAt,
			Body:        it.Body,
			AudioURL:    it.AudioURL,
		})
	}
	return items, nil
}

type rssFeed struct {
	Channel struct {
		Items []struct {
			GUID    string `xml:"guid"`
			Title   string `xml:"title"`
			PubDate string `xml:"pubDate"`
			Body    string `xml:"description"`
			Enclosure struct {
				URL string `xml:"url,attr"`
			} `xml:"enclosure"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (f *HTTPFetcher) fetchRSS(ctx context.Context, endpoint string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed endpoint returned status %d", resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode rss feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Channel.Items))
	for _, it := range feed.Channel.Items {
		published, _ := time.Parse(time.RFC1123Z, it.PubDate)
		items = append(items, Item{
			ExternalID:  it.GUID,
			Title:       it.Title,
			PublishedAt: published,
			Body:        it.Body,
			AudioURL:    it.Enclosure.URL,
		})
	}
	return items, nil
}
