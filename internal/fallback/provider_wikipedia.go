package fallback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultUserAgent = "ragqa-core/1.0 (+https://github.com/connexus-ai/ragqa-core) external-fallback-client"

// WikipediaProvider implements Provider over the public Wikipedia REST and
// action APIs: a two-phase lookup (title search, then per-page summary
// fetch) matching the grounded source's request shape.
type WikipediaProvider struct {
	language     string
	httpClient   *http.Client
	fetchTimeout time.Duration
	userAgent    string
}

func NewWikipediaProvider(language string, opts ...WikipediaOption) *WikipediaProvider {
	if language == "" {
		language = "en"
	}
	p := &WikipediaProvider{
		language:     language,
		httpClient:   &http.Client{Timeout: defaultSearchTimeout},
		fetchTimeout: defaultFetchTimeout,
		userAgent:    defaultUserAgent,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type WikipediaOption func(*WikipediaProvider)

func WithWikipediaFetchTimeout(d time.Duration) WikipediaOption {
	return func(p *WikipediaProvider) { p.fetchTimeout = d }
}

func (p *WikipediaProvider) apiURL() string {
	return "https://" + p.language + ".wikipedia.org/w/api.php"
}

func (p *WikipediaProvider) summaryURL(title string) string {
	return "https://" + p.language + ".wikipedia.org/api/rest_v1/page/summary/" + url.PathEscape(title)
}

type wikipediaSearchResponse struct {
	Query struct {
		Search []struct {
			Title string  `json:"title"`
			Score float64 `json:"score"`
		} `json:"search"`
	} `json:"query"`
}

type wikipediaSummaryResponse struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Search implements Provider: list up to maxResults page titles matching
// term, then fetch each page's summary for its extract and canonical URL.
func (p *WikipediaProvider) Search(ctx context.Context, term string, maxResults int) ([]Hit, error) {
	titles, err := p.searchTitles(ctx, term, maxResults)
	if err != nil {
		return nil, wrapErr("fallback.WikipediaProvider.Search", err)
	}

	hits := make([]Hit, 0, len(titles))
	for _, t := range titles {
		summary, err := p.fetchSummary(ctx, t.title)
		if err != nil {
			continue // one page's summary failing shouldn't sink the whole search
		}
		hits = append(hits, Hit{
			Title:       summary.Title,
			Extract:     summary.Extract,
			URL:         summary.ContentURLs.Desktop.Page,
			NativeScore: t.score,
		})
	}
	return hits, nil
}

type titleHit struct {
	title string
	score float64
}

func (p *WikipediaProvider) searchTitles(ctx context.Context, term string, maxResults int) ([]titleHit, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("list", "search")
	q.Set("srsearch", term)
	q.Set("srlimit", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed wikipediaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]titleHit, 0, len(parsed.Query.Search))
	for _, s := range parsed.Query.Search {
		out = append(out, titleHit{title: s.Title, score: s.Score})
	}
	return out, nil
}

func (p *WikipediaProvider) fetchSummary(ctx context.Context, title string) (*wikipediaSummaryResponse, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, p.summaryURL(title), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed wikipediaSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.Title == "" {
		parsed.Title = title
	}
	return &parsed, nil
}
