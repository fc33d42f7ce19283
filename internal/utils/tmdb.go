package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const tmdbImageBase = "https://image.tmdb.org/t/p/original"

type TMDBClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	Retries uint64
}

func NewTMDBClient(apiKey, baseURL string) *TMDBClient {
	if baseURL == "" {
		baseURL = "https://api.themoviedb.org/3"
	}
	return &TMDBClient{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
		Retries: 2,
	}
}

type MovieMeta struct {
	PosterURL string
	IMDbID    string
}

type tmdbSearchResult struct {
	ID           int64  `json:"id"`
	MediaType    string `json:"media_type"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
	PosterPath   string `json:"poster_path"`
}

type tmdbSearchResponse struct {
	Results []tmdbSearchResult `json:"results"`
}

type tmdbImagesResponse struct {
	Backdrops []struct {
		FilePath string `json:"file_path"`
	} `json:"backdrops"`
}

type tmdbExternalIDs struct {
	IMDbID string `json:"imdb_id"`
}

func (c *TMDBClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("api_key", c.APIKey)
	u := c.BaseURL + path + "?" + q.Encode()
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("tmdb %s status=%d", path, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("tmdb %s status=%d", path, resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.Retries), ctx)
	return backoff.Retry(op, b)
}

// Lookup ищет по названию и году; без ключа или без результатов возвращает nil, nil.
func (c *TMDBClient) Lookup(ctx context.Context, title, year string) (*MovieMeta, error) {
	if c == nil || c.APIKey == "" || title == "" {
		return nil, nil
	}
	var search tmdbSearchResponse
	if err := c.getJSON(ctx, "/search/multi", url.Values{"query": {title}}, &search); err != nil {
		return nil, err
	}
	if len(search.Results) == 0 {
		return nil, nil
	}
	result := search.Results[0]
	if year != "" {
		for _, r := range search.Results {
			if strings.HasPrefix(r.ReleaseDate, year) || strings.HasPrefix(r.FirstAirDate, year) {
				result = r
				break
			}
		}
	}
	if result.MediaType == "" {
		result.MediaType = "movie"
	}

	meta := &MovieMeta{}
	var images tmdbImagesResponse
	imgPath := fmt.Sprintf("/%s/%d/images", result.MediaType, result.ID)
	imgQuery := url.Values{"language": {"en-US"}, "include_image_language": {"en,hi"}}
	if err := c.getJSON(ctx, imgPath, imgQuery, &images); err == nil && len(images.Backdrops) > 0 {
		meta.PosterURL = tmdbImageBase + images.Backdrops[0].FilePath
	} else if result.PosterPath != "" {
		meta.PosterURL = tmdbImageBase + result.PosterPath
	}

	var ext tmdbExternalIDs
	if err := c.getJSON(ctx, fmt.Sprintf("/%s/%d/external_ids", result.MediaType, result.ID), url.Values{}, &ext); err == nil {
		meta.IMDbID = ext.IMDbID
	}
	return meta, nil
}
