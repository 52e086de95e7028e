package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"beatquiz/model"
)

// Client talks to the Deezer public API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxIndex   int
}

// NewClient creates an API client. maxIndex bounds the random chart
// position used when picking a track.
func NewClient(baseURL string, timeout time.Duration, maxIndex int) *Client {
	if maxIndex <= 0 {
		maxIndex = 100
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxIndex:   maxIndex,
	}
}

// SetBaseURL overrides the API base URL.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// chartResponse mirrors the subset of /chart/0/tracks we consume.
type chartResponse struct {
	Data []struct {
		Title  string `json:"title"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
		Preview string `json:"preview"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// ChartTrack fetches the chart track at the given position.
func (c *Client) ChartTrack(ctx context.Context, index int) (*model.Song, error) {
	q := url.Values{}
	q.Set("limit", "1")
	q.Set("index", strconv.Itoa(index))
	endpoint := fmt.Sprintf("%s/chart/0/tracks?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart API returned status %d", resp.StatusCode)
	}

	var result chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("chart API error: %s (code: %d)", result.Error.Message, result.Error.Code)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no track at chart position %d", index)
	}

	song := &model.Song{
		Title:      result.Data[0].Title,
		Artist:     result.Data[0].Artist.Name,
		PreviewURL: result.Data[0].Preview,
	}
	if !song.Complete() {
		return nil, fmt.Errorf("incomplete track data at chart position %d", index)
	}
	return song, nil
}

// RandomChartTrack fetches one track at a random chart position.
func (c *Client) RandomChartTrack(ctx context.Context) (*model.Song, error) {
	return c.ChartTrack(ctx, rand.Intn(c.maxIndex)+1)
}
