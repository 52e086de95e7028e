package deezer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(srv.URL, 5*time.Second, 100)
	return client, srv
}

func TestChartTrack(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chart/0/tracks", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "42", r.URL.Query().Get("index"))

		fmt.Fprint(w, `{"data":[{"title":"Blinding Lights","artist":{"name":"The Weeknd"},"preview":"https://cdn.example.com/clip.mp3"}]}`)
	})
	defer srv.Close()

	song, err := client.ChartTrack(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Blinding Lights", song.Title)
	assert.Equal(t, "The Weeknd", song.Artist)
	assert.Equal(t, "https://cdn.example.com/clip.mp3", song.PreviewURL)
}

func TestChartTrackEmptyResult(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})
	defer srv.Close()

	_, err := client.ChartTrack(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no track")
}

func TestChartTrackAPIError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[],"error":{"message":"Quota limit exceeded","code":4}}`)
	})
	defer srv.Close()

	_, err := client.ChartTrack(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Quota limit exceeded")
}

func TestChartTrackIncompleteData(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		// Preview URL missing, the track cannot back a round.
		fmt.Fprint(w, `{"data":[{"title":"Some Song","artist":{"name":"Someone"},"preview":""}]}`)
	})
	defer srv.Close()

	_, err := client.ChartTrack(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestChartTrackServerError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := client.ChartTrack(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestRandomChartTrackIndexRange(t *testing.T) {
	seen := make(chan int, 1)
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		index := r.URL.Query().Get("index")
		var n int
		fmt.Sscanf(index, "%d", &n)
		seen <- n
		fmt.Fprint(w, `{"data":[{"title":"T","artist":{"name":"A"},"preview":"https://p"}]}`)
	})
	defer srv.Close()

	_, err := client.RandomChartTrack(context.Background())
	require.NoError(t, err)

	n := <-seen
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 100)
}
