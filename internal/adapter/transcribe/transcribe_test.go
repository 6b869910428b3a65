package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
)

func TestDownloader_WritesTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ID3-audio-bytes"))
	}))
	defer srv.Close()

	d := NewDownloader(http.DefaultClient, 0, t.TempDir(), nil)
	path, err := d.Download(context.Background(), srv.URL+"/episode.mp3")
	require.NoError(t, err)
	assert.Equal(t, ".mp3", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio-bytes", string(data))
}

func TestDownloader_RejectsOversizedMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(http.DefaultClient, 16, dir, nil)
	_, err := d.Download(context.Background(), srv.URL+"/big.mp4")
	assert.ErrorIs(t, err, ErrMediaTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial download must be removed")
}

func TestDownloader_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := NewDownloader(http.DefaultClient, 0, t.TempDir(), nil)
	_, err := d.Download(context.Background(), srv.URL+"/missing.mp3")
	assert.ErrorContains(t, err, "unexpected status 404")
}

func newWhisperServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "segment", r.FormValue("timestamp_granularities[]"))

		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		assert.Equal(t, "audio", string(data))

		_, _ = w.Write([]byte(`{"text":" hello there world ","duration":12.5,"segments":[{"start":0,"end":1.5,"text":" hello there"},{"start":1.5,"end":3,"text":" world"}]}`))
	}))
}

func TestWhisperClient_Transcribe(t *testing.T) {
	srv := newWhisperServer(t)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o600))

	c := NewWhisperClient(WhisperConfig{APIKey: "key", BaseURL: srv.URL + "/v1/"}, http.DefaultClient)
	require.True(t, c.Available())

	tr, duration, err := c.Transcribe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello there world", tr.Text)
	assert.Equal(t, ProviderWhisper, tr.Source)
	require.Len(t, tr.Segments, 2)
	assert.EqualValues(t, 1500, tr.Segments[1].StartMs)
	require.NotNil(t, duration)
	assert.InDelta(t, 12.5, *duration, 0.001)
}

func TestWhisperClient_ReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o600))

	c := NewWhisperClient(WhisperConfig{APIKey: "bad", BaseURL: srv.URL}, http.DefaultClient)
	_, _, err := c.Transcribe(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "Incorrect API key")
}

func TestWhisperClient_UnavailableWithoutKey(t *testing.T) {
	assert.False(t, NewWhisperClient(WhisperConfig{}, http.DefaultClient).Available())
}

func TestMediaStrategy(t *testing.T) {
	whisper := newWhisperServer(t)
	defer whisper.Close()
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio"))
	}))
	defer media.Close()

	p := &Pipeline{
		Downloader:  NewDownloader(http.DefaultClient, 0, t.TempDir(), nil),
		Transcriber: NewWhisperClient(WhisperConfig{APIKey: "key", BaseURL: whisper.URL + "/v1"}, http.DefaultClient),
	}
	s := NewMediaStrategy(p)
	assert.True(t, s.Applies(entity.KindDirectMedia, entity.ExtractionOptions{}))
	assert.False(t, s.Applies(entity.KindGenericPage, entity.ExtractionOptions{}))

	out, err := s.Attempt(context.Background(), &extraction.Request{URL: media.URL + "/show/ep.m4a", Kind: entity.KindDirectMedia})
	require.NoError(t, err)
	assert.Equal(t, ProviderWhisper, out.Provider)
	assert.Equal(t, entity.MediaAudio, out.Media.Type)
	assert.Equal(t, "hello there world", out.Transcript.Text)
}
