package collytransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsBodyAndQuery(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	var gotAccept, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bugs":[]}`))
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{UserAgent: "bugscraper-test", Timeout: 5 * time.Second})
	body, err := tr.Get(context.Background(), srv.URL+"/rest/bug", url.Values{"id": {"1", "2"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"bugs":[]}`, string(body))
	assert.Equal(t, []string{"1", "2"}, gotQuery["id"])
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "bugscraper-test", gotUA)
}

func TestGetRevisitsSameURL(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{})
	for i := 0; i < 2; i++ {
		_, err := tr.Get(context.Background(), srv.URL+"/rest/bug/1/comment", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, hits)
}

func TestGetNon2xxIsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{})
	_, err := tr.Get(context.Background(), srv.URL+"/rest/bug", nil)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "expected StatusError, got %v", err)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestGetConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	tr := New(Config{Timeout: time.Second})
	_, err := tr.Get(context.Background(), addr+"/rest/bug", nil)
	require.Error(t, err)
}

func TestGetHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := New(Config{Timeout: 5 * time.Second})
	_, err := tr.Get(ctx, srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestGetCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-release:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	tr := New(Config{Timeout: 5 * time.Second})
	_, err := tr.Get(ctx, srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("server request was not aborted after cancel")
	}
}

func TestWithQuery(t *testing.T) {
	t.Parallel()

	got, err := withQuery("http://example.com/rest/bug?include_fields=id", url.Values{"id": {"7"}})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/rest/bug?id=7&include_fields=id", got)

	got, err = withQuery("http://example.com/rest/bug/7/comment", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/rest/bug/7/comment", got)

	_, err = withQuery("http://%zz", nil)
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	var body []byte
	var fetchErr error
	hooks := &stubHooks{}
	tr.configureCollectorHooks(hooks, &body, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	assert.Equal(t, "application/json", req.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte(`{"bugs":[]}`)})
	assert.Equal(t, `{"bugs":[]}`, string(body))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")

	u, err := url.Parse("http://example.com/rest/bug")
	require.NoError(t, err)
	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound, Request: &colly.Request{URL: u}}, errors.New("Not Found"))
	var statusErr *StatusError
	require.True(t, errors.As(fetchErr, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, "http://example.com/rest/bug", statusErr.URL)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
