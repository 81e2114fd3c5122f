package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		WebhookURL:          url,
		Limiter:             NewRateLimiter(10000, 10000),
		MaxRateLimitRetries: 3,
		MaxErrorRetries:     2,
		BackoffBase:         time.Millisecond,
		BackoffCap:          5 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestPost_ForcesSynchronousResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.Post(context.Background(), Payload{Content: "hi", Username: "u"}, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "42", res.MessageID)
}

func TestPost_MultipartCarriesPayloadAndFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.JSONEq(t,
			`{"content":"hello","username":"u","message_reference":{"message_id":"7","fail_if_not_exists":false}}`,
			r.FormValue("payload_json"))

		file, hdr, err := r.FormFile("files[0]")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "a.png", hdr.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("img"), data)

		_, _, err = r.FormFile("files[1]")
		require.NoError(t, err)

		w.Write([]byte(`{"id":"99"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.Post(context.Background(),
		Payload{
			Content:          "hello",
			Username:         "u",
			MessageReference: &MessageReference{MessageID: "7"},
		},
		[]File{
			{Name: "a.png", ContentType: "image/png", Content: []byte("img")},
			{Name: "b.txt", Content: []byte("txt")},
		})
	require.NoError(t, err)
	assert.Equal(t, "99", res.MessageID)
}

func TestPost_RateLimitedSleepsAndRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	start := time.Now()
	res, err := c.Post(context.Background(), Payload{Content: "x", Username: "u"}, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestPost_RateLimitExhaustedReturnsLastResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0.01")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.Post(context.Background(), Payload{Content: "x", Username: "u"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}

func TestPost_ServerErrorRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.Post(context.Background(), Payload{Content: "x", Username: "u"}, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, int32(3), calls.Load())
}

func TestPost_ServerErrorExhaustedReturnsLastResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.Post(context.Background(), Payload{Content: "x", Username: "u"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, int32(3), calls.Load()) // initial try + MaxErrorRetries
}

func TestPost_RetriedResponsesKeepConnectionReusable(t *testing.T) {
	var mu sync.Mutex
	var remotes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		remotes = append(remotes, r.RemoteAddr)
		n := len(remotes)
		mu.Unlock()
		switch n {
		case 1:
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"slow down"}`))
		case 2:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream hiccup"))
		default:
			w.Write([]byte(`{"id":"1"}`))
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.Post(context.Background(), Payload{Content: "x", Username: "u"}, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())

	// a retry that leaves the failed body undrained forces a fresh dial,
	// which shows up as a different client port
	require.Len(t, remotes, 3)
	assert.Equal(t, remotes[0], remotes[1])
	assert.Equal(t, remotes[1], remotes[2])
}

func TestPost_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.Post(context.Background(), Payload{Content: "x", Username: "u"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.False(t, res.OK())
	assert.Equal(t, int32(1), calls.Load())
}

func TestPost_TransportFailurePropagatesAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connections now refused

	c := testClient(t, srv.URL)
	_, err := c.Post(context.Background(), Payload{Content: "x", Username: "u"}, nil)
	assert.Error(t, err)
}

func TestFetch_ReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	data, err := c.Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("file-bytes"), data)
}

func TestFetch_NotFoundIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestProbeSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "12345")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	size, err := c.ProbeSize(context.Background(), srv.URL+"/a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), size)
}

func TestProbeSize_ErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.ProbeSize(context.Background(), srv.URL+"/a.bin")
	assert.Error(t, err)
}

func TestRateLimiter_PenaltyDelaysNextRequest(t *testing.T) {
	rl := NewRateLimiter(10000, 10000)
	rl.SetPenalty(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestEnsureQueryParam(t *testing.T) {
	got, err := ensureQueryParam("https://example.com/hook", "wait", "true")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook?wait=true", got)

	got, err = ensureQueryParam("https://example.com/hook?wait=true", "wait", "true")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook?wait=true", got)
}
