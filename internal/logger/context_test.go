package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	entry := logrus.New().WithField("component", "server")

	got := FromContext(WithLogger(context.Background(), entry))
	assert.Same(t, entry, got)

	fallback := FromContext(context.Background())
	require.NotNil(t, fallback)
	assert.Same(t, logrus.StandardLogger(), fallback.Logger)
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	r.Header.Set(RequestIDHeader, "client-id")
	assert.Equal(t, "client-id", RequestID(r))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	id := RequestID(r)
	assert.Len(t, id, 36)
	assert.Equal(t, id, r.Header.Get(RequestIDHeader))
	assert.Equal(t, id, RequestID(r), "a minted id must be stable for the request")
}

func TestWithRequest(t *testing.T) {
	l := logrus.New()

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		remote  string
		session string
		client  string
	}{
		{
			name:    "session route",
			method:  http.MethodPost,
			path:    "/api/v1/sessions/3f2a/seek",
			remote:  "10.0.0.7:51234",
			session: "3f2a",
			client:  "10.0.0.7",
		},
		{
			name:   "collection route",
			method: http.MethodGet,
			path:   "/api/v1/sessions",
			remote: "10.0.0.7:51234",
			client: "10.0.0.7",
		},
		{
			name:    "forwarded",
			method:  http.MethodDelete,
			path:    "/api/v1/sessions/abc",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			remote:  "10.0.0.1:80",
			session: "abc",
			client:  "203.0.113.9",
		},
		{
			name:    "real ip",
			method:  http.MethodGet,
			path:    "/health",
			headers: map[string]string{"X-Real-IP": "198.51.100.4"},
			remote:  "10.0.0.1:80",
			client:  "198.51.100.4",
		},
		{
			name:   "unparseable remote",
			method: http.MethodGet,
			path:   "/version",
			remote: "pipe",
			client: "pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			entry := WithRequest(l, r)
			assert.Equal(t, tt.method, entry.Data["method"])
			assert.Equal(t, tt.path, entry.Data["path"])
			assert.Equal(t, tt.client, entry.Data["client_ip"])
			assert.NotEmpty(t, entry.Data["request_id"])
			if tt.session == "" {
				assert.NotContains(t, entry.Data, "session_id")
			} else {
				assert.Equal(t, tt.session, entry.Data["session_id"])
			}
		})
	}
}

func TestRequestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(&buf)

	var (
		gotEntry *logrus.Entry
		gotID    string
	)
	handler := RequestLoggerMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEntry = FromContext(r.Context())
		gotID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/play", nil)
	r.Header.Set(RequestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	require.NotNil(t, gotEntry)
	assert.Equal(t, "req-1", gotID)
	assert.Equal(t, "req-1", gotEntry.Data["request_id"])
	assert.Equal(t, "s1", gotEntry.Data["session_id"])

	line := decodeLine(t, &buf)
	assert.Equal(t, "Request started", line["msg"])
	assert.Equal(t, "debug", line["level"])
}

type flushRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flushRecorder) Flush() { f.flushed = true }

func TestResponseWriter(t *testing.T) {
	t.Run("implicit ok", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := NewResponseWriter(rec)

		n, err := rw.Write([]byte(`{"id":"s1"}`))
		require.NoError(t, err)
		assert.Equal(t, 11, n)
		assert.Equal(t, http.StatusOK, rw.StatusCode())
		assert.Equal(t, int64(11), rw.BytesWritten())
	})

	t.Run("first status wins", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := NewResponseWriter(rec)

		rw.WriteHeader(http.StatusCreated)
		rw.WriteHeader(http.StatusInternalServerError)
		_, _ = rw.Write([]byte("x"))

		assert.Equal(t, http.StatusCreated, rw.StatusCode())
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("flush and unwrap", func(t *testing.T) {
		rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
		rw := NewResponseWriter(rec)

		rw.Flush()
		assert.True(t, rec.flushed)
		assert.Same(t, rec, rw.Unwrap())
	})
}
