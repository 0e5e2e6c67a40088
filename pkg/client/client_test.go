package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	var got RunRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/1.0/qc/run/run123", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(RunResponse{PID: 77, State: StateStarted, Link: "http://x/api/1.0/qc/status/77"})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL + "/api/1.0/"})
	qc := "<rules/>"
	resp, err := c.Run(context.Background(), "qc", RunRequest{Target: "run123", QCConfig: &qc})
	require.NoError(t, err)
	assert.Equal(t, 77, resp.PID)
	assert.Equal(t, StateStarted, resp.State)
	assert.Equal(t, "run123", got.Target)
	require.NotNil(t, got.QCConfig)
	assert.Equal(t, qc, *got.QCConfig)
}

func TestRunEmptyTargetOmitsPathSegment(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/report/run", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "An error occurred: target is required"})
	}))
	defer ts.Close()

	_, err := New(Config{BaseURL: ts.URL}).Run(context.Background(), "report", RunRequest{})
	require.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "target is required")
}

func TestRunAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "An error occurred: target not found"})
	}))
	defer ts.Close()

	_, err := New(Config{BaseURL: ts.URL}).Run(context.Background(), "report", RunRequest{Target: "nope"})
	require.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "target not found")
}

func TestStatusAndList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/report/status/5":
			_ = json.NewEncoder(w).Encode(Status{PID: 5, State: StateDone, Msg: "ok", TargetPath: "/data/r"})
		case "/report/status":
			_ = json.NewEncoder(w).Encode([]StatusItem{{PID: 5, State: StateStarted}, {PID: 6, State: StateStarted}})
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("garbage"))
		}
	}))
	defer ts.Close()
	c := New(Config{BaseURL: ts.URL})

	st, err := c.Status(context.Background(), "report", 5)
	require.NoError(t, err)
	assert.True(t, st.Terminal())
	assert.Equal(t, "/data/r", st.TargetPath)

	list, err := c.StatusAll(context.Background(), "report")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = c.Status(context.Background(), "qc", 5)
	require.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestWait(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		state := StateStarted
		if calls.Add(1) >= 3 {
			state = StateError
		}
		_ = json.NewEncoder(w).Encode(Status{PID: 9, State: state})
	}))
	defer ts.Close()

	st, err := New(Config{BaseURL: ts.URL}).Wait(context.Background(), "qc", 9, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitContextCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Status{PID: 9, State: StateStarted})
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{BaseURL: ts.URL}).Wait(ctx, "qc", 9, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsReachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	c := New(Config{BaseURL: ts.URL})
	assert.True(t, c.IsReachable(context.Background()))
	ts.Close()
	assert.False(t, c.IsReachable(context.Background()))
}
