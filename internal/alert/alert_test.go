package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMattermostPostsFormPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("payload")), &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMattermost(srv.URL, srv.Client())
	require.NoError(t, m.Send(context.Background(), "roof did not close"))
	assert.Equal(t, map[string]string{"text": "roof did not close"}, got)
}

func TestMattermostNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"bad hook"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewMattermost(srv.URL, srv.Client()).Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestNotifyIsBoundedByTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	err := Notify(context.Background(), NewMattermost(srv.URL, srv.Client()), 50*time.Millisecond, "slow", quietLogger())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNotifyNilSink(t *testing.T) {
	assert.NoError(t, Notify(context.Background(), nil, time.Second, "nobody listening", quietLogger()))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &Recorder{}
	bad := &Recorder{Err: errors.New("down")}

	err := Multi{bad, ok}.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, []string{"hello"}, ok.Messages(), "one failing sink does not stop the rest")
	assert.Equal(t, []string{"hello"}, bad.Messages())
}

func TestThrottled(t *testing.T) {
	rec := &Recorder{}
	th := NewThrottled(rec, time.Minute)
	now := time.Date(2025, 1, 1, 22, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, th.Send(ctx, "first"))
	assert.ErrorIs(t, th.Send(ctx, "second"), ErrThrottled)

	now = now.Add(61 * time.Second)
	require.NoError(t, th.Send(ctx, "third"))
	assert.Equal(t, []string{"first", "third"}, rec.Messages())
}

func TestThrottledDisabled(t *testing.T) {
	rec := &Recorder{}
	th := NewThrottled(rec, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Send(context.Background(), "x"))
	}
	assert.Len(t, rec.Messages(), 5)
}

func TestObservedReportsOutcome(t *testing.T) {
	var results []error
	rec := &Recorder{}
	o := Observed{Sink: rec, OnResult: func(err error) { results = append(results, err) }}

	require.NoError(t, o.Send(context.Background(), "a"))
	rec.Err = errors.New("down")
	assert.Error(t, o.Send(context.Background(), "b"))

	require.Len(t, results, 2)
	assert.NoError(t, results[0])
	assert.EqualError(t, results[1], "down")
}

type fakePublisher struct {
	msgs []string
	err  error
}

func (f *fakePublisher) PublishAlert(msg string, ts time.Time) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	s := MQTTSink{Publisher: pub}
	require.NoError(t, s.Send(context.Background(), "mount not parked"))
	assert.Equal(t, []string{"mount not parked"}, pub.msgs)

	pub.err = errors.New("not connected")
	assert.Error(t, s.Send(context.Background(), "again"))
}

func TestReadURLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mattermosturl")
	require.NoError(t, os.WriteFile(path, []byte("https://chat.example.org/hooks/abc\n"), 0o600))

	u, err := ReadURLFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.org/hooks/abc", u)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = ReadURLFile(empty)
	assert.Error(t, err)
}

func TestReadURLFileExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".mattermosturl"), []byte("https://hook\n"), 0o600))

	u, err := ReadURLFile("~/.mattermosturl")
	require.NoError(t, err)
	assert.Equal(t, "https://hook", u)
}
