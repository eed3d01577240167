package stream

import (
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signwatch/internal/pipeline"
)

func TestMJPEG_StreamsFrames(t *testing.T) {
	s := NewMJPEG(zerolog.Nop())
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	t.Cleanup(s.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))
	require.Equal(t, 1, s.ClientCount())

	jpegs := [][]byte{{0xFF, 0xD8, 1, 0xFF, 0xD9}, {0xFF, 0xD8, 2, 2, 0xFF, 0xD9}}
	s.Emit(pipeline.EventVideoFrame, pipeline.VideoFrame{Seq: 1, JPEG: jpegs[0]})
	s.Emit(pipeline.EventVideoFrame, &pipeline.VideoFrame{Seq: 2, JPEG: jpegs[1]})

	mr := multipart.NewReader(resp.Body, "frame")
	for _, want := range jpegs {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		got, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMJPEG_IgnoresOtherEvents(t *testing.T) {
	s := NewMJPEG(zerolog.Nop())
	ch := make(chan []byte, 1)
	s.clients[ch] = struct{}{}

	s.Emit("violation", pipeline.VideoFrame{JPEG: []byte{1}})
	s.Emit(pipeline.EventVideoFrame, pipeline.VideoFrame{})
	s.Emit(pipeline.EventVideoFrame, "not a frame")

	assert.Empty(t, ch)
}

func TestMJPEG_SlowClientSkipsFrames(t *testing.T) {
	s := NewMJPEG(zerolog.Nop())
	ch := make(chan []byte, clientBuffer)
	s.clients[ch] = struct{}{}

	for i := 0; i < clientBuffer+3; i++ {
		s.Emit(pipeline.EventVideoFrame, pipeline.VideoFrame{JPEG: []byte{byte(i)}})
	}
	assert.Len(t, ch, clientBuffer)
	assert.Equal(t, uint64(3), s.Skipped())
}

func TestMJPEG_CloseEndsStreams(t *testing.T) {
	s := NewMJPEG(zerolog.Nop())
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	s.Close()
	assert.Zero(t, s.ClientCount())

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		done <- err
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after Close")
	}

	resp2, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}
