package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxFrameBytes bounds a single JPEG read from the source.
const maxFrameBytes = 16 << 20

// Source opens frame streams for a camera URL.
type Source interface {
	Open(ctx context.Context, url string) (Stream, error)
}

// Stream yields encoded frames until it returns an error. io.EOF marks a
// clean end, such as a single-JPEG endpoint after its only frame.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// HTTPSource reads frames from MJPEG (multipart/x-mixed-replace) streams or
// single-JPEG snapshot endpoints. ReadTimeout bounds the connect and the wait
// for each frame.
type HTTPSource struct {
	Client      *http.Client
	ReadTimeout time.Duration
}

// NewHTTPSource builds a source with the given per-frame read timeout.
func NewHTTPSource(readTimeout time.Duration) *HTTPSource {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &HTTPSource{Client: &http.Client{}, ReadTimeout: readTimeout}
}

// Open issues the GET and selects a multipart or single-frame reader from the
// response content type.
func (s *HTTPSource) Open(ctx context.Context, url string) (Stream, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("camera source url is not configured")
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	streamCtx, cancel := context.WithCancel(ctx)
	watchdog := time.AfterFunc(s.ReadTimeout, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		watchdog.Stop()
		cancel()
		return nil, fmt.Errorf("build camera request: %w", err)
	}
	req.Header.Set("Accept", "multipart/x-mixed-replace, image/jpeg")
	resp, err := client.Do(req)
	if err != nil {
		watchdog.Stop()
		cancel()
		return nil, fmt.Errorf("open camera stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		watchdog.Stop()
		cancel()
		return nil, fmt.Errorf("camera returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	base := &httpStream{
		body:     resp.Body,
		cancel:   cancel,
		watchdog: watchdog,
		timeout:  s.ReadTimeout,
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		boundary := strings.TrimPrefix(params["boundary"], "--")
		if boundary == "" {
			base.Close()
			return nil, errors.New("camera multipart stream has no boundary")
		}
		base.parts = multipart.NewReader(resp.Body, boundary)
	}
	return base, nil
}

type httpStream struct {
	body     io.ReadCloser
	parts    *multipart.Reader
	cancel   context.CancelFunc
	watchdog *time.Timer
	timeout  time.Duration

	single    bool
	closeOnce sync.Once
}

func (s *httpStream) Next() ([]byte, error) {
	s.watchdog.Reset(s.timeout)
	if s.parts == nil {
		if s.single {
			return nil, io.EOF
		}
		s.single = true
		return readFrame(s.body)
	}
	for {
		part, err := s.parts.NextPart()
		if err != nil {
			return nil, fmt.Errorf("read camera part: %w", err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
			_, _ = io.Copy(io.Discard, part)
			continue
		}
		data, err := readFrame(part)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

func (s *httpStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.watchdog.Stop()
		s.cancel()
		err = s.body.Close()
	})
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxFrameBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read camera frame: %w", err)
	}
	if n > maxFrameBytes {
		return nil, fmt.Errorf("camera frame exceeds %d bytes", maxFrameBytes)
	}
	return buf.Bytes(), nil
}
