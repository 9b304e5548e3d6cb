package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
	sapi "github.com/airenas/vox/internal/pkg/stream/api"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Client opens live transcription channels against the stream service
type Client struct {
	streamWSURL string
	openTimeout time.Duration
	backoff     func() backoff.BackOff
	dialer      *websocket.Dialer
}

// NewClient creates a stream service client
func NewClient(streamURL string) (*Client, error) {
	res := Client{}
	if streamURL == "" {
		return nil, fmt.Errorf("no streamURL")
	}
	if !strings.HasPrefix(streamURL, "http") && !strings.HasPrefix(streamURL, "ws") {
		return nil, fmt.Errorf("no http(s)/ws(s) in streamURL")
	}
	res.streamWSURL = strings.Replace(streamURL, "http", "ws", 1)
	res.openTimeout = time.Second * 10
	res.backoff = newSimpleBackoff
	res.dialer = websocket.DefaultDialer
	return &res, nil
}

// Open dials the stream service and starts the segment read loop.
// Connection attempts are individually time-bounded and retried with backoff.
func (c *Client) Open(ctx context.Context, source string) (sapi.Handle, error) {
	urlStr := fmt.Sprintf("%s/stream?source=%s", c.streamWSURL, url.QueryEscape(source))
	goapp.Log.Info().Str("url", urlStr).Msg("connect")
	conn, err := goapp.InvokeWithBackoff(ctx, func() (*websocket.Conn, bool, error) {
		ctxInt, cf := context.WithTimeout(ctx, c.openTimeout)
		defer cf()
		conn, _, err := c.dialer.DialContext(ctxInt, urlStr, nil)
		return conn, goapp.IsRetryableErr(err), err
	}, c.backoff())
	if err != nil {
		return nil, fmt.Errorf("%w: can't dial to stream URL: %v", api.ErrConnectionFailed, err)
	}
	h := newHandle(conn)
	go h.readLoop()
	return h, nil
}

type wsHandle struct {
	conn      *websocket.Conn
	segments  chan sapi.SegmentData
	done      chan struct{}
	closeOnce sync.Once

	lock   sync.Mutex
	err    error
	closed bool
}

func newHandle(conn *websocket.Conn) *wsHandle {
	return &wsHandle{conn: conn, segments: make(chan sapi.SegmentData, 32), done: make(chan struct{})}
}

func (h *wsHandle) Segments() <-chan sapi.SegmentData {
	return h.segments
}

func (h *wsHandle) Done() <-chan struct{} {
	return h.done
}

func (h *wsHandle) Err() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.err
}

// Close is idempotent and safe to call multiple times
func (h *wsHandle) Close() error {
	h.closeOnce.Do(func() {
		h.lock.Lock()
		h.closed = true
		h.lock.Unlock()
		err := h.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		if err != nil {
			goapp.Log.Debug().Err(err).Msg("socket close msg error")
		}
		if err := h.conn.Close(); err != nil {
			goapp.Log.Debug().Err(err).Msg("socket close error")
		}
	})
	return nil
}

func (h *wsHandle) readLoop() {
	defer close(h.done)
	defer close(h.segments)
	goapp.Log.Info().Msg("enter stream read loop")
	for {
		_, message, err := h.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				goapp.Log.Warn().Err(err).Msg("socket read error")
				h.setErr(fmt.Errorf("stream dropped: %w", err))
			}
			break
		}
		var sd sapi.SegmentData
		if err = json.Unmarshal(message, &sd); err != nil {
			goapp.Log.Error().Err(err).Msg("can't unmarshal segment data")
			h.setErr(fmt.Errorf("stream dropped: %w", err))
			break
		}
		goapp.Log.Debug().Int("seq", sd.Seq).Str("text", goapp.Sanitize(sd.Text)).Msg("received segment")
		h.segments <- sd
	}
	goapp.Log.Info().Msg("exit stream read loop")
}

func (h *wsHandle) setErr(err error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.err == nil && !h.closed {
		h.err = err
	}
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
