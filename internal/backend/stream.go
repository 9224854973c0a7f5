package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

const realtimePath = "/realtime/v1/websocket"

// Frame is one server message on the realtime socket. A frame carries a
// push, a cursor to resume from, or an error that ends the subscription.
type Frame struct {
	Cursor string       `json:"cursor,omitempty"`
	Push   *models.Push `json:"push,omitempty"`
	Error  *FrameError  `json:"error,omitempty"`
}

// FrameError rejects a subscription, with the HTTP status the same
// request would have failed with.
type FrameError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StreamConfig configures the realtime socket.
type StreamConfig struct {
	// ReconnectDelay is the first wait after a dropped connection. It
	// doubles up to MaxBackoff and resets once a push arrives.
	ReconnectDelay time.Duration
	MaxBackoff     time.Duration
	Buffer         int
}

// Stream is a Realtime channel over one websocket per topic. A dropped
// socket is redialed with the last cursor so no push is skipped.
type Stream struct {
	client *Client
	cfg    StreamConfig
}

// NewStream creates a Stream over c.
func NewStream(c *Client, cfg StreamConfig) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 250 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.ReconnectDelay {
		cfg.MaxBackoff = max(30*time.Second, cfg.ReconnectDelay)
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultPushBuffer
	}
	return &Stream{client: c, cfg: cfg}
}

// Subscribe implements Realtime. The channel closes when ctx ends, cancel
// is called, or the backend rejects the subscription.
func (s *Stream) Subscribe(ctx context.Context, topic string) (<-chan models.Push, func(), error) {
	if strings.TrimSpace(topic) == "" {
		return nil, nil, syncerr.Validation("subscribe", "topic is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan models.Push, s.cfg.Buffer)
	go func() {
		defer close(ch)
		err := s.loop(ctx, topic, func(p models.Push) {
			select {
			case ch <- p:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			s.client.logger.Warn().Err(err).Str("topic", topic).Msg("realtime stream stopped")
		}
	}()
	return ch, cancel, nil
}

func (s *Stream) loop(ctx context.Context, topic string, deliver func(models.Push)) error {
	cursor := ""
	backoff := s.cfg.ReconnectDelay
	for {
		next, delivered, err := s.session(ctx, topic, cursor, deliver)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if next != "" {
			cursor = next
		}
		if delivered {
			backoff = s.cfg.ReconnectDelay
		}
		if !syncerr.Retryable(err) {
			return err
		}
		s.client.logger.Debug().Err(err).Str("topic", topic).Dur("backoff", backoff).Msg("realtime reconnect")
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
}

// session reads one socket until it fails. It returns the last cursor
// seen and whether any push was delivered.
func (s *Stream) session(ctx context.Context, topic, cursor string, deliver func(models.Push)) (string, bool, error) {
	const op = "realtime"
	conn, err := s.client.DialRealtime(ctx, topic, cursor)
	if err != nil {
		return "", false, err
	}
	defer conn.Close() //nolint:errcheck
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	delivered := false
	for {
		var frame Frame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			if isDecodeError(err) {
				s.client.logger.Warn().Err(err).Str("topic", topic).Msg("skipping undecodable realtime frame")
				continue
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return cursor, delivered, syncerr.Network(op, err)
		}
		if fe := frame.Error; fe != nil {
			return cursor, delivered, syncerr.Wrap(KindForStatus(fe.Status), op, &APIError{
				StatusCode: fe.Status,
				Code:       fe.Code,
				Message:    logging.Redact(fe.Message),
			})
		}
		if c := strings.TrimSpace(frame.Cursor); c != "" {
			cursor = c
		}
		if frame.Push == nil {
			continue
		}
		p := *frame.Push
		if p.Topic == "" {
			p.Topic = topic
		}
		deliver(p)
		delivered = true
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// DialRealtime opens the realtime socket for topic, resuming after cursor.
// Credentials travel in the handshake headers.
func (c *Client) DialRealtime(ctx context.Context, topic, cursor string) (*websocket.Conn, error) {
	const op = "realtime"
	u, err := url.Parse(c.baseURL + realtimePath)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindInternal, op, err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	query := url.Values{}
	query.Set("topic", topic)
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	u.RawQuery = query.Encode()

	cfg, err := websocket.NewConfig(u.String(), c.baseURL)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindInternal, op, err)
	}
	cfg.Header = make(http.Header)
	if c.apiKey != "" {
		cfg.Header.Set("apikey", c.apiKey)
	}
	if token := c.bearer(); token != "" {
		cfg.Header.Set("Authorization", "Bearer "+token)
	}

	conn, err := cfg.DialContext(ctx)
	if err != nil {
		// The handshake does not expose the HTTP status, so a refused
		// upgrade is retried like any transport failure.
		return nil, syncerr.Network(op, err)
	}
	return conn, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
