package transport

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 10 * time.Second

// OpenWS dials the streaming endpoint with the shared cookie jar, so the
// upstream associates the socket with the authenticated session. A rejected
// handshake surfaces the HTTP status (401 there means session expiry).
func (c *Client) OpenWS(ctx context.Context, path string, query url.Values) (*websocket.Conn, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	dialer := websocket.Dialer{
		Jar:              c.jar,
		HandshakeTimeout: wsHandshakeTimeout,
	}
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		wsErr := &Error{Kind: KindTransport, Op: "WS " + path, Err: err}
		if resp != nil {
			wsErr.Kind = KindStatus
			wsErr.Status = resp.StatusCode
		}
		return nil, wsErr
	}
	return conn, nil
}
