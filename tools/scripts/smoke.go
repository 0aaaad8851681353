// Package main provides a CI-friendly end-to-end smoke test for a running chat server.
//
// It validates:
//   - registration, duplicate rejection and the join notice
//   - live feed handshake, subprotocol selection and hello_ack
//   - private message delivery over HTTP and the live feed
//   - visibility filtering for a third user
//   - unknown recipient, foreign edit and foreign delete rejections
//   - edit and delete events on the live feed
//   - heartbeats over HTTP and over the live feed
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "batepapo/shared/contracts/live/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type message struct {
	ID   string `json:"_id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
	Time string `json:"time"`
}

type api struct {
	base    string
	client  *http.Client
	verbose bool
}

type liveClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:5000", "Server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the live feed handshake")
		text    = flag.String("text", "oi, tudo bem? 👋", "Private message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	c := &api{base: strings.TrimRight(*baseURL, "/"), client: &http.Client{Timeout: *timeout}, verbose: *verbose}

	suffix := fmt.Sprintf("%06d", time.Now().UnixNano()%1_000_000)
	alice, bob, carol := "alice-"+suffix, "bob-"+suffix, "carol-"+suffix

	c.mustStatus(root, http.MethodPost, "/participants", "", map[string]string{"name": alice}, http.StatusCreated, nil)
	c.mustStatus(root, http.MethodPost, "/participants", "", map[string]string{"name": bob}, http.StatusCreated, nil)
	c.mustStatus(root, http.MethodPost, "/participants", "", map[string]string{"name": alice}, http.StatusConflict, nil)

	feed := mustConnect(root, bob, wsURL(c.base, bob), *origin, *timeout)
	defer closeWS(feed.conn)
	if *verbose {
		fmt.Printf("live feed connected: user=%s session=%s\n", bob, feed.sessionID)
	}

	var sent message
	c.mustStatus(root, http.MethodPost, "/messages", alice,
		map[string]string{"to": bob, "text": *text, "type": "private_message"}, http.StatusCreated, &sent)
	if sent.ID == "" || sent.From != alice || sent.Text != *text {
		fatalf("unexpected send response: %+v", sent)
	}

	skip := map[string]struct{}{v1.TypeMessageNew: {}}
	mustAssertMessage(root, feed, v1.TypeMessageNew, sent.ID, *text, *timeout, skip)

	if !c.listContains(root, bob, sent.ID) {
		fatalf("recipient cannot see the private message")
	}
	if c.listContains(root, carol, sent.ID) {
		fatalf("a third user can see the private message")
	}

	c.mustStatus(root, http.MethodPost, "/messages", alice,
		map[string]string{"to": "ghost-" + suffix, "text": "x", "type": "private_message"}, http.StatusNotFound, nil)
	c.mustStatus(root, http.MethodPut, "/messages/"+sent.ID, bob,
		map[string]string{"to": bob, "text": "hijack", "type": "private_message"}, http.StatusUnauthorized, nil)
	c.mustStatus(root, http.MethodDelete, "/messages/"+sent.ID, bob, nil, http.StatusUnauthorized, nil)

	edited := *text + " (editado)"
	c.mustStatus(root, http.MethodPut, "/messages/"+sent.ID, alice,
		map[string]string{"to": bob, "text": edited, "type": "private_message"}, http.StatusOK, nil)
	mustAssertMessage(root, feed, v1.TypeMessageUpdated, sent.ID, edited, *timeout, skip)

	c.mustStatus(root, http.MethodDelete, "/messages/"+sent.ID, alice, nil, http.StatusOK, nil)
	mustAssertMessage(root, feed, v1.TypeMessageDeleted, sent.ID, "", *timeout, skip)

	c.mustStatus(root, http.MethodPost, "/status", alice, nil, http.StatusOK, nil)
	c.mustStatus(root, http.MethodPost, "/status", carol, nil, http.StatusNotFound, nil)

	mustWriteWithTimeout(root, feed.conn, v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeHeartbeat,
		ID:   bob + "-heartbeat",
		TS:   time.Now().UTC(),
	}, *timeout)
	feed.mustReadUntilType(root, v1.TypeHeartbeatAck, *timeout, skip)

	fmt.Printf("OK: users=%s,%s message=%s session=%s\n", alice, bob, sent.ID, feed.sessionID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURL(base, user string) string {
	u, _ := url.Parse(base)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"user": {user}}.Encode()
	return u.String()
}

// ---- HTTP ----

func (c *api) do(parent context.Context, method, path, user string, body any) (int, []byte) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(parent, method, c.base+path, rdr)
	if err != nil {
		fatalf("build %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("user", user)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read %s %s: %v", method, path, err)
	}
	if c.verbose {
		fmt.Printf("%s %s user=%q -> %d %s\n", method, path, user, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp.StatusCode, raw
}

func (c *api) mustStatus(parent context.Context, method, path, user string, body any, want int, out any) {
	got, raw := c.do(parent, method, path, user, body)
	if got != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, got, want, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
}

func (c *api) listContains(parent context.Context, user, id string) bool {
	var msgs []message
	c.mustStatus(parent, http.MethodGet, "/messages", user, nil, http.StatusOK, &msgs)
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// ---- live feed ----

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *liveClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &liveClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	if p.User != name {
		fatalf("hello_ack user mismatch: got=%q want=%q", p.User, name)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *liveClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *liveClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustAssertMessage waits for an event of wantType about message id.
// Events for other messages (join notices of other smoke runs) are skipped.
func mustAssertMessage(parent context.Context, c *liveClient, wantType, id, text string, stepTimeout time.Duration, skip map[string]struct{}) {
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		env := c.mustReadUntilType(parent, wantType, time.Until(deadline), skip)

		var p v1.MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal %s payload (%s): %v", wantType, c.name, err)
		}
		if p.ID != id {
			continue
		}
		if text != "" && p.Text != text {
			fatalf("%s text mismatch (%s): got=%q want=%q", wantType, c.name, p.Text, text)
		}
		return
	}
	fatalf("timeout waiting for %s of %s (%s)", wantType, id, c.name)
}

func (c *liveClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
