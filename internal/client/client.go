// Package client talks to a running chat server: it loads the transcript,
// clears it, and reads streamed replies chunk by chunk.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/tavern-chat/internal/middleware"
	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// ErrIncomplete is returned by Send when the reply stream ended abruptly. The
// partial text is returned alongside it.
var ErrIncomplete = errors.New("response incomplete")

// APIError is a non-success JSON response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client keeps the session cookie between calls, so one Client is one
// conversation.
type Client struct {
	baseURL string
	base    *url.URL
	jar     http.CookieJar
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create cookie jar")
	}
	return &Client{
		baseURL: baseURL,
		base:    base,
		jar:     jar,
		http: &http.Client{
			Jar: jar,
			// clear-history answers with a redirect to the page; the API never needs it
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 2 * time.Minute,
			},
		},
	}, nil
}

// SessionCookie returns the signed session cookie issued by the server, or
// an empty string before the first request.
func (c *Client) SessionCookie() string {
	for _, cookie := range c.jar.Cookies(c.base) {
		if cookie.Name == middleware.SessionCookieName {
			return cookie.Value
		}
	}
	return ""
}

// SetSessionCookie resumes a session saved from SessionCookie.
func (c *Client) SetSessionCookie(value string) {
	if value == "" {
		return
	}
	c.jar.SetCookies(c.base, []*http.Cookie{{Name: middleware.SessionCookieName, Value: value, Path: "/"}})
}

// History returns the session transcript.
func (c *Client) History(ctx context.Context) (chat.Transcript, error) {
	resp, err := c.do(ctx, http.MethodGet, "/history", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	return chat.Decode(data)
}

// Clear discards the transcript; the server issues a fresh session.
func (c *Client) Clear(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/clear-history", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusFound, http.StatusOK)
}

// Send submits query and reads the reply as it streams. After every chunk
// onUpdate receives the full text accumulated so far. The complete reply is
// returned; an abrupt end returns the partial text and ErrIncomplete.
func (c *Client) Send(ctx context.Context, query string, onUpdate func(text string)) (string, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", errors.Wrap(err, "encode query")
	}
	resp, err := c.do(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return "", err
	}

	var text strings.Builder
	chunks := NewChunkReader(resp.Body)
	for {
		chunk, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return text.String(), fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		text.WriteString(chunk)
		if onUpdate != nil {
			onUpdate(text.String())
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, want ...int) error {
	for _, status := range want {
		if resp.StatusCode == status {
			return nil
		}
	}
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}
	return apiErr
}
