// Package restclient talks to the chat REST surface: history pages, room
// details and upload preparation.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketchat/internal/apierr"
	"marketchat/internal/types"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// PageSize is sent as the limit query parameter when positive.
	PageSize int
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body types.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return apierr.New(resp.StatusCode, body.Code, fmt.Errorf("chat api error %d: %s", resp.StatusCode, body.Error))
}

// History returns one page of a room's messages, newest page first. An
// empty cursor asks for the newest page.
func (c *Client) History(ctx context.Context, roomID, cursor string) (types.HistoryPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if c.PageSize > 0 {
		q.Set("limit", fmt.Sprint(c.PageSize))
	}
	path := "/api/rooms/" + url.PathEscape(roomID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page types.HistoryPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return types.HistoryPage{}, err
	}
	return page, nil
}

func (c *Client) RoomInfo(ctx context.Context, roomID string) (types.RoomInfo, error) {
	var info types.RoomInfo
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &info); err != nil {
		return types.RoomInfo{}, err
	}
	return info, nil
}

// PrepareUpload reserves a signed, expiring write URL for one file.
func (c *Client) PrepareUpload(ctx context.Context, req types.PrepareUploadRequest) (types.PrepareUploadResponse, error) {
	var out types.PrepareUploadResponse
	if err := c.do(ctx, http.MethodPost, "/api/uploads", req, &out); err != nil {
		return types.PrepareUploadResponse{}, err
	}
	if out.FileURL == "" || out.PublicURL == "" {
		return types.PrepareUploadResponse{}, errors.New("prepare upload: response is missing urls")
	}
	return out, nil
}

// Upload PUTs body to a URL returned by PrepareUpload. progress, when set,
// receives the cumulative number of bytes handed to the transport.
func (c *Client) Upload(ctx context.Context, fileURL string, body io.Reader, size int64, contentType string, progress func(sent int64)) error {
	if progress != nil {
		body = &countingReader{r: body, report: progress}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fileURL, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

type countingReader struct {
	r      io.Reader
	sent   int64
	report func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		c.report(c.sent)
	}
	return n, err
}
