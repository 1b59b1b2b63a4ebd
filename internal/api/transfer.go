package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// downloadChunkSize is the fixed chunk size for signed streaming downloads.
const downloadChunkSize = 4096

// upload posts a single multipart request with two parts: a JSON-encoded
// "data" part carrying props and a binary "file" part streamed from filePath.
// The whole upload is one atomic attempt; there is no chunking and no retry.
// Returns the decoded success body for the caller to pull the assigned id out
// of (recordingId for recordings, id for files).
func (c *Client) upload(ctx context.Context, path, filePath string, props map[string]any) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload file: %w", err)
	}
	defer file.Close()

	jsonProps, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload props: %w", err)
	}

	// Pipe the multipart body so the file content streams through the
	// encoder instead of being buffered whole.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeParts(writer, jsonProps, filepath.Base(filePath), file)
		if cerr := writer.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return body, nil
}

func writeParts(writer *multipart.Writer, jsonProps []byte, filename string, content io.Reader) error {
	if err := writer.WriteField("data", string(jsonProps)); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, content)
	return err
}

// uploadID runs upload and extracts a numeric id field from the response.
func (c *Client) uploadID(ctx context.Context, path, filePath string, props map[string]any, idField string) (int, error) {
	body, err := c.upload(ctx, path, filePath, props)
	if err != nil {
		return 0, err
	}
	id, ok := body[idField].(float64)
	if !ok {
		return 0, fmt.Errorf("upload response carried no %s", idField)
	}
	return int(id), nil
}

// Download is a lazy, finite, non-restartable sequence of byte chunks from a
// signed URL. The sequence can be consumed exactly once and must be drained
// or closed to release the connection; re-reading requires a fresh signed
// token from the originating resource endpoint.
type Download struct {
	body io.ReadCloser
	done bool
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// Chunks are at most 4 KiB.
func (d *Download) Next() ([]byte, error) {
	if d.done {
		return nil, io.EOF
	}
	buf := make([]byte, downloadChunkSize)
	n, err := io.ReadFull(d.body, buf)
	if n > 0 {
		if err == io.ErrUnexpectedEOF {
			err = nil
		}
		return buf[:n], err
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		d.done = true
		d.body.Close()
		return nil, io.EOF
	}
	return nil, err
}

// ReadAll drains the remaining chunks into one byte slice and closes the
// stream.
func (d *Download) ReadAll() ([]byte, error) {
	defer d.Close()
	return io.ReadAll(d.body)
}

// Close releases the underlying connection. Safe to call twice.
func (d *Download) Close() error {
	if d.done {
		return nil
	}
	d.done = true
	return d.body.Close()
}

// DownloadSigned performs a streaming GET of /api/v1/signedUrl with a
// short-lived signed token. The token is distinct from the session bearer
// token; an already-expired token fails fast without a round trip.
func (c *Client) DownloadSigned(ctx context.Context, token string) (*Download, error) {
	if exp, ok := signedTokenExpiry(token); ok && exp.Before(time.Now()) {
		return nil, fmt.Errorf("signed download token expired at %s", exp.Format(time.RFC3339))
	}

	query := url.Values{"jwt": []string{token}}
	resp, err := c.send(ctx, http.MethodGet, "/api/v1/signedUrl", query, nil, false)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &Download{body: resp.Body}, nil
}

// DownloadFile resolves a file id to a signed token via an authenticated
// lookup, then streams the content.
func (c *Client) DownloadFile(ctx context.Context, fileID int) (*Download, error) {
	var body struct {
		JWT string `json:"jwt"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/files/%d", fileID), nil, nil, &body); err != nil {
		return nil, err
	}
	return c.DownloadSigned(ctx, body.JWT)
}

// signedTokenExpiry extracts the exp claim without verifying the signature.
// The server is the only party that verifies signed tokens; the client just
// avoids a doomed request.
func signedTokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
