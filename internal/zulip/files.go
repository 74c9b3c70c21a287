package zulip

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/zulipmcp/zulipmcp/internal/identity"
)

// UploadFile streams content to the server's upload endpoint and returns
// the served URI. The caller is responsible for filename sanitization and
// size limits; this is the raw transport.
func (c *Client) UploadFile(ctx context.Context, creds identity.Credentials, filename string, content io.Reader) (*Upload, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	body, err := c.call(ctx, creds, http.MethodPost, "/user_uploads", url.Values{}, &callOpts{
		contentType: writer.FormDataContentType(),
		body:        &buf,
	})
	if err != nil {
		return nil, err
	}
	var upload Upload
	if err := decode(body, "/user_uploads", &upload); err != nil {
		return nil, err
	}
	return &upload, nil
}

// DownloadFile fetches an uploaded file by its served URI path.
func (c *Client) DownloadFile(ctx context.Context, creds identity.Credentials, uriPath string) ([]byte, error) {
	// Uploads are served outside /api/v1, so this bypasses call().
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.siteRoot()+uriPath, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(creds.Email, creds.APIKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Resource: "upload", Msg: uriPath}
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Msg: resp.Status}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

// siteRoot strips the API suffix from the base URL.
func (c *Client) siteRoot() string {
	const suffix = "/api/v1"
	return c.baseURL[:len(c.baseURL)-len(suffix)]
}
