package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/caiofmo/zapdesk/internal/model"
)

// SendMedia uploads raw media bytes with an optional caption and
// returns the server copy of the resulting message. The subtype
// (image/audio/video/document) is derived server-side from mimetype;
// the client classifies it too only for the pending placeholder.
func (c *Client) SendMedia(ctx context.Context, conversationID string, data []byte, mimetype, caption string) (model.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="upload"`)
	header.Set("Content-Type", mimetype)
	part, err := w.CreatePart(header)
	if err != nil {
		return model.Message{}, err
	}
	if _, err := part.Write(data); err != nil {
		return model.Message{}, err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return model.Message{}, err
		}
	}
	if err := w.Close(); err != nil {
		return model.Message{}, err
	}

	path := "/conversations/" + url.PathEscape(conversationID) + "/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return model.Message{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return model.Message{}, fmt.Errorf("send media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Message{}, &APIError{Status: resp.StatusCode, Body: string(snippet), Path: path}
	}

	var out model.Message
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Message{}, fmt.Errorf("decode media response: %w", err)
	}
	out.Decode()
	return out, nil
}
