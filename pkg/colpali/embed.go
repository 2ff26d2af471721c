// Package colpali is an HTTP client for a ColPali-style late-interaction
// embedding service. Pages and queries are both embedded as multi-vectors:
// one vector per image patch or query token.
package colpali

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrDimension is returned when the service answers with vectors whose
// width differs from the configured dimension.
var ErrDimension = errors.New("colpali: unexpected vector dimension")

// Options configures a Client.
type Options struct {
	BaseURL string
	Model   string
	Dim     int // 0 disables the dimension check
	Timeout time.Duration
}

// DefaultOptions returns options for a local embedding server.
func DefaultOptions() Options {
	return Options{
		BaseURL: "http://localhost:8000",
		Model:   "vidore/colqwen2-v1.0",
		Dim:     128,
		Timeout: 60 * time.Second,
	}
}

// Client embeds page images and query text.
type Client struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// New creates an embedding client. The transport is instrumented with otelhttp.
func New(opts Options) *Client {
	d := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = d.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		dim:     opts.Dim,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type imagesReq struct {
	Model  string   `json:"model,omitempty"`
	Images []string `json:"images"`
}

type imagesResp struct {
	Embeddings [][][]float32 `json:"embeddings"`
}

type queryReq struct {
	Model string `json:"model,omitempty"`
	Query string `json:"query"`
}

type queryResp struct {
	Embedding [][]float32 `json:"embedding"`
}

// EmbedImages returns one multi-vector per image, in input order.
func (c *Client) EmbedImages(ctx context.Context, images []image.Image) ([][][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}
	encoded := make([]string, len(images))
	for i, img := range images {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("colpali: encode image %d: %w", i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}

	var out imagesResp
	if err := c.post(ctx, "/embed/images", imagesReq{Model: c.model, Images: encoded}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(images) {
		return nil, fmt.Errorf("colpali: embed images: got %d embeddings for %d images", len(out.Embeddings), len(images))
	}
	for i, mv := range out.Embeddings {
		if err := c.checkDim(mv); err != nil {
			return nil, fmt.Errorf("colpali: image %d: %w", i, err)
		}
	}
	return out.Embeddings, nil
}

// EmbedQuery returns the multi-vector for a text query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	var out queryResp
	if err := c.post(ctx, "/embed/query", queryReq{Model: c.model, Query: text}, &out); err != nil {
		return nil, err
	}
	if err := c.checkDim(out.Embedding); err != nil {
		return nil, fmt.Errorf("colpali: query: %w", err)
	}
	return out.Embedding, nil
}

func (c *Client) checkDim(mv [][]float32) error {
	if len(mv) == 0 {
		return errors.New("empty multi-vector")
	}
	if c.dim <= 0 {
		return nil
	}
	for _, v := range mv {
		if len(v) != c.dim {
			return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(v), c.dim)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("colpali: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("colpali %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("colpali %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("colpali %s decode: %w", path, err)
	}
	return nil
}
