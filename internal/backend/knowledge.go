package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

// Block is one indexed knowledge-base item: a crawled URL or an uploaded
// document.
type Block struct {
	ID       string `json:"id"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileType string `json:"file_type,omitempty"`
}

// Listing is the content of the knowledge-base index.
type Listing struct {
	TotalVectors int     `json:"total_vectors"`
	RetrievedIDs int     `json:"retrieved_ids"`
	Blocks       []Block `json:"blocks"`
}

// Ingestion is the acknowledgement returned by add and delete calls.
type Ingestion struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message,omitempty"`
}

type listBlocksResponse struct {
	TotalVectors int      `json:"total_vectors"`
	RetrievedIDs int      `json:"retrieved_ids"`
	BlockIDs     []string `json:"block_ids"`
}

// ValidateURL requires an absolute http(s) URL.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.InvalidInput("url", "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return model.InvalidInput("url", "Invalid URL format")
	}
	return nil
}

// AddURL queues a page for crawling into the index.
func (c *Client) AddURL(ctx context.Context, raw string) (*Ingestion, error) {
	if err := ValidateURL(raw); err != nil {
		return nil, err
	}
	var out Ingestion
	if err := c.post(ctx, "add-url", c.endpoints.AddURL, map[string]string{"url": strings.TrimSpace(raw)}, &out); err != nil {
		return nil, fmt.Errorf("adding url: %w", err)
	}
	c.logger.Info("url added", zap.String("url", raw))
	return &out, nil
}

// DeleteURL removes a crawled page from the index.
func (c *Client) DeleteURL(ctx context.Context, raw string) (*Ingestion, error) {
	if err := ValidateURL(raw); err != nil {
		return nil, err
	}
	var out Ingestion
	if err := c.post(ctx, "delete-url", c.endpoints.DeleteURL, map[string]string{"url": strings.TrimSpace(raw)}, &out); err != nil {
		return nil, fmt.Errorf("deleting url: %w", err)
	}
	c.logger.Info("url deleted", zap.String("url", raw))
	return &out, nil
}

// AddDocument uploads a PDF into the index.
func (c *Client) AddDocument(ctx context.Context, name string, data []byte) (*Ingestion, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(data) == 0 {
		return nil, model.InvalidInput("add-document", "filename and file_data are required")
	}

	var out Ingestion
	err := c.post(ctx, "add-document", c.endpoints.AddDocument, map[string]string{
		"pdf_base64":    base64.StdEncoding.EncodeToString(data),
		"document_name": name,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("adding document: %w", err)
	}
	c.logger.Info("document added", zap.String("document", name), zap.Int("bytes", len(data)))
	return &out, nil
}

// DeleteDocument removes an uploaded document from the index.
func (c *Client) DeleteDocument(ctx context.Context, name string) (*Ingestion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.InvalidInput("delete-document", "filename is required")
	}

	var out Ingestion
	if err := c.post(ctx, "delete-document", c.endpoints.DeleteDocument, map[string]string{"document_name": name}, &out); err != nil {
		return nil, fmt.Errorf("deleting document: %w", err)
	}
	c.logger.Info("document deleted", zap.String("document", name))
	return &out, nil
}

// ListURLs returns the crawled pages in the index.
func (c *Client) ListURLs(ctx context.Context) (*Listing, error) {
	return c.listBlocks(ctx, "list-urls", true)
}

// ListDocuments returns the uploaded documents in the index.
func (c *Client) ListDocuments(ctx context.Context) (*Listing, error) {
	return c.listBlocks(ctx, "list-documents", false)
}

func (c *Client) listBlocks(ctx context.Context, name string, urls bool) (*Listing, error) {
	var resp listBlocksResponse
	if err := c.post(ctx, name, c.endpoints.ListBlocks, map[string]string{"index": c.index}, &resp); err != nil {
		return nil, fmt.Errorf("listing index: %w", err)
	}

	listing := &Listing{
		TotalVectors: resp.TotalVectors,
		RetrievedIDs: resp.RetrievedIDs,
		Blocks:       []Block{},
	}
	for bi, raw := range resp.BlockIDs {
		items, err := ParseBlockList(raw)
		if err != nil {
			c.logger.Warn("skipping unparsable block", zap.Int("block", bi), zap.Error(err))
			continue
		}
		for ii, item := range items {
			isURL := strings.HasPrefix(item, "http://") || strings.HasPrefix(item, "https://")
			switch {
			case urls && isURL:
				listing.Blocks = append(listing.Blocks, Block{
					ID:  fmt.Sprintf("block-%d", len(listing.Blocks)),
					URL: item,
				})
			case !urls && !isURL:
				ext := strings.TrimPrefix(path.Ext(item), ".")
				if ext == "" {
					ext = "unknown"
				}
				listing.Blocks = append(listing.Blocks, Block{
					ID:       fmt.Sprintf("doc-%d-%d", bi, ii),
					Filename: item,
					FileType: ext,
				})
			}
		}
	}
	return listing, nil
}

// ParseBlockList decodes a list serialized the Python way, e.g.
// "['https://a.io', 'guide.pdf']".
func ParseBlockList(raw string) ([]string, error) {
	normalized := strings.ReplaceAll(raw, "'", `"`)
	var items []string
	if err := json.Unmarshal([]byte(normalized), &items); err != nil {
		return nil, fmt.Errorf("parsing block list: %w", err)
	}
	return items, nil
}

// CitationQuery narrows citation analytics. Empty fields mean no filter.
type CitationQuery struct {
	ConversationID string
	DateFrom       string
	DateTo         string
}

// CitationCount is how often one URL was cited.
type CitationCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

// CitationReport summarizes which sources answers relied on.
type CitationReport struct {
	TotalCitations int             `json:"total_citations"`
	UniqueURLs     int             `json:"unique_urls"`
	Citations      []CitationCount `json:"citations"`
}

// CitationAnalytics reports citation counts over stored answers.
func (c *Client) CitationAnalytics(ctx context.Context, q CitationQuery) (*CitationReport, error) {
	payload := map[string]any{
		"table_name":      c.table,
		"conversation_id": nullable(q.ConversationID),
		"date_from":       nullable(q.DateFrom),
		"date_to":         nullable(q.DateTo),
	}

	var report CitationReport
	if err := c.post(ctx, "analytics-citation", c.endpoints.CitationAnalytics, payload, &report); err != nil {
		return nil, fmt.Errorf("citation analytics: %w", err)
	}
	return &report, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
