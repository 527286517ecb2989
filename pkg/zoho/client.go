// Package zoho is the client for the Zoho Inventory REST API: paginated
// snapshots of remote entities and create calls that report the API's
// response codes.
package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/fartrucking/far-warehousing/pkg/errors"
	"github.com/fartrucking/far-warehousing/pkg/httpclient"
	"github.com/fartrucking/far-warehousing/pkg/matching"
	"github.com/fartrucking/far-warehousing/pkg/ratelimit"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
)

const (
	DefaultBaseURL = "https://www.zohoapis.com/inventory/v1"
	DefaultPerPage = 200

	// maxPages bounds a paginated fetch in case has_more_page never clears.
	maxPages = 1000
)

// TokenSource supplies the OAuth access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Throttler is told when the API answers 429.
type Throttler interface {
	Throttle(ctx context.Context, d time.Duration)
}

type Config struct {
	BaseURL        string
	OrganizationID string
	PerPage        int
	PageDelay      time.Duration
}

type Client struct {
	cfg       Config
	http      *httpclient.Client
	tokens    TokenSource
	limiter   ratelimit.Limiter
	throttler Throttler
	extract   *Extractor
	logger    ectologger.Logger
}

func NewClient(cfg Config, http *httpclient.Client, tokens TokenSource, logger ectologger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultPerPage
	}
	return &Client{
		cfg:     cfg,
		http:    http,
		tokens:  tokens,
		extract: NewExtractor(),
		logger:  logger,
	}
}

// WithLimiter makes every call wait on l first.
func (c *Client) WithLimiter(l ratelimit.Limiter) *Client {
	c.limiter = l
	return c
}

// WithThrottler reports 429 responses to t.
func (c *Client) WithThrottler(t Throttler) *Client {
	c.throttler = t
	return c
}

func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("organization_id", c.cfg.OrganizationID)
	return c.cfg.BaseURL + path + "?" + query.Encode()
}

func (c *Client) headers(ctx context.Context) (map[string]string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return map[string]string{"Authorization": "Zoho-oauthtoken " + token}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// call performs one request and returns the decoded body. A non-zero code or a
// non-2xx status becomes an APIError.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, payload any) (map[string]any, error) {
	if err := c.wait(ctx); err != nil {
		return nil, apperrors.WrapTransportError(op, err)
	}
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, apperrors.WrapTransportError(op, err)
	}

	var resp *httpclient.Response
	if method == http.MethodGet {
		resp, err = c.http.Get(ctx, c.endpoint(path, query), headers)
	} else {
		resp, err = c.http.SendJSON(ctx, method, c.endpoint(path, query), payload, headers)
	}
	if err != nil {
		return nil, apperrors.WrapTransportError(op, err)
	}

	if httpclient.IsRateLimitStatus(resp.StatusCode) && c.throttler != nil {
		retryAfter, perr := ratelimit.ParseRetryAfter(resp.Headers["Retry-After"])
		if perr != nil {
			retryAfter = time.Minute
		}
		c.throttler.Throttle(ctx, retryAfter)
	}

	doc, err := resp.Map()
	if err != nil {
		return nil, apperrors.NewAPIError(op, resp.StatusCode, apperrors.TransportErrorCode, snippet(resp.Body))
	}

	code, hasCode, _ := c.extract.Int("code", doc)
	message, _ := c.extract.String("message", doc)
	if hasCode && code != CodeSuccess {
		return doc, apperrors.NewAPIError(op, resp.StatusCode, code, message)
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		if !hasCode {
			code = apperrors.TransportErrorCode
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return doc, apperrors.NewAPIError(op, resp.StatusCode, code, message)
	}
	return doc, nil
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}

// decode converts extracted generic records into typed entities.
func decode[T any](records any) ([]T, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchAll walks every page of a list endpoint.
func fetchAll[T any](ctx context.Context, c *Client, op, path string, query url.Values, recordsKey string) ([]T, error) {
	ctx, span := tracing.StartSpan(ctx, "Zoho."+op)
	defer span.End()

	var all []T
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.cfg.PerPage))

		doc, err := c.call(ctx, op, http.MethodGet, path, q, nil)
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}

		records, err := c.extract.Slice(recordsKey, doc)
		if err != nil {
			return nil, apperrors.NewAPIError(op, http.StatusOK, apperrors.TransportErrorCode, err.Error())
		}
		typed, err := decode[T](records)
		if err != nil {
			return nil, apperrors.NewAPIError(op, http.StatusOK, apperrors.TransportErrorCode, fmt.Sprintf("failed to decode %s: %v", recordsKey, err))
		}
		all = append(all, typed...)

		hasMore, _ := c.extract.Bool("page_context.has_more_page", doc)
		c.logger.WithContext(ctx).Debugf("Fetched %s page %d (%d records, has_more_page=%t)", recordsKey, page, len(typed), hasMore)
		if !hasMore {
			break
		}

		if c.cfg.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, apperrors.WrapTransportError(op, ctx.Err())
			case <-time.After(c.cfg.PageDelay):
			}
		}
	}

	span.SetAttributes(attribute.Int("zoho.records", len(all)))
	return all, nil
}

func (c *Client) FetchItems(ctx context.Context) ([]Item, error) {
	return fetchAll[Item](ctx, c, "FetchItems", "/items", nil, "items")
}

func (c *Client) FetchWarehouses(ctx context.Context) ([]Warehouse, error) {
	return fetchAll[Warehouse](ctx, c, "FetchWarehouses", "/settings/warehouses", nil, "warehouses")
}

func (c *Client) FetchVendors(ctx context.Context) ([]Vendor, error) {
	contacts, err := fetchAll[Contact](ctx, c, "FetchVendors", "/contacts", url.Values{"contact_type": {"vendor"}}, "contacts")
	if err != nil {
		return nil, err
	}
	vendors := make([]Vendor, 0, len(contacts))
	for _, contact := range contacts {
		name := contact.VendorName
		if name == "" {
			name = contact.ContactName
		}
		vendors = append(vendors, Vendor{ID: contact.ID, Name: name})
	}
	return vendors, nil
}

func (c *Client) FetchCustomers(ctx context.Context) ([]Contact, error) {
	return fetchAll[Contact](ctx, c, "FetchCustomers", "/contacts", url.Values{"contact_type": {"customer"}}, "contacts")
}

func (c *Client) FetchPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	return fetchAll[PurchaseOrder](ctx, c, "FetchPurchaseOrders", "/purchaseorders", nil, "purchaseorders")
}

func (c *Client) FetchSalesOrders(ctx context.Context) ([]SalesOrder, error) {
	return fetchAll[SalesOrder](ctx, c, "FetchSalesOrders", "/salesorders", nil, "salesorders")
}

// FindItemBySKU looks an item up remotely by SKU.
func (c *Client) FindItemBySKU(ctx context.Context, sku string) (Item, bool, error) {
	items, err := fetchAll[Item](ctx, c, "FindItemBySKU", "/items", url.Values{"sku": {sku}}, "items")
	if err != nil {
		return Item{}, false, err
	}
	item, ok := matching.FindExisting(matching.SKUIdentity(sku), items, func(i Item) matching.Identity {
		return matching.SKUIdentity(i.SKU)
	})
	return item, ok, nil
}

// GetItem fetches one item with its unit conversions.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	ctx, span := tracing.StartSpan(ctx, "Zoho.GetItem")
	defer span.End()

	doc, err := c.call(ctx, "GetItem", http.MethodGet, "/items/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return Item{}, err
	}
	raw, err := c.extract.Evaluate("item", doc)
	if err != nil || raw == nil {
		return Item{}, apperrors.NewAPIError("GetItem", http.StatusOK, apperrors.TransportErrorCode, "response has no item")
	}
	items, err := decode[Item]([]any{raw})
	if err != nil {
		return Item{}, apperrors.NewAPIError("GetItem", http.StatusOK, apperrors.TransportErrorCode, err.Error())
	}
	return items[0], nil
}

// SearchContacts finds contacts whose contact or company name contains the
// given names. A blank name is replaced with the other one.
func (c *Client) SearchContacts(ctx context.Context, contactName, companyName string) ([]Contact, error) {
	if contactName == "" {
		contactName = companyName
	}
	if companyName == "" {
		companyName = contactName
	}
	query := url.Values{
		"contact_name_contains": {contactName},
		"company_name_contains": {companyName},
	}

	ctx, span := tracing.StartSpan(ctx, "Zoho.SearchContacts")
	defer span.End()

	doc, err := c.call(ctx, "SearchContacts", http.MethodGet, "/contacts", query, nil)
	if err != nil {
		return nil, err
	}
	records, err := c.extract.Slice("contacts", doc)
	if err != nil {
		return nil, err
	}
	return decode[Contact](records)
}

func (c *Client) create(ctx context.Context, op, path string, payload any, idExpr string) (CreateResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Zoho."+op)
	defer span.End()

	if err := Validate(payload); err != nil {
		return CreateResult{}, fmt.Errorf("%s: %w", op, err)
	}

	doc, err := c.call(ctx, op, http.MethodPost, path, nil, payload)
	if err != nil {
		tracing.RecordError(ctx, err)
		return CreateResult{}, err
	}

	id, _ := c.extract.String(idExpr, doc)
	message, _ := c.extract.String("message", doc)
	return CreateResult{Code: CodeSuccess, Message: message, ID: id}, nil
}

func (c *Client) CreateItem(ctx context.Context, payload ItemPayload) (CreateResult, error) {
	return c.create(ctx, "CreateItem", "/items", payload, "item.item_id")
}

func (c *Client) CreateContact(ctx context.Context, payload ContactPayload) (CreateResult, error) {
	return c.create(ctx, "CreateContact", "/contacts", payload, "contact.contact_id")
}

func (c *Client) CreatePurchaseOrder(ctx context.Context, payload PurchaseOrderPayload) (CreateResult, error) {
	return c.create(ctx, "CreatePurchaseOrder", "/purchaseorders", payload, "purchaseorder.purchaseorder_id")
}

func (c *Client) CreateSalesOrder(ctx context.Context, payload SalesOrderPayload) (CreateResult, error) {
	return c.create(ctx, "CreateSalesOrder", "/salesorders", payload, "salesorder.salesorder_id")
}
