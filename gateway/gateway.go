// Package gateway implements the HTTP contract of the spreadsheet-backed
// remote store: a single pull endpoint and a single action-dispatch write
// endpoint with best-effort row versioning. The gateway is stateless apart
// from the session token; every other component talks to the remote store
// through it.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopsync/shopsync/entity"
	syncErrors "github.com/shopsync/shopsync/errors"
)

// Action names understood by the remote store's write endpoint.
type Action string

const (
	ActionCreateOrder              Action = "createOrder"
	ActionUpdateOrderContent       Action = "updateOrderContent"
	ActionUpdateOrderStatus        Action = "updateOrderStatus"
	ActionDeleteOrder              Action = "deleteOrder"
	ActionBatchUpdatePaymentStatus Action = "batchUpdatePaymentStatus"
	ActionUpdateCustomer           Action = "updateCustomer"
	ActionDeleteCustomer           Action = "deleteCustomer"
	ActionUpdateProduct            Action = "updateProduct"
	ActionDeleteProduct            Action = "deleteProduct"
	ActionReorderProducts          Action = "reorderProducts"
	ActionLogin                    Action = "login"
	ActionChangePassword           Action = "changePassword"
)

// errorCode the remote store uses to reject stale writes.
const codeVersionConflict = "ERR_VERSION_CONFLICT"

// Dataset is one full pull of the three collections, with order line-item
// rows already grouped into orders.
type Dataset struct {
	Customers []entity.Customer
	Products  []entity.Product
	Orders    []entity.Order
}

// WriteResult is the decoded data section of a successful write response.
type WriteResult struct {
	// LastUpdated is the new version stamp assigned to the written record.
	LastUpdated entity.Version `json:"lastUpdated"`

	// Results holds per-row version stamps for batch actions, keyed by
	// record id. Only ids present here were confirmed by the server.
	Results map[string]entity.Version `json:"results,omitempty"`

	// Token is set by the login action.
	Token string `json:"token,omitempty"`
}

// envelope is the uniform response wrapper of the remote store.
type envelope struct {
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// writeRequest is the uniform write request body.
type writeRequest struct {
	Action Action `json:"action"`
	Data   any    `json:"data"`
}

type pullData struct {
	Customers []map[string]any `json:"customers"`
	Products  []map[string]any `json:"products"`
	Orders    []map[string]any `json:"orders"`
}

// Client talks to the remote store. Safe for concurrent use.
type Client struct {
	client   *http.Client
	endpoint string
	options  *ClientOptions

	mu    sync.RWMutex
	token string
}

// New creates a gateway client for the given endpoint URL.
// If httpClient is nil, http.DefaultClient is used.
func New(endpoint string, httpClient *http.Client, options *ClientOptions) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if options == nil {
		options = DefaultClientOptions()
	}
	return &Client{
		client:   httpClient,
		endpoint: endpoint,
		options:  options,
	}
}

// SetToken sets the session token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Pull retrieves the full remote dataset. Orders are bounded to those
// delivered on or after startDate.
func (c *Client) Pull(ctx context.Context, startDate time.Time) (*Dataset, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpPull, "gateway", fmt.Errorf("invalid endpoint: %w", err))
	}
	q := u.Query()
	q.Set("type", "init")
	q.Set("startDate", startDate.Format("2006-01-02"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpPull, "gateway", fmt.Errorf("failed to create request: %w", err))
	}
	c.setHeaders(req)

	env, err := c.do(req, syncErrors.OpPull)
	if err != nil {
		return nil, err
	}

	var data pullData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, syncErrors.NewServerError(syncErrors.OpPull, fmt.Errorf("malformed pull payload: %w", err))
		}
	}

	ds := &Dataset{}
	for _, row := range data.Customers {
		ds.Customers = append(ds.Customers, entity.DecodeCustomer(row))
	}
	for _, row := range data.Products {
		ds.Products = append(ds.Products, entity.DecodeProduct(row))
	}
	rows := make([]entity.OrderRow, 0, len(data.Orders))
	for _, row := range data.Orders {
		rows = append(rows, entity.DecodeOrderRow(row))
	}
	ds.Orders = entity.GroupOrderRows(rows)

	return ds, nil
}

// Write dispatches one mutating action with its payload and decodes the
// result. A stale originalLastUpdated surfaces as a conflict error unless
// the payload carried force.
func (c *Client) Write(ctx context.Context, action Action, payload any) (*WriteResult, error) {
	op := operationFor(action)

	body, err := json.Marshal(writeRequest{Action: action, Data: payload})
	if err != nil {
		return nil, syncErrors.NewWithComponent(op, "gateway", fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, syncErrors.NewWithComponent(op, "gateway", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	env, err := c.do(req, op)
	if err != nil {
		return nil, err
	}

	result := &WriteResult{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return nil, syncErrors.NewServerError(op, fmt.Errorf("malformed write response: %w", err))
		}
	}
	return result, nil
}

// Login authenticates against the remote store and installs the returned
// session token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	result, err := c.Write(ctx, ActionLogin, LoginPayload{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", syncErrors.NewServerError(syncErrors.OpLogin, fmt.Errorf("login response carried no token"))
	}
	c.SetToken(result.Token)
	return result.Token, nil
}

// ChangePassword rotates the operator password.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	_, err := c.Write(ctx, ActionChangePassword, ChangePasswordPayload{
		OldPassword: oldPassword,
		NewPassword: newPassword,
	})
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	if tok := c.currentToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if c.options.UserAgent != "" {
		req.Header.Set("User-Agent", c.options.UserAgent)
	}
}

// do executes the request and decodes the uniform envelope, mapping
// transport failures, conflicts and server-side failures onto the error
// taxonomy.
func (c *Client) do(req *http.Request, op syncErrors.Operation) (*envelope, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, syncErrors.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.options.MaxResponseSize)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, syncErrors.NewNetworkError(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, syncErrors.NewServerError(op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 256)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, syncErrors.NewServerError(op, fmt.Errorf("malformed response envelope: %w", err))
	}

	if !env.Success {
		if env.ErrorCode == codeVersionConflict {
			return nil, syncErrors.NewConflictError(op, fmt.Errorf("remote store rejected stale version"))
		}
		msg := env.Error
		if msg == "" {
			msg = "remote store reported failure"
		}
		return nil, syncErrors.NewServerError(op, fmt.Errorf("%s", msg))
	}

	return &env, nil
}

func operationFor(action Action) syncErrors.Operation {
	switch action {
	case ActionCreateOrder:
		return syncErrors.OpCreate
	case ActionUpdateOrderStatus:
		return syncErrors.OpStatus
	case ActionBatchUpdatePaymentStatus:
		return syncErrors.OpBatchStatus
	case ActionDeleteOrder, ActionDeleteCustomer, ActionDeleteProduct:
		return syncErrors.OpDelete
	case ActionLogin, ActionChangePassword:
		return syncErrors.OpLogin
	default:
		return syncErrors.OpUpdate
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
