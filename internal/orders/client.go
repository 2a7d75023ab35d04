package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jogardn/roast-orders/internal/apperror"
	"github.com/jogardn/roast-orders/internal/circuitbreaker"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var errServerStatus = errors.New("order service returned a server error")

// Client talks to the order service over HTTP. Rejections come back as
// *apperror.Error so callers can switch on the kind.
type Client struct {
	rest    *resty.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		rest: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json"),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "order-service-client",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}, logger),
		logger: logger,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
	Details *errorDetails   `json:"details"`
}

type errorDetails struct {
	Available   decimal.Decimal `json:"available"`
	Shortfall   decimal.Decimal `json:"shortfall"`
	OrderNumber string          `json:"order_number"`
	Cause       string          `json:"cause"`
}

func (c *Client) CreateOrder(ctx context.Context, cmd models.OrderCommand) (*models.CreateResult, error) {
	var result models.CreateResult
	if err := c.call(ctx, http.MethodPost, "/orders", cmd, &result); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"order_id":     result.OrderID,
		"order_number": result.OrderNumber,
	}).Debug("Order created through client")
	return &result, nil
}

func (c *Client) UpdateOrder(ctx context.Context, id string, cmd models.OrderCommand) (*models.UpdateResult, error) {
	var result models.UpdateResult
	if err := c.call(ctx, http.MethodPut, "/orders/"+url.PathEscape(id), cmd, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) TransitionStatus(ctx context.Context, id string, next models.Status) (*models.Order, error) {
	var order models.Order
	if err := c.call(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id)+"/status", statusRequest{Status: next}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders returns the board for date, or every order when date is empty.
func (c *Client) ListOrders(ctx context.Context, date string) ([]models.Order, error) {
	path := "/orders"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var list []models.Order
	if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Stock(ctx context.Context) (decimal.Decimal, error) {
	var level struct {
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := c.call(ctx, http.MethodGet, "/stock", nil, &level); err != nil {
		return decimal.Zero, err
	}
	return level.Quantity, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var (
		status  int
		payload []byte
	)
	err := c.breaker.Execute(func() error {
		req := c.rest.R().SetContext(ctx)
		if body != nil {
			req.SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return fmt.Errorf("failed to send request to order service: %w", err)
		}

		status = resp.StatusCode()
		payload = resp.Body()
		if status >= http.StatusInternalServerError {
			return errServerStatus
		}
		return nil
	})
	if err != nil && !errors.Is(err, errServerStatus) {
		return err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("failed to decode order service response (status %d): %w", status, err)
	}
	if !env.Success {
		return env.toError(status)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode order service data: %w", err)
	}
	return nil
}

func (e envelope) toError(status int) error {
	kind := apperror.Kind(e.Kind)
	if kind == "" {
		if status < http.StatusInternalServerError {
			kind = apperror.InvalidCommand
		} else {
			kind = apperror.TransactionFailure
		}
	}

	appErr := &apperror.Error{Kind: kind, Message: e.Error}
	if e.Details != nil {
		appErr.Available = e.Details.Available
		appErr.Shortfall = e.Details.Shortfall
		appErr.OrderNumber = e.Details.OrderNumber
		if e.Details.Cause != "" {
			appErr.Err = errors.New(e.Details.Cause)
		}
	}
	return appErr
}
