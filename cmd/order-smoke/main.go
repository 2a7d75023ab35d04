package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jogardn/roast-orders/internal/config"
	"github.com/jogardn/roast-orders/internal/numbering"
	"github.com/jogardn/roast-orders/internal/orders"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// order-smoke checks a running order service end to end: it places a half
// portion, finds it on today's board, cancels it and expects stock to be back
// where it started.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := cfg.NewLogger()

	baseURL := os.Getenv("ORDER_SERVICE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.Server.OrderServicePort
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := orders.NewClient(baseURL, logger)
	if err := run(ctx, client, time.Now().In(cfg.Location), logger); err != nil {
		logger.WithError(err).WithField("url", baseURL).Fatal("Smoke check failed")
	}
	logger.WithField("url", baseURL).Info("Smoke check passed")
}

func run(ctx context.Context, client *orders.Client, now time.Time, logger *logrus.Logger) error {
	before, err := client.Stock(ctx)
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}

	created, err := client.CreateOrder(ctx, models.OrderCommand{
		CustomerName:  "smoke-check",
		DeliveryMode:  models.DeliveryPickup,
		PaymentMethod: "cash",
		Quantity:      decimal.NewFromFloat(0.5),
	})
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"order_id":     created.OrderID,
		"order_number": created.OrderNumber,
	}).Info("Smoke order created")

	board, err := client.ListOrders(ctx, now.Format(numbering.DateLayout))
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}
	found := false
	for _, o := range board {
		if o.ID == created.OrderID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("order %s missing from today's board", created.OrderNumber)
	}

	if _, err := client.TransitionStatus(ctx, created.OrderID, models.StatusCancelled); err != nil {
		return fmt.Errorf("cancel order %s: %w", created.OrderNumber, err)
	}

	after, err := client.Stock(ctx)
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	if !after.Equal(before) {
		return fmt.Errorf("stock is %s after cancelling, expected %s", after, before)
	}
	return nil
}
