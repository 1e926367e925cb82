package directory

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zulandar/postavshik/internal/models"
)

// ListOrders returns the active orders visible to the caller.
func (c *Client) ListOrders(ctx context.Context) (models.Page[models.Order], error) {
	return c.listOrders(ctx, "list orders", "/orders/")
}

// MyOrders returns the orders the caller created.
func (c *Client) MyOrders(ctx context.Context) (models.Page[models.Order], error) {
	return c.listOrders(ctx, "my orders", "/orders/my/")
}

func (c *Client) listOrders(ctx context.Context, op, path string) (models.Page[models.Order], error) {
	data, err := c.do(ctx, op, http.MethodGet, path, nil, nil, false)
	if err != nil {
		return models.Page[models.Order]{}, err
	}
	page, err := models.DecodePage[models.Order](data)
	if err != nil {
		return models.Page[models.Order]{}, fmt.Errorf("directory: %s: decode: %w", op, err)
	}
	return page, nil
}

// CreateOrder validates in and posts a new order.
func (c *Client) CreateOrder(ctx context.Context, in models.OrderInput) (models.Order, error) {
	if err := in.Validate(); err != nil {
		return models.Order{}, err
	}
	data, err := c.do(ctx, "create order", http.MethodPost, "/orders/create/", nil, in, false)
	if err != nil {
		return models.Order{}, err
	}
	var o models.Order
	if err := decode("create order", data, &o); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// OrderOffers lists the offers received on one of the caller's orders.
func (c *Client) OrderOffers(ctx context.Context, orderID int) (models.Page[models.Offer], error) {
	if orderID <= 0 {
		return models.Page[models.Offer]{}, fmt.Errorf("directory: order offers: invalid id %d", orderID)
	}
	path := fmt.Sprintf("/orders/my/%d/offers/", orderID)
	data, err := c.do(ctx, "order offers", http.MethodGet, path, nil, nil, false)
	if err != nil {
		return models.Page[models.Offer]{}, err
	}
	page, err := models.DecodePage[models.Offer](data)
	if err != nil {
		return models.Page[models.Offer]{}, fmt.Errorf("directory: order offers: decode: %w", err)
	}
	return page, nil
}

// CreateOffer submits the caller's offer on an order.
func (c *Client) CreateOffer(ctx context.Context, orderID int, in models.OfferInput) (models.Offer, error) {
	if orderID <= 0 {
		return models.Offer{}, fmt.Errorf("directory: create offer: invalid id %d", orderID)
	}
	if err := in.Validate(); err != nil {
		return models.Offer{}, err
	}
	path := fmt.Sprintf("/orders/%d/offers/", orderID)
	data, err := c.do(ctx, "create offer", http.MethodPost, path, nil, in, false)
	if err != nil {
		return models.Offer{}, err
	}
	var o models.Offer
	if err := decode("create offer", data, &o); err != nil {
		return models.Offer{}, err
	}
	return o, nil
}
