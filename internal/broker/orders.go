package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	hunterrors "github.com/predatorfx/hunter/pkg/errors"
	"github.com/predatorfx/hunter/pkg/types"
)

// OrderRequest is the outbound order intent the executor hands to the
// broker client (spec.md §4.3).
type OrderRequest struct {
	Instrument   types.Instrument
	Direction    types.Direction
	Units        int
	OrderType    string // "MARKET" or "LIMIT"
	LimitPrice   float64
	StopLossPips float64
	TakeProfitPips float64
	ClientOrderID string
}

// ResponseKind classifies what the broker did with an order (spec.md §4.3
// "broker response classification").
type ResponseKind string

const (
	ResponseFilled       ResponseKind = "FILLED"
	ResponsePendingLimit ResponseKind = "PENDING_LIMIT"
	ResponseRejected     ResponseKind = "REJECTED"
)

// OrderResponse is the classified outcome of placing an order.
type OrderResponse struct {
	Kind       ResponseKind
	FillPrice  float64
	OrderID    string
	RejectReason string
}

type oandaOrderEnvelope struct {
	OrderFillTransaction *struct {
		Price string `json:"price"`
		OrderID string `json:"orderID"`
	} `json:"orderFillTransaction"`
	OrderCreateTransaction *struct {
		ID string `json:"id"`
	} `json:"orderCreateTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
	ErrorMessage string `json:"errorMessage"`
}

// PlaceOrder submits an order through the circuit-breaker-protected REST
// path, rate-limited against the broker's outbound quota.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return OrderResponse{}, hunterrors.Wrap(hunterrors.ErrOrderTransport, hunterrors.SeverityHigh, "rate limiter wait", err).WithInstrument(string(req.Instrument))
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doPlaceOrder(ctx, req)
	})
	if err != nil {
		return OrderResponse{}, hunterrors.Wrap(hunterrors.ErrOrderTransport, hunterrors.SeverityHigh, "placing order", err).WithInstrument(string(req.Instrument))
	}
	return result.(OrderResponse), nil
}

func (c *Client) doPlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	body := buildOANDAOrderBody(req)
	payload, _ := json.Marshal(body)

	url := fmt.Sprintf("%s/v3/accounts/%s/orders", c.cfg.Broker.RESTBaseURL, c.cfg.Broker.AccountID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return OrderResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Broker.Token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return OrderResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return OrderResponse{}, err
	}

	var env oandaOrderEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return OrderResponse{}, fmt.Errorf("decoding order response: %w", err)
	}

	return classifyOrderResponse(resp.StatusCode, env), nil
}

func classifyOrderResponse(status int, env oandaOrderEnvelope) OrderResponse {
	if status >= 400 || env.OrderCancelTransaction != nil || env.ErrorMessage != "" {
		reason := env.ErrorMessage
		if env.OrderCancelTransaction != nil && reason == "" {
			reason = env.OrderCancelTransaction.Reason
		}
		return OrderResponse{Kind: ResponseRejected, RejectReason: reason}
	}
	if env.OrderFillTransaction != nil {
		var price float64
		fmt.Sscanf(env.OrderFillTransaction.Price, "%f", &price)
		return OrderResponse{Kind: ResponseFilled, FillPrice: price, OrderID: env.OrderFillTransaction.OrderID}
	}
	if env.OrderCreateTransaction != nil {
		return OrderResponse{Kind: ResponsePendingLimit, OrderID: env.OrderCreateTransaction.ID}
	}
	return OrderResponse{Kind: ResponseRejected, RejectReason: "unrecognized broker response"}
}

func buildOANDAOrderBody(req OrderRequest) map[string]interface{} {
	units := req.Units
	if req.Direction == types.DirectionShort {
		units = -units
	}
	order := map[string]interface{}{
		"type":        req.OrderType,
		"instrument":  string(req.Instrument),
		"units":       fmt.Sprintf("%d", units),
		"timeInForce": "FOK",
	}
	if req.OrderType == "LIMIT" {
		order["price"] = fmt.Sprintf("%.*f", req.Instrument.PriceDecimals(), req.LimitPrice)
		order["timeInForce"] = "GTC"
	}
	if req.ClientOrderID != "" {
		order["clientExtensions"] = map[string]string{"id": req.ClientOrderID}
	}
	return map[string]interface{}{"order": order}
}

// CloseOrder closes an open position by its trade/order ID.
func (c *Client) CloseOrder(ctx context.Context, orderID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return hunterrors.Wrap(hunterrors.ErrCloseTransport, hunterrors.SeverityHigh, "rate limiter wait", err)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/v3/accounts/%s/trades/%s/close", c.cfg.Broker.RESTBaseURL, c.cfg.Broker.AccountID, orderID)
		httpReq, rerr := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
		if rerr != nil {
			return nil, rerr
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Broker.Token)
		resp, derr := c.http.Do(httpReq)
		if derr != nil {
			return nil, derr
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("close returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return hunterrors.Wrap(hunterrors.ErrCloseTransport, hunterrors.SeverityHigh, "closing position", err)
	}
	return nil
}

// UpdateStopLoss moves a trade's stop-loss order to the given price
// (used by the exit authority's monotonic stop improvement, spec.md §4.4).
func (c *Client) UpdateStopLoss(ctx context.Context, tradeID string, stopPrice float64) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return hunterrors.Wrap(hunterrors.ErrStopTransport, hunterrors.SeverityHigh, "rate limiter wait", err)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/v3/accounts/%s/trades/%s/orders", c.cfg.Broker.RESTBaseURL, c.cfg.Broker.AccountID, tradeID)
		body, _ := json.Marshal(map[string]interface{}{
			"stopLoss": map[string]string{"price": fmt.Sprintf("%.5f", stopPrice)},
		})
		httpReq, rerr := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if rerr != nil {
			return nil, rerr
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Broker.Token)
		httpReq.Header.Set("Content-Type", "application/json")
		resp, derr := c.http.Do(httpReq)
		if derr != nil {
			return nil, derr
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("stop update returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return hunterrors.Wrap(hunterrors.ErrStopTransport, hunterrors.SeverityHigh, "updating stop loss", err)
	}
	return nil
}
