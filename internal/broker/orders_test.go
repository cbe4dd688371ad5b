package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/predatorfx/hunter/pkg/types"
)

func TestClassifyOrderResponse_Filled(t *testing.T) {
	env := oandaOrderEnvelope{}
	env.OrderFillTransaction = &struct {
		Price   string `json:"price"`
		OrderID string `json:"orderID"`
	}{Price: "1.10523", OrderID: "abc123"}

	res := classifyOrderResponse(201, env)
	assert.Equal(t, ResponseFilled, res.Kind)
	assert.InDelta(t, 1.10523, res.FillPrice, 1e-9)
	assert.Equal(t, "abc123", res.OrderID)
}

func TestClassifyOrderResponse_PendingLimit(t *testing.T) {
	env := oandaOrderEnvelope{}
	env.OrderCreateTransaction = &struct {
		ID string `json:"id"`
	}{ID: "xyz"}

	res := classifyOrderResponse(201, env)
	assert.Equal(t, ResponsePendingLimit, res.Kind)
	assert.Equal(t, "xyz", res.OrderID)
}

func TestClassifyOrderResponse_RejectedOnErrorStatus(t *testing.T) {
	res := classifyOrderResponse(400, oandaOrderEnvelope{ErrorMessage: "INSUFFICIENT_MARGIN"})
	assert.Equal(t, ResponseRejected, res.Kind)
	assert.Equal(t, "INSUFFICIENT_MARGIN", res.RejectReason)
}

func TestClassifyOrderResponse_RejectedOnCancelTransaction(t *testing.T) {
	env := oandaOrderEnvelope{}
	env.OrderCancelTransaction = &struct {
		Reason string `json:"reason"`
	}{Reason: "MARKET_HALTED"}

	res := classifyOrderResponse(201, env)
	assert.Equal(t, ResponseRejected, res.Kind)
	assert.Equal(t, "MARKET_HALTED", res.RejectReason)
}

func TestBuildOANDAOrderBody_NegatesUnitsForShort(t *testing.T) {
	body := buildOANDAOrderBody(OrderRequest{
		Instrument: "EUR_USD", Direction: types.DirectionShort, Units: 1000, OrderType: "MARKET",
	})
	order := body["order"].(map[string]interface{})
	assert.Equal(t, "-1000", order["units"])
}

func TestBuildOANDAOrderBody_LimitSetsPriceAndGTC(t *testing.T) {
	body := buildOANDAOrderBody(OrderRequest{
		Instrument: "EUR_USD", Direction: types.DirectionLong, Units: 1000, OrderType: "LIMIT", LimitPrice: 1.10500,
	})
	order := body["order"].(map[string]interface{})
	assert.Equal(t, "GTC", order["timeInForce"])
	assert.Equal(t, "1.10500", order["price"])
}
