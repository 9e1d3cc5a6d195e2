package hyperliquid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradelink/pkg/exchange"
)

const (
	priceSigFigs    = 5
	maxPerpDecimals = 6

	tifGTC = "Gtc"
	tifIOC = "Ioc"
)

var (
	one = decimal.NewFromInt(1)
	ten = decimal.NewFromInt(10)
)

// formatPrice rounds to five significant figures and at most
// 6-szDecimals decimal places. Integer prices are always accepted.
func formatPrice(px decimal.Decimal, szDecimals int32) string {
	if px.Sign() <= 0 {
		return "0"
	}
	places := int32(priceSigFigs - 1)
	for p := px; p.GreaterThanOrEqual(ten); p = p.Div(ten) {
		places--
	}
	for p := px; p.LessThan(one); p = p.Mul(ten) {
		places++
	}
	if limit := maxPerpDecimals - szDecimals; places > limit {
		places = limit
	}
	if places < 0 {
		places = 0
	}
	return px.Round(places).String()
}

// formatSize truncates to the asset's size step.
func formatSize(qty decimal.Decimal, szDecimals int32) (string, error) {
	sz := qty.Abs().Truncate(szDecimals)
	if !sz.IsPositive() {
		return "", exchange.Rejected(fmt.Sprintf("size %s is below the minimum step of %d decimals", qty, szDecimals))
	}
	return sz.String(), nil
}

// slipped moves ref against the taker by the slippage fraction.
func slipped(ref decimal.Decimal, isBuy bool, slippage decimal.Decimal) decimal.Decimal {
	if isBuy {
		return ref.Mul(one.Add(slippage))
	}
	return ref.Mul(one.Sub(slippage))
}

// tpslFor classifies a trigger relative to the reference price: a trigger on
// the losing side of the order's direction is a stop loss.
func tpslFor(isBuy bool, trigger, ref decimal.Decimal) string {
	if ref.IsZero() {
		return "sl"
	}
	if isBuy == trigger.GreaterThan(ref) {
		return "sl"
	}
	return "tp"
}

// buildOrderPayload shapes one order. ref is the current mid, required for
// market and stop orders.
func buildOrderPayload(req exchange.OrderRequest, asset assetInfo, ref, slippage decimal.Decimal) (orderPayload, error) {
	isBuy := req.Side == exchange.SideBuy
	size, err := formatSize(req.Amount, asset.SzDecimals)
	if err != nil {
		return orderPayload{}, err
	}
	payload := orderPayload{
		Asset:      asset.Index,
		IsBuy:      isBuy,
		Sz:         size,
		ReduceOnly: req.ReduceOnly,
		Cloid:      toCloid(req.ClientID),
	}

	switch p := req.Pricing.(type) {
	case exchange.MarketPricing:
		if !ref.IsPositive() {
			return orderPayload{}, exchange.Rejected(fmt.Sprintf("no reference price for %s", asset.Name))
		}
		payload.LimitPx = formatPrice(slipped(ref, isBuy, slippage), asset.SzDecimals)
		payload.OrderType.Limit = &limitOrderPayload{TIF: tifIOC}
	case exchange.LimitPricing:
		payload.LimitPx = formatPrice(p.Price, asset.SzDecimals)
		payload.OrderType.Limit = &limitOrderPayload{TIF: tifGTC}
	case exchange.StopPricing:
		payload.LimitPx = formatPrice(slipped(p.Trigger, isBuy, slippage), asset.SzDecimals)
		payload.OrderType.Trigger = &triggerOrderPayload{
			IsMarket:  true,
			TriggerPx: formatPrice(p.Trigger, asset.SzDecimals),
			Tpsl:      tpslFor(isBuy, p.Trigger, ref),
		}
	case exchange.StopLimitPricing:
		payload.LimitPx = formatPrice(p.Price, asset.SzDecimals)
		payload.OrderType.Trigger = &triggerOrderPayload{
			IsMarket:  false,
			TriggerPx: formatPrice(p.Trigger, asset.SzDecimals),
			Tpsl:      tpslFor(isBuy, p.Trigger, ref),
		}
	default:
		return orderPayload{}, exchange.Rejected(fmt.Sprintf("unsupported pricing %T", req.Pricing))
	}
	return payload, nil
}

func buildPlaceOrderAction(orders ...orderPayload) Action {
	return Action{
		Type:     ActionTypeOrder,
		Orders:   orders,
		Grouping: "na",
	}
}

// buildCancelAction cancels by numeric order ID, or by client ID otherwise.
func buildCancelAction(asset int, id string) Action {
	if oid, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
		return Action{
			Type:    ActionTypeCancel,
			Cancels: []cancelPayload{{Asset: asset, Oid: oid}},
		}
	}
	return Action{
		Type:    ActionTypeCancelByCloid,
		Cancels: []cancelByCloidPayload{{Asset: asset, Cloid: toCloid(id)}},
	}
}

func buildLeverageAction(asset int, cross bool, leverage int) Action {
	return Action{
		Type:     ActionTypeUpdateLeverage,
		Asset:    &asset,
		IsCross:  &cross,
		Leverage: leverage,
	}
}

// orderRef is the oid query argument: a number, or a cloid string.
func orderRef(id string) any {
	if oid, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
		return oid
	}
	return toCloid(id)
}

func toVenueOrder(o wireOrder, status string) exchange.VenueOrder {
	remaining := parseDecimal(o.Sz)
	amount := parseDecimal(o.OrigSz)
	if amount.IsZero() {
		amount = remaining
	}
	filled := decimal.Max(amount.Sub(remaining), decimal.Zero)
	vo := exchange.VenueOrder{
		ID:           strconv.FormatInt(o.Oid, 10),
		ClientID:     o.Cloid,
		Symbol:       o.Coin,
		Side:         o.Side,
		Type:         o.OrderType,
		Status:       status,
		Amount:       amount,
		Filled:       filled,
		Remaining:    remaining,
		Price:        parseDecimal(o.LimitPx),
		TriggerPrice: parseDecimal(o.TriggerPx),
		ReduceOnly:   o.ReduceOnly,
	}
	if o.Timestamp > 0 {
		vo.Timestamp = time.UnixMilli(o.Timestamp).UTC()
	}
	return vo
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
