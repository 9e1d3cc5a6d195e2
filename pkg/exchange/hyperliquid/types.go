package hyperliquid

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType enumerates the exchange actions this venue submits.
type ActionType string

const (
	ActionTypeOrder          ActionType = "order"
	ActionTypeCancel         ActionType = "cancel"
	ActionTypeCancelByCloid  ActionType = "cancelByCloid"
	ActionTypeUpdateLeverage ActionType = "updateLeverage"
)

// Action is the payload sent to the exchange endpoint. Field order matters:
// the msgpack encoding is hashed for the signature.
type Action struct {
	Type     ActionType     `json:"type" msgpack:"type"`
	Orders   []orderPayload `json:"orders,omitempty" msgpack:"orders,omitempty"`
	Cancels  any            `json:"cancels,omitempty" msgpack:"cancels,omitempty"`
	Grouping string         `json:"grouping,omitempty" msgpack:"grouping,omitempty"`
	Asset    *int           `json:"asset,omitempty" msgpack:"asset,omitempty"`
	IsCross  *bool          `json:"isCross,omitempty" msgpack:"isCross,omitempty"`
	Leverage int            `json:"leverage,omitempty" msgpack:"leverage,omitempty"`
}

type orderPayload struct {
	Asset      int              `json:"a" msgpack:"a"`
	IsBuy      bool             `json:"b" msgpack:"b"`
	LimitPx    string           `json:"p" msgpack:"p"`
	Sz         string           `json:"s" msgpack:"s"`
	ReduceOnly bool             `json:"r" msgpack:"r"`
	OrderType  orderTypePayload `json:"t" msgpack:"t"`
	Cloid      string           `json:"c,omitempty" msgpack:"c,omitempty"`
}

type orderTypePayload struct {
	Limit   *limitOrderPayload   `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Trigger *triggerOrderPayload `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
}

type limitOrderPayload struct {
	TIF string `json:"tif" msgpack:"tif"`
}

type triggerOrderPayload struct {
	IsMarket  bool   `json:"isMarket" msgpack:"isMarket"`
	TriggerPx string `json:"triggerPx" msgpack:"triggerPx"`
	Tpsl      string `json:"tpsl" msgpack:"tpsl"`
}

type cancelPayload struct {
	Asset int   `json:"a" msgpack:"a"`
	Oid   int64 `json:"o" msgpack:"o"`
}

type cancelByCloidPayload struct {
	Asset int    `json:"asset" msgpack:"asset"`
	Cloid string `json:"cloid" msgpack:"cloid"`
}

// ExchangeRequest is the signed envelope for exchange actions.
type ExchangeRequest struct {
	Action       Action    `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress string    `json:"vaultAddress,omitempty"`
}

// Signature is an ECDSA signature split into its components.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// InfoRequest targets the read-only info endpoint.
type InfoRequest struct {
	Type string         `json:"type"`
	User string         `json:"user,omitempty"`
	Coin string         `json:"coin,omitempty"`
	Oid  any            `json:"oid,omitempty"`
	Req  *candleRequest `json:"req,omitempty"`
}

type candleRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// exchangeResponse is the envelope of every exchange call. Response is a
// string when Status is "err".
type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type exchangeResponseBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

// actionStatus is one entry of a response's statuses array. Entries are
// either the bare string "success" or an object.
type actionStatus struct {
	Success bool
	Resting *struct {
		Oid   int64  `json:"oid"`
		Cloid string `json:"cloid,omitempty"`
	} `json:"resting,omitempty"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *actionStatus) UnmarshalJSON(data []byte) error {
	var word string
	if err := json.Unmarshal(data, &word); err == nil {
		s.Success = strings.EqualFold(word, "success")
		if !s.Success {
			s.Error = word
		}
		return nil
	}
	type alias actionStatus
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("hyperliquid: decode status: %w", err)
	}
	*s = actionStatus(obj)
	return nil
}

// metaAndAssetCtxs arrives as a two-element array: [{universe}, [ctx...]].
type metaAndAssetCtxs struct {
	Universe  []universeEntry
	AssetCtxs []assetCtx
}

func (m *metaAndAssetCtxs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs decode: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs empty payload")
	}
	var meta struct {
		Universe []universeEntry `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs universe: %w", err)
	}
	m.Universe = meta.Universe
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &m.AssetCtxs); err != nil {
			return fmt.Errorf("hyperliquid: metaAndAssetCtxs assetCtxs: %w", err)
		}
	}
	return nil
}

type universeEntry struct {
	Name         string `json:"name"`
	SzDecimals   int32  `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
	IsDelisted   bool   `json:"isDelisted"`
}

type assetCtx struct {
	PrevDayPx  string `json:"prevDayPx"`
	DayBaseVlm string `json:"dayBaseVlm"`
	MarkPx     string `json:"markPx"`
	MidPx      string `json:"midPx"`
	OraclePx   string `json:"oraclePx"`
}

// assetInfo is the cached directory entry for one perpetual.
type assetInfo struct {
	Name         string
	Index        int
	SzDecimals   int32
	MaxLeverage  int
	OnlyIsolated bool
	Delisted     bool
	MarkPx       string
	MidPx        string
	OraclePx     string
	PrevDayPx    string
	DayBaseVlm   string
}

type clearinghouseState struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   string          `json:"withdrawable"`
	AssetPositions []assetPosition `json:"assetPositions"`
	Time           int64           `json:"time"`
}

type assetPosition struct {
	Type     string `json:"type"`
	Position struct {
		Coin          string `json:"coin"`
		Szi           string `json:"szi"`
		EntryPx       string `json:"entryPx"`
		PositionValue string `json:"positionValue"`
		UnrealizedPnl string `json:"unrealizedPnl"`
		Leverage      struct {
			Type  string `json:"type"`
			Value int    `json:"value"`
		} `json:"leverage"`
		CumFunding struct {
			SinceOpen string `json:"sinceOpen"`
		} `json:"cumFunding"`
	} `json:"position"`
}

// wireOrder is the order shape shared by frontendOpenOrders, orderStatus
// and historicalOrders.
type wireOrder struct {
	Coin       string `json:"coin"`
	Side       string `json:"side"`
	LimitPx    string `json:"limitPx"`
	Sz         string `json:"sz"`
	OrigSz     string `json:"origSz"`
	Oid        int64  `json:"oid"`
	Timestamp  int64  `json:"timestamp"`
	Cloid      string `json:"cloid"`
	ReduceOnly bool   `json:"reduceOnly"`
	OrderType  string `json:"orderType"`
	TriggerPx  string `json:"triggerPx"`
	IsTrigger  bool   `json:"isTrigger"`
}

type orderWithStatus struct {
	Order           wireOrder `json:"order"`
	Status          string    `json:"status"`
	StatusTimestamp int64     `json:"statusTimestamp"`
}

type orderStatusResponse struct {
	Status string           `json:"status"`
	Order  *orderWithStatus `json:"order"`
}

type l2Book struct {
	Coin   string          `json:"coin"`
	Time   int64           `json:"time"`
	Levels [][]l2BookLevel `json:"levels"`
}

type l2BookLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type wireCandle struct {
	OpenTime int64  `json:"t"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
}
