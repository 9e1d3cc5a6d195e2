package hyperliquid

import (
	"context"
	"fmt"
	"strings"

	"tradelink/pkg/exchange"
)

func (v *Venue) asset(ctx context.Context, coin string) (assetInfo, error) {
	key := canonicalAssetKey(coin)
	if key == "" {
		return assetInfo{}, exchange.Rejected("empty coin symbol")
	}
	if info, ok := v.cachedAsset(key); ok {
		return info, nil
	}
	if _, err := v.refreshAssets(ctx); err != nil {
		return assetInfo{}, err
	}
	if info, ok := v.cachedAsset(key); ok {
		return info, nil
	}
	return assetInfo{}, exchange.Rejected(fmt.Sprintf("unknown asset %s", coin))
}

func (v *Venue) cachedAsset(key string) (assetInfo, bool) {
	v.assetMu.RLock()
	defer v.assetMu.RUnlock()
	info, ok := v.assets[key]
	return info, ok
}

// refreshAssets reloads the perpetual universe with current contexts.
func (v *Venue) refreshAssets(ctx context.Context) ([]assetInfo, error) {
	var resp metaAndAssetCtxs
	if _, err := v.info(ctx, InfoRequest{Type: "metaAndAssetCtxs"}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Universe) == 0 {
		return nil, fmt.Errorf("hyperliquid: metaAndAssetCtxs response contained no assets")
	}

	list := make([]assetInfo, 0, len(resp.Universe))
	index := make(map[string]assetInfo, len(resp.Universe))
	maxLev := 0
	for idx, entry := range resp.Universe {
		key := canonicalAssetKey(entry.Name)
		if key == "" {
			continue
		}
		var c assetCtx
		if idx < len(resp.AssetCtxs) {
			c = resp.AssetCtxs[idx]
		}
		info := assetInfo{
			Name:         entry.Name,
			Index:        idx,
			SzDecimals:   entry.SzDecimals,
			MaxLeverage:  entry.MaxLeverage,
			OnlyIsolated: entry.OnlyIsolated,
			Delisted:     entry.IsDelisted,
			MarkPx:       c.MarkPx,
			MidPx:        c.MidPx,
			OraclePx:     c.OraclePx,
			PrevDayPx:    c.PrevDayPx,
			DayBaseVlm:   c.DayBaseVlm,
		}
		index[key] = info
		list = append(list, info)
		if !entry.IsDelisted && entry.MaxLeverage > maxLev {
			maxLev = entry.MaxLeverage
		}
	}

	v.assetMu.Lock()
	v.assets = index
	if maxLev > 0 {
		v.maxLev = maxLev
	}
	v.assetMu.Unlock()
	return list, nil
}

func canonicalAssetKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
