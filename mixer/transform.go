package mixer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// itemTransform mirrors the subset of a scene item's transform this driver
// actually manipulates: position and uniform scale.
type itemTransform struct {
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
	ScaleX    float64 `json:"scale_x"`
	ScaleY    float64 `json:"scale_y"`
}

func cacheKey(scene, source string) string {
	return scene + "::" + source
}

// itemCache resolves and memoizes scene-item IDs and their last-known
// transform, so repeated analog ticks against the same source don't each
// pay for a round trip to re-resolve the item ID.
type itemCache struct {
	client *Client

	mu          sync.RWMutex
	itemIDs     map[string]int64
	transforms  map[string]itemTransform
}

func newItemCache(client *Client) *itemCache {
	return &itemCache{
		client:     client,
		itemIDs:    make(map[string]int64),
		transforms: make(map[string]itemTransform),
	}
}

// clear drops every cached item ID and transform, used on reconnect since a
// fresh connection cannot assume either is still valid on the mixer side.
func (c *itemCache) clear() {
	c.mu.Lock()
	c.itemIDs = make(map[string]int64)
	c.transforms = make(map[string]itemTransform)
	c.mu.Unlock()
}

func (c *itemCache) resolveItemID(ctx context.Context, scene, source string) (int64, error) {
	key := cacheKey(scene, source)

	c.mu.RLock()
	id, ok := c.itemIDs[key]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	result, err := c.client.Call(ctx, "getSceneItemId", map[string]any{
		"scene":  scene,
		"source": source,
	})
	if err != nil {
		return 0, fmt.Errorf("resolve item id for %s/%s: %w", scene, source, err)
	}
	var parsed struct {
		ItemID int64 `json:"item_id"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0, fmt.Errorf("resolve item id for %s/%s: malformed response: %w", scene, source, err)
	}

	c.mu.Lock()
	c.itemIDs[key] = parsed.ItemID
	c.mu.Unlock()
	return parsed.ItemID, nil
}

func (c *itemCache) getTransform(ctx context.Context, scene, source string) (itemTransform, error) {
	key := cacheKey(scene, source)

	c.mu.RLock()
	t, ok := c.transforms[key]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	itemID, err := c.resolveItemID(ctx, scene, source)
	if err != nil {
		return itemTransform{}, err
	}
	result, err := c.client.Call(ctx, "getSceneItemTransform", map[string]any{
		"scene":   scene,
		"item_id": itemID,
	})
	if err != nil {
		return itemTransform{}, fmt.Errorf("get transform for %s/%s: %w", scene, source, err)
	}
	var t2 itemTransform
	if err := json.Unmarshal(result, &t2); err != nil {
		return itemTransform{}, fmt.Errorf("get transform for %s/%s: malformed response: %w", scene, source, err)
	}

	c.mu.Lock()
	c.transforms[key] = t2
	c.mu.Unlock()
	return t2, nil
}

// applyDelta nudges the cached transform for scene/source by dx/dy/ds (any
// of which may be zero) and pushes the updated transform to the mixer.
func (c *itemCache) applyDelta(ctx context.Context, scene, source string, dx, dy, ds float64) error {
	itemID, err := c.resolveItemID(ctx, scene, source)
	if err != nil {
		return err
	}
	current, err := c.getTransform(ctx, scene, source)
	if err != nil {
		return err
	}

	updated := itemTransform{
		PositionX: current.PositionX + dx,
		PositionY: current.PositionY + dy,
		ScaleX:    current.ScaleX + ds,
		ScaleY:    current.ScaleY + ds,
	}

	_, err = c.client.Call(ctx, "setSceneItemTransform", map[string]any{
		"scene":     scene,
		"item_id":   itemID,
		"transform": updated,
	})
	if err != nil {
		return fmt.Errorf("apply transform delta for %s/%s: %w", scene, source, err)
	}

	key := cacheKey(scene, source)
	c.mu.Lock()
	c.transforms[key] = updated
	c.mu.Unlock()
	return nil
}

// setTransform writes an absolute transform for scene/source and updates the
// cache to match, used by ResetTransform to snap a source back to center
// and/or default scale.
func (c *itemCache) setTransform(ctx context.Context, scene, source string, target itemTransform) error {
	itemID, err := c.resolveItemID(ctx, scene, source)
	if err != nil {
		return err
	}

	_, err = c.client.Call(ctx, "setSceneItemTransform", map[string]any{
		"scene":     scene,
		"item_id":   itemID,
		"transform": target,
	})
	if err != nil {
		return fmt.Errorf("reset transform for %s/%s: %w", scene, source, err)
	}

	key := cacheKey(scene, source)
	c.mu.Lock()
	c.transforms[key] = target
	c.mu.Unlock()
	return nil
}

