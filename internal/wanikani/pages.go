package wanikani

import (
	"context"
	"fmt"
	"net/url"
)

// AllPages fetches a collection starting at locator and follows each page's
// next_url until the final page, returning every item in cursor order.
// params apply to the first request only: continuation URLs already carry
// the filters. A failure on any page discards everything fetched so far.
func AllPages[T any](ctx context.Context, c *Client, locator string, params url.Values) ([]Resource[T], error) {
	items := make([]Resource[T], 0)

	for page := 1; locator != ""; page++ {
		var col Collection[T]
		if err := c.get(ctx, locator, params, &col); err != nil {
			return nil, fmt.Errorf("fetching page %d of %s: %w", page, locator, err)
		}

		items = append(items, col.Data...)
		locator = col.Next()
		params = nil
	}

	return items, nil
}
