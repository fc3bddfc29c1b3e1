package session

import "fmt"

// Background prefetch keeps the buffer ahead of the review batch. When the
// buffer falls below twice the batch size and a next-page cursor exists, one
// goroutine fetches that page; a cursor is never fetched twice concurrently.
// Results are applied only if the generation and cursor are unchanged.

// lowWatermark is the buffer length below which the next page is fetched.
func (c *Controller) lowWatermark() int {
	return 2 * c.batchSize
}

// Prefetch starts a background fetch of the next page if the buffer is low.
// It reports whether a fetch was started. Controller operations call it
// automatically.
func (c *Controller) Prefetch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startPrefetchLocked()
}

func (c *Controller) startPrefetchLocked() bool {
	if c.closed || !c.initialized || c.cursor == "" {
		return false
	}
	if len(c.st.buffer) >= c.lowWatermark() || c.fetching[c.cursor] {
		return false
	}
	cursor := c.cursor
	c.fetching[cursor] = true
	c.wg.Add(1)
	go c.runPrefetch(c.gen, cursor)
	return true
}

func (c *Controller) runPrefetch(gen uint64, cursor string) {
	defer c.wg.Done()

	page, err := c.provider.ListMessages(c.bgCtx, c.mode, cursor)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.fetching, cursor)
	if c.cursor != cursor {
		c.mu.Unlock()
		return
	}
	if err != nil {
		// Keep the cursor so the next state change retries. Only an empty
		// buffer turns the failure into a blocking error.
		if len(c.st.buffer) == 0 {
			c.err = fmt.Errorf("list messages: %w", err)
		}
		c.mu.Unlock()
		c.logger.Warn("prefetch failed", "mode", c.mode, "cursor", cursor, "error", err)
		c.changed()
		return
	}

	wasEmpty := len(c.st.buffer) == 0
	added := c.st.merge(page.Messages)
	c.tx.noteFetched(page.Messages)
	if wasEmpty && added > 0 {
		c.st.selectBatch(c.batchSize)
	}
	c.cursor = page.NextPageToken
	c.err = nil
	c.startPrefetchLocked()
	buffered := len(c.st.buffer)
	c.mu.Unlock()

	c.logger.Debug("prefetched page", "mode", c.mode, "added", added, "buffered", buffered,
		"more", page.NextPageToken != "")
	c.changed()
}
