// Package cache holds the provider data last delivered for each form.
//
// Text data and image blobs live in two maps keyed by form id and share
// one mutex. Image blobs are kept zstd-compressed.
package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Cache is the form data cache.
type Cache struct {
	logger *zap.Logger
	enc    *zstd.Encoder
	dec    *zstd.Decoder

	mu     sync.Mutex
	data   map[int64]string
	images map[int64]map[string][]byte
}

// New creates an empty cache.
func New(logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Cache{
		logger: logger,
		enc:    enc,
		dec:    dec,
		data:   make(map[int64]string),
		images: make(map[int64]map[string][]byte),
	}, nil
}

// Close releases the codec resources.
func (c *Cache) Close() {
	c.enc.Close()
	c.dec.Close()
}

// GetData returns the cached data of a form. It fails when nothing is
// cached at all, when the form is unknown, or when both parts are empty.
// Either part alone is enough.
func (c *Cache) GetData(formID int64) (string, map[string][]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) == 0 && len(c.images) == 0 {
		return "", nil, false
	}
	data, hasData := c.data[formID]
	blobs, hasImages := c.images[formID]
	if !hasData && !hasImages {
		return "", nil, false
	}
	if data == "" && len(blobs) == 0 {
		return "", nil, false
	}
	var images map[string][]byte
	if len(blobs) > 0 {
		images = make(map[string][]byte, len(blobs))
		for name, blob := range blobs {
			raw, err := c.dec.DecodeAll(blob, nil)
			if err != nil {
				c.logger.Error("decode cached image", zap.Int64("form_id", formID), zap.String("image", name), zap.Error(err))
				continue
			}
			images[name] = raw
		}
	}
	return data, images, true
}

// AddData stores data for a form, replacing any previous entry.
func (c *Cache) AddData(formID int64, data string, images map[string][]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[formID] = data
	c.setImagesLocked(formID, images)
	return true
}

// UpdateData replaces the data of a cached form. Unknown forms are not
// inserted.
func (c *Cache) UpdateData(formID int64, data string, images map[string][]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, hasData := c.data[formID]
	_, hasImages := c.images[formID]
	if !hasData && !hasImages {
		c.logger.Debug("update of uncached form", zap.Int64("form_id", formID))
		return false
	}
	c.data[formID] = data
	if images != nil {
		c.setImagesLocked(formID, images)
	}
	return true
}

func (c *Cache) setImagesLocked(formID int64, images map[string][]byte) {
	if len(images) == 0 {
		delete(c.images, formID)
		return
	}
	blobs := make(map[string][]byte, len(images))
	for name, raw := range images {
		blobs[name] = c.enc.EncodeAll(raw, nil)
	}
	c.images[formID] = blobs
}

// DeleteData drops a form. Deleting an unknown form succeeds.
func (c *Cache) DeleteData(formID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, hasData := c.data[formID]
	_, hasImages := c.images[formID]
	if !hasData && !hasImages {
		c.logger.Debug("delete of uncached form", zap.Int64("form_id", formID))
		return true
	}
	delete(c.data, formID)
	delete(c.images, formID)
	return true
}

// IsExist reports whether the form has a text entry.
func (c *Cache) IsExist(formID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[formID]
	return ok
}

// Len returns the number of cached forms.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := len(c.data)
	for formID := range c.images {
		if _, ok := c.data[formID]; !ok {
			seen++
		}
	}
	return seen
}

// Dump renders one block per cached form.
func (c *Cache) Dump() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.data)+len(c.images))
	for formID := range c.data {
		ids = append(ids, formID)
	}
	for formID := range c.images {
		if _, ok := c.data[formID]; !ok {
			ids = append(ids, formID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for _, formID := range ids {
		fmt.Fprintf(&b, "  FormCache [%d]\n", formID)
		fmt.Fprintf(&b, "    data size [%d]\n", len(c.data[formID]))
		names := make([]string, 0, len(c.images[formID]))
		for name := range c.images[formID] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			kind := "unknown"
			if raw, err := c.dec.DecodeAll(c.images[formID][name], nil); err == nil {
				kind = mimetype.Detect(raw).String()
			}
			fmt.Fprintf(&b, "    image [%s] type [%s] stored [%d]\n", name, kind, len(c.images[formID][name]))
		}
	}
	return b.String()
}
