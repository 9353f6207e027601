package download

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tidaldl/tidaldl-go/internal/api"
)

// albumCache resolves each album at most once per run. Concurrent first
// lookups of the same id share one provider call.
type albumCache struct {
	provider api.Provider
	group    singleflight.Group

	mu     sync.RWMutex
	albums map[string]*api.Album
	covers map[string]*coverImage

	// per-album side effects (cover, info file) already performed
	prepared sync.Map // map[string]*sync.Once
}

func newAlbumCache(provider api.Provider) *albumCache {
	return &albumCache{
		provider: provider,
		albums:   make(map[string]*api.Album),
		covers:   make(map[string]*coverImage),
	}
}

// Put seeds the cache with an album already fetched by the caller.
func (c *albumCache) Put(album *api.Album) {
	if album == nil {
		return
	}
	c.mu.Lock()
	c.albums[album.ID.String()] = album
	c.mu.Unlock()
}

// Get returns the album with id, fetching it on first use.
func (c *albumCache) Get(ctx context.Context, id string) (*api.Album, error) {
	c.mu.RLock()
	album, ok := c.albums[id]
	c.mu.RUnlock()
	if ok {
		return album, nil
	}

	v, err, _ := c.group.Do("album:"+id, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.albums[id]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched, err := c.provider.GetAlbum(ctx, id)
		if err != nil {
			return nil, err
		}
		c.Put(fetched)
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*api.Album), nil
}

// Once runs fn the first time it is called for album id; later calls are
// no-ops that wait for the first to finish.
func (c *albumCache) Once(id string, fn func()) {
	once, _ := c.prepared.LoadOrStore(id, &sync.Once{})
	once.(*sync.Once).Do(fn)
}

type coverImage struct {
	data []byte
	mime string
}

// Cover returns the artwork for coverID, calling fetch on first use. Failed
// fetches are not cached.
func (c *albumCache) Cover(ctx context.Context, coverID string, fetch func(ctx context.Context) ([]byte, string, error)) ([]byte, string, error) {
	c.mu.RLock()
	img, ok := c.covers[coverID]
	c.mu.RUnlock()
	if ok {
		return img.data, img.mime, nil
	}

	v, err, _ := c.group.Do("cover:"+coverID, func() (any, error) {
		data, mime, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		img := &coverImage{data: data, mime: mime}
		c.mu.Lock()
		c.covers[coverID] = img
		c.mu.Unlock()
		return img, nil
	})
	if err != nil {
		return nil, "", err
	}
	img = v.(*coverImage)
	return img.data, img.mime, nil
}
