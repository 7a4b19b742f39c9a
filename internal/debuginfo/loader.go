package debuginfo

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// BuildFunc constructs a context for a module image path.
type BuildFunc func(path string, opts Options) (*Context, error)

// Loader builds contexts on demand and keeps the most recently used ones,
// so processes with many mapped objects don't hold every table in memory.
type Loader struct {
	cache *lru.Cache[string, *Context]
	build BuildFunc
	opts  Options
}

const DefaultCacheSize = 64

func NewLoader(size int, opts Options) (*Loader, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Context](size)
	if err != nil {
		return nil, err
	}
	return &Loader{cache: cache, build: NewContext, opts: opts}, nil
}

func (l *Loader) Load(path string) (*Context, error) {
	if c, ok := l.cache.Get(path); ok {
		return c, nil
	}
	c, err := l.build(path, l.opts)
	if err != nil {
		return nil, err
	}
	l.cache.Add(path, c)
	return c, nil
}
