package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

type (
	cacheKeyPrefix string
	cacheKey       string
)

const cacheKeyPrefixRequest cacheKeyPrefix = "request"

func (s *Server) getCacheKeyFromRequest(r *http.Request) cacheKey {
	return cacheKey(fmt.Sprintf("%s/%s:%s?%s", cacheKeyPrefixRequest, r.Method, r.URL.EscapedPath(), r.URL.RawQuery))
}

func (s *Server) getFromCache(k cacheKey) (any, bool) {
	strKey := string(k)
	val, ok := s.cache.Get(strKey)
	if ok {
		s.rec.IncCacheHit(strKey)
	}
	return val, ok
}

func (s *Server) setInCache(k cacheKey, v any, expiration ...time.Duration) {
	strKey := string(k)
	s.rec.IncCacheMiss(strKey)
	exp := cache.DefaultExpiration
	if len(expiration) > 0 {
		exp = expiration[0]
	}
	s.cache.Set(strKey, v, exp)
}

func (s *Server) cacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.DisableRequestCache {
			next.ServeHTTP(w, r)
			return
		}
		if k, ok := s.getFromCache(s.getCacheKeyFromRequest(r)); ok {
			w.Header().Set("X-Go-Cache", "HIT")
			s.writeJSON(w, k)
			return
		}
		next.ServeHTTP(w, r)
	})
}
