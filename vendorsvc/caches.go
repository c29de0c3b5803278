package vendorsvc

import (
	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/core"
)

// payWordCache returns the advisory per-channel single-hash cache for id,
// creating it on first use. The cache itself is a pure fast path (§4.3.3);
// losing it (process restart, eviction) only costs a fallback to full
// verification, never correctness.
func (s *Server) payWordCache(id channeldb.ChannelID) *core.PayWordCache {
	s.cachesMu.Lock()
	defer s.cachesMu.Unlock()

	c, ok := s.caches[id]
	if !ok {
		c = &core.PayWordCache{}
		s.caches[id] = c
	}
	return c
}
