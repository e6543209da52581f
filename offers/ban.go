package offers

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/taskforge/scheduler/structs"
)

// banCache is the approximate-LRU static ban cache (spec §4.4: "expire-
// after-write with a maximum size; eviction is approximate-LRU"). Keyed by
// offerID+groupKey so a single offer can carry independent bans for
// distinct task groups.
type banCache struct {
	lru *lru.LRU[string, structs.StaticBan]
}

func newBanCache(maxSize int, expireAfter time.Duration) *banCache {
	return &banCache{lru: lru.NewLRU[string, structs.StaticBan](maxSize, nil, expireAfter)}
}

func banKey(offerID, groupKey string) string {
	return offerID + "\x00" + groupKey
}

func (b *banCache) add(ban structs.StaticBan) {
	b.lru.Add(banKey(ban.OfferID, ban.GroupKey), ban)
}

func (b *banCache) isBanned(offerID, groupKey string) bool {
	_, ok := b.lru.Get(banKey(offerID, groupKey))
	return ok
}

func (b *banCache) len() int { return b.lru.Len() }
