package offers

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/taskforge/scheduler/structs"
)

func testBan(offerID, groupKey string) structs.StaticBan {
	return structs.StaticBan{OfferID: offerID, GroupKey: groupKey, CreatedAtMillis: 0}
}

// TestBanCache_NeverExceedsMaxSize is the ban-cache age/capacity bound
// universal property: however many distinct (offer, group) bans are added,
// in whatever order, the cache never holds more than its configured maximum.
func TestBanCache_NeverExceedsMaxSize(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxSize := rapid.IntRange(1, 50).Draw(t, "maxSize")
		inserts := rapid.IntRange(0, 200).Draw(t, "inserts")

		bc := newBanCache(maxSize, time.Hour)
		for i := 0; i < inserts; i++ {
			offerID := fmt.Sprintf("offer-%d", rapid.IntRange(0, 20).Draw(t, "offerIdx"))
			groupKey := fmt.Sprintf("group-%d", rapid.IntRange(0, 20).Draw(t, "groupIdx"))
			bc.add(testBan(offerID, groupKey))

			if bc.len() > maxSize {
				t.Fatalf("ban cache grew to %d entries, want <= %d", bc.len(), maxSize)
			}
		}
	})
}

// TestBanCache_ExpiresAfterWrite is the ban-cache age bound: an entry
// inserted at time T is no longer reported as banned once T+expireAfter has
// elapsed.
func TestBanCache_ExpiresAfterWrite(t *testing.T) {
	bc := newBanCache(1000, 20*time.Millisecond)
	bc.add(testBan("offer-x", "group-x"))

	if !bc.isBanned("offer-x", "group-x") {
		t.Fatal("freshly added ban not reported as banned")
	}

	time.Sleep(50 * time.Millisecond)
	if bc.isBanned("offer-x", "group-x") {
		t.Fatal("ban outlived its expire-after-write window")
	}
}
