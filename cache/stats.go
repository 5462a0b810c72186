// Copyright (c) 2024 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache

import (
	"sync/atomic"

	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/metrics"
)

var (
	logger        = log.WithContext("pkg", "cache")
	metricHitMiss = metrics.LazyLoadCounterVec("cache_hit_miss_count", []string{"cache", "event"})
)

// hit rate is reported at most once per reportInterval lookups
const reportInterval = 1000

// Stats counts the hits and misses of a named cache.
type Stats struct {
	name      string
	hit, miss atomic.Int64
	permille  atomic.Int32 // hit rate at the last report
}

// NewStats creates a collector for the named cache.
func NewStats(name string) *Stats {
	return &Stats{name: name}
}

// Hit records a hit.
func (cs *Stats) Hit() {
	cs.record(cs.hit.Add(1)+cs.miss.Load(), "hit")
}

// Miss records a miss.
func (cs *Stats) Miss() {
	cs.record(cs.hit.Load()+cs.miss.Add(1), "miss")
}

func (cs *Stats) record(lookups int64, event string) {
	metricHitMiss().AddWithLabel(1, map[string]string{"cache": cs.name, "event": event})
	if lookups%reportInterval == 0 && cs.rateChanged() {
		hit, miss := cs.Counts()
		logger.Debug("cache stats", "cache", cs.name, "hit", hit, "miss", miss, "rate", cs.HitRate())
	}
}

// Counts returns the number of hits and misses so far.
func (cs *Stats) Counts() (hit, miss int64) {
	return cs.hit.Load(), cs.miss.Load()
}

// HitRate returns the ratio of hits to lookups, 0 before the first lookup.
func (cs *Stats) HitRate() float64 {
	hit, miss := cs.Counts()
	if hit+miss == 0 {
		return 0
	}
	return float64(hit) / float64(hit+miss)
}

// rateChanged saves the current hit rate and reports whether it differs
// from the saved one.
func (cs *Stats) rateChanged() bool {
	p := int32(cs.HitRate() * 1000)
	return cs.permille.Swap(p) != p
}
