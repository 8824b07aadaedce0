package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// targetCluster tracks the distinct source addresses seen against one
// target identity. lastSeen per source drives the same window-based
// eviction discipline as the sliding window tracker, at per-cluster
// granularity.
type targetCluster struct {
	sources   map[string]int64 // address -> last seen (unix nanos)
	firstSeen int64
	lastSeen  int64
}

func (c *targetCluster) evict(cutoff int64) {
	for addr, seen := range c.sources {
		if seen < cutoff {
			delete(c.sources, addr)
		}
	}
}

// AttackCorrelator clusters failure events by target identity to detect
// coordinated attacks: many distinct sources hammering the same account,
// each possibly staying under the single-source threshold.
//
// Correlation is per-identity. An address attacking two accounts is
// tracked independently in both clusters.
type AttackCorrelator struct {
	mu       sync.Mutex
	window   time.Duration
	clusters map[string]*targetCluster
}

// NewAttackCorrelator creates a correlator with the given trailing
// correlation window.
func NewAttackCorrelator(window time.Duration) *AttackCorrelator {
	return &AttackCorrelator{
		window:   window,
		clusters: make(map[string]*targetCluster),
	}
}

// Record notes that sourceAddr failed authentication against
// targetIdentity at ts, creating the cluster if needed and evicting
// sources not seen within the correlation window.
func (a *AttackCorrelator) Record(targetIdentity, sourceAddr string, ts time.Time) {
	if targetIdentity == "" || sourceAddr == "" {
		return
	}
	t := ts.UnixNano()

	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.clusters[targetIdentity]
	if !ok {
		c = &targetCluster{
			sources:   make(map[string]int64),
			firstSeen: t,
		}
		a.clusters[targetIdentity] = c
	}

	if prev, seen := c.sources[sourceAddr]; !seen || t > prev {
		c.sources[sourceAddr] = t
	}
	if t > c.lastSeen {
		c.lastSeen = t
	}
	c.evict(c.lastSeen - a.window.Nanoseconds())
}

// DetectClusters returns every cluster whose distinct source count, after
// evicting sources stale as of now, meets or exceeds minSources. Clusters
// left empty by eviction are dropped. Results are sorted by target
// identity; each cluster's sources are sorted for a stable membership
// signature.
func (a *AttackCorrelator) DetectClusters(minSources int, now time.Time) []domain.Cluster {
	cutoff := now.UnixNano() - a.window.Nanoseconds()

	a.mu.Lock()
	defer a.mu.Unlock()

	var detected []domain.Cluster
	for target, c := range a.clusters {
		c.evict(cutoff)
		if len(c.sources) == 0 {
			delete(a.clusters, target)
			continue
		}
		if len(c.sources) < minSources {
			continue
		}

		sources := make([]string, 0, len(c.sources))
		last := c.firstSeen
		for addr, seen := range c.sources {
			sources = append(sources, addr)
			if seen > last {
				last = seen
			}
		}
		sort.Strings(sources)

		detected = append(detected, domain.Cluster{
			TargetUser: target,
			Sources:    sources,
			FirstSeen:  time.Unix(0, c.firstSeen),
			LastSeen:   time.Unix(0, last),
		})
	}

	sort.Slice(detected, func(i, j int) bool {
		return detected[i].TargetUser < detected[j].TargetUser
	})
	return detected
}

// ClusterCount returns the number of live clusters.
func (a *AttackCorrelator) ClusterCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clusters)
}

// Window returns the configured correlation window.
func (a *AttackCorrelator) Window() time.Duration {
	return a.window
}
