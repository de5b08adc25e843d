package cluster

import (
	"testing"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/frostbyte-io/frostbyte-go/config"
)

// bareNode builds a Node without a pool, enough for selection tests
func bareNode(host string, weight int, requests int) *Node {
	n := &Node{
		addr:     config.NodeAddress{Host: host, Port: 6380, Weight: weight},
		requests: xsync.NewCounter(),
		errs:     xsync.NewCounter(),
		active:   true,
		status:   HealthHealthy,
	}
	for i := 0; i < requests; i++ {
		n.requests.Inc()
	}
	return n
}

func TestRoundRobinExactFairness(t *testing.T) {
	nodes := []*Node{bareNode("a", 1, 0), bareNode("b", 1, 0), bareNode("c", 1, 0)}
	lb := &roundRobinBalancer{}

	const rounds = 4
	counts := make(map[string]int)
	var sequence []string
	for i := 0; i < rounds*len(nodes); i++ {
		picked := lb.pick(nodes)
		counts[picked.ID()]++
		sequence = append(sequence, picked.addr.Host)
	}

	for _, n := range nodes {
		if counts[n.ID()] != rounds {
			t.Errorf("node %s picked %d times, want %d", n.ID(), counts[n.ID()], rounds)
		}
	}

	// strict cycle order, starting at the first node
	for i, host := range sequence {
		want := nodes[i%len(nodes)].addr.Host
		if host != want {
			t.Fatalf("pick %d was %s, want %s", i, host, want)
		}
	}
}

func TestRoundRobinSurvivesShrinkingActiveSet(t *testing.T) {
	lb := &roundRobinBalancer{}

	three := []*Node{bareNode("a", 1, 0), bareNode("b", 1, 0), bareNode("c", 1, 0)}
	for i := 0; i < 5; i++ {
		lb.pick(three)
	}

	// the cursor persists, the modulo keeps it in bounds
	one := three[:1]
	for i := 0; i < 5; i++ {
		if picked := lb.pick(one); picked != one[0] {
			t.Fatalf("picked %s from a single-node set", picked.ID())
		}
	}
}

func TestWeightedFavorsHeavyNodes(t *testing.T) {
	light := bareNode("light", 1, 0)
	heavy := bareNode("heavy", 9, 0)
	lb := weightedBalancer{}

	const draws = 5000
	heavyCount := 0
	for i := 0; i < draws; i++ {
		if lb.pick([]*Node{light, heavy}) == heavy {
			heavyCount++
		}
	}

	// expectation is 90%, leave generous slack for randomness
	if ratio := float64(heavyCount) / draws; ratio < 0.8 {
		t.Errorf("heavy node picked %.1f%% of draws, want ~90%%", ratio*100)
	}
}

func TestWeightedZeroTotalFallsBackToFirst(t *testing.T) {
	nodes := []*Node{bareNode("a", 0, 0), bareNode("b", 0, 0)}
	lb := weightedBalancer{}
	if picked := lb.pick(nodes); picked != nodes[0] {
		t.Errorf("picked %s, want first node", picked.ID())
	}
}

func TestLeastLoadedPicksFewestRequests(t *testing.T) {
	nodes := []*Node{bareNode("a", 1, 5), bareNode("b", 1, 1), bareNode("c", 1, 3)}
	lb := leastLoadedBalancer{}

	if picked := lb.pick(nodes); picked != nodes[1] {
		t.Errorf("picked %s, want the least loaded node b", picked.ID())
	}
}

func TestLeastLoadedTieBreaksFirstFound(t *testing.T) {
	nodes := []*Node{bareNode("a", 1, 2), bareNode("b", 1, 2)}
	lb := leastLoadedBalancer{}

	if picked := lb.pick(nodes); picked != nodes[0] {
		t.Errorf("picked %s, want first node on a tie", picked.ID())
	}
}

func TestAdaptiveBalancesWeightAgainstTraffic(t *testing.T) {
	lb := adaptiveBalancer{}

	// untouched high-weight node wins
	busyHeavy := bareNode("busy", 10, 100)
	idleLight := bareNode("idle", 2, 0)
	if picked := lb.pick([]*Node{busyHeavy, idleLight}); picked != idleLight {
		t.Errorf("picked %s, want the idle node", picked.ID())
	}

	// with equal traffic the weight decides
	a := bareNode("a", 1, 10)
	b := bareNode("b", 5, 10)
	if picked := lb.pick([]*Node{a, b}); picked != b {
		t.Errorf("picked %s, want the heavier node", picked.ID())
	}
}

func TestNewBalancerRejectsUnknownStrategy(t *testing.T) {
	for _, strategy := range []string{"round-robin", "weighted", "least-loaded", "adaptive"} {
		if _, err := newBalancer(strategy); err != nil {
			t.Errorf("strategy %s rejected: %v", strategy, err)
		}
	}
	if _, err := newBalancer("random"); err == nil {
		t.Error("unknown strategy accepted")
	}
}
