package cluster

import (
	"fmt"
	"math/rand"
	"sync/atomic"
)

// balancer picks one node out of a non-empty active set. All policies
// are stateless except round-robin, whose cursor deliberately persists
// across changes of the active set.
type balancer interface {
	pick(nodes []*Node) *Node
}

func newBalancer(strategy string) (balancer, error) {
	switch strategy {
	case "round-robin":
		return &roundRobinBalancer{}, nil
	case "weighted":
		return weightedBalancer{}, nil
	case "least-loaded":
		return leastLoadedBalancer{}, nil
	case "adaptive":
		return adaptiveBalancer{}, nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", strategy)
	}
}

// roundRobinBalancer cycles through the active list with a persistent
// cursor. The modulo keeps the index in bounds even when the active set
// shrinks between calls.
type roundRobinBalancer struct {
	next atomic.Uint64
}

func (b *roundRobinBalancer) pick(nodes []*Node) *Node {
	idx := b.next.Add(1) - 1
	return nodes[idx%uint64(len(nodes))]
}

// weightedBalancer samples proportionally to node weight.
type weightedBalancer struct{}

func (weightedBalancer) pick(nodes []*Node) *Node {
	total := 0
	for _, n := range nodes {
		total += n.Weight()
	}
	if total <= 0 {
		return nodes[0]
	}

	r := rand.Intn(total)
	for _, n := range nodes {
		r -= n.Weight()
		if r < 0 {
			return n
		}
	}
	return nodes[len(nodes)-1]
}

// leastLoadedBalancer picks the node with the fewest routed requests,
// first found on ties.
type leastLoadedBalancer struct{}

func (leastLoadedBalancer) pick(nodes []*Node) *Node {
	best := nodes[0]
	bestCount := best.Requests()
	for _, n := range nodes[1:] {
		if c := n.Requests(); c < bestCount {
			best, bestCount = n, c
		}
	}
	return best
}

// adaptiveBalancer maximizes weight/(requests+1), favoring high-weight
// nodes that have seen little traffic.
type adaptiveBalancer struct{}

func (adaptiveBalancer) pick(nodes []*Node) *Node {
	best := nodes[0]
	bestScore := adaptiveScore(best)
	for _, n := range nodes[1:] {
		if s := adaptiveScore(n); s > bestScore {
			best, bestScore = n, s
		}
	}
	return best
}

func adaptiveScore(n *Node) float64 {
	return float64(n.Weight()) / float64(n.Requests()+1)
}
