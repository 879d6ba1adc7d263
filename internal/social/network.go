package social

import (
	"errors"
	"math/rand/v2"
	"sort"

	"abmarket/internal/domain"
	"abmarket/internal/infra"
)

// Network types accepted by BuildNetwork.
const (
	NetworkSmallWorld = "small_world"
	NetworkRandom     = "random"
)

// rewireProb is the Watts-Strogatz shortcut probability.
const rewireProb = 0.3

// State carries the social side of one networked agent. The owning trader
// reads EmotionBias and Suppression at decision time; Propagate mutates
// everything here.
type State struct {
	ID          int // owning trader id
	EmotionBias float64
	Attacker    bool
	Bullied     bool
	Exposure    float64
	Resilience  float64
	Suppression float64
	Cooldown    int

	attackedBy []int // node indexes that landed a hit this step
}

// BuildNetwork wires the given states into a peer graph and seeds the
// natural attackers with an extreme opinion of random sign. The returned
// adjacency list is indexed like states, neighbor indexes sorted.
func BuildNetwork(cfg infra.SocialConfig, rng *rand.Rand, states []*State) ([][]int, error) {
	n := len(states)
	if n == 0 {
		return nil, nil
	}
	k := cfg.AverageDegree
	if k < 0 {
		return nil, &domain.ConfigError{Field: "social.average_degree", Err: errors.New("must not be negative")}
	}

	var adj [][]int
	switch cfg.NetworkType {
	case NetworkSmallWorld:
		if k >= n {
			return nil, &domain.ConfigError{Field: "social.average_degree", Err: errors.New("must be below the retail agent count")}
		}
		adj = wattsStrogatz(n, k, rewireProb, rng)
	case NetworkRandom:
		p := 0.0
		if n > 1 {
			p = float64(k) / float64(n-1)
		}
		adj = erdosRenyi(n, p, rng)
	default:
		return nil, &domain.ConfigError{Field: "social.network_type", Err: errors.New("unsupported value " + cfg.NetworkType)}
	}

	for _, s := range states {
		s.Exposure = 0
		s.Resilience = 0
		s.Suppression = 0
		s.Bullied = false
		s.Attacker = false
		s.Cooldown = 0
		if rng.Float64() < cfg.BornBullyRatio {
			s.Attacker = true
			sign := 1.0
			if rng.Float64() >= 0.5 {
				sign = -1.0
			}
			s.EmotionBias = sign * (0.1 + 0.1*rng.Float64())
		}
	}
	return adj, nil
}

type edgeSet []map[int]struct{}

func newEdgeSet(n int) edgeSet {
	es := make(edgeSet, n)
	for i := range es {
		es[i] = make(map[int]struct{})
	}
	return es
}

func (es edgeSet) add(a, b int) {
	es[a][b] = struct{}{}
	es[b][a] = struct{}{}
}

func (es edgeSet) remove(a, b int) {
	delete(es[a], b)
	delete(es[b], a)
}

func (es edgeSet) has(a, b int) bool {
	_, ok := es[a][b]
	return ok
}

func (es edgeSet) adjacency() [][]int {
	adj := make([][]int, len(es))
	for i, set := range es {
		adj[i] = make([]int, 0, len(set))
		for j := range set {
			adj[i] = append(adj[i], j)
		}
		sort.Ints(adj[i])
	}
	return adj
}

// wattsStrogatz builds a small-world graph: a ring lattice where each node
// links to k/2 neighbors per side, with each lattice edge rewired to a
// random node with probability p.
func wattsStrogatz(n, k int, p float64, rng *rand.Rand) [][]int {
	es := newEdgeSet(n)
	for j := 1; j <= k/2; j++ {
		for i := 0; i < n; i++ {
			es.add(i, (i+j)%n)
		}
	}
	for j := 1; j <= k/2; j++ {
		for i := 0; i < n; i++ {
			if rng.Float64() >= p {
				continue
			}
			if len(es[i]) >= n-1 {
				continue // node already linked to everyone
			}
			w := rng.IntN(n)
			for w == i || es.has(i, w) {
				w = rng.IntN(n)
			}
			es.remove(i, (i+j)%n)
			es.add(i, w)
		}
	}
	return es.adjacency()
}

// erdosRenyi links every node pair independently with probability p.
func erdosRenyi(n int, p float64, rng *rand.Rand) [][]int {
	es := newEdgeSet(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < p {
				es.add(i, j)
			}
		}
	}
	return es.adjacency()
}
