package social

import (
	"errors"
	"math/rand/v2"
	"testing"

	"abmarket/internal/domain"
	"abmarket/internal/infra"
)

func testConfig() infra.SocialConfig {
	return infra.SocialConfig{
		EnableCyberbullying:   true,
		NetworkType:           NetworkSmallWorld,
		AverageDegree:         4,
		ExposureThreshold:     0.01,
		CooldownDuration:      3,
		SuppressionProb:       0.1,
		MaxSuppression:        0.95,
		SigmoidK:              1.0,
		EmotionShrinkFactor:   0.95,
		ResilienceGrowth:      0.01,
		EnableBullyResilience: true,
	}
}

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(42, 42))
}

func node(id int, bias float64, attacker bool) *State {
	return &State{ID: id, EmotionBias: bias, Attacker: attacker}
}

// Two extreme, opposite-signed attackers linked to each other must drive
// each other into the bullied state within a few steps.
func TestPropagateTrigger(t *testing.T) {
	nodes := []*State{node(0, 1.0, true), node(1, -1.0, true)}
	adj := [][]int{{1}, {0}}
	m := NewModel(testConfig(), testRNG(), nodes, adj)

	for i := 0; i < 5; i++ {
		m.Propagate()
	}

	counts := m.BullyCount()
	if counts[0] == 0 && counts[1] == 0 {
		t.Fatalf("no bullying occurred: %v", counts)
	}
	if !nodes[0].Bullied {
		t.Error("node 0 should be bullied")
	}
	if s := nodes[0].Suppression; s <= 0.1 || s > 0.95 {
		t.Errorf("suppression = %v, want in (0.1, 0.95]", s)
	}
}

func TestPropagateDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableCyberbullying = false

	nodes := []*State{node(0, 1.0, true), node(1, -1.0, true)}
	m := NewModel(cfg, testRNG(), nodes, [][]int{{1}, {0}})

	m.Propagate()

	if nodes[0].Exposure != 0 || nodes[1].Exposure != 0 {
		t.Error("disabled model must not accumulate exposure")
	}
	if nodes[0].Bullied || nodes[1].Bullied {
		t.Error("disabled model must not flag anyone as bullied")
	}
}

// An attacker goes on cooldown after its first hit of the step, so a
// second eligible neighbor later in node order is spared.
func TestAttackerReachesOneVictimPerStep(t *testing.T) {
	attacker := node(0, 0.15, true)
	first := node(1, -0.1, false)
	second := node(2, -0.1, false)
	adj := [][]int{{1, 2}, {0}, {0}}

	m := NewModel(testConfig(), testRNG(), []*State{attacker, first, second}, adj)
	m.Propagate()

	if first.Exposure == 0 {
		t.Error("first victim should have been attacked")
	}
	if second.Exposure != 0 {
		t.Errorf("second victim exposure = %v, want 0 (attacker on cooldown)", second.Exposure)
	}
	if attacker.Cooldown == 0 {
		t.Error("attacker should be on cooldown after the hit")
	}
}

func TestAttackEligibility(t *testing.T) {
	t.Run("same sign is ignored", func(t *testing.T) {
		attacker := node(0, 0.15, true)
		victim := node(1, 0.2, false)
		m := NewModel(testConfig(), testRNG(), []*State{attacker, victim}, [][]int{{1}, {0}})

		m.Propagate()

		if victim.Exposure != 0 {
			t.Errorf("same-signed victim exposure = %v, want 0", victim.Exposure)
		}
	})

	t.Run("zero bias has no side", func(t *testing.T) {
		attacker := node(0, 0.15, true)
		victim := node(1, 0.0, false)
		m := NewModel(testConfig(), testRNG(), []*State{attacker, victim}, [][]int{{1}, {0}})

		m.Propagate()

		if victim.Exposure == 0 {
			t.Error("zero-biased victim should still be attackable")
		}
	})

	t.Run("near-zero attacker bias is ignored", func(t *testing.T) {
		attacker := node(0, 1e-4, true)
		victim := node(1, -0.5, false)
		m := NewModel(testConfig(), testRNG(), []*State{attacker, victim}, [][]int{{1}, {0}})

		m.Propagate()

		if victim.Exposure != 0 {
			t.Errorf("victim exposure = %v, want 0 for a near-zero attacker", victim.Exposure)
		}
	})
}

func TestResilienceDampsExposure(t *testing.T) {
	attacker := node(0, 1.0, true)
	victim := node(1, -1.0, false)
	victim.Resilience = 0.5

	m := NewModel(testConfig(), testRNG(), []*State{attacker, victim}, [][]int{{1}, {0}})
	m.Propagate()

	// Attack strength |1 - (-1)| = 2, halved by resilience.
	if victim.Exposure != 1.0 {
		t.Errorf("victim exposure = %v, want 1.0", victim.Exposure)
	}
}

func TestBullyCountCountsTransitionsOnly(t *testing.T) {
	nodes := []*State{node(0, 1.0, true), node(1, -1.0, false)}
	m := NewModel(testConfig(), testRNG(), nodes, [][]int{{1}, {0}})

	for i := 0; i < 4; i++ {
		m.Propagate()
	}

	// Exposure never decays, so the victim enters the bullied state once
	// and stays there.
	if got := m.BullyCount()[1]; got != 1 {
		t.Errorf("bully count = %d, want 1", got)
	}
	if !nodes[1].Bullied {
		t.Error("victim should remain bullied")
	}
}

func TestRegulatorPenalty(t *testing.T) {
	cfg := testConfig()
	cfg.EnableRegulator = true
	cfg.RegulatorInterval = 1
	cfg.RegulatorCooldown = 10

	attacker := node(0, 1.0, true)
	victim := node(1, -1.0, false)
	m := NewModel(cfg, testRNG(), []*State{attacker, victim}, [][]int{{1}, {0}})

	m.Propagate()

	// Hit cooldown 3 plus the regulator penalty int(10 * strength 2.0).
	if got := attacker.Cooldown; got != 23 {
		t.Errorf("attacker cooldown = %d, want 23", got)
	}
}

func TestPeerReportPenalty(t *testing.T) {
	cfg := testConfig()
	cfg.EnableBullyReport = true
	cfg.RegulatorReportProb = 1.0
	cfg.RegulatorReportCooldown = 8

	attacker := node(0, 1.0, true)
	victim := node(1, -1.0, false)
	m := NewModel(cfg, testRNG(), []*State{attacker, victim}, [][]int{{1}, {0}})

	m.Propagate()

	if got := attacker.Cooldown; got != 11 {
		t.Errorf("attacker cooldown = %d, want 11 (hit 3 + report 8)", got)
	}
}

func TestBullyInfection(t *testing.T) {
	cfg := testConfig()
	cfg.EnableBullyInfect = true
	cfg.BullyInfectProb = 1.0
	cfg.BullyAmplify = 2.0

	attacker := node(0, 1.0, true)
	victim := node(1, -0.5, false)
	m := NewModel(cfg, testRNG(), []*State{attacker, victim}, [][]int{{1}, {0}})

	m.Propagate()

	if !victim.Attacker {
		t.Fatal("victim should have been infected")
	}
	// Bias shrinks on bullying, then the infection amplifies it.
	want := -0.5 * cfg.EmotionShrinkFactor * cfg.BullyAmplify
	if got := victim.EmotionBias; got != want {
		t.Errorf("victim bias = %v, want %v", got, want)
	}
}

func TestBuildNetworkSmallWorld(t *testing.T) {
	cfg := testConfig()
	states := make([]*State, 20)
	for i := range states {
		states[i] = node(i, 0, false)
	}

	adj, err := BuildNetwork(cfg, testRNG(), states)
	if err != nil {
		t.Fatalf("BuildNetwork failed: %v", err)
	}

	edges := 0
	for i, nbs := range adj {
		edges += len(nbs)
		for _, j := range nbs {
			if j == i {
				t.Fatalf("node %d linked to itself", i)
			}
			found := false
			for _, back := range adj[j] {
				if back == i {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("edge %d-%d not symmetric", i, j)
			}
		}
	}
	// Rewiring preserves the lattice edge count, so the degree sum is n*k.
	if want := 20 * cfg.AverageDegree; edges != want {
		t.Errorf("degree sum = %d, want %d", edges, want)
	}
}

func TestBuildNetworkRandom(t *testing.T) {
	cfg := testConfig()
	cfg.NetworkType = NetworkRandom
	states := make([]*State, 30)
	for i := range states {
		states[i] = node(i, 0, false)
	}

	adj, err := BuildNetwork(cfg, testRNG(), states)
	if err != nil {
		t.Fatalf("BuildNetwork failed: %v", err)
	}
	for i, nbs := range adj {
		for _, j := range nbs {
			if j == i {
				t.Fatalf("node %d linked to itself", i)
			}
		}
	}
}

func TestBuildNetworkSeedsAttackers(t *testing.T) {
	cfg := testConfig()
	cfg.BornBullyRatio = 1.0
	states := make([]*State, 10)
	for i := range states {
		states[i] = node(i, 0, false)
	}

	if _, err := BuildNetwork(cfg, testRNG(), states); err != nil {
		t.Fatalf("BuildNetwork failed: %v", err)
	}

	for _, s := range states {
		if !s.Attacker {
			t.Fatalf("node %d not an attacker with ratio 1.0", s.ID)
		}
		mag := s.EmotionBias
		if mag < 0 {
			mag = -mag
		}
		if mag < 0.1 || mag > 0.2 {
			t.Errorf("attacker bias magnitude = %v, want in [0.1, 0.2]", mag)
		}
	}
}

func TestBuildNetworkValidation(t *testing.T) {
	states := []*State{node(0, 0, false), node(1, 0, false)}

	t.Run("degree too high for small world", func(t *testing.T) {
		cfg := testConfig()
		cfg.AverageDegree = 2
		_, err := BuildNetwork(cfg, testRNG(), states)
		var ce *domain.ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})

	t.Run("unknown network type", func(t *testing.T) {
		cfg := testConfig()
		cfg.NetworkType = "scale_free"
		if _, err := BuildNetwork(cfg, testRNG(), states); err == nil {
			t.Fatal("expected error for unknown network type")
		}
	})

	t.Run("no nodes", func(t *testing.T) {
		adj, err := BuildNetwork(testConfig(), testRNG(), nil)
		if err != nil || adj != nil {
			t.Fatalf("empty input should be a no-op, got %v, %v", adj, err)
		}
	})
}

func TestBuildNetworkDeterministic(t *testing.T) {
	mk := func() [][]int {
		cfg := testConfig()
		cfg.BornBullyRatio = 0.3
		states := make([]*State, 15)
		for i := range states {
			states[i] = node(i, 0, false)
		}
		adj, err := BuildNetwork(cfg, rand.New(rand.NewPCG(7, 7)), states)
		if err != nil {
			t.Fatalf("BuildNetwork failed: %v", err)
		}
		return adj
	}

	a, b := mk(), mk()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			t.Fatalf("node %d degree differs", i)
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("node %d neighbors differ: %v vs %v", i, a[i], b[i])
			}
		}
	}
}
