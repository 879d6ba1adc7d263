package social

import (
	"math"
	"math/rand/v2"

	"abmarket/internal/infra"
)

type attack struct {
	attacker int // node index
	victim   int
	strength float64
}

// Model runs the cyberbullying contagion over a fixed peer network.
// Propagate is called once per market step, before agents decide.
type Model struct {
	cfg        infra.SocialConfig
	rng        *rand.Rand
	nodes      []*State
	adj        [][]int
	bullyCount map[int]int // transitions into the bullied state, by trader id
	attackLog  []attack
	timestep   int
}

// NewModel couples the given states through the adjacency list produced by
// BuildNetwork. adj must be indexed like nodes.
func NewModel(cfg infra.SocialConfig, rng *rand.Rand, nodes []*State, adj [][]int) *Model {
	counts := make(map[int]int, len(nodes))
	for _, s := range nodes {
		counts[s.ID] = 0
	}
	return &Model{
		cfg:        cfg,
		rng:        rng,
		nodes:      nodes,
		adj:        adj,
		bullyCount: counts,
	}
}

// Propagate advances the contagion by one step: attackers off cooldown hit
// opposite-signed neighbors, exposure accumulates scaled by resilience,
// and agents over the threshold enter the bullied state with a sigmoid
// suppression level. No-op unless cyberbullying is enabled.
//
// Node order matters: an attacker goes on cooldown the moment it lands a
// hit, so it reaches at most one victim per step.
func (m *Model) Propagate() {
	if !m.cfg.EnableCyberbullying {
		return
	}
	m.timestep++
	m.attackLog = m.attackLog[:0]
	for _, s := range m.nodes {
		s.attackedBy = s.attackedBy[:0]
	}

	for i, s := range m.nodes {
		if s.Cooldown > 0 {
			s.Cooldown--
		}

		attackSum := 0.0
		for _, j := range m.adj[i] {
			nb := m.nodes[j]
			if !nb.Attacker || nb.Cooldown != 0 {
				continue
			}
			if signOf(nb.EmotionBias) == signOf(s.EmotionBias) || math.Abs(nb.EmotionBias) <= 1e-3 {
				continue
			}
			strength := math.Abs(nb.EmotionBias - s.EmotionBias)
			attackSum += strength
			nb.Cooldown = m.cfg.CooldownDuration
			m.attackLog = append(m.attackLog, attack{attacker: j, victim: i, strength: strength})
			s.attackedBy = append(s.attackedBy, j)
		}

		s.Exposure += attackSum * (1.0 - s.Resilience)

		if s.Exposure >= m.cfg.ExposureThreshold {
			if !s.Bullied {
				m.bullyCount[s.ID]++
			}
			s.Bullied = true
			sig := 1.0 / (1.0 + math.Exp(-m.cfg.SigmoidK*(s.Exposure-m.cfg.ExposureThreshold)))
			s.Suppression = m.cfg.SuppressionProb + (m.cfg.MaxSuppression-m.cfg.SuppressionProb)*sig
			s.EmotionBias *= m.cfg.EmotionShrinkFactor
			if m.cfg.EnableBullyInfect && !s.Attacker && m.rng.Float64() < m.cfg.BullyInfectProb {
				s.Attacker = true
				s.EmotionBias *= m.cfg.BullyAmplify
			}
		} else {
			s.Bullied = false
			s.Suppression = 0.0
		}

		if m.cfg.EnableBullyResilience && s.Bullied {
			s.Resilience = math.Min(1.0, s.Resilience+m.cfg.ResilienceGrowth)
		}
	}

	// Regulator sweep: every interval, attackers logged this step pay a
	// cooldown penalty scaled by attack strength.
	if m.cfg.EnableRegulator && m.timestep%m.cfg.RegulatorInterval == 0 {
		for _, a := range m.attackLog {
			m.nodes[a.attacker].Cooldown += int(float64(m.cfg.RegulatorCooldown) * a.strength)
		}
	}

	// Peer reports: each bullied victim may report each of its attackers.
	if m.cfg.EnableBullyReport {
		for _, s := range m.nodes {
			if !s.Bullied || len(s.attackedBy) == 0 {
				continue
			}
			for _, j := range s.attackedBy {
				if m.rng.Float64() < m.cfg.RegulatorReportProb {
					m.nodes[j].Cooldown += m.cfg.RegulatorReportCooldown
				}
			}
		}
	}
}

// BullyCount returns how many times each trader entered the bullied state.
func (m *Model) BullyCount() map[int]int {
	out := make(map[int]int, len(m.bullyCount))
	for id, c := range m.bullyCount {
		out[id] = c
	}
	return out
}

// signOf matches the three-valued sign convention: zero bias has no side.
func signOf(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
