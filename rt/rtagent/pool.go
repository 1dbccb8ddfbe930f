package rtagent

import (
	"fmt"
	"math/rand"
)

// Agent names are adjective-animal pairs drawn from local word lists
// with the pool's seeded RNG. Name generation must be reproducible
// from the pool seed alone, which rules out libraries that draw from
// process-global randomness.
var (
	nameAdjectives = []string{
		"amber", "bold", "calm", "deft", "eager", "fond", "grand", "hardy",
		"keen", "lively", "mellow", "noble", "prime", "quick", "steady", "vivid",
	}
	nameAnimals = []string{
		"badger", "crane", "dolphin", "falcon", "heron", "ibex", "jackal",
		"lynx", "marten", "otter", "petrel", "raven", "stoat", "tern", "vole", "wren",
	}
)

// Pool is a generated set of agents scenarios select from.
// Generation is deterministic: the same seed and parameters always
// produce the same names, archetypes, and balances.
type Pool struct {
	Agents []*Agent
}

// GeneratePool builds size agents, cycling through the built-in
// archetypes and drawing names and initial balances from a RNG seeded
// with seed. Balances are uniform over [minBalance, maxBalance].
func GeneratePool(seed int64, size, minBalance, maxBalance int) *Pool {
	rng := rand.New(rand.NewSource(seed))
	archetypes := Archetypes()

	seen := make(map[string]struct{}, size)
	agents := make([]*Agent, 0, size)
	for i := 0; i < size; i++ {
		name := generateName(rng)
		if _, dup := seen[name]; dup {
			name = fmt.Sprintf("%s-%d", name, i)
		}
		seen[name] = struct{}{}

		arch := archetypes[i%len(archetypes)]
		balance := minBalance + rng.Intn(maxBalance-minBalance+1)
		agents = append(agents, New(name, arch.Name, arch.Traits, balance, seed))
	}

	return &Pool{Agents: agents}
}

func generateName(rng *rand.Rand) string {
	return nameAdjectives[rng.Intn(len(nameAdjectives))] + "-" +
		nameAnimals[rng.Intn(len(nameAnimals))]
}

// Select picks n agents deterministically for one scenario and reseeds
// each with the scenario seed. Selection is a seeded shuffle over the
// pool order, so distinct scenarios draw distinct line-ups.
func (p *Pool) Select(scenarioSeed int64, n int) []*Agent {
	if n > len(p.Agents) {
		n = len(p.Agents)
	}

	idx := make([]int, len(p.Agents))
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(scenarioSeed))
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	picked := make([]*Agent, 0, n)
	for _, i := range idx[:n] {
		a := p.Agents[i]
		a.Reseed(scenarioSeed)
		picked = append(picked, a)
	}
	return picked
}

// IDs returns the ids of the given agents, in order.
func IDs(agents []*Agent) []string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

// Balances returns the initial balance map for the given agents.
func Balances(agents []*Agent) map[string]int {
	out := make(map[string]int, len(agents))
	for _, a := range agents {
		out[a.ID] = a.InitialBalance
	}
	return out
}
