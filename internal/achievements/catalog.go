// Package achievements awards badges to cluster users based on the current
// snapshot and their lifetime usage.
package achievements

// Tier orders achievements by rarity.
type Tier string

const (
	TierPlatinum Tier = "platinum"
	TierGold     Tier = "gold"
	TierSilver   Tier = "silver"
	TierBronze   Tier = "bronze"
)

func (t Tier) rank() int {
	switch t {
	case TierPlatinum:
		return 0
	case TierGold:
		return 1
	case TierSilver:
		return 2
	case TierBronze:
		return 3
	}
	return 99
}

// Definition describes one achievement.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Tier        Tier   `json:"tier"`
}

// Achievement ids.
const (
	QuadGPUMaster       = "quad_gpu_master"
	GPUHoarder          = "gpu_hoarder"
	MemoryTitan         = "memory_titan"
	MemoryPerfectionist = "memory_perfectionist"
	UtilizationChampion = "utilization_champion"
	GPUMarathon         = "gpu_marathon"
	GPUUltraMarathon    = "gpu_ultra_marathon"
	RAMBeast            = "ram_beast"
	RAMMonster          = "ram_monster"
	CPUMaximus          = "cpu_maximus"
	ClusterCommander    = "cluster_commander"
	ClusterOverlord     = "cluster_overlord"
	GPUVeteran          = "gpu_veteran"
	GPUHero             = "gpu_hero"
	GPULegend           = "gpu_legend"
	GPURoommate         = "gpu_roommate"
	PartyMachine        = "party_machine"
	FullHouse           = "full_house"
	FirstBlood          = "first_blood"
	GlobeTrotter        = "globe_trotter"
	EfficiencyExpert    = "efficiency_expert"
)

// Catalog lists every achievement that can be earned.
var Catalog = map[string]Definition{
	QuadGPUMaster:       {"Quad GPU Master", "Use 4 or more GPUs simultaneously", "🎯", TierGold},
	GPUHoarder:          {"GPU Hoarder", "Use 8 or more GPUs simultaneously", "💎", TierPlatinum},
	MemoryTitan:         {"Memory Titan", "Achieve >= 90% memory utilization on a single GPU", "🏔️", TierGold},
	MemoryPerfectionist: {"Memory Perfectionist", "Achieve >= 99% memory utilization on a single GPU", "💯", TierPlatinum},
	UtilizationChampion: {"Utilization Champion", "Achieve >= 95% GPU utilization", "⚡", TierGold},
	GPUMarathon:         {"GPU Marathon", "Run a process for over 24 hours on a GPU", "🏃", TierSilver},
	GPUUltraMarathon:    {"GPU Ultra Marathon", "Run a process for over 7 days on a GPU", "🏃‍♂️💨", TierGold},
	RAMBeast:            {"RAM Beast", "Use more than 300GB RAM at once", "🐂", TierGold},
	RAMMonster:          {"RAM Monster", "Use more than 500GB RAM at once", "👹", TierPlatinum},
	CPUMaximus:          {"CPU Maximus", "Use all CPU cores (>95% CPU utilization)", "🔥", TierGold},
	ClusterCommander:    {"Cluster Commander", "Use GPUs on 3 or more different machines simultaneously", "🎖️", TierGold},
	ClusterOverlord:     {"Cluster Overlord", "Use GPUs on 5 or more different machines simultaneously", "👑", TierPlatinum},
	GPUVeteran:          {"GPU Veteran", "Accumulate 100 GB-Hours of GPU usage", "🎖️", TierSilver},
	GPUHero:             {"GPU Hero", "Accumulate 1,000 GB-Hours of GPU usage", "🦸", TierGold},
	GPULegend:           {"GPU Legend", "Accumulate 10,000 GB-Hours of GPU usage", "⭐", TierPlatinum},
	GPURoommate:         {"GPU Roommate", "Share a GPU with another user", "🤝", TierBronze},
	PartyMachine:        {"Party Machine", "Have 4 or more different users using GPUs on the same machine", "🎉", TierGold},
	FullHouse:           {"Full House", "Have all GPUs on a machine occupied by different users", "🏠", TierGold},
	FirstBlood:          {"First Blood", "Use your first GPU", "🩸", TierBronze},
	GlobeTrotter:        {"Globe Trotter", "Use GPUs on 10 different machines (lifetime)", "🌍", TierPlatinum},
	EfficiencyExpert:    {"Efficiency Expert", "Maintain >80% GPU utilization across all your active GPUs", "📊", TierGold},
}

// Lookup returns the definition of id, or a placeholder for ids no longer in
// the catalog.
func Lookup(id string) Definition {
	if d, ok := Catalog[id]; ok {
		return d
	}
	return Definition{Name: "Unknown", Icon: "🏆", Tier: TierBronze}
}
