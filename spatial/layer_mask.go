package spatial

import "strings"

// LayerMask tags an entity's category membership for query filtering. Each
// bit names a category; an entity passes a query mask iff the masks share at
// least one bit. Querying with LayerAll always passes.
type LayerMask uint32

const (
	LayerNone           LayerMask = 0x00
	LayerPlayer         LayerMask = 0x01
	LayerCreatures      LayerMask = 0x02
	LayerTerrain        LayerMask = 0x04
	LayerVegetation     LayerMask = 0x08
	LayerWater          LayerMask = 0x10
	LayerItems          LayerMask = 0x20
	LayerCaptureDevices LayerMask = 0x40
	LayerTriggerZones   LayerMask = 0x80
	LayerNPCs           LayerMask = 0x100
	LayerBuildings      LayerMask = 0x200
	LayerCollectibles   LayerMask = 0x400
	LayerParticles      LayerMask = 0x800
	LayerUI             LayerMask = 0x1000
	LayerDebug          LayerMask = 0x2000
	LayerCamera         LayerMask = 0x4000
	LayerAll            LayerMask = 0xFFFFFFFF
)

// Commonly used combinations.
const (
	LayerInteractables    = LayerItems | LayerCaptureDevices | LayerNPCs | LayerCollectibles
	LayerEnvironment      = LayerTerrain | LayerVegetation | LayerWater | LayerBuildings
	LayerGameplayEntities = LayerPlayer | LayerCreatures | LayerInteractables
	LayerStaticObjects    = LayerTerrain | LayerBuildings
	LayerDynamicObjects   = LayerPlayer | LayerCreatures | LayerItems | LayerCaptureDevices
)

// Contains reports whether the masks share at least one bit.
func (m LayerMask) Contains(layer LayerMask) bool {
	return m&layer != 0
}

func (m LayerMask) Combine(other LayerMask) LayerMask {
	return m | other
}

func (m LayerMask) Remove(layer LayerMask) LayerMask {
	return m &^ layer
}

func (m LayerMask) IsEmpty() bool {
	return m == LayerNone
}

func (m LayerMask) IsAll() bool {
	return m == LayerAll
}

var layerNames = []struct {
	layer LayerMask
	name  string
}{
	{LayerPlayer, "Player"},
	{LayerCreatures, "Creatures"},
	{LayerTerrain, "Terrain"},
	{LayerVegetation, "Vegetation"},
	{LayerWater, "Water"},
	{LayerItems, "Items"},
	{LayerCaptureDevices, "CaptureDevices"},
	{LayerTriggerZones, "TriggerZones"},
	{LayerNPCs, "NPCs"},
	{LayerBuildings, "Buildings"},
	{LayerCollectibles, "Collectibles"},
	{LayerParticles, "Particles"},
	{LayerUI, "UI"},
	{LayerDebug, "Debug"},
	{LayerCamera, "Camera"},
}

func (m LayerMask) String() string {
	switch m {
	case LayerNone:
		return "None"
	case LayerAll:
		return "All"
	}

	var names []string
	for _, l := range layerNames {
		if m&l.layer != 0 {
			names = append(names, l.name)
		}
	}
	if len(names) == 0 {
		return "Unknown"
	}
	return strings.Join(names, "|")
}
