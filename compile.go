package lumen

import (
	"github.com/lumen3d/lumen/audio"
	"github.com/lumen3d/lumen/gpu"
)

// CompiledScene is the output of the full compiler pipeline: the rewritten
// graph, one lowered GPU plan per particle system, the static route table
// and the audio node definitions ready for the audio package.
type CompiledScene struct {
	Graph  Graph
	Plans  map[string]*gpu.Plan
	Routes *RouteTable
	Audio  []audio.NodeDef
}

// Compile runs the whole pipeline over a scene graph: macro expansion,
// type validation with conversion insertion, optimization, GPU lowering
// per system and route compilation. Every pass takes and returns a value;
// the input graph is never mutated. Compilation is deterministic: the
// same graph yields byte-identical buffer layouts and shader text.
func Compile(g Graph) (*CompiledScene, error) {
	expanded, err := ExpandMacros(g)
	if err != nil {
		return nil, err
	}
	validated, err := Validate(expanded)
	if err != nil {
		return nil, err
	}
	optimized := Optimize(validated)

	plans := make(map[string]*gpu.Plan, len(optimized.Systems))
	for _, sys := range optimized.Systems {
		plan, err := gpu.Lower(systemSpec(sys))
		if err != nil {
			return nil, err
		}
		plans[sys.Id] = plan
	}

	routes, err := BuildRoutes(&optimized)
	if err != nil {
		return nil, err
	}

	return &CompiledScene{
		Graph:  optimized,
		Plans:  plans,
		Routes: routes,
		Audio:  audioDefs(optimized.Audio),
	}, nil
}

func systemSpec(sys ParticleSystemDef) gpu.SystemSpec {
	return gpu.SystemSpec{
		ID:            sys.Id,
		MaxParticles:  sys.MaxParticles,
		Template:      sys.ShaderTemplate,
		Life:          sys.Properties.Life,
		Speed:         sys.Properties.Speed,
		Size:          sys.Properties.Size,
		ColorMin:      [3]float32(sys.Properties.ColorMin),
		ColorMax:      [3]float32(sys.Properties.ColorMax),
		EmitCount:     sys.Properties.EmitCount,
		RejectSurplus: sys.Eviction == EvictReject,
		Fused:         sys.FusePasses,
	}
}

func audioDefs(def AudioGraphDef) []audio.NodeDef {
	out := make([]audio.NodeDef, len(def.Nodes))
	for i, n := range def.Nodes {
		out[i] = audio.NodeDef{
			Id:     n.Id,
			Kind:   n.Kind,
			Input:  n.Input,
			Params: n.Params,
		}
	}
	return out
}
