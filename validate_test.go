package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInsertsNormConversion(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = nil
	// vec3 velocity into the scalar frequency port goes through the
	// registered norm conversion.
	g.Edges = []GraphEdge{{
		From: PortRef{Node: "ball", Port: "velocity"},
		To:   PortRef{Node: "thud", Port: "frequency"},
	}}

	out, err := Validate(g)
	require.NoError(t, err)

	var conv *Node
	for i := range out.Nodes {
		if out.Nodes[i].Kind == KindConvert {
			conv = &out.Nodes[i]
		}
	}
	require.NotNil(t, conv, "a conversion node should be inserted")
	assert.Equal(t, "norm", conv.Op)

	// The original edge is split in two around the conversion.
	require.Len(t, out.Edges, 2)
	assert.Equal(t, PortRef{Node: "ball", Port: "velocity"}, out.Edges[0].From)
	assert.Equal(t, PortRef{Node: conv.Id, Port: "in"}, out.Edges[0].To)
	assert.Equal(t, PortRef{Node: conv.Id, Port: "out"}, out.Edges[1].From)
	assert.Equal(t, PortRef{Node: "thud", Port: "frequency"}, out.Edges[1].To)
}

func TestValidateRejectsUnconvertibleConnection(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = nil
	// No conversion exists from event to scalar.
	g.Edges = []GraphEdge{{
		From: PortRef{Node: "ball", Port: "impact"},
		To:   PortRef{Node: "thud", Port: "frequency"},
	}}

	_, err := Validate(g)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, PortRef{Node: "ball", Port: "impact"}, mismatch.From)
	assert.Equal(t, PortRef{Node: "thud", Port: "frequency"}, mismatch.To)
	assert.Contains(t, err.Error(), "ball:impact")
	assert.Contains(t, err.Error(), "thud:frequency")
}

func TestValidateEventEdgePassesThrough(t *testing.T) {
	out, err := Validate(mustExpand(t, sampleScene()))
	require.NoError(t, err)

	// impact -> emit is event to event; the const count annotation must
	// not force a conversion.
	e := findEdge(out,
		PortRef{Node: "ball", Port: "impact"},
		PortRef{Node: "sparks", Port: "emit"})
	require.NotNil(t, e)
	require.NotNil(t, e.Transform)
	assert.Equal(t, "const", e.Transform.Op)
}

func TestValidateRejectsUnknownPort(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = nil
	g.Edges = []GraphEdge{{
		From: PortRef{Node: "ball", Port: "spin"},
		To:   PortRef{Node: "sparks", Port: "emit"},
	}}

	_, err := Validate(g)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestValidateRejectsPureCycle(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = nil
	g.Nodes = []Node{
		{Id: "a", Kind: KindMath, Op: "scale", Params: map[string]float32{"k": 2}},
		{Id: "b", Kind: KindMath, Op: "scale", Params: map[string]float32{"k": 0.5}},
	}
	g.Edges = []GraphEdge{
		{From: PortRef{Node: "a", Port: "out"}, To: PortRef{Node: "b", Port: "a"}},
		{From: PortRef{Node: "b", Port: "out"}, To: PortRef{Node: "a", Port: "a"}},
	}

	_, err := Validate(g)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.GreaterOrEqual(t, len(cycleErr.Nodes), 3)
}

func TestValidateAllowsCycleThroughMemory(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = nil
	g.Nodes = []Node{
		{Id: "a", Kind: KindMath, Op: "scale", Params: map[string]float32{"k": 2}},
		{Id: "m", Kind: KindMemory, Stateful: true},
	}
	g.Edges = []GraphEdge{
		{From: PortRef{Node: "a", Port: "out"}, To: PortRef{Node: "m", Port: "in"}},
		{From: PortRef{Node: "m", Port: "out"}, To: PortRef{Node: "a", Port: "a"}},
	}

	_, err := Validate(g)
	assert.NoError(t, err, "feedback through a stateful node is legal")
}

func mustExpand(t *testing.T, g Graph) Graph {
	t.Helper()
	out, err := ExpandMacros(g)
	require.NoError(t, err)
	return out
}
