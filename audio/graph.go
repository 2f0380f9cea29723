// Package audio compiles declarative synth graphs into beep streamer
// chains and plays triggered one-shot sounds through a sink.
package audio

import (
	"fmt"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// NodeDef is one node of a synth graph. Kind is one of "oscillator",
// "envelope", "filter" or "output". Input names the upstream node.
type NodeDef struct {
	Id     string
	Kind   string
	Input  string
	Params map[string]float32
}

// Sink receives fully built streamer chains. The speaker sink plays
// them; tests substitute a capture sink.
type Sink interface {
	Play(s beep.Streamer)
}

// Logger is the subset of the engine logger the audio graph needs.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

// chain is a compiled path from an oscillator to an output node,
// stored source first.
type chain struct {
	nodes []NodeDef
}

// Graph holds the compiled synth chains of one scene.
type Graph struct {
	chains map[string]chain
	sink   Sink
	rate   beep.SampleRate
	log    Logger
}

const DefaultSampleRate = beep.SampleRate(44100)

// Compile resolves every output node's input chain down to its
// oscillator. Chains are validated once here so Trigger cannot fail on
// graph shape.
func Compile(defs []NodeDef, sink Sink, rate beep.SampleRate, log Logger) (*Graph, error) {
	byId := make(map[string]NodeDef, len(defs))
	for _, n := range defs {
		if _, dup := byId[n.Id]; dup {
			return nil, fmt.Errorf("audio graph: duplicate node id %q", n.Id)
		}
		byId[n.Id] = n
	}

	g := &Graph{
		chains: make(map[string]chain),
		sink:   sink,
		rate:   rate,
		log:    log,
	}
	for _, n := range defs {
		if n.Kind != "output" {
			continue
		}
		c, err := resolveChain(n, byId)
		if err != nil {
			return nil, err
		}
		g.chains[n.Id] = c
	}
	return g, nil
}

func resolveChain(out NodeDef, byId map[string]NodeDef) (chain, error) {
	var rev []NodeDef
	seen := map[string]bool{}
	cur := out
	for {
		if seen[cur.Id] {
			return chain{}, fmt.Errorf("audio graph: cycle through node %q", cur.Id)
		}
		seen[cur.Id] = true
		rev = append(rev, cur)
		if cur.Kind == "oscillator" {
			break
		}
		if cur.Input == "" {
			return chain{}, fmt.Errorf("audio graph: node %q has no input", cur.Id)
		}
		next, ok := byId[cur.Input]
		if !ok {
			return chain{}, fmt.Errorf("audio graph: node %q references unknown input %q", cur.Id, cur.Input)
		}
		cur = next
	}
	nodes := make([]NodeDef, len(rev))
	for i, n := range rev {
		nodes[len(rev)-1-i] = n
	}
	return chain{nodes: nodes}, nil
}

// Trigger builds a fresh streamer chain for the given output node and
// hands it to the sink. Params may override the oscillator frequency
// ("frequency") and the output gain ("gain").
func (g *Graph) Trigger(outputId string, params map[string]float32) error {
	c, ok := g.chains[outputId]
	if !ok {
		return fmt.Errorf("audio graph: no output node %q", outputId)
	}

	osc := c.nodes[0]
	freq := float64(paramOr(osc.Params, "freq", 440))
	if f, ok := params["frequency"]; ok && f > 0 {
		freq = float64(f)
	}
	duration := secondsOr(osc.Params, "duration", 250*time.Millisecond)
	shape := WaveShape(paramOr(osc.Params, "wave", 0))

	s := newOscillator(freq, duration, shape, g.rate)
	for _, n := range c.nodes[1:] {
		switch n.Kind {
		case "envelope":
			attack := secondsOr(n.Params, "attack", 5*time.Millisecond)
			release := secondsOr(n.Params, "release", 50*time.Millisecond)
			s = newEnvelope(s, duration, attack, release, g.rate)
		case "filter":
			cutoff := float64(paramOr(n.Params, "cutoff", 8000))
			s = newLowPass(s, cutoff, g.rate)
		case "output":
			factor := float64(paramOr(n.Params, "gain", 1))
			if v, ok := params["gain"]; ok {
				factor = float64(v)
			}
			if factor != 1 {
				s = &gain{streamer: s, factor: factor}
			}
		default:
			return fmt.Errorf("audio graph: unknown node kind %q", n.Kind)
		}
	}

	if g.log != nil {
		g.log.Debugf("audio: trigger %s freq=%.1f", outputId, freq)
	}
	g.sink.Play(s)
	return nil
}

// Outputs returns the ids of all compiled output nodes.
func (g *Graph) Outputs() []string {
	ids := make([]string, 0, len(g.chains))
	for id := range g.chains {
		ids = append(ids, id)
	}
	return ids
}

func paramOr(params map[string]float32, key string, def float32) float32 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

func secondsOr(params map[string]float32, key string, def time.Duration) time.Duration {
	if v, ok := params[key]; ok {
		return time.Duration(float64(v) * float64(time.Second))
	}
	return def
}

// SpeakerSink plays chains through the OS audio device.
type SpeakerSink struct{}

// NewSpeakerSink initializes the speaker once for the given rate.
func NewSpeakerSink(rate beep.SampleRate) (*SpeakerSink, error) {
	if err := speaker.Init(rate, rate.N(100*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("audio: speaker init: %w", err)
	}
	return &SpeakerSink{}, nil
}

func (s *SpeakerSink) Play(st beep.Streamer) {
	speaker.Play(st)
}

// CaptureSink records played streamers instead of rendering them.
// Drain pulls samples synchronously so tests can inspect the output.
type CaptureSink struct {
	Played []beep.Streamer
}

func (c *CaptureSink) Play(s beep.Streamer) {
	c.Played = append(c.Played, s)
}

// Drain streams everything played so far to completion and returns the
// mixed sample count of the last streamer.
func (c *CaptureSink) Drain(buf [][2]float64) int {
	total := 0
	for _, s := range c.Played {
		for {
			n, ok := s.Stream(buf)
			total += n
			if !ok {
				break
			}
		}
	}
	c.Played = nil
	return total
}
