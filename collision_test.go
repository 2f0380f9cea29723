package lumen

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fallingSphere(y float32) Entity {
	return Entity{
		Id:        "drop",
		Transform: TransformComponent{Position: mgl32.Vec3{0, y, 0}},
		Rigidbody: &RigidbodyComponent{Mass: 1, GravityScale: 1},
		Collider:  &ColliderComponent{Shape: ShapeSphere, Radius: 0.5, Restitution: 0.5},
	}
}

func TestCollisionWorldGravityIntegration(t *testing.T) {
	w := NewCollisionWorld([]Entity{fallingSphere(10)})

	for i := 0; i < 10; i++ {
		w.Step(0.1)
	}

	pos, vel, ok := w.Body("drop")
	require.True(t, ok)
	assert.Less(t, pos.Y(), float32(10), "the body must fall")
	assert.Less(t, vel.Y(), float32(0))
}

func TestCollisionWorldGroundContact(t *testing.T) {
	w := NewCollisionWorld([]Entity{fallingSphere(1)})
	w.Ground = true

	for i := 0; i < 20; i++ {
		w.Step(0.1)
	}

	events := w.PollEvents()
	require.NotEmpty(t, events, "hitting the ground must report a contact")
	assert.Equal(t, "drop", events[0].Entity)
	assert.Equal(t, float32(0), events[0].Position.Y())
	assert.Less(t, events[0].Velocity.Y(), float32(0), "the reported velocity is pre-bounce")

	pos, _, _ := w.Body("drop")
	assert.GreaterOrEqual(t, pos.Y(), float32(0.5), "the body rests on the plane, not inside it")
}

func TestCollisionWorldPairContact(t *testing.T) {
	mover := fallingSphere(0)
	mover.Transform.Position = mgl32.Vec3{0, 0, 0}
	mover.Rigidbody.GravityScale = 0
	mover.Rigidbody.Velocity = mgl32.Vec3{1, 0, 0}

	wall := Entity{
		Id:        "wall",
		Transform: TransformComponent{Position: mgl32.Vec3{2, 0, 0}},
		Collider:  &ColliderComponent{Shape: ShapeBox, HalfExtents: mgl32.Vec3{0.5, 5, 5}},
	}

	w := NewCollisionWorld([]Entity{mover, wall})
	for i := 0; i < 30; i++ {
		w.Step(0.1)
	}

	var hit bool
	for _, ev := range w.PollEvents() {
		if ev.Entity == "drop" {
			hit = true
			assert.Greater(t, ev.Velocity.X(), float32(0), "contact velocity is pre-bounce")
		}
	}
	assert.True(t, hit, "the mover must hit the wall")

	_, vel, _ := w.Body("drop")
	assert.LessOrEqual(t, vel.X(), float32(0), "restitution reverses the approach axis")
}

func TestCollisionWorldPollHandsOffEvents(t *testing.T) {
	w := NewCollisionWorld([]Entity{fallingSphere(0.6)})
	w.Ground = true
	w.Step(0.1)
	w.Step(0.1)

	first := w.PollEvents()
	require.NotEmpty(t, first)
	assert.Empty(t, w.PollEvents(), "events are handed off, not replayed")
}

func TestCollisionWorldIgnoresEntitiesWithoutCollider(t *testing.T) {
	w := NewCollisionWorld([]Entity{{Id: "ghost"}})
	_, _, ok := w.Body("ghost")
	assert.False(t, ok)
}

func TestCollisionWorldSleepsRestingBodies(t *testing.T) {
	w := NewCollisionWorld([]Entity{fallingSphere(0.55)})
	w.Ground = true

	// After settling, resting contact must stop producing events.
	for i := 0; i < 100; i++ {
		w.Step(0.05)
	}
	w.PollEvents()
	for i := 0; i < 20; i++ {
		w.Step(0.05)
	}
	assert.Empty(t, w.PollEvents())
}
