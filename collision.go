package lumen

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// CollisionWorld is a CPU reference implementation of the CollisionSource
// collaborator: it integrates the scene's rigidbody entities and reports
// contacts through PollEvents. Production setups may substitute a physics
// middleware; the router only sees the polling contract.
type CollisionWorld struct {
	Gravity mgl32.Vec3

	// Ground, when set, is an infinite plane at GroundY bodies bounce off.
	Ground  bool
	GroundY float32

	SleepThreshold float32
	SleepTime      float32

	bodies []collisionBody
	events []CollisionEvent
}

type collisionBody struct {
	id          string
	pos         mgl32.Vec3
	vel         mgl32.Vec3
	extents     mgl32.Vec3 // AABB half extents; spheres use a cubic bound
	radius      float32
	sphere      bool
	restitution float32

	static       bool
	gravityScale float32
	sleeping     bool
	idleTime     float32
}

// NewCollisionWorld builds a world from every entity that carries a
// collider. Entities without a rigidbody are static obstacles.
func NewCollisionWorld(entities []Entity) *CollisionWorld {
	w := &CollisionWorld{
		Gravity:        mgl32.Vec3{0, -9.81, 0},
		SleepThreshold: 0.05,
		SleepTime:      1.0,
	}
	for _, e := range entities {
		if e.Collider == nil {
			continue
		}
		b := collisionBody{
			id:          e.Id,
			pos:         e.Transform.Position,
			restitution: e.Collider.Restitution,
			static:      true,
		}
		switch e.Collider.Shape {
		case ShapeSphere:
			r := e.Collider.Radius
			b.sphere = true
			b.radius = r
			b.extents = mgl32.Vec3{r, r, r}
		default:
			b.extents = e.Collider.HalfExtents
		}
		for i := 0; i < 3; i++ {
			if b.extents[i] < 0.001 {
				b.extents[i] = 0.001
			}
		}
		if rb := e.Rigidbody; rb != nil {
			b.vel = rb.Velocity
			b.static = rb.IsStatic
			b.gravityScale = rb.GravityScale
		}
		w.bodies = append(w.bodies, b)
	}
	return w
}

// Step advances every body by dt and records contact events.
func (w *CollisionWorld) Step(dt float32) {
	if dt <= 0 || dt > 1.0 { // safety cap
		return
	}

	for i := range w.bodies {
		b := &w.bodies[i]
		if b.static || b.sleeping {
			continue
		}

		if b.gravityScale != 0 {
			b.vel = b.vel.Add(w.Gravity.Mul(b.gravityScale * dt))
		}
		displacement := b.vel.Mul(dt)
		if math.IsNaN(float64(displacement.Len())) || math.IsInf(float64(displacement.Len()), 0) {
			b.vel = mgl32.Vec3{}
			continue
		}
		b.pos = b.pos.Add(displacement)

		w.resolveGround(b, dt)
		for j := range w.bodies {
			if j == i {
				continue
			}
			w.resolvePair(b, &w.bodies[j])
		}

		// Sleeping keeps resting contacts from flooding the router.
		if b.vel.Len() < w.SleepThreshold {
			b.idleTime += dt
			if b.idleTime > w.SleepTime {
				b.sleeping = true
				b.vel = mgl32.Vec3{}
			}
		} else {
			b.idleTime = 0
		}
	}
}

func (w *CollisionWorld) resolveGround(b *collisionBody, dt float32) {
	if !w.Ground {
		return
	}
	bottom := b.pos.Y() - b.extents.Y()
	if bottom >= w.GroundY || b.vel.Y() >= 0 {
		return
	}
	impact := b.vel
	b.pos[1] = w.GroundY + b.extents.Y()

	// A resting body regains roughly one frame of gravity between checks;
	// that is support, not a new contact.
	if -impact.Y() <= w.Gravity.Len()*dt*1.5 {
		b.vel[1] = 0
		return
	}

	contact := mgl32.Vec3{b.pos.X(), w.GroundY, b.pos.Z()}
	w.report(b.id, contact, impact)

	b.vel[1] = -impact.Y() * b.restitution
	if float32(math.Abs(float64(b.vel.Y()))) < 0.1 {
		b.vel[1] = 0
	}
}

func (w *CollisionWorld) resolvePair(b, other *collisionBody) {
	var hit bool
	if b.sphere && other.sphere {
		hit = b.pos.Sub(other.pos).Len() < b.radius+other.radius
	} else {
		hit = overlapAABB(b.pos, b.extents, other.pos, other.extents)
	}
	if !hit {
		return
	}

	normal := b.pos.Sub(other.pos)
	if normal.Len() < 0.0001 {
		normal = mgl32.Vec3{0, 1, 0}
	} else {
		normal = normal.Normalize()
	}
	// Report only approaching contacts so a resting pair does not fire
	// every frame.
	if b.vel.Dot(normal) >= 0 {
		return
	}
	contact := b.pos.Add(other.pos).Mul(0.5)
	w.report(b.id, contact, b.vel)
	if !other.static {
		w.report(other.id, contact, other.vel)
		other.sleeping = false
		other.idleTime = 0
	}

	// Reflect along the contact normal, scaled by restitution.
	vn := normal.Mul(b.vel.Dot(normal))
	b.vel = b.vel.Sub(vn.Mul(1 + b.restitution))
}

func overlapAABB(posA, extA, posB, extB mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if float32(math.Abs(float64(posA[i]-posB[i]))) >= extA[i]+extB[i] {
			return false
		}
	}
	return true
}

func (w *CollisionWorld) report(entity string, position, velocity mgl32.Vec3) {
	w.events = append(w.events, CollisionEvent{
		Entity:   entity,
		Position: position,
		Velocity: velocity,
	})
}

// PollEvents returns contacts accumulated since the last poll. Non
// blocking; the returned slice is handed off, not reused.
func (w *CollisionWorld) PollEvents() []CollisionEvent {
	out := w.events
	w.events = nil
	return out
}

// Body returns the current position and velocity of an entity's body.
func (w *CollisionWorld) Body(id string) (position, velocity mgl32.Vec3, ok bool) {
	for i := range w.bodies {
		if w.bodies[i].id == id {
			return w.bodies[i].pos, w.bodies[i].vel, true
		}
	}
	return mgl32.Vec3{}, mgl32.Vec3{}, false
}

var _ CollisionSource = (*CollisionWorld)(nil)

// CollisionModule steps a CollisionWorld inside the frame loop, before
// events are routed.
type CollisionModule struct {
	World *CollisionWorld
}

func (m CollisionModule) Install(app *App) {
	app.AddResources(m.World)
	app.UseSystem(Prelude, collisionStepSystem)
}

func collisionStepSystem(world *CollisionWorld, timeResource *Time) {
	world.Step(timeResource.DeltaSeconds())
}
