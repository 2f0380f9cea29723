package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterResource struct {
	frames int
	trace  []string
}

func TestAppResolvesSystemDependencies(t *testing.T) {
	app := NewApp()
	app.AddResources(&counterResource{})

	app.UseSystem(Update, func(c *counterResource) {
		c.frames++
	})

	app.RunFrame()
	app.RunFrame()

	assert.Equal(t, 2, ResourceOf[counterResource](app).frames)
}

func TestAppRejectsDuplicateResource(t *testing.T) {
	app := NewApp()
	app.AddResources(&counterResource{})
	assert.Panics(t, func() { app.AddResources(&counterResource{}) })
}

func TestAppPanicsOnUnknownDependency(t *testing.T) {
	app := NewApp()
	app.UseSystem(Update, func(c *counterResource) {})
	assert.Panics(t, func() { app.RunFrame() })
}

func TestAppStageOrdering(t *testing.T) {
	app := NewApp()
	app.AddResources(&counterResource{})

	record := func(label string) func(*counterResource) {
		return func(c *counterResource) { c.trace = append(c.trace, label) }
	}
	// Registered out of order on purpose.
	app.UseSystem(Finale, record("finale"))
	app.UseSystem(Prelude, record("prelude"))
	app.UseSystem(Update, record("update"))
	app.UseSystem(PreUpdate, record("preupdate"))

	app.RunFrame()

	assert.Equal(t, []string{"prelude", "preupdate", "update", "finale"},
		ResourceOf[counterResource](app).trace)
}

func TestAppRunExitsOnControl(t *testing.T) {
	app := NewApp()
	app.AddResources(&counterResource{})
	app.UseSystem(Update, func(c *counterResource, control *AppControl) {
		c.frames++
		if c.frames == 3 {
			control.Exit = true
		}
	})

	app.Run()

	assert.Equal(t, 3, ResourceOf[counterResource](app).frames)
}

func TestAppModuleInstall(t *testing.T) {
	app := NewApp().Use(TimeModule{FixedDt: 0.016})

	timeResource := ResourceOf[Time](app)
	require.NotNil(t, timeResource)
	assert.Equal(t, float32(0.016), timeResource.DeltaSeconds())

	app.RunFrame()
	assert.Equal(t, uint64(1), ResourceOf[Time](app).Frame)
}

func TestAppUnknownStagePanics(t *testing.T) {
	app := NewApp()
	assert.Panics(t, func() {
		app.UseSystem(Stage{Name: "Midnight"}, func() {})
	})
}
