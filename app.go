package lumen

import (
	"fmt"
	"reflect"
	"runtime"
)

type systemFn any

// Stage is one slot of the frame loop. Systems in a stage run in
// registration order; stages run in their declared order every frame.
type Stage struct {
	Name string
}

var (
	Prelude    = Stage{Name: "Prelude"}
	PreUpdate  = Stage{Name: "PreUpdate"}
	Update     = Stage{Name: "Update"}
	PostUpdate = Stage{Name: "PostUpdate"}
	Present    = Stage{Name: "Present"}
	Finale     = Stage{Name: "Finale"}
)

// Module wires resources and systems into an app.
type Module interface {
	Install(app *App)
}

// AppControl is the loop control resource. Any system may request exit.
type AppControl struct {
	Exit bool
}

// App is the frame-loop host: a stage schedule, a flat resource registry
// and reflection-dispatched systems whose pointer parameters resolve
// against registered resources.
type App struct {
	stages    []Stage
	systems   map[string][]systemFn
	resources map[reflect.Type]any
}

func NewApp() *App {
	app := &App{
		stages:    []Stage{Prelude, PreUpdate, Update, PostUpdate, Present, Finale},
		systems:   map[string][]systemFn{},
		resources: map[reflect.Type]any{},
	}
	app.AddResources(&AppControl{})
	return app
}

func (app *App) Use(mod Module) *App {
	mod.Install(app)
	return app
}

// AddResources registers pointer resources, one per concrete type.
func (app *App) AddResources(resources ...any) *App {
	for _, resource := range resources {
		resourceType := reflect.TypeOf(resource)
		if resourceType.Kind() != reflect.Pointer {
			panic(fmt.Sprintf("resource %s must be a pointer", resourceType))
		}
		if _, ok := app.resources[resourceType.Elem()]; ok {
			panic(fmt.Sprintf("%s is already in resources", resourceType))
		}
		app.resources[resourceType.Elem()] = resource
	}
	return app
}

// UseSystem schedules a system function into a stage.
func (app *App) UseSystem(stage Stage, system systemFn) *App {
	found := false
	for _, s := range app.stages {
		if s.Name == stage.Name {
			found = true
			break
		}
	}
	if !found {
		panic(fmt.Sprintf("stage %v not found", stage.Name))
	}
	app.systems[stage.Name] = append(app.systems[stage.Name], system)
	return app
}

// RunFrame executes every stage once.
func (app *App) RunFrame() {
	for _, stage := range app.stages {
		for _, system := range app.systems[stage.Name] {
			app.callSystem(system)
		}
	}
}

// Run loops frames until a system sets AppControl.Exit.
func (app *App) Run() {
	control := app.resources[reflect.TypeOf(AppControl{})].(*AppControl)
	for !control.Exit {
		app.RunFrame()
	}
}

func (app *App) callSystem(system systemFn) {
	systemType := reflect.TypeOf(system)
	systemValue := reflect.ValueOf(system)

	args := make([]reflect.Value, systemType.NumIn())
	for i := 0; i < systemType.NumIn(); i++ {
		argType := systemType.In(i)
		underlyingType := argType.Elem()

		resource, ok := app.resources[underlyingType]
		if !ok {
			msg := fmt.Sprintf("Unable to resolve system dependency.\nSystem: %s\nSystem type: %s\nDependency: %s",
				runtime.FuncForPC(systemValue.Pointer()).Name(),
				fmt.Sprint(systemType),
				fmt.Sprint(argType),
			)
			panic(msg)
		}

		resourceVal := reflect.ValueOf(resource)
		args[i] = reflect.NewAt(underlyingType, resourceVal.UnsafePointer())
	}
	systemValue.Call(args)
}

// ResourceOf fetches a registered resource by type, or nil.
func ResourceOf[T any](app *App) *T {
	var zero T
	if r, ok := app.resources[reflect.TypeOf(zero)]; ok {
		return r.(*T)
	}
	return nil
}
