package lighting

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Controller errors.
var (
	ErrLightUnknown    = errors.New("unknown light")
	ErrSceneUnknown    = errors.New("unknown scene")
	ErrBrightnessRange = errors.New("brightness must be between 0 and 100")
)

// Light is the state of one controllable light.
type Light struct {
	Name       string    `json:"name"`
	On         bool      `json:"on"`
	Brightness int       `json:"brightness"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Scene is a preset applied to every light at once.
type Scene struct {
	Name       string `json:"name"`
	On         bool   `json:"on"`
	Brightness int    `json:"brightness"`
}

// Controller tracks light state in registration order. All methods are
// safe for concurrent use.
type Controller struct {
	mu     sync.RWMutex
	lights map[string]*Light
	order  []string
	scenes map[string]Scene
}

// NewController creates a controller over the named lights, all off.
func NewController(names []string, defaultBrightness int) *Controller {
	c := &Controller{
		lights: make(map[string]*Light, len(names)),
		scenes: map[string]Scene{
			"evening": {Name: "evening", On: true, Brightness: 40},
			"movie":   {Name: "movie", On: true, Brightness: 10},
			"bright":  {Name: "bright", On: true, Brightness: 100},
			"off":     {Name: "off", On: false, Brightness: 0},
		},
	}
	now := time.Now()
	for _, name := range names {
		if _, exists := c.lights[name]; exists {
			continue
		}
		c.lights[name] = &Light{Name: name, Brightness: defaultBrightness, UpdatedAt: now}
		c.order = append(c.order, name)
	}
	return c
}

// Lights returns every light in registration order.
func (c *Controller) Lights() []Light {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Light, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, *c.lights[name])
	}
	return out
}

// Get returns one light by name.
func (c *Controller) Get(name string) (Light, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	light, ok := c.lights[name]
	if !ok {
		return Light{}, fmt.Errorf("%w: %s", ErrLightUnknown, name)
	}
	return *light, nil
}

// Set switches one light. Nil fields keep their current value.
func (c *Controller) Set(name string, on *bool, brightness *int) (Light, error) {
	if brightness != nil && (*brightness < 0 || *brightness > 100) {
		return Light{}, fmt.Errorf("%w: got %d", ErrBrightnessRange, *brightness)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	light, ok := c.lights[name]
	if !ok {
		return Light{}, fmt.Errorf("%w: %s", ErrLightUnknown, name)
	}
	if on != nil {
		light.On = *on
	}
	if brightness != nil {
		light.Brightness = *brightness
		if *brightness == 0 {
			light.On = false
		}
	}
	light.UpdatedAt = time.Now()
	return *light, nil
}

// ApplyScene applies a preset to every light and returns the new states.
func (c *Controller) ApplyScene(name string) ([]Light, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scene, ok := c.scenes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSceneUnknown, name)
	}

	now := time.Now()
	out := make([]Light, 0, len(c.order))
	for _, lightName := range c.order {
		light := c.lights[lightName]
		light.On = scene.On
		light.Brightness = scene.Brightness
		light.UpdatedAt = now
		out = append(out, *light)
	}
	return out, nil
}

// Scenes lists the available preset names.
func (c *Controller) Scenes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.scenes))
	for name := range c.scenes {
		names = append(names, name)
	}
	return names
}
