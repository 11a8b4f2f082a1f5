// Package imagegen talks to the remote rendering worker and keeps the state
// of the site's image panel: a bounded render history and an access gate.
package imagegen

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParamsVersion is bumped whenever Params gains, drops or renames a field.
const ParamsVersion = 1

const (
	DefaultModel    = "flux-1-schnell"
	DefaultSize     = 1024
	DefaultSteps    = 4
	DefaultGuidance = 7.5

	MinSize        = 256
	MaxSize        = 2048
	MaxSteps       = 50
	MaxGuidance    = 20
	MaxPromptRunes = 2000
)

// Models lists the model ids the worker accepts.
var Models = []string{
	"flux-1-schnell",
	"stable-diffusion-xl-base-1.0",
	"stable-diffusion-xl-lightning",
	"dreamshaper-8-lcm",
}

var ErrEmptyPrompt = errors.New("imagegen: prompt is empty")

// Params is the full set of generation parameters sent to the worker.
type Params struct {
	Version        int     `json:"version"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Model          string  `json:"model"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	Guidance       float64 `json:"guidance"`
	Seed           *int64  `json:"seed,omitempty"`
	Password       string  `json:"-"`
}

// Normalize trims text fields and fills zero values with defaults.
func (p *Params) Normalize() {
	p.Version = ParamsVersion
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.NegativePrompt = strings.TrimSpace(p.NegativePrompt)
	if p.Model == "" {
		p.Model = DefaultModel
	}
	if p.Width == 0 {
		p.Width = DefaultSize
	}
	if p.Height == 0 {
		p.Height = DefaultSize
	}
	if p.Steps == 0 {
		p.Steps = DefaultSteps
	}
	if p.Guidance == 0 {
		p.Guidance = DefaultGuidance
	}
}

// Validate reports the first invalid field. Call Normalize first.
func (p Params) Validate() error {
	if p.Version != ParamsVersion {
		return fmt.Errorf("imagegen: unsupported params version %d", p.Version)
	}
	if p.Prompt == "" {
		return ErrEmptyPrompt
	}
	if utf8.RuneCountInString(p.Prompt) > MaxPromptRunes {
		return fmt.Errorf("imagegen: prompt exceeds %d characters", MaxPromptRunes)
	}
	if !slices.Contains(Models, p.Model) {
		return fmt.Errorf("imagegen: unknown model %q", p.Model)
	}
	if p.Width < MinSize || p.Width > MaxSize || p.Height < MinSize || p.Height > MaxSize {
		return fmt.Errorf("imagegen: dimensions must be between %d and %d", MinSize, MaxSize)
	}
	if p.Steps < 1 || p.Steps > MaxSteps {
		return fmt.Errorf("imagegen: steps must be between 1 and %d", MaxSteps)
	}
	if p.Guidance < 0 || p.Guidance > MaxGuidance {
		return fmt.Errorf("imagegen: guidance must be between 0 and %d", MaxGuidance)
	}
	return nil
}

// Query encodes the parameters as the worker's query string.
func (p Params) Query() url.Values {
	q := url.Values{}
	q.Set("prompt", p.Prompt)
	q.Set("model", p.Model)
	q.Set("password", p.Password)
	q.Set("negative_prompt", p.NegativePrompt)
	q.Set("width", strconv.Itoa(p.Width))
	q.Set("height", strconv.Itoa(p.Height))
	q.Set("steps", strconv.Itoa(p.Steps))
	q.Set("guidance", strconv.FormatFloat(p.Guidance, 'f', -1, 64))
	if p.Seed != nil {
		q.Set("seed", strconv.FormatInt(*p.Seed, 10))
	}
	return q
}
