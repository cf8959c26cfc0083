package state

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wfunc/griffonary/gameerr"
)

// Template is a data-described game type.
type Template struct {
	Name          string        `json:"name"`
	RoundDuration time.Duration `json:"roundDuration"`
	PointStep     int           `json:"pointStep"`
	PointsMax     int           `json:"pointsMax"`
	WithGuesses   bool          `json:"withGuesses"`
}

// Griffonary is the built-in drawing and guessing template.
var Griffonary = Template{
	Name:          "Griffonary",
	RoundDuration: 90 * time.Second,
	PointStep:     50,
	PointsMax:     300,
	WithGuesses:   true,
}

// Reward returns the points of a correct guesser when guessedSoFar players
// already found the word this round: linear decay by PointStep, floored at
// PointStep, never above PointsMax.
func (t Template) Reward(guessedSoFar int) int {
	reward := t.PointsMax - t.PointStep*guessedSoFar
	if reward < t.PointStep {
		reward = t.PointStep
	}
	if reward > t.PointsMax {
		reward = t.PointsMax
	}
	if reward < 0 {
		reward = 0
	}
	return reward
}

func (t Template) validate() error {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return fmt.Errorf("template without name: %w", gameerr.ErrInvalid)
	case t.RoundDuration <= 0:
		return fmt.Errorf("template %s: round duration must be positive: %w", t.Name, gameerr.ErrInvalid)
	case t.PointStep < 0 || t.PointsMax < 0:
		return fmt.Errorf("template %s: negative points: %w", t.Name, gameerr.ErrInvalid)
	}
	return nil
}

// Catalog 按名字（不区分大小写）查找模板
type Catalog struct {
	templates map[string]Template
}

func NewCatalog(templates ...Template) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if err := t.validate(); err != nil {
			return nil, err
		}
		c.templates[strings.ToLower(t.Name)] = t
	}
	return c, nil
}

func (c *Catalog) Lookup(name string) (Template, error) {
	t, ok := c.templates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Template{}, fmt.Errorf("%q (available: %s): %w",
			name, strings.Join(c.Names(), ", "), gameerr.ErrTemplateNotFound)
	}
	return t, nil
}

// Names returns the template names in alphabetical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for _, t := range c.templates {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}
