// Package extract reads best-effort game readings out of page snapshots.
package extract

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes where a game page keeps its timer and answer input.
type Profile struct {
	Name             string   `yaml:"name"`
	TimerSelectors   []string `yaml:"timer_selectors"`
	AnswerSelectors  []string `yaml:"answer_selectors"`
	MaxProblemLength int      `yaml:"max_problem_length"`
	MaxTimeRemaining int      `yaml:"max_time_remaining"`
}

// DefaultProfile returns the profile for the arithmetic game layout.
func DefaultProfile() Profile {
	return Profile{
		Name: "arithmetic",
		TimerSelectors: []string{
			"span.left",
			"#game .left",
			".timer",
			"#timer",
			"[data-testid=timer]",
		},
		AnswerSelectors: []string{
			`input[type="text"], input:not([type])`,
			`input[type="number"]`,
			`input:not([type="hidden"])`,
			"#answer, .answer",
		},
		MaxProblemLength: 32,
		MaxTimeRemaining: 300,
	}
}

// LoadProfile reads a YAML profile from path.
// If the file does not exist, LoadProfile returns DefaultProfile (not an error).
// Fields missing from the file keep their default values.
func LoadProfile(path string) (Profile, error) {
	def := DefaultProfile()
	if path == "" {
		return def, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- profile path comes from local settings
	if err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		return Profile{}, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}

	if p.Name == "" {
		p.Name = def.Name
	}
	if len(p.TimerSelectors) == 0 {
		p.TimerSelectors = def.TimerSelectors
	}
	if len(p.AnswerSelectors) == 0 {
		p.AnswerSelectors = def.AnswerSelectors
	}
	if p.MaxProblemLength <= 0 {
		p.MaxProblemLength = def.MaxProblemLength
	}
	if p.MaxTimeRemaining <= 0 {
		p.MaxTimeRemaining = def.MaxTimeRemaining
	}
	return p, nil
}
