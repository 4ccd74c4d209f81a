package core

import (
	"strings"
	"time"
)

// Profile is a named, reusable set of prompts scored together.
type Profile struct {
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Prompts       []string `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	ImagePrompts  []string `json:"image_prompts,omitempty" yaml:"image_prompts,omitempty"`
	LocationAware bool     `json:"location_aware,omitempty" yaml:"location_aware,omitempty"`
}

// ProfileRecord wraps a profile with persistence metadata.
type ProfileRecord struct {
	Profile   Profile   `json:"profile"`
	IsBuiltin bool      `json:"is_builtin"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BuiltInProfiles provides default prompt sets.
var BuiltInProfiles = []Profile{
	{
		Name:        "landscape",
		Description: "Scenic landscape steering away from artifacts",
		Prompts: []string{
			"a wide mountain landscape at golden hour:1",
			"blurry, jpeg artifacts:-0.5:-0.1",
			"a river in the foreground:0.5_d_0.6",
		},
	},
	{
		Name:        "portrait",
		Description: "Centered portrait with a soft background",
		Prompts: []string{
			"a detailed portrait photograph:1",
			"soft bokeh background:0.4",
			"text, watermark:-0.8",
		},
	},
	{
		Name:        "minimal",
		Description: "Single prompt with no stop floor",
		Prompts:     []string{"a simple illustration"},
	},
}

// FindBuiltInProfile looks up a built-in profile by name.
func FindBuiltInProfile(name string) (*Profile, bool) {
	needle := strings.TrimSpace(strings.ToLower(name))
	if needle == "" {
		return nil, false
	}

	for _, profile := range BuiltInProfiles {
		if strings.EqualFold(profile.Name, needle) {
			copied := profile
			copied.Prompts = append([]string(nil), profile.Prompts...)
			copied.ImagePrompts = append([]string(nil), profile.ImagePrompts...)
			return &copied, true
		}
	}

	return nil, false
}
