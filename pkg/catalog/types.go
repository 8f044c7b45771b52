// Package catalog merges the bundled, read-only model descriptor map with
// user-registered models, and applies platform-availability filtering once
// hardware has been probed.
package catalog

import "strings"

// ModelType classifies what a descriptor is used for, which in turn
// determines which scheduler quota it consumes.
type ModelType string

const (
	TypeLLM        ModelType = "llm"
	TypeEmbedding  ModelType = "embedding"
	TypeReranking  ModelType = "reranking"
	TypeAudio      ModelType = "audio"
	TypeImage      ModelType = "image"
)

// Source records whether a descriptor came from the bundled catalog or was
// registered by a user at runtime.
type Source string

const (
	SourceCatalog     Source = "catalog"
	SourceLocalUpload Source = "local_upload"
)

// UserNamePrefix is prepended to every user-registered model name.
const UserNamePrefix = "user."

// Descriptor is the catalog entry for a model name: everything needed to
// resolve it to a checkpoint on disk and spawn the right wrapped server.
type Descriptor struct {
	Name       string    `json:"name" yaml:"name"`
	Checkpoint string    `json:"checkpoint" yaml:"checkpoint"`
	Recipe     string    `json:"recipe" yaml:"recipe"`
	ModelType  ModelType `json:"model_type" yaml:"model_type"`
	Labels     []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	MMProj     string    `json:"mmproj,omitempty" yaml:"mmproj,omitempty"`
	Source     Source    `json:"source" yaml:"-"`
}

// IsUser reports whether name follows the user.<x> namespace convention.
func IsUser(name string) bool {
	return strings.HasPrefix(name, UserNamePrefix)
}

// HasLabel reports whether d carries the given label (e.g. "reasoning",
// "vision", "custom").
func (d Descriptor) HasLabel(label string) bool {
	for _, l := range d.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsRyzenAI reports whether the descriptor's recipe is one of the
// ryzenai-* family, which is hidden unless the RyzenAI runtime is detected.
func (d Descriptor) IsRyzenAI() bool {
	return strings.HasPrefix(d.Recipe, "ryzenai-")
}

// IsFLM reports whether the descriptor targets the FastFlowLM engine, which
// is hidden unless a supported Ryzen-AI NPU processor is present.
func (d Descriptor) IsFLM() bool {
	return d.Recipe == "flm"
}

// Diff compares the fields used for ConflictingRegistration detection
// (checkpoint, recipe, labels, mmproj) and returns the name of the first
// differing field, or "" if the descriptors agree on all of them.
func (d Descriptor) Diff(other Descriptor) string {
	if d.Checkpoint != other.Checkpoint {
		return "checkpoint"
	}
	if d.Recipe != other.Recipe {
		return "recipe"
	}
	if d.MMProj != other.MMProj {
		return "mmproj"
	}
	if !sameLabelSet(d.Labels, other.Labels) {
		return "labels"
	}
	return ""
}

func sameLabelSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, l := range a {
		seen[l] = struct{}{}
	}
	for _, l := range b {
		if _, ok := seen[l]; !ok {
			return false
		}
	}
	return true
}
