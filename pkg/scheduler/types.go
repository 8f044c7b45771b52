package scheduler

import (
	"time"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

// MaxModels reports the configured per-type residency quotas, surfaced
// verbatim on GET /health.
type MaxModels struct {
	LLM       int `json:"llm"`
	Embedding int `json:"embedding"`
	Reranking int `json:"reranking"`
}

// LoadedSummary is the snapshot shape returned by Scheduler.ListLoaded, used
// by /health and the Ollama /api/ps translation.
type LoadedSummary struct {
	Name          string             `json:"name"`
	Type          catalog.ModelType  `json:"type"`
	Device        string             `json:"device"`
	Checkpoint    string             `json:"checkpoint"`
	LastUse       time.Time          `json:"last_use"`
	RecipeOptions recipeopts.Options `json:"recipe_options"`
	Pending       bool               `json:"pending"`
}

// SpawnFunc constructs the wrapped server for a descriptor without starting
// it; the scheduler then starts it with wrapped.Server.Spawn and waits for
// readiness via wrapped.Server.WaitReady.
// Implementations live in cmd/lemonade-server's wiring, since pkg/scheduler
// itself has no business importing every pkg/wrapped/* engine adapter.
type SpawnFunc func(descriptor catalog.Descriptor, opts recipeopts.Options, port int) (wrapped.Server, error)

// entry is one resident (or pending) model slot. An entry is pending while
// its ready channel is non-nil, so the zero value is not pending.
type entry struct {
	name          string
	modelType     catalog.ModelType
	device        string
	checkpoint    string
	recipeOptions recipeopts.Options
	server        wrapped.Server

	refs    int
	lastUse time.Time

	// ready is closed once the spawn backing this entry completes (success
	// or failure); non-nil only while the entry is Pending. Concurrent
	// acquire(same name) calls before Ready wait on this channel instead of
	// spawning a second subprocess.
	ready    chan struct{}
	spawnErr error
}

func (e *entry) pending() bool {
	return e.ready != nil
}
