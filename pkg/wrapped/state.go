// Package wrapped implements the capability-variant wrapped-server contract:
// one concrete adapter per inference engine family (llama.cpp, FLM, Whisper,
// Stable Diffusion, Kokoro, Ryzen-AI), all driven through the same state
// machine and reverse-proxy plumbing.
package wrapped

import "fmt"

// State is a wrapped server's position in its lifecycle.
type State int

const (
	// StateNew is the zero value: constructed but not yet asked to download.
	StateNew State = iota
	StateDownloading
	StateStarting
	StateReady
	StateStopping
	StateStopped
	// StateFailed is terminal; reachable from Starting or Ready.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDownloading:
		return "downloading"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// validTransitions enumerates the edges of the lifecycle graph described in
// the component design: linear progress forward, plus Failed reachable from
// Starting and Ready.
var validTransitions = map[State]map[State]bool{
	StateNew:         {StateDownloading: true},
	StateDownloading: {StateStarting: true, StateFailed: true},
	StateStarting:    {StateReady: true, StateFailed: true, StateStopping: true},
	StateReady:       {StateStopping: true, StateFailed: true},
	StateStopping:    {StateStopped: true},
	StateStopped:     {},
	StateFailed:      {},
}

func (s State) canTransitionTo(next State) bool {
	return validTransitions[s][next]
}
