// Package loader walks a remote master/apprentice chain through a sliding
// window of positions.
//
// A Loader owns the whole application state (window, position bindings,
// entity store, current location) inside a single goroutine started by Run.
// Scroll requests, fetch results, location updates and snapshot reads are all
// events on one channel and are applied strictly in arrival order.
//
// Each direction has a slot that is either idle or holds exactly one in-flight
// fetch:
//
//	up:     walks MasterID toward decreasing positions
//	down:   walks ApprenticeID toward increasing positions
//	anchor: the single startup fetch of position 0, never canceled
//
// A fetch result is applied only while its fetch is still the active one for
// its slot. Scrolling in one direction cancels the opposite direction's fetch
// once its target leaves the window; the late result of a canceled fetch is
// dropped without touching state.
package loader
