// Package worker implements the offline cache policy that sits in front of a
// site: a Controller decides how each lifecycle event and intercepted GET is
// handled, and a Host drives the controller through its lifecycle
// (parsed, installing, installed, activating, activated) the way a browser
// drives a service worker.
//
// The controller never talks to HTTP directly. Network access goes through
// the Network interface and persistence through cache.Store, so the policy
// can be exercised with in-memory fakes.
package worker
