// Package nav names the routes the auth flow moves between and the
// Navigator the UI layer implements.
package nav

import (
	"net/url"
	"strings"
	"sync"
)

// Route is a navigation target path
type Route string

const (
	RouteOTP       Route = "/otp"
	RouteProtected Route = "/(protected)"
	RouteSignIn    Route = "/signin"
	RouteSignUp    Route = "/signup"
)

// Parameters of RouteOTP
const (
	ParamPhoneNumber = "phoneNumber"
	ParamAuthType    = "auth_type"
)

// IsProtected reports whether a route requires a logged-in session
func IsProtected(r Route) bool {
	return r == RouteProtected || strings.HasPrefix(string(r), string(RouteProtected)+"/")
}

// Destination is a route plus its parameters
type Destination struct {
	Route  Route
	Params map[string]string
}

// To builds a destination from alternating key, value parameters
func To(route Route, kv ...string) Destination {
	d := Destination{Route: route}
	if len(kv) > 0 {
		d.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			d.Params[kv[i]] = kv[i+1]
		}
	}
	return d
}

// Param returns a parameter value, empty when missing
func (d Destination) Param(key string) string {
	return d.Params[key]
}

func (d Destination) String() string {
	if len(d.Params) == 0 {
		return string(d.Route)
	}
	q := url.Values{}
	for k, v := range d.Params {
		q.Set(k, v)
	}
	return string(d.Route) + "?" + q.Encode()
}

// Navigator moves the UI between screens. Push keeps history, Replace
// resets the stack so back navigation cannot return to the previous screen.
type Navigator interface {
	Push(Destination)
	Replace(Destination)
}

// Action is the kind of navigation performed
type Action string

const (
	ActionPush    Action = "push"
	ActionReplace Action = "replace"
)

// Event is one recorded navigation
type Event struct {
	Action      Action
	Destination Destination
}

// Recorder is a Navigator that remembers every call. The terminal driver
// reads the current screen from it and tests assert on its history.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Push(d Destination)    { r.record(ActionPush, d) }
func (r *Recorder) Replace(d Destination) { r.record(ActionReplace, d) }

func (r *Recorder) record(a Action, d Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Action: a, Destination: d})
}

// Events returns a copy of the history
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent navigation
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}
