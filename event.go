package metalfsm

// NoEvent is returned by reactions that have no follow-up event.
const NoEvent EventID = ""

// Step is one committed transition reported by a Runner.
type Step struct {
	From     StateID
	To       StateID
	Event    EventID
	Terminal bool // To is a terminal state; the run is over
	Reacts   bool // a reaction is bound to (To, Event)
}
