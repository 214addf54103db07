package example

type EventRole string

const (
	RoleScammer EventRole = "scammer"
	RoleBaiter  EventRole = "baiter"
)

type State string

const (
	StateWaiting State = "WAITING"
)

// Label has no constants, so it is free text.
type Label string

type Event struct {
	Role  EventRole
	Label Label
	Text  string
}

type Pending struct {
	State State
}

func bad() {
	e := &Event{}
	e.Role = "scammer" // want "enum field Role assigned string literal"

	p := &Pending{}
	p.State = ("SENT") // want "enum field State assigned string literal"

	_ = Event{Role: "baiter"} // want "enum field Role assigned string literal"
}

func good() {
	e := &Event{}
	e.Role = RoleScammer
	e.Label = "greeting"
	e.Text = "hello"

	p := &Pending{State: StateWaiting}
	_ = p
}

func alsoGood() {
	role := RoleBaiter
	e := &Event{Role: role}
	_ = e
}
