package enclave

import (
	"fmt"
)

// Kind is the kind of a notification.
type Kind uint8

const (
	// Load is raised when the runtime adds an enclave to its list.
	// Argument: address of the enclave info record.
	Load Kind = iota
	// Unload is raised when the runtime removes an enclave from its
	// list. Argument: address of the enclave info record.
	Unload
	// ThreadCreated is raised when the runtime registers a new TCS.
	// Argument: address of the TCS.
	ThreadCreated
	// OcallFrameUpdate is raised when a thread leaves the enclave
	// through an ocall. Arguments: enclave base, TCS address and
	// address of the untrusted ocall frame.
	OcallFrameUpdate
	// ProcessExit is raised when the debuggee exits.
	ProcessExit
)

var kindNames = [...]string{
	Load:             "load",
	Unload:           "unload",
	ThreadCreated:    "thread-created",
	OcallFrameUpdate: "ocall-frame-update",
	ProcessExit:      "process-exit",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind returns the kind named name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown notification %q", name)
}

// nargs returns the number of arguments of notifications of kind k.
func (k Kind) nargs() int {
	switch k {
	case Load, Unload, ThreadCreated:
		return 1
	case OcallFrameUpdate:
		return 3
	}
	return 0
}

// Notification is an event raised by the debuggee.
type Notification struct {
	Kind Kind
	// Args are the arguments of the notification. When nil they are
	// read from the argument registers of the debuggee.
	Args []uint64
}

// Outcome is the result of handling a notification.
type Outcome uint8

const (
	// Handled means every step of the handler was carried out.
	Handled Outcome = iota
	// Ignored means the notification did not come from the runtime.
	Ignored
	// Skipped means there was nothing to do, for example because the
	// enclave is a product enclave.
	Skipped
	// Failed means the handler was abandoned, possibly half way.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case Ignored:
		return "ignored"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", o)
}

// Result describes how a notification was handled.
type Result struct {
	Outcome Outcome
	// Status contains the lines printed while handling the
	// notification.
	Status string
	Err    error
}

// Notify handles a notification. Errors are reported in the result and
// printed, they never interrupt the host debugger.
func (s *Session) Notify(n Notification) Result {
	log := s.log.WithField("kind", n.Kind.String())
	if n.Kind != ProcessExit && !inTrustedLibrary(s.host, s.trusted) {
		log.Debug("notification from untrusted code ignored")
		return Result{Outcome: Ignored}
	}

	var res Result
	switch n.Kind {
	case ProcessExit:
		res = s.processExit()
	case Load, Unload, ThreadCreated, OcallFrameUpdate:
		args, err := s.args(n)
		if err != nil {
			res = Result{Outcome: Failed, Err: err}
			break
		}
		switch n.Kind {
		case Load:
			res = s.load(args[0])
		case Unload:
			res = s.unload(args[0])
		case ThreadCreated:
			res = s.threadCreated(args[0])
		case OcallFrameUpdate:
			res = s.ocallFrameUpdate(args[0], args[1], args[2])
		}
	default:
		res = Result{Outcome: Failed, Err: fmt.Errorf("unknown notification %v", n.Kind)}
	}

	if res.Err != nil {
		log.WithError(res.Err).Debugf("outcome %v", res.Outcome)
	} else {
		log.Debugf("outcome %v", res.Outcome)
	}
	return res
}

func (s *Session) args(n Notification) ([]uint64, error) {
	want := n.Kind.nargs()
	if n.Args != nil {
		if len(n.Args) != want {
			return nil, fmt.Errorf("%v: wrong number of arguments %d, expected %d", n.Kind, len(n.Args), want)
		}
		return n.Args, nil
	}
	lay, err := s.Layout()
	if err != nil {
		return nil, err
	}
	return args(s.host, lay.WordSize, want)
}
