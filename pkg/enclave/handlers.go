package enclave

import (
	"fmt"

	"github.com/go-delve/sgxdbg/pkg/enclave/layout"
	"github.com/go-delve/sgxdbg/pkg/enclave/registry"
	"github.com/go-delve/sgxdbg/pkg/enclave/symbols"
)

func (s *Session) failed(status []string, format string, args ...interface{}) Result {
	err := fmt.Errorf(format, args...)
	s.printf(&status, "%v", err)
	return Result{Outcome: Failed, Status: joinStatus(status), Err: err}
}

func (s *Session) load(info uint64) Result {
	rd, err := s.reader()
	if err != nil {
		return s.failed(nil, "Failed to load enclave: %w", err)
	}
	e, err := rd.Discover(info)
	if err != nil {
		return s.failed(nil, "Failed to read enclave info at %#x: %w", info, err)
	}
	return s.instrument(e)
}

// instrument enables debugging of every thread of e and registers its
// symbols with the host.
func (s *Session) instrument(e *registry.Enclave) Result {
	var status []string
	if !e.Debuggable() {
		s.printf(&status, "Warning: %s is a product hardware enclave. It cannot be debugged and sgx_emmt doesn't work", e.Path)
		return Result{Outcome: Skipped, Status: joinStatus(status), Err: ErrProductEnclave}
	}
	if old, ok := s.reg.Find(e.BaseAddr); ok {
		for _, th := range old.Threads {
			s.reg.AppendThreadIfAbsent(e, th.TCS)
		}
	}

	for _, th := range e.Threads {
		if err := s.setDebug(th.TCS, true); err != nil {
			return s.failed(status, "Failed to enable debugging of TCS %#x: %w", th.TCS, err)
		}
	}
	// From here on the enclave stays registered even if its symbols
	// can not be loaded: its threads are debuggable and Unload must find
	// them.
	s.reg.Insert(e)
	s.repairFrames(e)

	if text, ok := s.registrations[e.BaseAddr]; ok {
		s.log.Debugf("symbols of %s already registered at %#x", e.Path, text)
		e.SymbolHandle = text
		return Result{Outcome: Handled, Status: joinStatus(status)}
	}
	cmd, err := s.resolver.Load(symbols.HostPath(e.Path, s.solibSearchPath), e.BaseAddr)
	if err != nil {
		return s.failed(status, "Failed to load symbols of %s: %w", e.Path, err)
	}
	s.printf(&status, "%s", cmd)
	if _, err := s.host.Execute(cmd.String()); err != nil {
		return s.failed(status, "%s: %w", cmd, err)
	}
	s.registrations[e.BaseAddr] = cmd.TextAddr
	e.SymbolHandle = cmd.TextAddr
	return Result{Outcome: Handled, Status: joinStatus(status)}
}

func (s *Session) unload(info uint64) Result {
	rd, err := s.reader()
	if err != nil {
		return s.failed(nil, "Failed to unload enclave: %w", err)
	}
	e, err := rd.Discover(info)
	if err != nil {
		return s.failed(nil, "Failed to read enclave info at %#x: %w", info, err)
	}
	return s.uninstrument(e)
}

// uninstrument reports the usage of e, disables debugging of its threads
// and drops its symbols.
func (s *Session) uninstrument(e *registry.Enclave) Result {
	if !e.Debuggable() {
		return Result{Outcome: Skipped, Err: ErrProductEnclave}
	}
	if old, ok := s.reg.Find(e.BaseAddr); ok {
		for _, th := range old.Threads {
			s.reg.AppendThreadIfAbsent(e, th.TCS)
		}
	}

	var status []string
	if s.usage {
		rep, err := s.Usage(e)
		if err == nil {
			for _, line := range rep.Lines() {
				s.printf(&status, "%s", line)
			}
		}
	}

	for _, th := range e.Threads {
		if err := s.setDebug(th.TCS, false); err != nil {
			s.log.Warnf("could not disable debugging of TCS %#x: %v", th.TCS, err)
		}
	}
	s.reg.Remove(e.BaseAddr)
	e.SymbolHandle = 0

	text, ok := s.registrations[e.BaseAddr]
	if !ok {
		s.log.Debugf("no symbols registered for %#x", e.BaseAddr)
		return Result{Outcome: Handled, Status: joinStatus(status)}
	}
	delete(s.registrations, e.BaseAddr)
	cmd := symbols.UnloadCommand(text)
	s.printf(&status, "%s", cmd)
	if _, err := s.host.Execute(cmd.String()); err != nil {
		return s.failed(status, "Failed to remove symbols of %s: %w", e.Path, err)
	}
	return Result{Outcome: Handled, Status: joinStatus(status)}
}

func (s *Session) threadCreated(tcs uint64) Result {
	rd, err := s.reader()
	if err != nil {
		return s.failed(nil, "Failed to add TCS %#x: %w", tcs, err)
	}
	e, err := s.owner(rd, tcs)
	if err != nil {
		return s.failed(nil, "Failed to add TCS %#x: %w", tcs, err)
	}
	if e == nil {
		return Result{Outcome: Skipped}
	}
	if !e.Debuggable() {
		return Result{Outcome: Skipped, Err: ErrProductEnclave}
	}
	// Threads are only recorded on enclaves that are loaded. Otherwise the
	// Load notification of the enclave discovers them.
	if reg, ok := s.reg.Find(e.BaseAddr); ok {
		if th, added := s.reg.AppendThreadIfAbsent(reg, tcs); added {
			if cur, err := rd.ThreadData(reg.BaseAddr, tcs); err == nil {
				cur.LastOcallFrame = th.LastOcallFrame
				*th = *cur
			} else {
				s.log.Debugf("thread data of TCS %#x not readable yet: %v", tcs, err)
			}
		}
	} else {
		s.log.Debugf("TCS %#x belongs to %#x, which is not loaded yet", tcs, e.BaseAddr)
	}
	if err := s.setDebug(tcs, true); err != nil {
		return s.failed(nil, "Failed to enable debugging of TCS %#x: %w", tcs, err)
	}
	return Result{Outcome: Handled}
}

// owner returns the enclave of the runtime's list whose thread list
// contains tcs or, if no enclave lists it yet, the head of the list.
// It returns nil if the list is empty.
func (s *Session) owner(rd *registry.Reader, tcs uint64) (*registry.Enclave, error) {
	head, err := s.listHead()
	if err != nil {
		return nil, err
	}
	es, werr := rd.Walk(head)
	for _, e := range es {
		if e.Thread(tcs) != nil {
			return e, nil
		}
	}
	if len(es) > 0 {
		return es[0], nil
	}
	return nil, werr
}

func (s *Session) ocallFrameUpdate(base, tcs, frame uint64) Result {
	lay, err := s.Layout()
	if err != nil {
		return s.failed(nil, "Failed to update ocall frame: %w", err)
	}
	rd, err := s.reader()
	if err != nil {
		return s.failed(nil, "Failed to update ocall frame: %w", err)
	}
	th, err := rd.ThreadData(base, tcs)
	if err != nil {
		return s.failed(nil, "Failed to update ocall frame %#x: %w", frame, err)
	}
	buf, err := s.acc.Read(frame, lay.OcallFrameSize)
	if err != nil {
		return s.failed(nil, "Failed to update ocall frame %#x: %w", frame, err)
	}
	f, err := lay.DecodeOcallFrame(buf)
	if err != nil {
		return s.failed(nil, "Failed to update ocall frame %#x: %w", frame, err)
	}
	ctx, ok, err := s.findContext(lay, th, f.Identity)
	if err != nil {
		return s.failed(nil, "Failed to update ocall frame %#x: %w", frame, err)
	}
	if !ok {
		s.log.Debugf("no ocall context for frame %#x (identity %#x)", frame, f.Identity)
		return Result{Outcome: Skipped}
	}
	if err := s.repairFrame(lay, frame, ctx.XBP()); err != nil {
		return s.failed(nil, "Failed to update ocall frame %#x: %w", frame, err)
	}
	return Result{Outcome: Handled}
}

func (s *Session) processExit() Result {
	for _, base := range s.Registrations() {
		cmd := symbols.UnloadCommand(s.registrations[base])
		if _, err := s.host.Execute(cmd.String()); err != nil {
			s.log.Debugf("%s: %v", cmd, err)
		}
	}
	s.registrations = make(map[uint64]uint64)
	s.reg.Clear()
	return Result{Outcome: Handled}
}

// setDebug sets or clears the debug bit in the flags of the TCS at tcs.
func (s *Session) setDebug(tcs uint64, on bool) error {
	lay, err := s.Layout()
	if err != nil {
		return err
	}
	addr := tcs + lay.TCSFlagsOffset()
	flags, err := s.acc.ReadUint(addr, 4)
	if err != nil {
		return err
	}
	if on {
		flags |= layout.TCSFlagDebug
	} else {
		flags &^= layout.TCSFlagDebug
	}
	return s.acc.WriteUint(addr, 4, flags)
}
