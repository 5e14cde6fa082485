package enclave

import (
	"fmt"
)

// Attach instruments every enclave already loaded in the debuggee. It is
// meant to be called once the untrusted runtime is loaded.
func (s *Session) Attach() error {
	if _, err := s.host.Execute("set displaced-stepping off"); err != nil {
		s.log.Debugf("set displaced-stepping off: %v", err)
	}
	rd, err := s.reader()
	if err != nil {
		return err
	}
	head, err := s.listHead()
	if err != nil {
		return fmt.Errorf("could not read %s: %w", enclaveListSymbol, err)
	}
	es, werr := rd.Walk(head)
	var firstErr error
	for _, e := range es {
		res := s.instrument(e)
		if res.Outcome == Failed && firstErr == nil {
			firstErr = res.Err
		}
	}
	if werr != nil {
		return werr
	}
	return firstErr
}

// Detach disables debugging of every loaded enclave and drops their
// symbols, reporting their usage if enabled.
func (s *Session) Detach() error {
	es := s.reg.All()
	if rd, err := s.reader(); err == nil {
		if head, err := s.listHead(); err == nil {
			if walked, err := rd.Walk(head); err == nil {
				es = walked
			}
		}
	}
	var firstErr error
	for _, e := range es {
		res := s.uninstrument(e)
		if res.Outcome == Failed && firstErr == nil {
			firstErr = res.Err
		}
	}
	return firstErr
}
