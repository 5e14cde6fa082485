package enclave

import (
	"github.com/go-delve/sgxdbg/pkg/enclave/layout"
	"github.com/go-delve/sgxdbg/pkg/enclave/registry"
)

// maxOcallDepth bounds the walk of ocall chains, which live in memory
// the debuggee may have corrupted.
const maxOcallDepth = 1024

// findContext walks the trusted ocall contexts of th, newest first, and
// returns the one belonging to the untrusted frame with the given
// identity.
// The first match wins; identities are not checked for uniqueness.
func (s *Session) findContext(lay *layout.Layout, th *registry.Thread, identity uint64) (layout.OcallContext, bool, error) {
	cur := th.LastSP
	for i := 0; cur != 0 && cur != th.StackBase && i < maxOcallDepth; i++ {
		buf, err := s.acc.Read(cur, lay.OcallContextSize)
		if err != nil {
			return layout.OcallContext{}, false, err
		}
		ctx, err := lay.DecodeOcallContext(buf)
		if err != nil {
			return layout.OcallContext{}, false, err
		}
		if ctx.OcallFrame() == identity {
			return ctx, true, nil
		}
		cur = ctx.PrevContext()
	}
	return layout.OcallContext{}, false, nil
}

// repairFrame rewrites the untrusted ocall frame at frame so that the
// host unwinds from it into the enclave frame at xbp.
func (s *Session) repairFrame(lay *layout.Layout, frame, xbp uint64) error {
	w := lay.WordSize
	ret, err := s.acc.ReadUint(xbp+uint64(w), w)
	if err != nil {
		return err
	}
	if err := s.acc.WriteUint(frame+lay.OcallFramePrevOffset(), w, 0); err != nil {
		return err
	}
	if err := s.acc.WriteUint(frame+lay.OcallFrameXBPOffset(), w, xbp); err != nil {
		return err
	}
	return s.acc.WriteUint(frame+lay.OcallFrameRetOffset(), w, ret)
}

// repairFrames repairs the chain of untrusted ocall frames of every
// thread of e. Failures are logged and stop the repair of the thread.
func (s *Session) repairFrames(e *registry.Enclave) {
	lay, err := s.Layout()
	if err != nil {
		return
	}
	for _, th := range e.Threads {
		frame := th.LastOcallFrame
		for i := 0; frame != 0 && i < maxOcallDepth; i++ {
			buf, err := s.acc.Read(frame, lay.OcallFrameSize)
			if err != nil {
				s.log.Debugf("ocall frame %#x of TCS %#x: %v", frame, th.TCS, err)
				break
			}
			f, err := lay.DecodeOcallFrame(buf)
			if err != nil {
				s.log.Debugf("ocall frame %#x of TCS %#x: %v", frame, th.TCS, err)
				break
			}
			ctx, ok, err := s.findContext(lay, th, f.Identity)
			if err != nil {
				s.log.Debugf("ocall contexts of TCS %#x: %v", th.TCS, err)
				break
			}
			if ok {
				if err := s.repairFrame(lay, frame, ctx.XBP()); err != nil {
					s.log.Debugf("repairing ocall frame %#x: %v", frame, err)
					break
				}
			}
			frame = f.PrevFrame
		}
	}
}
