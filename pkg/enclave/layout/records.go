package layout

// EnclaveInfo is the runtime's descriptor of one loaded enclave. The
// runtime keeps them in a singly linked list.
type EnclaveInfo struct {
	Next            uint64
	StartAddr       uint64
	TCSList         uint64
	Type            uint32
	PathSize        uint32
	PathAddr        uint64
	HeapCounterAddr uint64
}

// DecodeEnclaveInfo decodes an EnclaveInfo record.
func (l *Layout) DecodeEnclaveInfo(buf []byte) (EnclaveInfo, error) {
	if err := need("enclave info", buf, l.EnclaveInfoSize); err != nil {
		return EnclaveInfo{}, err
	}
	w := l.WordSize
	return EnclaveInfo{
		Next:            l.word(buf, 0),
		StartAddr:       l.word(buf, w),
		TCSList:         l.word(buf, 2*w),
		Type:            l.Order.Uint32(buf[l.infoType:]),
		PathSize:        l.Order.Uint32(buf[l.infoPathSize:]),
		PathAddr:        l.word(buf, l.infoPathAddr),
		HeapCounterAddr: l.word(buf, l.infoHeap),
	}, nil
}

// EncodeEnclaveInfo is the inverse of DecodeEnclaveInfo.
func (l *Layout) EncodeEnclaveInfo(ei EnclaveInfo) []byte {
	buf := make([]byte, l.EnclaveInfoSize)
	w := l.WordSize
	l.putWord(buf, 0, ei.Next)
	l.putWord(buf, w, ei.StartAddr)
	l.putWord(buf, 2*w, ei.TCSList)
	l.Order.PutUint32(buf[l.infoType:], ei.Type)
	l.Order.PutUint32(buf[l.infoPathSize:], ei.PathSize)
	l.putWord(buf, l.infoPathAddr, ei.PathAddr)
	l.putWord(buf, l.infoHeap, ei.HeapCounterAddr)
	return buf
}

// TCSListNode links the thread control structures of an enclave.
type TCSListNode struct {
	Next           uint64
	TCS            uint64
	LastOcallFrame uint64
}

// DecodeTCSListNode decodes a TCSListNode record.
func (l *Layout) DecodeTCSListNode(buf []byte) (TCSListNode, error) {
	if err := need("tcs list node", buf, l.TCSListNodeSize); err != nil {
		return TCSListNode{}, err
	}
	var v [TCSListNodeWords]uint64
	l.words(buf, v[:])
	return TCSListNode{Next: v[0], TCS: v[1], LastOcallFrame: v[2]}, nil
}

// EncodeTCSListNode is the inverse of DecodeTCSListNode.
func (l *Layout) EncodeTCSListNode(n TCSListNode) []byte {
	buf := make([]byte, l.TCSListNodeSize)
	l.putWords(buf, []uint64{n.Next, n.TCS, n.LastOcallFrame})
	return buf
}

// TCS is the head of a thread control structure. Only OFSBase, the
// offset of the thread data from the enclave base, and the debug bit of
// Flags are used.
type TCS struct {
	State   uint64
	Flags   uint64
	OSSA    uint64
	NSSA    uint32
	CSSA    uint32
	OEntry  uint64
	AEP     uint64
	OFSBase uint64
}

// DecodeTCS decodes a TCS record.
func (l *Layout) DecodeTCS(buf []byte) (TCS, error) {
	if err := need("tcs", buf, l.TCSSize); err != nil {
		return TCS{}, err
	}
	o := l.Order
	return TCS{
		State:   o.Uint64(buf[tcsState:]),
		Flags:   o.Uint64(buf[tcsFlags:]),
		OSSA:    o.Uint64(buf[tcsOSSA:]),
		NSSA:    o.Uint32(buf[tcsNSSA:]),
		CSSA:    o.Uint32(buf[tcsCSSA:]),
		OEntry:  o.Uint64(buf[tcsOEntry:]),
		AEP:     o.Uint64(buf[tcsAEP:]),
		OFSBase: o.Uint64(buf[tcsOFSBase:]),
	}, nil
}

// EncodeTCS is the inverse of DecodeTCS.
func (l *Layout) EncodeTCS(t TCS) []byte {
	buf := make([]byte, l.TCSSize)
	o := l.Order
	o.PutUint64(buf[tcsState:], t.State)
	o.PutUint64(buf[tcsFlags:], t.Flags)
	o.PutUint64(buf[tcsOSSA:], t.OSSA)
	o.PutUint32(buf[tcsNSSA:], t.NSSA)
	o.PutUint32(buf[tcsCSSA:], t.CSSA)
	o.PutUint64(buf[tcsOEntry:], t.OEntry)
	o.PutUint64(buf[tcsAEP:], t.AEP)
	o.PutUint64(buf[tcsOFSBase:], t.OFSBase)
	return buf
}

// ThreadData is the per-thread data block of the trusted runtime.
type ThreadData [ThreadDataWords]uint64

func (td *ThreadData) LastSP() uint64      { return td[tdLastSP] }
func (td *ThreadData) StackBase() uint64   { return td[tdStackBase] }
func (td *ThreadData) StackLimit() uint64  { return td[tdStackLimit] }
func (td *ThreadData) StackCommit() uint64 { return td[tdStackCommit] }

// DecodeThreadData decodes a ThreadData record.
func (l *Layout) DecodeThreadData(buf []byte) (ThreadData, error) {
	var td ThreadData
	if err := need("thread data", buf, l.ThreadDataSize); err != nil {
		return td, err
	}
	l.words(buf, td[:])
	return td, nil
}

// EncodeThreadData is the inverse of DecodeThreadData.
func (l *Layout) EncodeThreadData(td ThreadData) []byte {
	buf := make([]byte, l.ThreadDataSize)
	l.putWords(buf, td[:])
	return buf
}

// OcallContext is the call frame record the trusted runtime pushes on
// the enclave stack when it leaves the enclave for an ocall.
type OcallContext [OcallContextWords]uint64

// PrevContext links to the ocall context of the previous ocall.
func (c *OcallContext) PrevContext() uint64 { return c[ctxPrev] }

// XBP is the frame pointer saved at the ocall.
func (c *OcallContext) XBP() uint64 { return c[ctxXBP] }

// OcallFrame is the untrusted frame this context belongs to.
func (c *OcallContext) OcallFrame() uint64 { return c[ctxOcallFrame] }

// DecodeOcallContext decodes an OcallContext record.
func (l *Layout) DecodeOcallContext(buf []byte) (OcallContext, error) {
	var c OcallContext
	if err := need("ocall context", buf, l.OcallContextSize); err != nil {
		return c, err
	}
	l.words(buf, c[:])
	return c, nil
}

// EncodeOcallContext is the inverse of DecodeOcallContext.
func (l *Layout) EncodeOcallContext(c OcallContext) []byte {
	buf := make([]byte, l.OcallContextSize)
	l.putWords(buf, c[:])
	return buf
}

// OcallFrame is the frame the untrusted runtime records for an ocall.
// The host debugger unwinds through it.
type OcallFrame struct {
	PrevFrame uint64
	Identity  uint64
	XBP       uint64
	Ret       uint64
}

// DecodeOcallFrame decodes an OcallFrame record.
func (l *Layout) DecodeOcallFrame(buf []byte) (OcallFrame, error) {
	if err := need("ocall frame", buf, l.OcallFrameSize); err != nil {
		return OcallFrame{}, err
	}
	var v [OcallFrameWords]uint64
	l.words(buf, v[:])
	return OcallFrame{PrevFrame: v[0], Identity: v[1], XBP: v[2], Ret: v[3]}, nil
}

// EncodeOcallFrame is the inverse of DecodeOcallFrame.
func (l *Layout) EncodeOcallFrame(f OcallFrame) []byte {
	buf := make([]byte, l.OcallFrameSize)
	l.putWords(buf, []uint64{f.PrevFrame, f.Identity, f.XBP, f.Ret})
	return buf
}
