package netevent

// Recorder observes the event lifecycle of a connection. It is called with
// the connection's lock held and must not block.
type Recorder interface {
	Posted(g Guarantee)
	Sent(g Guarantee, retransmit bool)
	Acked(g Guarantee)
	Lost(g Guarantee)
	Dispatched(g Guarantee)
	Violation()
}

type nopRecorder struct{}

func (nopRecorder) Posted(Guarantee)     {}
func (nopRecorder) Sent(Guarantee, bool) {}
func (nopRecorder) Acked(Guarantee)      {}
func (nopRecorder) Lost(Guarantee)       {}
func (nopRecorder) Dispatched(Guarantee) {}
func (nopRecorder) Violation()           {}

// Stats is a snapshot of a connection's counters.
type Stats struct {
	Posted        uint64 `json:"posted" cbor:"1,keyasint"`
	Sent          uint64 `json:"sent" cbor:"2,keyasint"`
	Retransmitted uint64 `json:"retransmitted" cbor:"3,keyasint"`
	Acked         uint64 `json:"acked" cbor:"4,keyasint"`
	Lost          uint64 `json:"lost" cbor:"5,keyasint"`
	Dispatched    uint64 `json:"dispatched" cbor:"6,keyasint"`
	Duplicates    uint64 `json:"duplicates" cbor:"7,keyasint"`
	Pending       int    `json:"pending" cbor:"8,keyasint"`
	Held          int    `json:"held" cbor:"9,keyasint"`
}
