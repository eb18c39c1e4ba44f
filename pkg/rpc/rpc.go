// Package rpc declares remote calls that travel as netevent events.
package rpc

import (
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyevent/pkg/bitstream"
	"github.com/skycoin/skyevent/pkg/netevent"
)

var log = logging.MustGetLogger("rpc")

var (
	// ErrBadArgs occurs when call arguments do not match the declared parameters.
	ErrBadArgs = errors.New("arguments do not match call parameters")

	// ErrNoCapability occurs when the receiving handler does not implement a call.
	ErrNoCapability = errors.New("handler does not implement call")
)

// Poster accepts events for transmission.
type Poster interface {
	Post(ev netevent.Event) error
	CanPost() bool
}

// HandleFunc runs a call on the receiving side. It type-asserts c.Handler()
// against the interface the call needs and returns ErrNoCapability when the
// handler does not implement it.
type HandleFunc func(c *netevent.Conn, args []interface{}) error

// Method declares a remote call.
type Method struct {
	Name      string
	Params    []Param
	Guarantee netevent.Guarantee
	Direction netevent.Direction
	Handle    HandleFunc
}

// Class returns the registry entry of the call.
func (m *Method) Class() netevent.Class {
	return netevent.Class{
		Name: m.Name,
		New:  func() netevent.Event { return &Call{method: m} },
	}
}

// Classes returns the registry entries of methods, in order.
func Classes(methods ...*Method) []netevent.Class {
	out := make([]netevent.Class, len(methods))
	for i, m := range methods {
		out[i] = m.Class()
	}
	return out
}

// New builds a call event after checking args against the parameters.
func (m *Method) New(args ...interface{}) (*Call, error) {
	if len(args) != len(m.Params) {
		return nil, errors.Wrapf(ErrBadArgs, "%s takes %d arguments, got %d", m.Name, len(m.Params), len(args))
	}
	w := bitstream.NewWriter()
	for i, p := range m.Params {
		if err := p.Write(w, args[i]); err != nil {
			if errors.Cause(err) == ErrBadArgs {
				return nil, errors.Wrapf(err, "%s argument %d", m.Name, i)
			}
			return nil, errors.Wrapf(ErrBadArgs, "%s argument %d: %v", m.Name, i, err)
		}
	}
	return &Call{method: m, Args: args}, nil
}

// Call posts the call on p. Calling on a nil poster or one that cannot post
// is a no-op.
func (m *Method) Call(p Poster, args ...interface{}) error {
	if p == nil || !p.CanPost() {
		log.WithField("method", m.Name).Debug("Dropping call on connection that cannot post.")
		return nil
	}
	c, err := m.New(args...)
	if err != nil {
		return err
	}
	return p.Post(c)
}

// Call is one invocation of a Method, carried as an event.
type Call struct {
	method *Method
	Args   []interface{}
}

// Method returns the declaration the call belongs to.
func (c *Call) Method() *Method { return c.method }

// ClassName implements netevent.Event.
func (c *Call) ClassName() string { return c.method.Name }

// Guarantee implements netevent.Event.
func (c *Call) Guarantee() netevent.Guarantee { return c.method.Guarantee }

// Direction implements netevent.Event.
func (c *Call) Direction() netevent.Direction { return c.method.Direction }

// Pack implements netevent.Event.
func (c *Call) Pack(w *bitstream.Writer) error {
	for i, p := range c.method.Params {
		if err := p.Write(w, c.Args[i]); err != nil {
			return err
		}
	}
	return nil
}

// Unpack implements netevent.Event.
func (c *Call) Unpack(r *bitstream.Reader) error {
	c.Args = make([]interface{}, len(c.method.Params))
	for i, p := range c.method.Params {
		v, err := p.Read(r)
		if err != nil {
			return errors.Wrapf(err, "argument %d (%s)", i, p)
		}
		c.Args[i] = v
	}
	return nil
}

// Process implements netevent.Event.
func (c *Call) Process(conn *netevent.Conn) error {
	if c.method.Handle == nil {
		return errors.Wrap(ErrNoCapability, c.method.Name)
	}
	if err := c.method.Handle(conn, c.Args); err != nil {
		return errors.Wrap(err, c.method.Name)
	}
	return nil
}
