/*package comm implements the message-passing layer that connects the ranks
of a decomposed simulation. Every rank owns a Comm handle onto a shared
Network. Sends and receives are posted without blocking and completed by a
wait, in matched pairs: the protocol layers above pair every send with a
receive on the remote side, so a wait that does not complete within the
network timeout is a fatal synchronization error, not a transient fault.

Messages between a fixed (sender, receiver) pair are delivered in the order
they were posted. Tags disambiguate the messages of interleaved exchanges;
at most one message per (sender, receiver, tag) may be in flight at a time.*/
package comm

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DefaultTimeout is the wait timeout applied to new Networks.
const DefaultTimeout = 10 * time.Second

// linkCap bounds the number of undelivered messages per rank pair. The
// protocols above keep at most a handful in flight.
const linkCap = 64

// tagAllSum is reserved for AllSum's ring traffic.
const tagAllSum = 1 << 30

type message struct {
	tag  int
	data []byte
}

// Network is the set of links connecting size ranks. It is created once and
// handed one Comm per rank.
type Network struct {
	size    int
	timeout time.Duration
	links   [][]chan message // links[from][to]
}

// NewNetwork creates a Network connecting size ranks.
func NewNetwork(size int) *Network {
	n := &Network{size: size, timeout: DefaultTimeout}
	n.links = make([][]chan message, size)
	for from := 0; from < size; from++ {
		n.links[from] = make([]chan message, size)
		for to := 0; to < size; to++ {
			n.links[from][to] = make(chan message, linkCap)
		}
	}
	return n
}

// SetTimeout changes the wait timeout for all ranks. Call it before handing
// out Comms.
func (n *Network) SetTimeout(d time.Duration) { n.timeout = d }

// Comm returns the communication handle for the given rank. Each handle must
// be used by a single goroutine.
func (n *Network) Comm(rank int) *Comm {
	return &Comm{net: n, rank: rank, pending: make([][]message, n.size)}
}

// Comm is one rank's handle onto the Network.
type Comm struct {
	net  *Network
	rank int
	// pending[from] holds messages received while waiting for a different
	// tag. Only the owning goroutine touches it.
	pending [][]message
}

// Rank returns the rank this handle belongs to.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the network.
func (c *Comm) Size() int { return c.net.size }

// Request is an in-flight send or receive. Wait completes it; calling Wait
// more than once returns the same result.
type Request struct {
	c     *Comm
	peer  int
	tag   int
	send  bool
	data  []byte
	done  bool
	err   error
}

// Isend posts a send of data to the given rank without blocking. The data is
// copied, so the caller may reuse its buffer immediately.
func (c *Comm) Isend(to, tag int, data []byte) *Request {
	buf := make([]byte, len(data))
	copy(buf, data)

	r := &Request{c: c, peer: to, tag: tag, send: true, data: buf}

	select {
	case c.net.links[c.rank][to] <- message{tag, buf}:
		r.done = true
	default:
		// Link is full. Completion is deferred to Wait.
	}
	return r
}

// Irecv posts a receive of the next message with the given tag from the
// given rank. The message data is returned by Wait.
func (c *Comm) Irecv(from, tag int) *Request {
	return &Request{c: c, peer: from, tag: tag}
}

// Wait blocks until the request completes and returns the received data for
// receives (nil for sends). A request that cannot complete within the
// network timeout fails: the ranks have desynchronized.
func (r *Request) Wait() ([]byte, error) {
	if r.done {
		if r.send {
			return nil, r.err
		}
		return r.data, r.err
	}
	r.done = true

	if r.send {
		select {
		case r.c.net.links[r.c.rank][r.peer] <- message{r.tag, r.data}:
		case <-time.After(r.c.net.timeout):
			r.err = fmt.Errorf(
				"Synchronization failure: rank %d could not deliver tag %d "+
					"to rank %d within %v.",
				r.c.rank, r.tag, r.peer, r.c.net.timeout,
			)
		}
		return nil, r.err
	}

	// Drain anything already set aside for this peer.
	queue := r.c.pending[r.peer]
	for i, msg := range queue {
		if msg.tag == r.tag {
			r.c.pending[r.peer] = append(queue[:i], queue[i+1:]...)
			r.data = msg.data
			return r.data, nil
		}
	}

	for {
		select {
		case msg := <-r.c.net.links[r.peer][r.c.rank]:
			if msg.tag == r.tag {
				r.data = msg.data
				return r.data, nil
			}
			r.c.pending[r.peer] = append(r.c.pending[r.peer], msg)
		case <-time.After(r.c.net.timeout):
			r.err = fmt.Errorf(
				"Synchronization failure: rank %d received nothing with "+
					"tag %d from rank %d within %v.",
				r.c.rank, r.tag, r.peer, r.c.net.timeout,
			)
			return nil, r.err
		}
	}
}

// Data returns the received data of a completed receive request.
func (r *Request) Data() []byte { return r.data }

// WaitAll waits on every request and returns the first error encountered.
func WaitAll(reqs ...*Request) error {
	var firstErr error
	for _, r := range reqs {
		if _, err := r.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AllSum returns the sum of x over all ranks. Every rank must call it the
// same number of times. It runs a ring reduction: size - 1 hops, each rank
// passing the value it received on to its right neighbor.
func (c *Comm) AllSum(x int) (int, error) {
	size := c.net.size
	if size == 1 {
		return x, nil
	}

	right := (c.rank + 1) % size
	left := (c.rank - 1 + size) % size

	sum, val := x, x
	buf := make([]byte, 8)
	for hop := 0; hop < size-1; hop++ {
		binary.LittleEndian.PutUint64(buf, uint64(val))

		sreq := c.Isend(right, tagAllSum, buf)
		rreq := c.Irecv(left, tagAllSum)
		if err := WaitAll(sreq, rreq); err != nil {
			return 0, err
		}

		recv := rreq.Data()
		if len(recv) != 8 {
			return 0, fmt.Errorf(
				"Protocol violation: rank %d received a %d-byte ring "+
					"message from rank %d, expected 8 bytes.",
				c.rank, len(recv), left,
			)
		}
		val = int(int64(binary.LittleEndian.Uint64(recv)))
		sum += val
	}
	return sum, nil
}
