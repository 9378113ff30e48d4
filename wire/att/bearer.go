package att

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultTransactionTimeout is the ATT transaction timeout.
const DefaultTransactionTimeout = 30 * time.Second

var (
	// ErrTransactionTimeout completes a transaction the server never answered.
	ErrTransactionTimeout = errors.New("att: transaction timeout")
	// ErrBusy is returned by Begin while another transaction is open.
	ErrBusy = errors.New("att: transaction already open")
	// ErrNoTransaction is returned when answering with nothing open.
	ErrNoTransaction = errors.New("att: no open transaction")
)

// Result completes a transaction. Err is an *Error for Error Responses.
type Result struct {
	Opcode uint8
	Value  []byte
	Err    error
}

// Transaction is one request awaiting its response.
type Transaction struct {
	Opcode  uint8
	Handle  uint16
	Started time.Time

	done  chan Result
	timer *time.Timer
}

// Done delivers the result exactly once.
func (t *Transaction) Done() <-chan Result { return t.done }

// Bearer models the request side of one ATT bearer: a client has at most one
// transaction open, and a transaction the server leaves unanswered fails
// after the timeout.
type Bearer struct {
	mu      sync.Mutex
	timeout time.Duration
	open    *Transaction
}

// NewBearer returns a bearer; a zero timeout means DefaultTransactionTimeout.
func NewBearer(timeout time.Duration) *Bearer {
	if timeout <= 0 {
		timeout = DefaultTransactionTimeout
	}
	return &Bearer{timeout: timeout}
}

// Begin opens a transaction for a request PDU.
func (b *Bearer) Begin(opcode uint8, handle uint16) (*Transaction, error) {
	if _, ok := ReplyOpcode(opcode); !ok {
		return nil, errors.Errorf("att: %s opens no transaction", OpcodeName(opcode))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open != nil {
		return nil, errors.Wrapf(ErrBusy, "%s on handle 0x%04X", OpcodeName(b.open.Opcode), b.open.Handle)
	}

	t := &Transaction{
		Opcode:  opcode,
		Handle:  handle,
		Started: time.Now(),
		done:    make(chan Result, 1),
	}
	t.timer = time.AfterFunc(b.timeout, func() {
		b.finish(t, Result{Err: errors.Wrapf(ErrTransactionTimeout, "%s on handle 0x%04X", OpcodeName(opcode), handle)})
	})
	b.open = t
	return t, nil
}

// finish completes t if it is still the open transaction.
func (b *Bearer) finish(t *Transaction, r Result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t == nil || b.open != t {
		return false
	}
	t.timer.Stop()
	b.open = nil
	t.done <- r
	return true
}

func (b *Bearer) current() *Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Respond completes the open transaction with its reply PDU.
func (b *Bearer) Respond(value []byte) error {
	t := b.current()
	if t == nil {
		return ErrNoTransaction
	}
	reply, _ := ReplyOpcode(t.Opcode)
	if !b.finish(t, Result{Opcode: reply, Value: append([]byte(nil), value...)}) {
		return ErrNoTransaction
	}
	return nil
}

// Fail completes the open transaction with an Error Response.
func (b *Bearer) Fail(code uint8) error {
	t := b.current()
	if t == nil {
		return ErrNoTransaction
	}
	if !b.finish(t, Result{Opcode: OpErrorResponse, Err: NewError(code, t.Opcode, t.Handle)}) {
		return ErrNoTransaction
	}
	return nil
}

// Abort completes the open transaction, if any, with reason.
func (b *Bearer) Abort(reason error) {
	b.finish(b.current(), Result{Err: reason})
}

// Outstanding returns the open transaction.
func (b *Bearer) Outstanding() (*Transaction, bool) {
	t := b.current()
	return t, t != nil
}
