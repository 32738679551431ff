package singleinstance

import "sync"

// Callback handles one forwarded message. It runs on the dispatch goroutine,
// so it must not call Stop or Close on its Dispatcher, which wait for that
// goroutine. To end the loop from a callback, call Interrupt on the Instance.
type Callback func(Message)

// Dispatcher runs a blocking Check loop on its own goroutine and hands each
// message to a callback. While it runs, nothing else may call Check or Pop
// on its Instance.
type Dispatcher struct {
	inst     *Instance
	fn       Callback
	done     chan struct{}
	stopOnce sync.Once
}

// Dispatch starts calling fn for every message received by i.
func (i *Instance) Dispatch(fn Callback) *Dispatcher {
	d := &Dispatcher{
		inst: i,
		fn:   fn,
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// AcquireAuto is Acquire followed by Dispatch. It returns ErrAlreadyRunning
// after forwarding, like Acquire.
func AcquireAuto(appName string, args []string, fn Callback, opts ...Option) (*Dispatcher, error) {
	inst, err := Acquire(appName, args, opts...)
	if err != nil {
		return nil, err
	}
	return inst.Dispatch(fn), nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		msg, ok := d.inst.Check(true)
		if !ok {
			return
		}
		d.fn(msg)
		d.inst.Pop()
	}
}

func (d *Dispatcher) Instance() *Instance { return d.inst }

// Done is closed once the dispatch goroutine has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Stop interrupts the loop and waits for it to return. Messages already
// queued are dispatched first. The Instance stays usable afterwards.
// Stop must not be called from a Callback.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		select {
		case <-d.done:
		default:
			d.inst.Interrupt()
		}
		<-d.done
	})
}

// Close stops the dispatcher and closes its Instance.
func (d *Dispatcher) Close() error {
	d.Stop()
	return d.inst.Close()
}
