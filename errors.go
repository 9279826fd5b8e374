package loom

import "fmt"

// ErrConfig reports an invalid agent or memory configuration detected at
// construction time.
type ErrConfig struct {
	Reason string
}

func (e *ErrConfig) Error() string {
	return "invalid config: " + e.Reason
}

// ErrModel wraps a failure returned by a model provider.
type ErrModel struct {
	Model string
	Err   error
}

func (e *ErrModel) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("model: %v", e.Err)
	}
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *ErrModel) Unwrap() error { return e.Err }

// ErrTool reports a failed tool invocation. The message is what gets
// surfaced to the model as the tool result, so keep it descriptive.
type ErrTool struct {
	Name    string
	Message string
}

func (e *ErrTool) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Name, e.Message)
}

// ErrMemory wraps a failure in a memory operation such as compression
// or offload reload.
type ErrMemory struct {
	Op  string
	Err error
}

func (e *ErrMemory) Error() string {
	return fmt.Sprintf("memory %s: %v", e.Op, e.Err)
}

func (e *ErrMemory) Unwrap() error { return e.Err }

// ErrOffload reports a reload request for an offload handle that does
// not exist in the offload table.
type ErrOffload struct {
	Handle string
}

func (e *ErrOffload) Error() string {
	return "no offloaded messages under handle " + e.Handle
}

// ErrProtocol reports malformed wire input on the protocol surface.
type ErrProtocol struct {
	Reason string
}

func (e *ErrProtocol) Error() string {
	return "protocol: " + e.Reason
}

// ErrCancelled reports a run that stopped because its context was
// cancelled before the loop finished.
type ErrCancelled struct {
	Err error
}

func (e *ErrCancelled) Error() string {
	return fmt.Sprintf("run cancelled: %v", e.Err)
}

func (e *ErrCancelled) Unwrap() error { return e.Err }

// ErrTimeout reports a run that exceeded its configured wall-clock
// deadline.
type ErrTimeout struct {
	After string
}

func (e *ErrTimeout) Error() string {
	return "run timed out after " + e.After
}

// ErrIndexOutOfRange reports an out-of-bounds index passed to a message
// log operation.
type ErrIndexOutOfRange struct {
	Index  int
	Length int
}

func (e *ErrIndexOutOfRange) Error() string {
	return fmt.Sprintf("index %d out of range for log of %d messages", e.Index, e.Length)
}

// ErrMaxIters reports a run that was truncated because it reached the
// iteration ceiling before the model produced a final answer.
type ErrMaxIters struct {
	Iters int
}

func (e *ErrMaxIters) Error() string {
	return fmt.Sprintf("run truncated after %d iterations", e.Iters)
}

// ErrNoSession reports a session load for an id the store has never
// seen.
type ErrNoSession struct {
	ID string
}

func (e *ErrNoSession) Error() string {
	return "no session with id " + e.ID
}
