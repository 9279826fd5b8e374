package loom

// MessageLog is an ordered, append-oriented list of messages. It is not
// synchronized; AutoContextMemory serializes access to its logs.
type MessageLog struct {
	messages []Message
}

// NewMessageLog builds a log seeded with the given messages.
func NewMessageLog(messages ...Message) *MessageLog {
	log := &MessageLog{}
	log.messages = append(log.messages, messages...)
	return log
}

// Append adds messages to the end of the log.
func (l *MessageLog) Append(messages ...Message) {
	l.messages = append(l.messages, messages...)
}

// Get returns a snapshot copy of the log. Mutating the returned slice
// does not affect the log.
func (l *MessageLog) Get() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len reports the number of messages in the log.
func (l *MessageLog) Len() int {
	return len(l.messages)
}

// At returns the message at index i.
func (l *MessageLog) At(i int) (Message, error) {
	if i < 0 || i >= len(l.messages) {
		return Message{}, &ErrIndexOutOfRange{Index: i, Length: len(l.messages)}
	}
	return l.messages[i], nil
}

// ReplaceRange swaps the inclusive range [start, end] for the given
// replacement. An invalid start or an end before start is a silent
// no-op; an end past the last index is clamped to it.
func (l *MessageLog) ReplaceRange(start, end int, replacement []Message) {
	if start < 0 || start >= len(l.messages) || end < start {
		return
	}
	if end >= len(l.messages) {
		end = len(l.messages) - 1
	}
	out := make([]Message, 0, len(l.messages)-(end-start+1)+len(replacement))
	out = append(out, l.messages[:start]...)
	out = append(out, replacement...)
	out = append(out, l.messages[end+1:]...)
	l.messages = out
}

// DeleteAt removes the message at index i.
func (l *MessageLog) DeleteAt(i int) error {
	if i < 0 || i >= len(l.messages) {
		return &ErrIndexOutOfRange{Index: i, Length: len(l.messages)}
	}
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
	return nil
}

// Clear drops all messages.
func (l *MessageLog) Clear() {
	l.messages = l.messages[:0]
}
