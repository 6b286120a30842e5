package mqtt

import "log"

// outboxCapacity bounds messages held while the broker is unreachable.
const outboxCapacity = 256

// pendingMsg is a serialized message waiting for the broker.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a bounded FIFO of pending messages. When full, the oldest
// message is dropped. Not safe for concurrent use.
type outbox struct {
	msgs    []pendingMsg
	limit   int
	dropped int
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

func (o *outbox) push(msg pendingMsg) {
	if len(o.msgs) == o.limit {
		if o.dropped == 0 {
			log.Printf("mqtt: outbox full (%d messages), dropping oldest", o.limit)
		}
		o.dropped++
		copy(o.msgs, o.msgs[1:])
		o.msgs = o.msgs[:len(o.msgs)-1]
	}
	o.msgs = append(o.msgs, msg)
}

// take empties the outbox and returns its messages oldest first, with the
// number dropped since the last take.
func (o *outbox) take() ([]pendingMsg, int) {
	msgs, dropped := o.msgs, o.dropped
	o.msgs = nil
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
