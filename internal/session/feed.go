package session

import "sync"

// eventFeed is the per-session event backlog and subscriber set shared by
// the subprocess and mock managers. Publishing is non-blocking toward
// subscribers; the backlog lets late subscribers observe events (most
// importantly the terminal status) published before they attached.
//
// Once the feed is terminal and its last subscriber has detached, the
// onIdle hook fires exactly once. Managers use it to drop the session from
// their maps so a long-lived process does not accumulate one backlog per
// turn. The hook waits for at least one subscriber to have attached, so a
// session that ends before its owner subscribes still replays its backlog.
type eventFeed struct {
	mu         sync.Mutex
	backlog    []Event
	subs       map[int]chan Event
	nextSub    int
	terminal   bool
	subscribed bool // a subscriber has attached at some point
	idleFired  bool
	onIdle     func()
}

func newEventFeed() *eventFeed {
	return &eventFeed{subs: make(map[int]chan Event)}
}

// publish records the event and fans it out to all subscribers with
// non-blocking sends. A second terminal status event is dropped, keeping
// the at-most-once terminal guarantee of the session contract.
func (f *eventFeed) publish(ev Event) {
	f.mu.Lock()

	if st, ok := ev.(StatusEvent); ok && st.Status.Terminal() {
		if f.terminal {
			f.mu.Unlock()
			return
		}
		f.terminal = true
	}

	f.backlog = append(f.backlog, ev)
	if len(f.backlog) > maxBacklog {
		f.backlog = f.backlog[len(f.backlog)-maxBacklog:]
	}

	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is slow; drop rather than stall the producer.
		}
	}

	idle := f.idleLocked()
	f.mu.Unlock()
	if idle != nil {
		idle()
	}
}

// subscribe registers a new subscriber channel, replaying the backlog first.
func (f *eventFeed) subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, subBuffer)
	for _, ev := range f.backlog {
		select {
		case ch <- ev:
		default:
		}
	}

	idx := f.nextSub
	f.nextSub++
	f.subs[idx] = ch
	f.subscribed = true

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, idx)
		idle := f.idleLocked()
		f.mu.Unlock()
		if idle != nil {
			idle()
		}
	}
	return ch, cancel
}

// abandon marks the feed as having no future subscribers, letting the idle
// hook fire on the terminal publish even if nobody ever attached. Called
// when the session is explicitly stopped.
func (f *eventFeed) abandon() {
	f.mu.Lock()
	f.subscribed = true
	idle := f.idleLocked()
	f.mu.Unlock()
	if idle != nil {
		idle()
	}
}

// idleLocked returns the onIdle hook when the feed just went idle: terminal
// status published, a subscriber has come and gone, none remain. Fires at
// most once; the caller invokes the hook after releasing the lock.
func (f *eventFeed) idleLocked() func() {
	if !f.terminal || !f.subscribed || len(f.subs) != 0 || f.idleFired || f.onIdle == nil {
		return nil
	}
	f.idleFired = true
	return f.onIdle
}

// isTerminal reports whether a terminal status has been published.
func (f *eventFeed) isTerminal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminal
}
