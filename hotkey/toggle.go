package hotkey

// Toggle turns key presses into toggle events: one event per press, emitted
// on keydown. Auto-repeat keydowns are ignored until the key is released.
type Toggle struct {
	ch   chan struct{}
	stop chan struct{}
}

func NewToggle(hk Hotkey) *Toggle {
	t := &Toggle{
		ch:   make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go t.run(hk)
	return t
}

func (t *Toggle) C() <-chan struct{} { return t.ch }

func (t *Toggle) Close() { close(t.stop) }

func (t *Toggle) run(hk Hotkey) {
	held := false
	for {
		select {
		case <-t.stop:
			return
		case <-hk.Keydown():
			if held {
				continue
			}
			held = true
			select {
			case t.ch <- struct{}{}:
			default:
			}
		case <-hk.Keyup():
			held = false
		}
	}
}
