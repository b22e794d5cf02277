package session

// store keeps recordings most recent first. It is not safe for concurrent
// use; the controller guards it.
type store struct {
	items []*Recording
}

func (s *store) prepend(r *Recording) {
	s.items = append([]*Recording{r}, s.items...)
}

func (s *store) get(id string) (*Recording, bool) {
	for _, r := range s.items {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// remove deletes exactly the recording with id and keeps the others in order.
func (s *store) remove(id string) (*Recording, bool) {
	for i, r := range s.items {
		if r.ID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return r, true
		}
	}
	return nil, false
}

func (s *store) list() []Recording {
	out := make([]Recording, len(s.items))
	for i, r := range s.items {
		out[i] = *r
	}
	return out
}

func (s *store) clear() []*Recording {
	items := s.items
	s.items = nil
	return items
}
