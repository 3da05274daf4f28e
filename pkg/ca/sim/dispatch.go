package sim

import (
	"github.com/pvmux/pvmux-go/pkg/ca"
)

func (s *Server) post(job func()) {
	s.qmu.Lock()
	if !s.qclosed {
		s.jobs = append(s.jobs, job)
		s.qcond.Signal()
	}
	s.qmu.Unlock()
}

func (s *Server) dispatch() {
	defer close(s.done)
	for {
		s.qmu.Lock()
		for len(s.jobs) == 0 && !s.qclosed {
			s.qcond.Wait()
		}
		if s.qclosed {
			s.qmu.Unlock()
			return
		}
		job := s.jobs[0]
		s.jobs[0] = nil
		s.jobs = s.jobs[1:]
		s.qmu.Unlock()

		job()
	}
}

// Sync blocks until every callback queued before the call has run.
func (s *Server) Sync() {
	done := make(chan struct{})
	s.post(func() { close(done) })

	select {
	case <-done:
	case <-s.done:
	}
}

// postConn queues a connection callback. Must be called with s.mu held.
func (s *Server) postConn(ch *channel, op ca.Op) {
	id := ch.id
	s.post(func() {
		s.mu.Lock()
		c, ok := s.channels[id]
		s.mu.Unlock()
		if !ok || c.handler == nil {
			return
		}
		c.handler(ca.ConnectionArgs{Chan: id, Op: op, User: c.user})
	})
}

// postEvent queues a monitor callback carrying v. Must be called with s.mu
// held.
func (s *Server) postEvent(sub *subscription, v *ca.TimeValue) {
	evID := sub.id
	s.post(func() {
		s.mu.Lock()
		cur, ok := s.subs[evID]
		var live bool
		if ok {
			ch := s.channels[cur.chanID]
			live = ch != nil && ch.connected
		}
		s.mu.Unlock()
		if !live || cur.handler == nil || cur.typ != v.Type {
			return
		}

		count := cur.count
		if count == 0 {
			count = v.Count
		}
		if count > v.Count {
			return
		}

		n := count * v.Type.ElementSize()
		if cap(s.scratch.Value) < n {
			s.scratch.Value = make([]byte, n)
		}
		s.scratch.Status = v.Status
		s.scratch.Severity = v.Severity
		s.scratch.Stamp = v.Stamp
		s.scratch.Type = v.Type
		s.scratch.Count = count
		s.scratch.Value = s.scratch.Value[:n]
		copy(s.scratch.Value, v.Value)

		cur.handler(ca.EventArgs{
			Chan:   cur.chanID,
			User:   cur.user,
			Type:   v.Type,
			Count:  count,
			Status: ca.StatusNormal,
			Data:   &s.scratch,
		})

		clear(s.scratch.Value)
		s.scratch.Stamp = ca.TimeStamp{}
	})
}
