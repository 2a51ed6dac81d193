package api

import (
	"net/http"

	"github.com/netpulse/netpulse/pkg/manager"
)

// handleListJobs filters the job registry by any combination of id,
// queue, status, node, and host. No filter returns everything.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs, err := s.mgr.ListJobs(r.Context(), manager.JobFilter{
		ID:     q.Get("id"),
		Queue:  q.Get("queue"),
		Status: q.Get("status"),
		Node:   q.Get("node"),
		Host:   q.Get("host"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, jobsToResponse(jobs))
}

// handleCancelJobs cancels queued jobs by id (repeatable), queue, or
// host, and returns the ids actually canceled. Jobs already running
// are left alone.
func (s *Server) handleCancelJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	canceled, err := s.mgr.CancelJobs(r.Context(), manager.CancelFilter{
		IDs:   q["id"],
		Queue: q.Get("queue"),
		Host:  q.Get("host"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, canceled)
}

// handleListWorkers lists registered workers, optionally narrowed to a
// queue, a node, or the pinned worker of one host.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workers, err := s.mgr.ListWorkers(r.Context(), manager.WorkerFilter{
		Queue: q.Get("queue"),
		Node:  q.Get("node"),
		Host:  q.Get("host"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, workersToResponse(workers))
}

// handleKillWorkers sends shutdown commands to one worker by name or to
// every consumer of a queue, and returns the names addressed.
func (s *Server) handleKillWorkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	killed, err := s.mgr.KillWorkers(r.Context(), manager.KillFilter{
		Name:  q.Get("name"),
		Queue: q.Get("queue"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, killed)
}

// handleHealth pings the store so load balancers can tell a live
// controller from one that lost its state backend.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Health(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "ok")
}
