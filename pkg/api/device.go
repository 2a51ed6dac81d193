package api

import (
	"net/http"

	"github.com/netpulse/netpulse/pkg/types"
)

// handleExecute commits one job for one device and returns it still
// queued. Results arrive asynchronously; poll GET /job?id= or set a
// webhook on the request.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req types.ExecutionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, err := s.mgr.ExecuteOnDevice(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, jobToResponse(job))
}

// handleBulk fans one request template out across a device list. The
// response partitions the list into committed jobs and per-device
// rejections; only a failure affecting the whole batch is an error.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var batch types.BatchExecutionRequest
	if err := decodeBody(r, &batch); err != nil {
		writeError(w, err)
		return
	}
	jobs, failed, err := s.mgr.ExecuteOnBulkDevices(r.Context(), &batch)
	if err != nil {
		writeError(w, err)
		return
	}
	if failed == nil {
		failed = []types.BatchFailedItem{}
	}
	writeData(w, http.StatusCreated, BulkResponse{
		Succeeded: jobsToResponse(jobs),
		Failed:    failed,
	})
}

// handleTestConnection opens a live session to the device and reports
// what the driver saw. Unlike execute this blocks for the handshake.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req types.ExecutionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	info, err := s.mgr.TestConnection(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, info)
}
