package jobs

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the rebuild job API. notify is called
// after a job is enqueued; pass WorkerPool.Notify or nil.
func Router(store *JobStore, notify func()) chi.Router {
	r := chi.NewRouter()

	r.Post("/rebuild", EnqueueRebuildHandler(store, notify))
	r.Get("/rebuild", ListJobsHandler(store))
	r.Get("/rebuild/{jobId}", GetJobHandler(store))
	r.Post("/rebuild/{jobId}:cancel", CancelJobHandler(store))

	return r
}
