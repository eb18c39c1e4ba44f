package node

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skycoin/skyevent/pkg/eventlog"
	"github.com/skycoin/skyevent/pkg/httputil"
	"github.com/skycoin/skyevent/pkg/metrics"
)

// HTTPHandler serves Prometheus metrics and a read-only JSON view of the node.
func (node *Node) HTTPHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(node.promReg, promhttp.HandlerOpts{}))
	r.Get("/summary", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, r, http.StatusOK, node.Summary())
	})
	r.Get("/conns/{id}/log", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		entry, err := node.ConnLog(id)
		switch {
		case errors.Cause(err) == eventlog.ErrNotFound:
			httputil.WriteJSON(w, r, http.StatusNotFound, err)
		case err != nil:
			httputil.WriteJSON(w, r, http.StatusInternalServerError, err)
		default:
			httputil.WriteJSON(w, r, http.StatusOK, entry)
		}
	})
	return metrics.Handler(node.requests, r)
}
