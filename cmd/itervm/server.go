// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/metrics"
	"github.com/vechain/itervm/runtime"
	"github.com/vechain/itervm/thor"
)

func serve(addr string, router *mux.Router) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "listen addr [%v]", addr)
	}

	srv := &http.Server{Handler: handlers.CompressHandler(router), ReadHeaderTimeout: time.Second, ReadTimeout: 5 * time.Second}
	var g errgroup.Group
	g.Go(func() error {
		return srv.Serve(listener)
	})
	return "http://" + listener.Addr().String(), func() {
		srv.Close()
		g.Wait()
	}, nil
}

func startMetricsServer(addr string) (string, func(), error) {
	router := mux.NewRouter()
	router.PathPrefix("/metrics").Handler(metrics.HTTPHandler())
	url, closeFunc, err := serve(addr, router)
	if err != nil {
		return "", nil, err
	}
	return url + "/metrics", closeFunc, nil
}

type httpError struct {
	cause  error
	status int
}

func (e *httpError) Error() string { return e.cause.Error() }

func badRequest(cause error) error { return &httpError{cause, http.StatusBadRequest} }

type handlerFunc func(w http.ResponseWriter, req *http.Request) error

func wrapHandler(f handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := f(w, req); err != nil {
			var he *httpError
			if errors.As(err, &he) {
				http.Error(w, he.Error(), he.status)
				return
			}
			log.Debug("api request failed", "path", req.URL.Path, "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, obj any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(obj)
}

// newAPIRouter serves committed accounts and holder records.
func newAPIRouter(rt *runtime.Runtime) *mux.Router {
	router := mux.NewRouter()
	router.Path("/accounts/{address}").Methods(http.MethodGet).HandlerFunc(wrapHandler(func(w http.ResponseWriter, req *http.Request) error {
		addr, err := thor.ParseAddress(mux.Vars(req)["address"])
		if err != nil {
			return badRequest(errors.WithMessage(err, "address"))
		}
		view, err := readAccount(rt, addr)
		if err != nil {
			return err
		}
		return writeJSON(w, view)
	}))
	router.Path("/holders/{holder}").Methods(http.MethodGet).HandlerFunc(wrapHandler(func(w http.ResponseWriter, req *http.Request) error {
		holder, err := thor.ParseBytes32(mux.Vars(req)["holder"])
		if err != nil {
			return badRequest(errors.WithMessage(err, "holder"))
		}
		rec, err := rt.Record(holder)
		if err != nil {
			return &httpError{err, http.StatusNotFound}
		}
		return writeJSON(w, newRecordView(rec))
	}))
	return router
}
