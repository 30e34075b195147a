// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package main is the Read API server: a thin gorilla/mux façade over
// queryapi, the only place in this system that knows about net/http.
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ahmed-machine/howfar/internal/config"
	"github.com/ahmed-machine/howfar/isochrone"
	"github.com/ahmed-machine/howfar/queryapi"
	"github.com/ahmed-machine/howfar/store"
)

var log = logrus.StandardLogger()

// httpStatus maps a sentinel error to its response code; anything
// unrecognized becomes a 500.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, isochrone.ErrMissingCoordinates):
		return http.StatusBadRequest
	case errors.Is(err, isochrone.ErrInvalidCacheKey):
		return http.StatusBadRequest
	case errors.Is(err, isochrone.ErrCacheMiss), errors.Is(err, isochrone.ErrNoSuchOrigin):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("encoding response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	log.WithError(err).WithField("status", status).Debug("request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func flatten(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	for k, v := range mux.Vars(r) {
		out[k] = v
	}
	return out
}

type server struct {
	store *store.Store
}

func (s *server) click(w http.ResponseWriter, r *http.Request) {
	resp, err := queryapi.Click(r.Context(), s.store, flatten(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) isochroneByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, isochrone.ErrNoSuchOrigin)
		return
	}
	resp, err := queryapi.Isochrone(r.Context(), s.store, id, flatten(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) viewportIntersections(w http.ResponseWriter, r *http.Request) {
	resp, err := queryapi.ViewportIntersections(r.Context(), s.store, flatten(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) viewportTransitStops(w http.ResponseWriter, r *http.Request) {
	resp, err := queryapi.ViewportTransitStops(r.Context(), s.store, flatten(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) nearbyTransitStops(w http.ResponseWriter, r *http.Request) {
	resp, err := queryapi.NearbyTransitStops(r.Context(), s.store, flatten(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) modes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"modes": queryapi.Modes()})
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := queryapi.Stats(r.Context(), s.store)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := queryapi.Health(r.Context(), s.store); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// newRouter builds the full route table, mirroring the upstream
// work-queue's PopulateRouter in structure if not in content.
func newRouter(s *server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/click", s.click).Methods(http.MethodGet)
	r.HandleFunc("/api/isochrone/{id}", s.isochroneByID).Methods(http.MethodGet)
	r.HandleFunc("/api/intersections/viewport", s.viewportIntersections).Methods(http.MethodGet)
	r.HandleFunc("/api/transit/stops/viewport", s.viewportTransitStops).Methods(http.MethodGet)
	r.HandleFunc("/api/transit/stops/nearby", s.nearbyTransitStops).Methods(http.MethodGet)
	r.HandleFunc("/api/modes", s.modes).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("parsing log level")
	}
	log.SetLevel(level)

	db, err := store.New(cfg.DatabaseURL, store.WithStaleHorizon(cfg.StaleHorizon))
	if err != nil {
		log.WithError(err).Fatal("opening store")
	}
	defer db.Close()

	router := newRouter(&server{store: db})

	addr := ":" + strconv.Itoa(cfg.ServerPort)
	log.WithField("addr", addr).Info("howfar read API listening")
	if err := http.ListenAndServe(addr, router); err != nil {
		log.WithError(err).Fatal("serving")
		os.Exit(1)
	}
}
