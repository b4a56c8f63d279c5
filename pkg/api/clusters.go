package api

import (
	"context"
	"net/http"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

func (s *Server) submitCluster(w http.ResponseWriter, r *http.Request) {
	var cluster types.Cluster
	if err := readJSON(w, r, &cluster); err != nil {
		writeError(w, r, err)
		return
	}
	name, err := pathName(r, &cluster.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.clusters.Submit(&cluster); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, name, "cluster %s submitted", name)
}

func (s *Server) updateCluster(w http.ResponseWriter, r *http.Request) {
	var changes types.ClusterUpdate
	if err := readJSON(w, r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	name, err := pathName(r, &changes.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.clusters.Update(name, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, name, "cluster %s updated", name)
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	name, _ := pathName(r, nil)
	cluster, err := s.clusters.Get(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster)
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	clusters, total, err := s.clusters.List(opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.ClusterList{TotalResults: total, Results: len(clusters), Clusters: clusters})
}

func (s *Server) deleteCluster(w http.ResponseWriter, r *http.Request) {
	name, _ := pathName(r, nil)
	if err := s.clusters.Delete(name); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, name, "cluster %s deleted", name)
}

func (s *Server) pairClusters(w http.ResponseWriter, r *http.Request) {
	s.pairing(w, r, "isInternalPairing", "paired", s.clusters.Pair)
}

func (s *Server) unpairClusters(w http.ResponseWriter, r *http.Request) {
	s.pairing(w, r, "isInternalUnpairing", "unpaired", s.clusters.Unpair)
}

func (s *Server) pairing(w http.ResponseWriter, r *http.Request, internalParam, verb string,
	op func(ctx context.Context, remote string, isInternal bool) error) {
	remote := r.URL.Query().Get("remoteClusterName")
	if remote == "" {
		writeError(w, r, errdefs.Invalidf("remoteClusterName is required"))
		return
	}
	isInternal, err := queryBool(r, internalParam)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := op(r.Context(), remote, isInternal); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, remote, "cluster %s %s", remote, verb)
}
