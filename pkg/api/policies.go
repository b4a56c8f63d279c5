package api

import (
	"context"
	"net/http"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

func (s *Server) readPolicy(w http.ResponseWriter, r *http.Request) (*types.ReplicationPolicy, error) {
	var p types.ReplicationPolicy
	if err := readJSON(w, r, &p); err != nil {
		return nil, err
	}
	if _, err := pathName(r, &p.Name); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Server) submitPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.readPolicy(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	submitted, err := s.policies.Submit(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, submitted.PolicyID, "policy %s submitted", submitted.Name)
}

func (s *Server) submitAndSchedulePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.readPolicy(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	scheduled, err := s.policies.SubmitAndSchedule(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, scheduled.PolicyID, "policy %s submitted and scheduled", scheduled.Name)
}

func (s *Server) schedulePolicy(w http.ResponseWriter, r *http.Request) {
	name, _ := pathName(r, nil)
	p, err := s.policies.Schedule(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, p.PolicyID, "policy %s scheduled", name)
}

// policyAction runs an operation that only needs the policy name
func (s *Server) policyAction(w http.ResponseWriter, r *http.Request, verb string, op func(ctx context.Context, name string) error) {
	name, _ := pathName(r, nil)
	if err := op(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, name, "policy %s %s", name, verb)
}

func (s *Server) suspendPolicy(w http.ResponseWriter, r *http.Request) {
	s.policyAction(w, r, "suspended", s.policies.Suspend)
}

func (s *Server) resumePolicy(w http.ResponseWriter, r *http.Request) {
	s.policyAction(w, r, "resumed", s.policies.Resume)
}

func (s *Server) abortInstance(w http.ResponseWriter, r *http.Request) {
	s.policyAction(w, r, "instance abort requested", s.policies.AbortInstance)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	isInternal, err := queryBool(r, "isInternalSyncDelete")
	if err != nil {
		writeError(w, r, err)
		return
	}
	policyID := r.URL.Query().Get("policyId")
	s.policyAction(w, r, "deleted", func(ctx context.Context, name string) error {
		if isInternal && policyID != "" {
			return s.policies.SyncDelete(ctx, name, policyID)
		}
		return s.policies.Delete(ctx, name, isInternal)
	})
}

func (s *Server) rerunInstance(w http.ResponseWriter, r *http.Request) {
	name, _ := pathName(r, nil)
	instanceID, err := s.policies.RerunInstance(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, instanceID, "instance %s of policy %s rerun", instanceID, name)
}

func (s *Server) syncPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.readPolicy(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.policies.SyncPolicy(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, p.PolicyID, "policy %s synced", p.Name)
}

func (s *Server) syncPolicyStatus(w http.ResponseWriter, r *http.Request) {
	name, _ := pathName(r, nil)
	status := r.URL.Query().Get("status")
	if status == "" {
		writeError(w, r, errdefs.Invalidf("status is required"))
		return
	}
	isInternal, err := queryBool(r, "isInternalStatusSync")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.policies.SyncPolicyStatus(r.Context(), name, types.PolicyStatus(status), isInternal); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, name, "policy %s status set to %s", name, status)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	name, _ := pathName(r, nil)
	p, err := s.policies.Get(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) policyStatus(w http.ResponseWriter, r *http.Request) {
	name, _ := pathName(r, nil)
	p, err := s.policies.Get(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.PolicyStatusResult{Name: p.Name, PolicyID: p.PolicyID, Status: p.Status})
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	policies, total, err := s.policies.List(opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.PolicyList{TotalResults: total, Results: len(policies), Policies: policies})
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	name, _ := pathName(r, nil)
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	instances, total, err := s.policies.ListInstances(name, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.InstanceList{TotalResults: total, Results: len(instances), Instances: instances})
}
