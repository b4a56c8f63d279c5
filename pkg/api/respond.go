package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, r *http.Request, entityID, format string, args ...interface{}) {
	writeJSON(w, http.StatusOK, &types.APIResult{
		Status:    types.APIStatusSucceeded,
		Message:   fmt.Sprintf(format, args...),
		RequestID: requestID(r.Context()),
		EntityID:  entityID,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, errdefs.HTTPStatus(errdefs.KindOf(err)), &types.APIResult{
		Status:    types.APIStatusFailed,
		Message:   err.Error(),
		RequestID: requestID(r.Context()),
	})
}

// readJSON decodes the request body into v. Unknown fields are ignored.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err == io.EOF {
			return errdefs.Invalidf("request body is required")
		}
		return errdefs.Wrap(err, errdefs.Invalid, "invalid request body")
	}
	return nil
}

// pathName returns the {name} path parameter and rejects a body naming a
// different entity
func pathName(r *http.Request, bodyName *string) (string, error) {
	name := chi.URLParam(r, "name")
	if bodyName == nil {
		return name, nil
	}
	if *bodyName == "" {
		*bodyName = name
	} else if *bodyName != name {
		return "", errdefs.Invalidf("name %q in body does not match %q in path", *bodyName, name)
	}
	return name, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errdefs.Invalidf("invalid %s %q, expected true or false", key, v)
	}
	return b, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errdefs.Invalidf("invalid %s %q, expected a non-negative number", key, v)
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errdefs.Invalidf("invalid %s %q, expected RFC3339", key, v)
	}
	return t, nil
}

// listOptions reads filterBy, orderBy, sortOrder, offset, numResults, start
// and end from the query string
func listOptions(r *http.Request) (storage.ListOptions, error) {
	q := r.URL.Query()
	var opts storage.ListOptions
	var err error

	if opts.FilterBy, err = storage.ParseFilterBy(q.Get("filterBy")); err != nil {
		return opts, err
	}
	opts.OrderBy = strings.TrimSpace(q.Get("orderBy"))
	opts.SortOrder = strings.TrimSpace(q.Get("sortOrder"))
	if opts.Offset, err = queryInt(r, "offset"); err != nil {
		return opts, err
	}
	if opts.NumResults, err = queryInt(r, "numResults"); err != nil {
		return opts, err
	}
	if opts.Start, err = queryTime(r, "start"); err != nil {
		return opts, err
	}
	if opts.End, err = queryTime(r, "end"); err != nil {
		return opts, err
	}
	return opts, nil
}
