package storage

import (
	"sort"
	"strings"
	"time"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

// Pagination defaults for list queries
const (
	DefaultNumResults = 10
	MaxNumResults     = 1000
)

// Sort orders
const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

// ListOptions selects, orders and pages a list query
type ListOptions struct {
	// FilterBy maps a field name to the accepted values (any match)
	FilterBy   map[string][]string
	OrderBy    string
	SortOrder  string
	Offset     int
	NumResults int

	// Time range, applied to event timestamps
	Start time.Time
	End   time.Time
}

// ParseFilterBy parses "field:value,field:v1|v2" into a filter map
func ParseFilterBy(s string) (map[string][]string, error) {
	filters := make(map[string][]string)
	s = strings.TrimSpace(s)
	if s == "" {
		return filters, nil
	}
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" || strings.TrimSpace(kv[1]) == "" {
			return nil, errdefs.Invalidf("invalid filterBy clause %q, expected field:value", part)
		}
		key := strings.TrimSpace(kv[0])
		for _, v := range strings.Split(kv[1], "|") {
			if v = strings.TrimSpace(v); v != "" {
				filters[key] = append(filters[key], v)
			}
		}
	}
	return filters, nil
}

func (o ListOptions) normalized(defaultOrder, defaultSort string) ListOptions {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.NumResults <= 0 {
		o.NumResults = DefaultNumResults
	}
	if o.NumResults > MaxNumResults {
		o.NumResults = MaxNumResults
	}
	if o.OrderBy == "" {
		o.OrderBy = defaultOrder
	}
	o.SortOrder = strings.ToUpper(o.SortOrder)
	if o.SortOrder == "" {
		o.SortOrder = defaultSort
	}
	return o
}

func (o ListOptions) validate(filterFields, orderFields []string) error {
	if o.SortOrder != SortAsc && o.SortOrder != SortDesc {
		return errdefs.Invalidf("invalid sortOrder %q, expected ASC or DESC", o.SortOrder)
	}
	if !contains(orderFields, o.OrderBy) {
		return errdefs.Invalidf("invalid orderBy %q, expected one of %s", o.OrderBy, strings.Join(orderFields, ", "))
	}
	for field := range o.FilterBy {
		if !contains(filterFields, field) {
			return errdefs.Invalidf("invalid filterBy field %q, expected one of %s", field, strings.Join(filterFields, ", "))
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// matches reports whether value satisfies the filter for field; an absent
// filter matches everything
func (o ListOptions) matches(field, value string) bool {
	accepted, ok := o.FilterBy[field]
	if !ok {
		return true
	}
	for _, a := range accepted {
		if strings.EqualFold(a, value) {
			return true
		}
	}
	return false
}

// paginate returns the page selected by offset and limit. An offset beyond
// the set yields an empty page.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func sortBy[T any](items []T, order string, less func(a, b T) bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if order == SortDesc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

var (
	policyFilterFields   = []string{"name", "status", "type", "sourceCluster", "targetCluster"}
	policyOrderFields    = []string{"name", "status", "type", "creationTime", "startTime", "endTime"}
	clusterFilterFields  = []string{"name", "dataCenter", "local"}
	clusterOrderFields   = []string{"name", "dataCenter", "createdAt"}
	instanceFilterFields = []string{"status"}
	instanceOrderFields  = []string{"sequence", "startTime", "endTime"}
	eventFilterFields    = []string{"entityType", "eventType", "entityName", "policyId", "severity"}
	eventOrderFields     = []string{"eventId", "timestamp"}
)

// QueryPolicies filters, sorts and pages policies. Retired policies are
// only returned when the status filter asks for DELETED.
func (s *BoltStore) QueryPolicies(opts ListOptions) ([]*types.ReplicationPolicy, int, error) {
	opts = opts.normalized("name", SortAsc)
	if err := opts.validate(policyFilterFields, policyOrderFields); err != nil {
		return nil, 0, err
	}

	all, err := s.ListPolicies()
	if err != nil {
		return nil, 0, err
	}

	_, byStatus := opts.FilterBy["status"]
	includeRetired := byStatus && opts.matches("status", string(types.PolicyStatusDeleted))

	var selected []*types.ReplicationPolicy
	for _, p := range all {
		if !p.RetirementTime.IsZero() && !includeRetired {
			continue
		}
		if opts.matches("name", p.Name) &&
			opts.matches("status", string(p.Status)) &&
			opts.matches("type", string(p.Type)) &&
			opts.matches("sourceCluster", p.SourceCluster) &&
			opts.matches("targetCluster", p.TargetCluster) {
			selected = append(selected, p)
		}
	}

	sortBy(selected, opts.SortOrder, func(a, b *types.ReplicationPolicy) bool {
		switch opts.OrderBy {
		case "status":
			return a.Status < b.Status
		case "type":
			return a.Type < b.Type
		case "creationTime":
			return a.CreatedAt.Before(b.CreatedAt)
		case "startTime":
			return a.StartTime.Before(b.StartTime)
		case "endTime":
			return a.EndTime.Before(b.EndTime)
		default:
			return a.Name < b.Name
		}
	})

	return paginate(selected, opts.Offset, opts.NumResults), len(selected), nil
}

// QueryClusters filters, sorts and pages clusters
func (s *BoltStore) QueryClusters(opts ListOptions) ([]*types.Cluster, int, error) {
	opts = opts.normalized("name", SortAsc)
	if err := opts.validate(clusterFilterFields, clusterOrderFields); err != nil {
		return nil, 0, err
	}

	all, err := s.ListClusters()
	if err != nil {
		return nil, 0, err
	}

	var selected []*types.Cluster
	for _, c := range all {
		local := "false"
		if c.Local {
			local = "true"
		}
		if opts.matches("name", c.Name) && opts.matches("dataCenter", c.DataCenter) && opts.matches("local", local) {
			selected = append(selected, c)
		}
	}

	sortBy(selected, opts.SortOrder, func(a, b *types.Cluster) bool {
		switch opts.OrderBy {
		case "dataCenter":
			return a.DataCenter < b.DataCenter
		case "createdAt":
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.Name < b.Name
		}
	})

	return paginate(selected, opts.Offset, opts.NumResults), len(selected), nil
}

// QueryEvents filters, sorts and pages events. Newest events come first
// unless another order is requested.
func (s *BoltStore) QueryEvents(opts ListOptions) ([]*types.Event, int, error) {
	opts = opts.normalized("eventId", SortDesc)
	if err := opts.validate(eventFilterFields, eventOrderFields); err != nil {
		return nil, 0, err
	}

	all, err := s.listEvents()
	if err != nil {
		return nil, 0, err
	}

	var selected []*types.Event
	for _, e := range all {
		if !opts.Start.IsZero() && e.Timestamp.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && e.Timestamp.After(opts.End) {
			continue
		}
		if opts.matches("entityType", string(e.EntityType)) &&
			opts.matches("eventType", string(e.Type)) &&
			opts.matches("entityName", e.EntityName) &&
			opts.matches("policyId", e.PolicyID) &&
			opts.matches("severity", string(e.Severity)) {
			selected = append(selected, e)
		}
	}

	sortBy(selected, opts.SortOrder, func(a, b *types.Event) bool {
		if opts.OrderBy == "timestamp" && !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})

	return paginate(selected, opts.Offset, opts.NumResults), len(selected), nil
}

// QueryInstances filters, sorts and pages the live instances of a policy.
// The newest instance comes first by default.
func (s *BoltStore) QueryInstances(policyID string, opts ListOptions) ([]*types.PolicyInstance, int, error) {
	opts = opts.normalized("sequence", SortDesc)
	if err := opts.validate(instanceFilterFields, instanceOrderFields); err != nil {
		return nil, 0, err
	}

	all, err := s.ListInstances(policyID)
	if err != nil {
		return nil, 0, err
	}

	var selected []*types.PolicyInstance
	for _, inst := range all {
		if inst.RetirementTime.IsZero() && opts.matches("status", string(inst.Status)) {
			selected = append(selected, inst)
		}
	}

	sortBy(selected, opts.SortOrder, func(a, b *types.PolicyInstance) bool {
		switch opts.OrderBy {
		case "startTime":
			return a.StartTime.Before(b.StartTime)
		case "endTime":
			return a.EndTime.Before(b.EndTime)
		default:
			return a.Sequence < b.Sequence
		}
	})

	return paginate(selected, opts.Offset, opts.NumResults), len(selected), nil
}
