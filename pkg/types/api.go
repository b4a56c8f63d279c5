package types

// APIStatus is the outcome reported by mutating REST calls
type APIStatus string

const (
	APIStatusSucceeded APIStatus = "SUCCEEDED"
	APIStatusFailed    APIStatus = "FAILED"
)

// APIResult is the response body of every mutating REST call
type APIResult struct {
	Status    APIStatus `json:"status"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId,omitempty"`
	EntityID  string    `json:"entityId,omitempty"`
}

// ClusterList is a page of clusters
type ClusterList struct {
	TotalResults int        `json:"totalResults"`
	Results      int        `json:"results"`
	Clusters     []*Cluster `json:"cluster"`
}

// PolicyList is a page of policies
type PolicyList struct {
	TotalResults int                  `json:"totalResults"`
	Results      int                  `json:"results"`
	Policies     []*ReplicationPolicy `json:"policy"`
}

// InstanceList is a page of policy instances
type InstanceList struct {
	TotalResults int               `json:"totalResults"`
	Results      int               `json:"results"`
	Instances    []*PolicyInstance `json:"instance"`
}

// EventList is a page of events
type EventList struct {
	TotalResults int      `json:"totalResults"`
	Results      int      `json:"results"`
	Events       []*Event `json:"events"`
}

// PolicyStatusResult answers a policy status query
type PolicyStatusResult struct {
	Name     string       `json:"name"`
	PolicyID string       `json:"policyId"`
	Status   PolicyStatus `json:"status"`
}

// ServerStatus answers admin/status
type ServerStatus struct {
	Status           string   `json:"status"`
	Cluster          string   `json:"cluster"`
	Version          string   `json:"version"`
	Plugins          []string `json:"plugins,omitempty"`
	PendingRetries   int      `json:"pendingRetries"`
	EventSubscribers int      `json:"eventSubscribers"`
	SecurityEnabled  bool     `json:"securityEnabled"`
	ReplicationTypes []string `json:"replicationTypes,omitempty"`
}

// VersionInfo answers admin/version
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
}

// ClusterUpdate carries the mutable fields of a cluster. Nil fields are left
// unchanged; custom properties are merged and an empty value removes a key.
type ClusterUpdate struct {
	Name             string            `json:"name,omitempty"`
	Local            *bool             `json:"local,omitempty"`
	Description      *string           `json:"description,omitempty"`
	DataCenter       *string           `json:"dataCenter,omitempty"`
	BeaconEndpoint   *string           `json:"beaconEndpoint,omitempty"`
	FsEndpoint       *string           `json:"fsEndpoint,omitempty"`
	HsEndpoint       *string           `json:"hsEndpoint,omitempty"`
	RangerEndpoint   *string           `json:"rangerEndpoint,omitempty"`
	AtlasEndpoint    *string           `json:"atlasEndpoint,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
}
