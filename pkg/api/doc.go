/*
Package api serves the Beacon REST API.

Every Beacon server exposes the same API to operators and to its paired
peers. Peers call the internal variants (isInternalPairing, sync,
syncStatus, isInternalSyncDelete) to keep their copy of a pair or a policy
in step; operators use the rest.

# Routes

All routes live under /api/beacon:

	cluster/submit/{name}             POST    register a cluster definition
	cluster/{name}                    PUT     update mutable cluster fields
	cluster/getEntity/{name}          GET     read a cluster
	cluster/list                      GET     page through clusters
	cluster/delete/{name}             DELETE  remove a cluster
	cluster/pair                      POST    ?remoteClusterName=&isInternalPairing=
	cluster/unpair                    POST    ?remoteClusterName=&isInternalUnpairing=

	policy/submit/{name}              POST    validate and store a policy
	policy/schedule/{name}            POST    start a SUBMITTED policy
	policy/submitAndSchedule/{name}   POST    both, under one lock
	policy/suspend/{name}             POST
	policy/resume/{name}              POST
	policy/delete/{name}              DELETE  ?isInternalSyncDelete=&policyId=
	policy/sync/{name}                POST    store the peer copy of a policy
	policy/syncStatus/{name}          POST    ?status=&isInternalStatusSync=
	policy/instance/abort/{name}      POST
	policy/instance/rerun/{name}      POST
	policy/instance/list/{name}       GET
	policy/getEntity/{name}           GET
	policy/status/{name}              GET
	policy/list                       GET

	events/all                        GET     page through recorded events
	events/stream                     GET     newline delimited JSON feed
	admin/version                     GET
	admin/status                      GET

The list routes accept filterBy (field:value|value,...), orderBy,
sortOrder, offset and numResults. Events also accept start and end as
RFC3339 timestamps.

/health, /ready, /live and /metrics are served outside the prefix.

# Responses

Mutating calls answer with an APIResult whose status is SUCCEEDED or
FAILED. The HTTP status follows the error kind:

	Invalid   400
	Forbidden 403
	NotFound  404
	Conflict  409
	Upstream  502
	other     500

Each request carries an X-Request-ID, taken from the caller when present,
which is echoed in the response header and body and attached to the
request log line. The calling user comes from the user.name query
parameter or the X-Beacon-User header and is passed to the policy
authorizer.
*/
package api
