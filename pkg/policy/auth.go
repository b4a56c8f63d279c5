package policy

import (
	"context"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

// Action is a mutating policy operation checked by the Authorizer
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionSchedule Action = "schedule"
	ActionSuspend  Action = "suspend"
	ActionResume   Action = "resume"
	ActionDelete   Action = "delete"
	ActionAbort    Action = "abort"
	ActionRerun    Action = "rerun"
)

// Authorizer decides whether user may perform action on policy
type Authorizer interface {
	Authorize(ctx context.Context, user string, action Action, policy *types.ReplicationPolicy) error
}

// AllowAll permits every request
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, Action, *types.ReplicationPolicy) error {
	return nil
}

type userKey struct{}

// WithUser returns a context carrying the requesting user
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the requesting user stored by WithUser
func UserFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

func (o *Orchestrator) authorize(ctx context.Context, action Action, p *types.ReplicationPolicy) error {
	user := UserFrom(ctx)
	if err := o.auth.Authorize(ctx, user, action, p); err != nil {
		if errdefs.KindOf(err) == errdefs.Internal {
			return errdefs.Wrap(err, errdefs.Forbidden, "user %q may not %s policy %s", user, action, p.Name)
		}
		return err
	}
	return nil
}
