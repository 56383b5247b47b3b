package webhook

import (
	"context"
	"fmt"

	"catalogsync/internal/models"

	"gorm.io/gorm"
)

// Router dispatches envelopes to the applier registered for their source.
// An envelope from an unregistered source fails and stays retryable.
type Router struct {
	appliers map[string]Applier
}

func NewRouter() *Router {
	return &Router{appliers: make(map[string]Applier)}
}

// Handle registers a for source and returns the router.
func (r *Router) Handle(source string, a Applier) *Router {
	r.appliers[source] = a
	return r
}

// Handles reports whether an applier is registered for source.
func (r *Router) Handles(source string) bool {
	_, ok := r.appliers[source]
	return ok
}

func (r *Router) Apply(ctx context.Context, tx *gorm.DB, env *models.WebhookEnvelope) error {
	a, ok := r.appliers[env.Source]
	if !ok {
		return fmt.Errorf("no webhook applier for source %q", env.Source)
	}
	return a.Apply(ctx, tx, env)
}
