// Package command defines the inbound request that drives one pipeline run.
package command

import (
	"errors"
	"fmt"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/principal"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/value"
)

// ErrInvalidCommand is returned for structurally incomplete commands.
var ErrInvalidCommand = errors.New("invalid command")

// Command is a transient mutating request. ActorID and TenantID have been
// authenticated by the request layer before the command reaches the core.
type Command struct {
	// Type is the action name evaluated by policy (e.g. "TASK_CREATE").
	Type      string
	ActorID   string
	ActorType principal.ActorType
	TenantID  string
	// Payload doubles as the resource snapshot for condition evaluation.
	Payload value.Value
}

// Validate checks that the routing fields are present.
func (c Command) Validate() error {
	switch {
	case c.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidCommand)
	case c.ActorID == "":
		return fmt.Errorf("%w: actor id is required", ErrInvalidCommand)
	case c.TenantID == "":
		return fmt.Errorf("%w: tenant id is required", ErrInvalidCommand)
	case c.ActorType != "" && !c.ActorType.Valid():
		return fmt.Errorf("%w: unknown actor type %q", ErrInvalidCommand, c.ActorType)
	}
	return nil
}
