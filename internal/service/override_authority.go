package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type actorReader interface {
	FindActor(ctx context.Context, id string) (*models.Actor, error)
}

// OverrideAuthority resolves what an actor may bypass on a section.
type OverrideAuthority struct {
	actors actorReader
}

// NewOverrideAuthority constructs the gate.
func NewOverrideAuthority(actors actorReader) *OverrideAuthority {
	return &OverrideAuthority{actors: actors}
}

// Resolve returns the actor's capabilities for the section. Inactive and
// unknown actors resolve to no capability.
func (o *OverrideAuthority) Resolve(ctx context.Context, actorID string, section *models.Section, course *models.Course) (models.Authority, error) {
	actor, err := o.actors.FindActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load actor")
	}
	return ResolveAuthority(actor, section, course), nil
}

// CanOverride reports whether the actor may bypass the window or capacity on the section.
func (o *OverrideAuthority) CanOverride(ctx context.Context, actorID string, section *models.Section, course *models.Course) (bool, error) {
	authority, err := o.Resolve(ctx, actorID, section, course)
	if err != nil {
		return false, err
	}
	return authority.CanOverride(), nil
}

// ResolveAuthority computes the capability set from already loaded records.
func ResolveAuthority(actor *models.Actor, section *models.Section, course *models.Course) models.Authority {
	var authority models.Authority
	if actor == nil || !actor.Active {
		return authority
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
		authority = authority.With(models.CapabilityGlobalAdmin)
	case models.RoleTeacher:
		if section != nil && section.InstructorID != nil && *section.InstructorID == actor.ID {
			authority = authority.With(models.CapabilitySectionOwner)
		}
		if course != nil && actor.DepartmentID != nil && *actor.DepartmentID != "" && *actor.DepartmentID == course.DepartmentID {
			authority = authority.With(models.CapabilityDepartmentPeer)
		}
	}
	return authority
}
