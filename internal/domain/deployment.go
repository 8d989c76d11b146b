package domain

import (
	"errors"
	"strings"
	"time"
)

// DeploymentStatus marks a ledger entry as the live promotion or a
// superseded one.
type DeploymentStatus string

const (
	DeploymentStatusProduction DeploymentStatus = "production"
	DeploymentStatusArchived   DeploymentStatus = "archived"
)

func (s DeploymentStatus) Valid() bool {
	switch s {
	case DeploymentStatusProduction, DeploymentStatusArchived:
		return true
	default:
		return false
	}
}

// DeploymentHealth is a derived serving-health indicator on a ledger
// entry. It is the only field that may change after append.
type DeploymentHealth string

const (
	DeploymentHealthActive   DeploymentHealth = "active"
	DeploymentHealthInactive DeploymentHealth = "inactive"
)

func (h DeploymentHealth) Valid() bool {
	switch h {
	case DeploymentHealthActive, DeploymentHealthInactive:
		return true
	default:
		return false
	}
}

// Deployment is an immutable ledger record of a promotion event. It
// references the run by name so entries outlive the run itself.
type Deployment struct {
	ID         string
	RunName    string
	Status     DeploymentStatus
	Health     DeploymentHealth
	DeployedAt time.Time
}

func (d Deployment) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("deployment id is required")
	}
	if strings.TrimSpace(d.RunName) == "" {
		return errors.New("run name is required")
	}
	if !d.Status.Valid() {
		return errors.New("invalid deployment status")
	}
	if !d.Health.Valid() {
		return errors.New("invalid deployment health")
	}
	if d.DeployedAt.IsZero() {
		return errors.New("deployed_at is required")
	}
	return nil
}
