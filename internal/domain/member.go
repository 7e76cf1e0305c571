package domain

import (
	"errors"
	"strings"
	"time"
)

type MemberRole string

const (
	RoleOwner      MemberRole = "owner"
	RoleMaintainer MemberRole = "maintainer"
	RoleDeveloper  MemberRole = "developer"
	RoleViewer     MemberRole = "viewer"
)

type Member struct {
	ProjectID string
	UserID    string
	Role      MemberRole
	CreatedAt time.Time
}

func (m Member) Validate() error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("user id is required")
	}
	switch m.Role {
	case RoleOwner, RoleMaintainer, RoleDeveloper, RoleViewer:
		return nil
	default:
		return errors.New("member role is invalid")
	}
}
