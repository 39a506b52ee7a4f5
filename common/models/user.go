package models

import "context"

const UserResourceKind ResourceKind = "user"

type UserID struct {
	ResourceID
}

func NewUserID() UserID {
	return UserID{ResourceID: NewResourceID(UserResourceKind)}
}

func UserIDFromResourceID(id ResourceID) UserID {
	return UserID{ResourceID: id}
}

// Role is a coarse-grained permission tier used only by the Notifier to decide whether the
// sysadmin address should be cc'd on a job's status email.
type Role string

const (
	RoleUser         Role = "user"
	RoleAdmin        Role = "admin"
	RoleWetLabAdmin  Role = "wet-lab-admin"
)

// UserDirectory resolves job owners to the information the Notifier needs. It is an external
// collaborator: this core never authenticates a user or mutates the directory.
type UserDirectory interface {
	// Role returns the role assigned to userID.
	Role(ctx context.Context, userID UserID) (Role, error)
	// EmailOptOut returns true if userID has opted out of job-status emails.
	EmailOptOut(ctx context.Context, userID UserID) (bool, error)
	// EmailAddress returns the address job-status emails should be sent to for userID.
	EmailAddress(ctx context.Context, userID UserID) (string, error)
	// ExtraResourceParams returns any extra resource-allocation arguments configured on userID's
	// profile, appended verbatim to the resolved resource string.
	ExtraResourceParams(ctx context.Context, userID UserID) (string, error)
}
