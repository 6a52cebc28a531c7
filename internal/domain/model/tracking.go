package model

import (
	"strings"
	"time"
)

// TrackingParams carries the free-form per-subject options. It is persisted as
// JSON in the tracking row.
type TrackingParams struct {
	Token        string        `json:"token,omitempty"`
	Allow        []ReleaseKind `json:"allow,omitempty"`
	Instance     string        `json:"instance,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	StrictSemver bool          `json:"strict_semver,omitempty"`
}

// Validate checks that every allowed kind is known and the limit is sane.
func (p TrackingParams) Validate() error {
	for _, k := range p.Allow {
		if !k.Valid() {
			return invalid("allow", "%q is not a known release kind", k)
		}
	}
	if p.Limit < 0 {
		return invalid("limit", "must not be negative")
	}
	if strings.ContainsAny(p.Instance, "/ ") {
		return invalid("instance", "%q must be a bare host name", p.Instance)
	}
	return nil
}

// TrackingKey uniquely identifies a tracking subject for one consumer.
type TrackingKey struct {
	Object  string
	Backend string
	Kind    SubjectKind
	RoomID  string
}

// Validate rejects keys with missing identity, backend, kind or consumer.
func (k TrackingKey) Validate() error {
	if strings.TrimSpace(k.Object) == "" {
		return invalid("object", "must not be empty")
	}
	if strings.TrimSpace(k.Backend) == "" {
		return invalid("backend", "must not be empty")
	}
	if !k.Kind.Valid() {
		return invalid("kind", "%q is not one of user/group/repository", k.Kind)
	}
	if strings.TrimSpace(k.RoomID) == "" {
		return invalid("room_id", "must not be empty")
	}
	return nil
}

// Tracking is a subject being watched on behalf of a consumer. Its own clock
// schedules membership refreshes for dynamic kinds.
type Tracking struct {
	ID         int64
	Object     string
	Backend    string
	Kind       SubjectKind
	RoomID     string
	LastUpdate *time.Time
	NextUpdate *time.Time
	Params     TrackingParams
}

// Key returns the uniqueness key of the subject.
func (t Tracking) Key() TrackingKey {
	return TrackingKey{Object: t.Object, Backend: t.Backend, Kind: t.Kind, RoomID: t.RoomID}
}

// TrackingParamsPatch changes selected parameters of a subject. Nil fields
// are left untouched; a set empty value clears the field.
type TrackingParamsPatch struct {
	Token        *string
	Allow        *[]ReleaseKind
	Instance     *string
	Limit        *int
	StrictSemver *bool
}

// TrackingUpdate lists the attributes a caller may change on an existing
// subject. Nil fields are left untouched.
type TrackingUpdate struct {
	Object *string
	Params *TrackingParamsPatch
}
