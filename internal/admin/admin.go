// Package admin implements the administrative read surfaces: paginated
// users, groups, room permissions, and the audit event log, all built on
// the same pager used for node listings.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tonimelisma/dracoon-go/internal/dracoon"
)

// Services wraps an authenticated Client for admin-only endpoints.
type Services struct {
	client *dracoon.Client
}

// New builds a Services.
func New(client *dracoon.Client) *Services {
	return &Services{client: client}
}

// User is one account in the user directory.
type User struct {
	ID        uint64 `json:"id"`
	UserName  string `json:"userName"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	IsLocked  bool   `json:"isLocked"`
}

// ListUsers fetches one page of the user directory (GET /api/v4/users).
func (s *Services) ListUsers(ctx context.Context, offset uint64, limit uint32) (dracoon.RangedItems[User], error) {
	resp, err := s.client.Do(ctx, http.MethodGet, fmt.Sprintf("/users?offset=%d&limit=%d", offset, limit), nil)
	if err != nil {
		return dracoon.RangedItems[User]{}, err
	}
	defer resp.Body.Close()

	var out dracoon.RangedItems[User]
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return dracoon.RangedItems[User]{}, fmt.Errorf("admin: decoding users: %w", decErr)
	}

	return out, nil
}

// ListAllUsers fetches every user via the Pager.
func (s *Services) ListAllUsers(ctx context.Context) ([]User, error) {
	return dracoon.FetchAll(ctx, dracoon.DefaultListParams(), dracoon.DefaultMaxConcurrentRequests,
		func(ctx context.Context, offset uint64, limit uint32) (dracoon.RangedItems[User], error) {
			return s.ListUsers(ctx, offset, limit)
		})
}

// Group is a named collection of users sharing room permissions.
type Group struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	CntUsers int64  `json:"cntUsers"`
}

// ListGroups fetches one page of the group directory (GET /api/v4/groups).
func (s *Services) ListGroups(ctx context.Context, offset uint64, limit uint32) (dracoon.RangedItems[Group], error) {
	resp, err := s.client.Do(ctx, http.MethodGet, fmt.Sprintf("/groups?offset=%d&limit=%d", offset, limit), nil)
	if err != nil {
		return dracoon.RangedItems[Group]{}, err
	}
	defer resp.Body.Close()

	var out dracoon.RangedItems[Group]
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return dracoon.RangedItems[Group]{}, fmt.Errorf("admin: decoding groups: %w", decErr)
	}

	return out, nil
}

// ListAllGroups fetches every group via the Pager.
func (s *Services) ListAllGroups(ctx context.Context) ([]Group, error) {
	return dracoon.FetchAll(ctx, dracoon.DefaultListParams(), dracoon.DefaultMaxConcurrentRequests,
		func(ctx context.Context, offset uint64, limit uint32) (dracoon.RangedItems[Group], error) {
			return s.ListGroups(ctx, offset, limit)
		})
}

// RoomPermission describes one group's or user's effective permission set
// on a room.
type RoomPermission struct {
	UserID  *uint64 `json:"userId,omitempty"`
	GroupID *uint64 `json:"groupId,omitempty"`
	Manage  bool    `json:"manage"`
	Read    bool    `json:"read"`
	Create  bool    `json:"create"`
	Delete  bool    `json:"delete"`
}

// ListRoomPermissions fetches the permission assignments for a room.
func (s *Services) ListRoomPermissions(ctx context.Context, roomID uint64) ([]RoomPermission, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, fmt.Sprintf("/nodes/rooms/%d/permissions", roomID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out dracoon.RangedItems[RoomPermission]
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return nil, fmt.Errorf("admin: decoding room permissions: %w", decErr)
	}

	return out.Items, nil
}

// AuditEvent is one entry in the event log.
type AuditEvent struct {
	ID          uint64    `json:"id"`
	Time        time.Time `json:"time"`
	UserID      uint64    `json:"userId"`
	UserName    string    `json:"userClient,omitempty"`
	OperationID int       `json:"operationId"`
	Message     string    `json:"message"`
	Status      int       `json:"status"`
}

// ListEventsParams narrows an event-log query.
type ListEventsParams struct {
	DateStart   *time.Time
	DateEnd     *time.Time
	OperationID *int
}

// ListEvents fetches one page of the audit event log (GET
// /api/v4/eventlog/events).
func (s *Services) ListEvents(ctx context.Context, params ListEventsParams, offset uint64, limit uint32) (dracoon.RangedItems[AuditEvent], error) {
	path := fmt.Sprintf("/eventlog/events?offset=%d&limit=%d", offset, limit)

	if params.DateStart != nil {
		path += "&date_start=" + params.DateStart.Format(time.RFC3339)
	}

	if params.DateEnd != nil {
		path += "&date_end=" + params.DateEnd.Format(time.RFC3339)
	}

	if params.OperationID != nil {
		path += "&operation_id=" + strconv.Itoa(*params.OperationID)
	}

	resp, err := s.client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return dracoon.RangedItems[AuditEvent]{}, err
	}
	defer resp.Body.Close()

	var out dracoon.RangedItems[AuditEvent]
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return dracoon.RangedItems[AuditEvent]{}, fmt.Errorf("admin: decoding events: %w", decErr)
	}

	return out, nil
}

// ListAllEvents fetches every matching event via the Pager.
func (s *Services) ListAllEvents(ctx context.Context, params ListEventsParams) ([]AuditEvent, error) {
	return dracoon.FetchAll(ctx, dracoon.DefaultListParams(), dracoon.DefaultMaxConcurrentRequests,
		func(ctx context.Context, offset uint64, limit uint32) (dracoon.RangedItems[AuditEvent], error) {
			return s.ListEvents(ctx, params, offset, limit)
		})
}
