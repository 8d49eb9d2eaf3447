package handler

import (
	"context"
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	identityv1 "github.com/klawrawkz/csla/api/identity/v1"
	auditrepo "github.com/klawrawkz/csla/internal/audit/repository"
	"github.com/klawrawkz/csla/internal/platform/rbac"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Lister serves IdentityService ListAuditLogs. Callers need readerRole.
type Lister struct {
	repo       auditrepo.Repository
	readerRole string
}

// NewLister returns a Lister over repo. If repo is nil, ListAuditLogs returns Unimplemented.
func NewLister(repo auditrepo.Repository, readerRole string) *Lister {
	return &Lister{repo: repo, readerRole: readerRole}
}

// ListAuditLogs returns a page of audit logs, newest first, optionally for one username.
func (l *Lister) ListAuditLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if l == nil || l.repo == nil {
		return nil, status.Error(codes.Unimplemented, "audit log is not configured")
	}
	if _, err := rbac.RequireRole(ctx, l.readerRole); err != nil {
		return nil, err
	}
	q, err := identityv1.AuditQueryFromProto(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if q.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	list, err := l.repo.List(ctx, q.Username, limit, q.Offset)
	if err != nil {
		log.Printf("audit: list failed: %v", err)
		return nil, status.Error(codes.Internal, "failed to list audit logs")
	}
	page := identityv1.AuditPage{Entries: make([]identityv1.AuditEntry, 0, len(list))}
	for _, a := range list {
		page.Entries = append(page.Entries, identityv1.AuditEntry{
			ID:        a.ID,
			Username:  a.Username,
			Action:    a.Action,
			Resource:  a.Resource,
			IP:        a.IP,
			Metadata:  a.Metadata,
			CreatedAt: a.CreatedAt,
		})
	}
	return page.Proto(), nil
}
