package identityv1

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Credentials is the body of a Resolve request.
type Credentials struct {
	Username string
	Password string
}

// Proto encodes c as {"username": ..., "password": ...}.
func (c Credentials) Proto() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"username": structpb.NewStringValue(c.Username),
		"password": structpb.NewStringValue(c.Password),
	}}
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, Password: <redacted>}", c.Username)
}

// CredentialsFromProto decodes a Resolve request. Missing fields are empty strings.
func CredentialsFromProto(s *structpb.Struct) (Credentials, error) {
	var c Credentials
	var err error
	if c.Username, err = stringField(s, "username"); err != nil {
		return Credentials{}, err
	}
	if c.Password, err = stringField(s, "password"); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// IdentityView is the wire form of a resolved identity.
type IdentityView struct {
	Name               string
	IsAuthenticated    bool
	AuthenticationType string
	Roles              []string
}

func (v IdentityView) Proto() *structpb.Struct {
	roles := make([]*structpb.Value, 0, len(v.Roles))
	for _, r := range v.Roles {
		roles = append(roles, structpb.NewStringValue(r))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":                structpb.NewStringValue(v.Name),
		"is_authenticated":    structpb.NewBoolValue(v.IsAuthenticated),
		"authentication_type": structpb.NewStringValue(v.AuthenticationType),
		"roles":               structpb.NewListValue(&structpb.ListValue{Values: roles}),
	}}
}

func IdentityViewFromProto(s *structpb.Struct) (IdentityView, error) {
	var v IdentityView
	var err error
	if v.Name, err = stringField(s, "name"); err != nil {
		return IdentityView{}, err
	}
	if v.IsAuthenticated, err = boolField(s, "is_authenticated"); err != nil {
		return IdentityView{}, err
	}
	if v.AuthenticationType, err = stringField(s, "authentication_type"); err != nil {
		return IdentityView{}, err
	}
	if v.Roles, err = stringListField(s, "roles"); err != nil {
		return IdentityView{}, err
	}
	return v, nil
}

// AuditQuery selects a page of audit entries. An empty Username lists every user.
type AuditQuery struct {
	Username string
	Limit    int32
	Offset   int32
}

func (q AuditQuery) Proto() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"username": structpb.NewStringValue(q.Username),
		"limit":    structpb.NewNumberValue(float64(q.Limit)),
		"offset":   structpb.NewNumberValue(float64(q.Offset)),
	}}
}

func AuditQueryFromProto(s *structpb.Struct) (AuditQuery, error) {
	var q AuditQuery
	var err error
	if q.Username, err = stringField(s, "username"); err != nil {
		return AuditQuery{}, err
	}
	if q.Limit, err = int32Field(s, "limit"); err != nil {
		return AuditQuery{}, err
	}
	if q.Offset, err = int32Field(s, "offset"); err != nil {
		return AuditQuery{}, err
	}
	return q, nil
}

// AuditEntry is one audit log row.
type AuditEntry struct {
	ID        string
	Username  string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// AuditPage is the ListAuditLogs response.
type AuditPage struct {
	Entries []AuditEntry
}

func (p AuditPage) Proto() *structpb.Struct {
	entries := make([]*structpb.Value, 0, len(p.Entries))
	for _, e := range p.Entries {
		entries = append(entries, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":         structpb.NewStringValue(e.ID),
			"username":   structpb.NewStringValue(e.Username),
			"action":     structpb.NewStringValue(e.Action),
			"resource":   structpb.NewStringValue(e.Resource),
			"ip":         structpb.NewStringValue(e.IP),
			"metadata":   structpb.NewStringValue(e.Metadata),
			"created_at": structpb.NewStringValue(e.CreatedAt.UTC().Format(time.RFC3339Nano)),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"entries": structpb.NewListValue(&structpb.ListValue{Values: entries}),
	}}
}

func AuditPageFromProto(s *structpb.Struct) (AuditPage, error) {
	v, ok := s.GetFields()["entries"]
	if !ok {
		return AuditPage{}, nil
	}
	list := v.GetListValue()
	if list == nil {
		return AuditPage{}, fmt.Errorf("field %q: want list", "entries")
	}
	page := AuditPage{Entries: make([]AuditEntry, 0, len(list.GetValues()))}
	for i, item := range list.GetValues() {
		es := item.GetStructValue()
		if es == nil {
			return AuditPage{}, fmt.Errorf("entries[%d]: want object", i)
		}
		var e AuditEntry
		var err error
		for key, dst := range map[string]*string{
			"id": &e.ID, "username": &e.Username, "action": &e.Action,
			"resource": &e.Resource, "ip": &e.IP, "metadata": &e.Metadata,
		} {
			if *dst, err = stringField(es, key); err != nil {
				return AuditPage{}, fmt.Errorf("entries[%d]: %w", i, err)
			}
		}
		created, err := stringField(es, "created_at")
		if err != nil {
			return AuditPage{}, fmt.Errorf("entries[%d]: %w", i, err)
		}
		if created != "" {
			if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
				return AuditPage{}, fmt.Errorf("entries[%d]: created_at: %w", i, err)
			}
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

func stringField(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("field %q: want string", key)
	}
	return sv.StringValue, nil
}

func boolField(s *structpb.Struct, key string) (bool, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return false, nil
	}
	bv, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("field %q: want bool", key)
	}
	return bv.BoolValue, nil
}

func int32Field(s *structpb.Struct, key string) (int32, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, nil
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("field %q: want number", key)
	}
	n := nv.NumberValue
	if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("field %q: %v is not a 32-bit integer", key, n)
	}
	return int32(n), nil
}

func stringListField(s *structpb.Struct, key string) ([]string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %q: want list", key)
	}
	out := make([]string, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		sv, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("field %q[%d]: want string", key, i)
		}
		out = append(out, sv.StringValue)
	}
	return out, nil
}
