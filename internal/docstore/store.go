// Package docstore is the persistent per-user document store. A single Store
// implementation is selected at startup; callers never branch on backend.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidQuery = errors.New("invalid document query")
)

type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	// OpIn matches when the field equals any element of a []string value.
	OpIn Op = "in"
)

// Filter compares one top-level JSON field. The Go type of Value selects the
// comparison: string, bool, any integer or float, time.Time, or []string for OpIn.
// Documents that lack the field never match.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents of one collection in insertion order.
type Query struct {
	Filters []Filter
	Limit   int
}

type Document struct {
	ID   string
	Data json.RawMessage
}

func (d Document) Decode(out any) error {
	if err := json.Unmarshal(d.Data, out); err != nil {
		return fmt.Errorf("decode document %q: %w", d.ID, err)
	}
	return nil
}

type MutationKind string

const (
	MutationSet    MutationKind = "set"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

type Mutation struct {
	Kind       MutationKind
	Collection string
	ID         string
	Doc        any
	Fields     map[string]any
}

func SetDoc(collection, id string, doc any) Mutation {
	return Mutation{Kind: MutationSet, Collection: collection, ID: id, Doc: doc}
}

func UpdateDoc(collection, id string, fields map[string]any) Mutation {
	return Mutation{Kind: MutationUpdate, Collection: collection, ID: id, Fields: fields}
}

func DeleteDoc(collection, id string) Mutation {
	return Mutation{Kind: MutationDelete, Collection: collection, ID: id}
}

// Store persists JSON documents grouped in collections.
//
// Update merges top-level fields (a field present in the update replaces the
// stored value wholesale) and fails with ErrNotFound when the document is
// missing. Delete of a missing document is not an error. Batch applies all
// mutations atomically or none of them.
type Store interface {
	Get(ctx context.Context, collection, id string, out any) error
	Set(ctx context.Context, collection, id string, doc any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string, q Query) ([]Document, error)
	Batch(ctx context.Context, mutations []Mutation) error
	Mode() string
	Close() error
}

// UserCollection scopes a collection name to one user.
func UserCollection(userID, name string) string {
	return "users/" + userID + "/" + name
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
	kindTime
	kindStringSet
)

type normalizedFilter struct {
	field string
	op    Op
	kind  valueKind
	str   string
	num   float64
	b     bool
	t     time.Time
	set   []string
}

func normalizeFilters(filters []Filter) ([]normalizedFilter, error) {
	out := make([]normalizedFilter, 0, len(filters))
	for _, f := range filters {
		nf, err := normalizeFilter(f)
		if err != nil {
			return nil, err
		}
		out = append(out, nf)
	}
	return out, nil
}

func normalizeFilter(f Filter) (normalizedFilter, error) {
	if !fieldNamePattern.MatchString(f.Field) {
		return normalizedFilter{}, fmt.Errorf("%w: field %q", ErrInvalidQuery, f.Field)
	}
	nf := normalizedFilter{field: f.Field, op: f.Op}

	if f.Op == OpIn {
		set, ok := f.Value.([]string)
		if !ok {
			return normalizedFilter{}, fmt.Errorf("%w: %s requires []string", ErrInvalidQuery, OpIn)
		}
		nf.kind = kindStringSet
		nf.set = set
		return nf, nil
	}

	switch f.Op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
	default:
		return normalizedFilter{}, fmt.Errorf("%w: operator %q", ErrInvalidQuery, f.Op)
	}

	switch v := f.Value.(type) {
	case string:
		nf.kind, nf.str = kindString, v
	case bool:
		if f.Op != OpEq && f.Op != OpNe {
			return normalizedFilter{}, fmt.Errorf("%w: bool supports only == and !=", ErrInvalidQuery)
		}
		nf.kind, nf.b = kindBool, v
	case time.Time:
		nf.kind, nf.t = kindTime, v.UTC()
	case int:
		nf.kind, nf.num = kindNumber, float64(v)
	case int64:
		nf.kind, nf.num = kindNumber, float64(v)
	case float64:
		nf.kind, nf.num = kindNumber, v
	default:
		return normalizedFilter{}, fmt.Errorf("%w: unsupported value type %T", ErrInvalidQuery, f.Value)
	}
	return nf, nil
}

// matches evaluates filters against a decoded document. The memory backend
// uses it directly; the SQL backends translate the same semantics to SQL.
func matches(doc map[string]any, filters []normalizedFilter) bool {
	for _, f := range filters {
		raw, ok := doc[f.field]
		if !ok || raw == nil {
			return false
		}
		if !matchOne(raw, f) {
			return false
		}
	}
	return true
}

func matchOne(raw any, f normalizedFilter) bool {
	switch f.kind {
	case kindStringSet:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		for _, candidate := range f.set {
			if candidate == s {
				return true
			}
		}
		return false
	case kindString:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		return compare(cmpStrings(s, f.str), f.op)
	case kindNumber:
		n, ok := raw.(float64)
		if !ok {
			return false
		}
		return compare(cmpFloats(n, f.num), f.op)
	case kindBool:
		b, ok := raw.(bool)
		if !ok {
			return false
		}
		if f.op == OpEq {
			return b == f.b
		}
		return b != f.b
	case kindTime:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return false
		}
		return compare(t.Compare(f.t), f.op)
	}
	return false
}

func compare(c int, op Op) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

func cmpStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// encodeObject marshals doc and insists on a JSON object, because Update
// merges top-level fields.
func encodeObject(doc any) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil, fmt.Errorf("encode document: expected a JSON object, got %T", doc)
	}
	return data, nil
}

// mergeFields applies a shallow merge of fields onto an encoded object.
func mergeFields(current []byte, fields map[string]any) ([]byte, error) {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(current, &obj); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	for k, v := range fields {
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		obj[k] = enc
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	return out, nil
}

func effectiveLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// MaxListLimit bounds every List call; callers never page past it.
const MaxListLimit = 500
