package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"schemaguard/internal/schema/compat"
	"schemaguard/internal/schema/events"
	"schemaguard/internal/schema/formats/avro"
	jsonformat "schemaguard/internal/schema/formats/json"
	"schemaguard/internal/schema/formats/protobuf"
	"schemaguard/internal/schema/types"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"
)

const (
	// MagicByte leads every serialized payload, followed by the 16-byte
	// schema UUID and the format-specific body.
	MagicByte = 0x0

	wireHeaderLen = 1 + 16

	// Key prefixes for the NATS KeyValue store
	keyPrefixSubjects      = "subjects/"        // subjects/{subject}/versions/{version}
	keyPrefixSchemas       = "schemas/"         // schemas/{id}
	keyGlobalConfig        = "config/global"    // global compatibility mode
	keyPrefixSubjectConfig = "config/subjects/" // config/subjects/{subject}

	defaultCompatibilityMode = types.Backward
	defaultVerdictCacheSize  = 1024

	sweeperActor = "sunset-sweeper"
)

// Registry orchestrates schema registration: it resolves versions, runs the
// compatibility engine against a subject's stored history, applies lifecycle
// transitions, and announces the outcome to the event publisher.
//
// Registrations against the same subject are serialized by a per-subject
// mutex held across read-latest, evaluate, and append, so two concurrent
// attempts can never both win against a stale latest version.
type Registry struct {
	formats map[types.SchemaType]types.SchemaFormat
	engine  *compat.Engine

	kvSchemas nats.KeyValue
	kvConfig  nats.KeyValue
	publisher events.Publisher

	// Verdict memoization keyed by (candidate hash, history fingerprint,
	// mode). The engine itself stays pure; caching lives here.
	verdicts *lru.Cache[string, types.Result]

	mu       sync.Mutex
	subjects map[string]*sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher routes lifecycle events to pub instead of discarding them.
func WithPublisher(pub events.Publisher) Option {
	return func(r *Registry) { r.publisher = pub }
}

// WithVerdictCacheSize overrides the verdict cache capacity.
func WithVerdictCacheSize(n int) Option {
	return func(r *Registry) {
		if cache, err := lru.New[string, types.Result](n); err == nil {
			r.verdicts = cache
		}
	}
}

// New creates a registry backed by the given KeyValue buckets.
func New(kvSchemas, kvConfig nats.KeyValue, opts ...Option) *Registry {
	formats := map[types.SchemaType]types.SchemaFormat{
		types.JSON:     jsonformat.New(),
		types.Avro:     avro.New(),
		types.Protobuf: protobuf.New(),
	}

	cache, _ := lru.New[string, types.Result](defaultVerdictCacheSize)

	r := &Registry{
		formats:   formats,
		engine:    compat.New(formats),
		kvSchemas: kvSchemas,
		kvConfig:  kvConfig,
		publisher: events.Noop{},
		verdicts:  cache,
		subjects:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterRequest carries one registration attempt.
type RegisterRequest struct {
	Subject     string
	Schema      string
	Type        types.SchemaType
	Version     string // optional; minor-bumped from the highest version when empty
	Owner       string
	Description string
	Tags        []string
	Metadata    map[string]string
	Draft       bool // land as Draft instead of Active
	Actor       string
}

// Register evaluates and stores a new schema version. On rejection the
// returned Result carries the breaking violations and the error wraps
// ErrIncompatibleSchema; on acceptance the Result may still carry Warning and
// Info entries for advisory display.
func (r *Registry) Register(req RegisterRequest) (*types.Schema, types.Result, error) {
	format, ok := r.formats[req.Type]
	if !ok {
		return nil, types.Result{}, fmt.Errorf("%w: %s", types.ErrUnsupportedType, req.Type)
	}
	if err := format.Validate(req.Schema); err != nil {
		registrationsTotal.WithLabelValues("error").Inc()
		return nil, types.Result{}, types.NewParseError(req.Type, err)
	}

	lock := r.subjectLock(req.Subject)
	lock.Lock()
	defer lock.Unlock()

	history, err := r.history(req.Subject)
	if err != nil {
		return nil, types.Result{}, err
	}

	hash := types.Fingerprint(req.Schema)
	mode, err := r.CompatibilityMode(req.Subject)
	if err != nil {
		return nil, types.Result{}, err
	}

	// Re-registering the latest content is idempotent
	if latest := latestComparable(history); latest != nil && latest.Hash == hash && latest.Type == req.Type {
		return latest, types.NewResult(mode, nil, nil), nil
	}

	version, err := r.nextVersion(history, req.Version)
	if err != nil {
		return nil, types.Result{}, err
	}

	candidate := compat.Candidate{Subject: req.Subject, Type: req.Type, Schema: req.Schema, Hash: hash}
	result, err := r.evaluate(candidate, history, mode)
	if err != nil {
		registrationsTotal.WithLabelValues("error").Inc()
		return nil, types.Result{}, err
	}

	if !result.Compatible {
		registrationsTotal.WithLabelValues("rejected").Inc()
		ev := events.New(events.TypeSchemaRejected, req.Subject)
		ev.Actor = req.Actor
		ev.Payload = map[string]interface{}{"mode": mode, "violations": result.Violations}
		r.publisher.Publish(ev)
		return nil, result, fmt.Errorf("%w: %d breaking violation(s)", types.ErrIncompatibleSchema, result.BreakingCount())
	}

	state := types.StateActive
	if req.Draft {
		state = types.StateDraft
	}

	schema := &types.Schema{
		ID:          uuid.NewString(),
		Subject:     req.Subject,
		Version:     version,
		Type:        req.Type,
		Schema:      req.Schema,
		Hash:        hash,
		State:       state,
		Owner:       req.Owner,
		Description: req.Description,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.store(schema); err != nil {
		registrationsTotal.WithLabelValues("error").Inc()
		return nil, types.Result{}, err
	}

	registrationsTotal.WithLabelValues("accepted").Inc()
	slog.Info("schema registered", "subject", req.Subject, "version", version, "state", state, "id", schema.ID)

	ev := events.New(events.TypeSchemaRegistered, req.Subject)
	ev.SchemaID = schema.ID
	ev.Version = version.String()
	ev.Actor = req.Actor
	ev.Payload = map[string]interface{}{"state": state, "violations": result.Violations}
	r.publisher.Publish(ev)

	return schema, result, nil
}

// Check evaluates a candidate against a subject's history without storing
// anything. The subject's configured mode applies unless modeOverride is
// non-empty.
func (r *Registry) Check(subject, schemaStr string, schemaType types.SchemaType, modeOverride types.CompatibilityMode) (types.Result, error) {
	format, ok := r.formats[schemaType]
	if !ok {
		return types.Result{}, fmt.Errorf("%w: %s", types.ErrUnsupportedType, schemaType)
	}
	if err := format.Validate(schemaStr); err != nil {
		return types.Result{}, types.NewParseError(schemaType, err)
	}

	mode := modeOverride
	if mode == "" {
		var err error
		if mode, err = r.CompatibilityMode(subject); err != nil {
			return types.Result{}, err
		}
	}

	history, err := r.history(subject)
	if err != nil {
		return types.Result{}, err
	}

	candidate := compat.Candidate{Subject: subject, Type: schemaType, Schema: schemaStr, Hash: types.Fingerprint(schemaStr)}
	return r.evaluate(candidate, history, mode)
}

// Validate reports whether a schema parses in its declared format, without
// touching any subject.
func (r *Registry) Validate(schemaStr string, schemaType types.SchemaType) error {
	format, ok := r.formats[schemaType]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnsupportedType, schemaType)
	}
	return format.Validate(schemaStr)
}

func (r *Registry) evaluate(candidate compat.Candidate, history []*types.Schema, mode types.CompatibilityMode) (types.Result, error) {
	key := verdictKey(candidate.Hash, history, mode)
	if result, ok := r.verdicts.Get(key); ok {
		verdictCacheHits.Inc()
		return result, nil
	}
	verdictCacheMisses.Inc()

	start := time.Now()
	result, err := r.engine.Evaluate(candidate, history, mode)
	checkDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		compatibilityChecks.WithLabelValues(string(mode), "error").Inc()
		return types.Result{}, err
	}

	outcome := "compatible"
	if !result.Compatible {
		outcome = "incompatible"
	}
	compatibilityChecks.WithLabelValues(string(mode), outcome).Inc()

	r.verdicts.Add(key, result)
	return result, nil
}

// verdictKey folds the candidate, the comparable slice of the history, and
// the mode into one cache key. State is part of the fingerprint so promotions
// and deletions invalidate stale verdicts.
func verdictKey(candidateHash string, history []*types.Schema, mode types.CompatibilityMode) string {
	var b strings.Builder
	for _, s := range history {
		if !s.Comparable() {
			continue
		}
		fmt.Fprintf(&b, "%s:%s;", s.Version, s.Hash)
	}
	return candidateHash + "|" + types.Fingerprint(b.String()) + "|" + string(mode)
}

// Promote re-evaluates a Draft version against the subject's current history
// and activates it on acceptance.
func (r *Registry) Promote(subject, version, actor string) (*types.Schema, types.Result, error) {
	lock := r.subjectLock(subject)
	lock.Lock()
	defer lock.Unlock()

	schema, err := r.GetVersion(subject, version)
	if err != nil {
		return nil, types.Result{}, err
	}

	next, err := schema.State.Transition(types.StateActive)
	if err != nil {
		return nil, types.Result{}, err
	}

	history, err := r.history(subject)
	if err != nil {
		return nil, types.Result{}, err
	}
	// The draft itself is not part of its own comparison set
	peers := make([]*types.Schema, 0, len(history))
	for _, s := range history {
		if s.ID != schema.ID {
			peers = append(peers, s)
		}
	}

	mode, err := r.CompatibilityMode(subject)
	if err != nil {
		return nil, types.Result{}, err
	}

	candidate := compat.Candidate{Subject: subject, Type: schema.Type, Schema: schema.Schema, Hash: schema.Hash}
	result, err := r.evaluate(candidate, peers, mode)
	if err != nil {
		return nil, types.Result{}, err
	}
	if !result.Compatible {
		return nil, result, fmt.Errorf("%w: %d breaking violation(s)", types.ErrIncompatibleSchema, result.BreakingCount())
	}

	r.applyTransition(schema, next, actor, "promoted")
	if err := r.store(schema); err != nil {
		return nil, types.Result{}, err
	}

	ev := events.New(events.TypeSchemaActivated, subject)
	ev.SchemaID = schema.ID
	ev.Version = schema.Version.String()
	ev.Actor = actor
	r.publisher.Publish(ev)

	return schema, result, nil
}

// DeprecateRequest carries the migration guidance attached to a deprecation.
type DeprecateRequest struct {
	Reason         string
	SunsetAt       *time.Time
	MigrationGuide string
	ReplacementID  string
	Actor          string
}

// Deprecate marks an Active version as superseded. It remains readable and
// still participates in comparison sets until deleted.
func (r *Registry) Deprecate(subject, version string, req DeprecateRequest) (*types.Schema, error) {
	lock := r.subjectLock(subject)
	lock.Lock()
	defer lock.Unlock()

	schema, err := r.GetVersion(subject, version)
	if err != nil {
		return nil, err
	}

	next, err := schema.State.Transition(types.StateDeprecated)
	if err != nil {
		return nil, err
	}

	schema.Deprecation = &types.DeprecationInfo{
		Reason:         req.Reason,
		DeprecatedBy:   req.Actor,
		DeprecatedAt:   time.Now().UTC(),
		SunsetAt:       req.SunsetAt,
		MigrationGuide: req.MigrationGuide,
		ReplacementID:  req.ReplacementID,
	}
	r.applyTransition(schema, next, req.Actor, req.Reason)
	if err := r.store(schema); err != nil {
		return nil, err
	}

	ev := events.New(events.TypeSchemaDeprecated, subject)
	ev.SchemaID = schema.ID
	ev.Version = schema.Version.String()
	ev.Actor = req.Actor
	ev.Payload = map[string]interface{}{"reason": req.Reason}
	r.publisher.Publish(ev)

	return schema, nil
}

// DeleteVersion soft-deletes one version: the record stays stored as a
// tombstone so the version number remains burned, but it leaves all future
// comparison sets.
func (r *Registry) DeleteVersion(subject, version, actor, reason string) (*types.Schema, error) {
	lock := r.subjectLock(subject)
	lock.Lock()
	defer lock.Unlock()

	return r.deleteVersionLocked(subject, version, actor, reason)
}

func (r *Registry) deleteVersionLocked(subject, version, actor, reason string) (*types.Schema, error) {
	schema, err := r.GetVersion(subject, version)
	if err != nil {
		return nil, err
	}

	next, err := schema.State.Transition(types.StateDeleted)
	if err != nil {
		return nil, err
	}

	schema.Deletion = &types.DeletionInfo{
		Reason:    reason,
		DeletedBy: actor,
		DeletedAt: time.Now().UTC(),
	}
	r.applyTransition(schema, next, actor, reason)
	if err := r.store(schema); err != nil {
		return nil, err
	}

	ev := events.New(events.TypeSchemaDeleted, subject)
	ev.SchemaID = schema.ID
	ev.Version = schema.Version.String()
	ev.Actor = actor
	ev.Payload = map[string]interface{}{"reason": reason}
	r.publisher.Publish(ev)

	return schema, nil
}

// DeleteSubject soft-deletes every remaining non-Deleted version of a
// subject and returns the versions it retired.
func (r *Registry) DeleteSubject(subject, actor, reason string) ([]string, error) {
	lock := r.subjectLock(subject)
	lock.Lock()
	defer lock.Unlock()

	history, err := r.history(subject)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrSubjectNotFound, subject)
	}

	var deleted []string
	for _, s := range history {
		if s.State == types.StateDeleted {
			continue
		}
		if s.State == types.StateDraft {
			// Drafts were never promised to consumers; drop the record
			// outright rather than leaving a tombstone.
			if err := r.kvSchemas.Delete(versionKey(subject, s.Version)); err != nil {
				return nil, fmt.Errorf("delete draft version: %w", err)
			}
			deleted = append(deleted, s.Version.String())
			continue
		}
		if _, err := r.deleteVersionLocked(subject, s.Version.String(), actor, reason); err != nil {
			return nil, err
		}
		deleted = append(deleted, s.Version.String())
	}

	return deleted, nil
}

// SweepExpired deletes Deprecated versions whose sunset date has passed.
// Intended to run on a schedule.
func (r *Registry) SweepExpired(now time.Time) (int, error) {
	subjects, err := r.ListSubjects()
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, subject := range subjects {
		lock := r.subjectLock(subject)
		lock.Lock()
		history, err := r.history(subject)
		if err != nil {
			lock.Unlock()
			return swept, err
		}
		for _, s := range history {
			if s.State != types.StateDeprecated || s.Deprecation == nil || s.Deprecation.SunsetAt == nil {
				continue
			}
			if s.Deprecation.SunsetAt.After(now) {
				continue
			}
			if _, err := r.deleteVersionLocked(subject, s.Version.String(), sweeperActor, "sunset date passed"); err != nil {
				lock.Unlock()
				return swept, err
			}
			swept++
			sunsetSweeps.Inc()
		}
		lock.Unlock()
	}

	if swept > 0 {
		slog.Info("sunset sweep complete", "deleted", swept)
	}
	return swept, nil
}

// GetSchema retrieves a schema by its ID.
func (r *Registry) GetSchema(id string) (*types.Schema, error) {
	entry, err := r.kvSchemas.Get(keyPrefixSchemas + id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrSchemaNotFound, id)
		}
		return nil, fmt.Errorf("get schema %s: %w", id, err)
	}
	return unmarshalSchema(entry.Value())
}

// GetVersion retrieves a subject's version. "latest" resolves to the highest
// non-Deleted version.
func (r *Registry) GetVersion(subject, version string) (*types.Schema, error) {
	if version == "latest" {
		history, err := r.history(subject)
		if err != nil {
			return nil, err
		}
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].State != types.StateDeleted {
				return history[i], nil
			}
		}
		if len(history) == 0 {
			return nil, fmt.Errorf("%w: %s", types.ErrSubjectNotFound, subject)
		}
		return nil, fmt.Errorf("%w: %s latest", types.ErrVersionNotFound, subject)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid version %q", types.ErrVersionNotFound, version)
	}

	entry, err := r.kvSchemas.Get(versionKey(subject, v))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s version %s", types.ErrVersionNotFound, subject, version)
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return unmarshalSchema(entry.Value())
}

// ListSubjects returns every subject with at least one stored version,
// tombstones included.
func (r *Registry) ListSubjects() ([]string, error) {
	keys, err := r.keys()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefixSubjects) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(key, keyPrefixSubjects), "/")
		if len(parts) >= 3 {
			seen[parts[0]] = true
		}
	}

	subjects := make([]string, 0, len(seen))
	for subject := range seen {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// ListVersions returns a subject's version strings in ascending order.
func (r *Registry) ListVersions(subject string) ([]string, error) {
	history, err := r.history(subject)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrSubjectNotFound, subject)
	}

	versions := make([]string, len(history))
	for i, s := range history {
		versions[i] = s.Version.String()
	}
	return versions, nil
}

// LookupSchema finds the non-Deleted version of a subject whose content
// matches the given schema.
func (r *Registry) LookupSchema(subject, schemaStr string, schemaType types.SchemaType) (*types.Schema, error) {
	history, err := r.history(subject)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrSubjectNotFound, subject)
	}

	hash := types.Fingerprint(schemaStr)
	for i := len(history) - 1; i >= 0; i-- {
		s := history[i]
		if s.State != types.StateDeleted && s.Hash == hash && s.Type == schemaType {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no matching content under %s", types.ErrSchemaNotFound, subject)
}

// CompatibilityMode resolves the mode for a subject: subject override first,
// then the global setting, then the default.
func (r *Registry) CompatibilityMode(subject string) (types.CompatibilityMode, error) {
	if subject != "" && subject != "global" {
		entry, err := r.kvConfig.Get(keyPrefixSubjectConfig + subject)
		if err == nil {
			return types.ParseCompatibilityMode(string(entry.Value()))
		}
		if !errors.Is(err, nats.ErrKeyNotFound) {
			return "", fmt.Errorf("get subject config: %w", err)
		}
	}

	entry, err := r.kvConfig.Get(keyGlobalConfig)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return defaultCompatibilityMode, nil
		}
		return "", fmt.Errorf("get global config: %w", err)
	}
	return types.ParseCompatibilityMode(string(entry.Value()))
}

// SetCompatibilityMode stores the mode for a subject, or globally when
// subject is "global" or empty.
func (r *Registry) SetCompatibilityMode(subject string, mode types.CompatibilityMode) error {
	if _, err := types.ParseCompatibilityMode(string(mode)); err != nil {
		return err
	}

	key := keyGlobalConfig
	if subject != "" && subject != "global" {
		key = keyPrefixSubjectConfig + subject
	}

	_, err := r.kvConfig.Put(key, []byte(mode))
	return err
}

// Serialize frames data for the wire: magic byte, schema UUID, then the
// format-specific body.
func (r *Registry) Serialize(data interface{}, schemaID string) ([]byte, error) {
	schema, err := r.GetSchema(schemaID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(schemaID)
	if err != nil {
		return nil, fmt.Errorf("invalid schema ID %q: %w", schemaID, err)
	}

	format, ok := r.formats[schema.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedType, schema.Type)
	}

	body, err := format.Serialize(data, schema.Schema)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}

	out := make([]byte, wireHeaderLen+len(body))
	out[0] = MagicByte
	copy(out[1:wireHeaderLen], id[:])
	copy(out[wireHeaderLen:], body)
	return out, nil
}

// Deserialize reverses Serialize, resolving the schema from the embedded ID.
func (r *Registry) Deserialize(data []byte) (interface{}, error) {
	if len(data) < wireHeaderLen {
		return nil, fmt.Errorf("payload too short: %d bytes", len(data))
	}
	if data[0] != MagicByte {
		return nil, fmt.Errorf("invalid magic byte 0x%x", data[0])
	}

	id, err := uuid.FromBytes(data[1:wireHeaderLen])
	if err != nil {
		return nil, fmt.Errorf("invalid schema ID: %w", err)
	}

	schema, err := r.GetSchema(id.String())
	if err != nil {
		return nil, err
	}

	format, ok := r.formats[schema.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedType, schema.Type)
	}

	return format.Deserialize(data[wireHeaderLen:], schema.Schema)
}

// history loads every stored version of a subject, tombstones included,
// sorted by ascending semantic version.
func (r *Registry) history(subject string) ([]*types.Schema, error) {
	prefix := keyPrefixSubjects + subject + "/versions/"
	keys, err := r.keys()
	if err != nil {
		return nil, err
	}

	var history []*types.Schema
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := r.kvSchemas.Get(key)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		schema, err := unmarshalSchema(entry.Value())
		if err != nil {
			return nil, err
		}
		history = append(history, schema)
	}

	sort.Slice(history, func(i, j int) bool {
		return history[i].Version.LessThan(history[j].Version)
	})
	return history, nil
}

// nextVersion validates a requested version against everything the subject
// has ever used, or derives one by bumping the highest version's minor.
// Deleted versions count: a version number is never reused.
func (r *Registry) nextVersion(history []*types.Schema, requested string) (*semver.Version, error) {
	var highest *semver.Version
	if len(history) > 0 {
		highest = history[len(history)-1].Version
	}

	if requested != "" {
		v, err := semver.NewVersion(requested)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", requested, err)
		}
		if highest != nil && !v.GreaterThan(highest) {
			return nil, fmt.Errorf("%w: %s <= %s", types.ErrVersionNotIncreasing, v, highest)
		}
		return v, nil
	}

	if highest == nil {
		return semver.NewVersion("1.0.0")
	}
	next := highest.IncMinor()
	return &next, nil
}

func latestComparable(history []*types.Schema) *types.Schema {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Comparable() {
			return history[i]
		}
	}
	return nil
}

func (r *Registry) applyTransition(schema *types.Schema, next types.SchemaState, actor, reason string) {
	schema.Transitions = append(schema.Transitions, types.StateTransition{
		From:   schema.State,
		To:     next,
		Actor:  actor,
		Reason: reason,
		At:     time.Now().UTC(),
	})
	schema.State = next
}

func (r *Registry) store(schema *types.Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if _, err := r.kvSchemas.Put(keyPrefixSchemas+schema.ID, data); err != nil {
		return fmt.Errorf("store schema by ID: %w", err)
	}
	if _, err := r.kvSchemas.Put(versionKey(schema.Subject, schema.Version), data); err != nil {
		return fmt.Errorf("store schema by subject/version: %w", err)
	}
	return nil
}

func (r *Registry) keys() ([]string, error) {
	keys, err := r.kvSchemas.Keys()
	if err != nil && !errors.Is(err, nats.ErrNoKeysFound) {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (r *Registry) subjectLock(subject string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.subjects[subject]
	if !ok {
		lock = &sync.Mutex{}
		r.subjects[subject] = lock
	}
	return lock
}

func versionKey(subject string, version *semver.Version) string {
	return fmt.Sprintf("%s%s/versions/%s", keyPrefixSubjects, subject, version)
}

func unmarshalSchema(data []byte) (*types.Schema, error) {
	var schema types.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return &schema, nil
}
