package rbac

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/girderhq/girder/pkg/abac"
	"github.com/girderhq/girder/pkg/companies"
	"github.com/girderhq/girder/pkg/observability"
	"github.com/girderhq/girder/pkg/permissions"
)

var resolverTracer = otel.Tracer("girder/rbac/resolver")

// DefaultSnapshotTTL bounds how stale a cached snapshot can get if every
// explicit invalidation path fails.
const DefaultSnapshotTTL = 5 * time.Minute

// Resolver computes effective permissions and answers permission checks.
// Resolution results are cached per (company, user); concurrent misses for
// the same key are coalesced into a single computation.
type Resolver struct {
	store     *Store
	companies *companies.Store
	registry  *permissions.Registry
	cache     SnapshotCache
	logger    *observability.Logger
	metrics   *observability.Metrics
	ttl       time.Duration
	group     singleflight.Group
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// TTL overrides DefaultSnapshotTTL when > 0.
	TTL     time.Duration
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewResolver creates a resolver over the given stores. The cache must be
// the same instance the stores invalidate through.
func NewResolver(store *Store, companyStore *companies.Store, registry *permissions.Registry, cache SnapshotCache, opts ResolverOptions) *Resolver {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cache == nil {
		cache = NopCache{}
	}
	return &Resolver{
		store:     store,
		companies: companyStore,
		registry:  registry,
		cache:     cache,
		logger:    logger,
		metrics:   opts.Metrics,
		ttl:       ttl,
	}
}

// GetEffectivePermissions returns the (company, user) permission snapshot,
// from cache when possible. A cache backend failure degrades to
// recomputation, never to an error.
func (r *Resolver) GetEffectivePermissions(ctx context.Context, companyID, userID int64) (*PermissionSnapshot, error) {
	ctx, span := resolverTracer.Start(ctx, "GetEffectivePermissions", trace.WithAttributes(
		attribute.Int64("company_id", companyID),
		attribute.Int64("user_id", userID)))
	defer span.End()

	key := SnapshotKey{CompanyID: companyID, UserID: userID}

	snap, err := r.cache.Get(ctx, companyID, userID)
	if err != nil {
		r.logger.WithError(err).Warn("snapshot cache read failed, recomputing")
	}
	if snap != nil {
		r.countCache(true)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return snap, nil
	}
	r.countCache(false)
	span.SetAttributes(attribute.Bool("cache_hit", false))

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		// Another caller may have populated the cache while this one
		// waited on the flight lock.
		if snap, err := r.cache.Get(ctx, companyID, userID); err == nil && snap != nil {
			return snap, nil
		}
		return r.resolve(ctx, companyID, userID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot resolution failed")
		return nil, err
	}
	return v.(*PermissionSnapshot), nil
}

// resolve recomputes a snapshot from the stores and writes it to the cache.
func (r *Resolver) resolve(ctx context.Context, companyID, userID int64) (*PermissionSnapshot, error) {
	start := time.Now()

	assignments, err := r.store.ListActiveAssignments(ctx, companyID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	var sets [][]int
	roleIDs := make([]int64, 0, len(assignments))
	roleSets := make(map[int64][]int, len(assignments))
	for _, a := range assignments {
		set, err := r.store.ResolveRolePermissions(ctx, companyID, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %d: %w", a.RoleID, err)
		}
		if len(set) == 0 {
			continue
		}
		roleIDs = append(roleIDs, a.RoleID)
		roleSets[a.RoleID] = set
		sets = append(sets, set)
	}

	now := time.Now().UTC()
	snap := &PermissionSnapshot{
		CompanyID:   companyID,
		UserID:      userID,
		Permissions: unionPermissions(sets...),
		RoleIDs:     roleIDs,
		RoleSets:    roleSets,
		ComputedAt:  now,
		ExpiresAt:   now.Add(r.ttl),
	}

	if err := r.cache.Put(ctx, snap); err != nil {
		r.logger.WithError(err).Warn("snapshot cache write failed")
	}
	if r.metrics != nil {
		r.metrics.SnapshotResolutionDuration.Observe(time.Since(start).Seconds())
	}
	return snap, nil
}

// CheckPermission decides whether a user may exercise a permission within a
// company. An unknown permission ID is an error, not a denial; callers must
// be able to tell a misconfigured check apart from a denied one. Rule
// evaluation fails closed: an evaluation error counts as false.
func (r *Resolver) CheckPermission(ctx context.Context, companyID, userID int64, permissionID int, attrs map[string]any) (*Decision, error) {
	ctx, span := resolverTracer.Start(ctx, "CheckPermission", trace.WithAttributes(
		attribute.Int64("company_id", companyID),
		attribute.Int64("user_id", userID),
		attribute.Int("permission_id", permissionID)))
	defer span.End()

	d, err := r.checkPermission(ctx, companyID, userID, permissionID, attrs)
	return finishCheckSpan(span, d, err)
}

func (r *Resolver) checkPermission(ctx context.Context, companyID, userID int64, permissionID int, attrs map[string]any) (*Decision, error) {
	if _, err := r.registry.Lookup(permissionID); err != nil {
		return nil, fmt.Errorf("permission %d: %w", permissionID, err)
	}

	if d, err := r.checkCompanyActive(ctx, companyID); d != nil || err != nil {
		return d, err
	}

	snap, err := r.GetEffectivePermissions(ctx, companyID, userID)
	if err != nil {
		return nil, err
	}
	if !snap.Has(permissionID) {
		return r.deny("permission not granted"), nil
	}

	return r.applyGrants(ctx, companyID, snap, permissionID, attrs)
}

// applyGrants narrows an already-granted permission by the attribute rules
// attached to the contributing roles. No grants means the permission stands
// unconditionally. A role that grants the permission without a rule of its
// own also lets the check through, regardless of other roles' rules.
func (r *Resolver) applyGrants(ctx context.Context, companyID int64, snap *PermissionSnapshot, permissionID int, attrs map[string]any) (*Decision, error) {
	grants, err := r.store.GetActiveGrants(ctx, companyID, snap.RoleIDs, permissionID)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return r.allow("granted"), nil
	}

	ruled := make(map[int64]bool, len(grants))
	for _, g := range grants {
		ruled[g.RoleID] = true
	}
	for _, roleID := range snap.RoleIDs {
		if ruled[roleID] {
			continue
		}
		set, ok := snap.RoleSets[roleID]
		if !ok {
			// Cached snapshots from before role sets were recorded.
			set, err = r.store.ResolveRolePermissions(ctx, companyID, roleID)
			if err != nil {
				return nil, err
			}
		}
		for _, id := range set {
			if id == permissionID {
				return r.allow("granted"), nil
			}
		}
	}

	for _, g := range grants {
		ok, err := abac.Evaluate(g.Rule, attrs)
		if err != nil {
			r.logger.WithError(err).
				WithField("role_id", g.RoleID).
				WithField("permission_id", permissionID).
				Warn("rule evaluation failed, treating as denied")
			continue
		}
		if ok {
			return r.allow("rule satisfied"), nil
		}
	}
	return r.deny("rule not satisfied"), nil
}

// CheckProjectPermission decides a check against the union of company-wide
// and project-scoped permissions. Project assignments are explicit lists and
// carry no attribute rules; a project grant alone is enough inside its
// project.
func (r *Resolver) CheckProjectPermission(ctx context.Context, companyID, projectID, userID int64, permissionID int, attrs map[string]any) (*Decision, error) {
	ctx, span := resolverTracer.Start(ctx, "CheckProjectPermission", trace.WithAttributes(
		attribute.Int64("company_id", companyID),
		attribute.Int64("project_id", projectID),
		attribute.Int64("user_id", userID),
		attribute.Int("permission_id", permissionID)))
	defer span.End()

	d, err := r.checkProjectPermission(ctx, companyID, projectID, userID, permissionID, attrs)
	return finishCheckSpan(span, d, err)
}

func (r *Resolver) checkProjectPermission(ctx context.Context, companyID, projectID, userID int64, permissionID int, attrs map[string]any) (*Decision, error) {
	if _, err := r.registry.Lookup(permissionID); err != nil {
		return nil, fmt.Errorf("permission %d: %w", permissionID, err)
	}

	if d, err := r.checkCompanyActive(ctx, companyID); d != nil || err != nil {
		return d, err
	}

	snap, err := r.GetEffectivePermissions(ctx, companyID, userID)
	if err != nil {
		return nil, err
	}
	if snap.Has(permissionID) {
		return r.applyGrants(ctx, companyID, snap, permissionID, attrs)
	}

	projectPerms, err := r.store.GetProjectPermissions(ctx, companyID, projectID, userID)
	if err != nil {
		return nil, err
	}
	for _, id := range projectPerms {
		if id == permissionID {
			return r.allow("project assignment"), nil
		}
	}
	return r.deny("permission not granted"), nil
}

// checkCompanyActive returns a denial when the company is suspended or
// pending. All checks inside an inactive company fail, whatever the user's
// assignments say.
func (r *Resolver) checkCompanyActive(ctx context.Context, companyID int64) (*Decision, error) {
	company, err := r.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if !company.IsActive() {
		return r.deny(fmt.Sprintf("company %s", company.Status)), nil
	}
	return nil, nil
}

// finishCheckSpan annotates a check span with the decision outcome.
func finishCheckSpan(span trace.Span, d *Decision, err error) (*Decision, error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "permission check failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("allowed", d.Allowed),
		attribute.String("reason", d.Reason))
	span.SetStatus(codes.Ok, "checked")
	return d, nil
}

func (r *Resolver) allow(reason string) *Decision {
	r.countDecision("allow")
	return &Decision{Allowed: true, Reason: reason, CheckedAt: time.Now().UTC()}
}

func (r *Resolver) deny(reason string) *Decision {
	r.countDecision("deny")
	return &Decision{Allowed: false, Reason: reason, CheckedAt: time.Now().UTC()}
}

func (r *Resolver) countDecision(result string) {
	if r.metrics != nil {
		r.metrics.CheckDecisionsTotal.WithLabelValues(result).Inc()
	}
}

func (r *Resolver) countCache(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.CacheHitsTotal.WithLabelValues("snapshot").Inc()
	} else {
		r.metrics.CacheMissesTotal.WithLabelValues("snapshot").Inc()
	}
}
