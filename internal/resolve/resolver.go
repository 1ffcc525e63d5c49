// Package resolve turns raw extracted place text into the id of a canonical
// master place, creating and geocoding masters for names seen the first time.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/ppiankov/placemaster/internal/cache"
	"github.com/ppiankov/placemaster/internal/logging"
	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/normalize"
	"github.com/ppiankov/placemaster/internal/observability"
	"github.com/ppiankov/placemaster/internal/oracle"
	"github.com/ppiankov/placemaster/internal/store"
)

const (
	DefaultRejectThreshold = 0.7
	DefaultAcceptThreshold = 0.7
	DefaultCacheTTL        = time.Hour
)

// Store is the persistence the resolver needs.
// CreateMaster and CreateAlias must return store.ErrConflict when a unique key is taken,
// and lookups must return store.ErrNotFound on a miss.
type Store interface {
	FindAliasByKey(ctx context.Context, key string) (*model.Alias, error)
	FindMasterByKey(ctx context.Context, key string) (*model.MasterPlace, error)
	GetMaster(ctx context.Context, id string) (*model.MasterPlace, error)
	CreateMaster(ctx context.Context, m *model.MasterPlace) error
	AttachGeocode(ctx context.Context, id string, g model.Geocode) (bool, error)
	CreateAlias(ctx context.Context, a *model.Alias) error
	ListAliases(ctx context.Context, masterID string) ([]model.Alias, error)
	SetValidationStatus(ctx context.Context, id string, status model.ValidationStatus) error
	UngeocodedMasters(ctx context.Context, limit int) ([]model.MasterPlace, error)
	DeleteMaster(ctx context.Context, id string) error
}

// Result is the outcome of a successful resolve
type Result struct {
	MasterID string
	Created  bool   // True only for the call that inserted the master
	Key      string // Normalized lookup key
	Geocoded bool   // Coordinates attached during this call
}

// Options configures a Resolver. Nil oracles disable the corresponding step.
type Options struct {
	Validator oracle.Validator
	Geocoder  oracle.Geocoder

	// Cache maps normalized keys to master ids in front of the store.
	// It only holds positive, non-rejected hits and is never used for uniqueness.
	Cache    cache.Cache
	CacheTTL time.Duration

	RejectThreshold float64
	AcceptThreshold float64

	// FailOpen creates a pending master when the validator errors instead of failing the call
	FailOpen bool

	Normalizer *normalize.Normalizer
	Logger     *logging.Logger
	Metrics    *observability.Metrics
}

// Resolver implements find-or-create with at most one validation and one
// geocoding call per newly observed normalized name
type Resolver struct {
	store      Store
	normalizer *normalize.Normalizer
	validator  oracle.Validator
	geocoder   oracle.Geocoder

	cache    cache.Cache
	cacheTTL time.Duration

	rejectThreshold float64
	acceptThreshold float64
	failOpen        bool

	log     *logging.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	group singleflight.Group
}

// New creates a resolver over st
func New(st Store, opts Options) *Resolver {
	r := &Resolver{
		store:           st,
		normalizer:      opts.Normalizer,
		validator:       opts.Validator,
		geocoder:        opts.Geocoder,
		cache:           opts.Cache,
		cacheTTL:        opts.CacheTTL,
		rejectThreshold: opts.RejectThreshold,
		acceptThreshold: opts.AcceptThreshold,
		failOpen:        opts.FailOpen,
		log:             logging.OrNop(opts.Logger).With("component", "resolver"),
		metrics:         opts.Metrics,
		tracer:          observability.Tracer(),
		now:             func() time.Time { return time.Now().UTC() },
	}
	if r.normalizer == nil {
		r.normalizer = normalize.Default()
	}
	if r.rejectThreshold <= 0 {
		r.rejectThreshold = DefaultRejectThreshold
	}
	if r.acceptThreshold <= 0 {
		r.acceptThreshold = DefaultAcceptThreshold
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = DefaultCacheTTL
	}
	return r
}

// Resolve returns the master id for raw, creating the master on first sight.
//
// Errors: *InvalidInputError (ErrInvalidInput), *RejectedPlaceError (ErrRejectedPlace),
// *TransientOracleError (ErrTransientOracle). Geocoding failures never fail the call.
func (r *Resolver) Resolve(ctx context.Context, raw, sentence string) (Result, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "resolve")
	defer span.End()

	res, outcome, err := r.resolve(ctx, raw, sentence)

	r.metrics.RecordResolve(outcome, time.Since(start))
	span.SetAttributes(
		attribute.String("place.key", res.Key),
		attribute.String("resolve.outcome", outcome),
		attribute.Bool("resolve.created", res.Created),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, raw, sentence string) (Result, string, error) {
	key, err := r.normalizer.Normalize(raw)
	if err != nil {
		return Result{}, observability.OutcomeInvalid, &InvalidInputError{Raw: raw, Err: err}
	}

	res, outcome, found, err := r.lookup(ctx, key, raw)
	if err != nil || found {
		return res, outcome, err
	}

	return r.createShared(ctx, key, raw, sentence)
}

// lookup checks the cache, the alias store and the master store, in that order.
// found=false with a nil error is a miss.
func (r *Resolver) lookup(ctx context.Context, key, raw string) (Result, string, bool, error) {
	if id, ok := r.cachedMaster(key); ok {
		// The cache may be shared with, or lag behind, curation in other processes
		master, err := r.store.GetMaster(ctx, id)
		switch {
		case err == nil:
			if master.ValidationStatus == model.StatusRejected {
				r.forget(key)
				return Result{Key: key}, observability.OutcomeRejected, false, &RejectedPlaceError{Name: raw, Key: key, MasterID: master.ID}
			}
			return Result{MasterID: id, Key: key}, observability.OutcomeCacheHit, true, nil
		case errors.Is(err, store.ErrNotFound):
			r.forget(key)
		default:
			return Result{Key: key}, observability.OutcomeError, false, fmt.Errorf("load cached master %s: %w", id, err)
		}
	}

	alias, err := r.store.FindAliasByKey(ctx, key)
	switch {
	case err == nil:
		master, err := r.store.GetMaster(ctx, alias.MasterID)
		if err != nil {
			return Result{Key: key}, observability.OutcomeError, false, fmt.Errorf("load alias owner %s: %w", alias.MasterID, err)
		}
		return r.hit(key, raw, master, observability.OutcomeAliasHit)
	case !errors.Is(err, store.ErrNotFound):
		return Result{Key: key}, observability.OutcomeError, false, fmt.Errorf("alias lookup %q: %w", key, err)
	}

	master, err := r.store.FindMasterByKey(ctx, key)
	switch {
	case err == nil:
		return r.hit(key, raw, master, observability.OutcomeMasterHit)
	case errors.Is(err, store.ErrNotFound):
		return Result{Key: key}, "", false, nil
	default:
		return Result{Key: key}, observability.OutcomeError, false, fmt.Errorf("master lookup %q: %w", key, err)
	}
}

func (r *Resolver) hit(key, raw string, master *model.MasterPlace, outcome string) (Result, string, bool, error) {
	if master.ValidationStatus == model.StatusRejected {
		return Result{Key: key}, observability.OutcomeRejected, false, &RejectedPlaceError{Name: raw, Key: key, MasterID: master.ID}
	}
	r.remember(key, master.ID)
	return Result{MasterID: master.ID, Key: key}, outcome, true, nil
}

type flightResult struct {
	result  Result
	outcome string
}

// createShared collapses concurrent creations of the same key inside this process.
// Only the caller whose function ran reports Created.
func (r *Resolver) createShared(ctx context.Context, key, raw, sentence string) (Result, string, error) {
	for {
		leader := false
		ch := r.group.DoChan(key, func() (interface{}, error) {
			leader = true
			fr, err := r.create(ctx, key, raw, sentence)
			return fr, err
		})

		select {
		case <-ctx.Done():
			return Result{Key: key}, observability.OutcomeError, ctx.Err()
		case out := <-ch:
			if out.Err != nil {
				// The leader's context ended; retry on our own
				if !leader && ctx.Err() == nil && isContextError(out.Err) {
					continue
				}
				return Result{Key: key}, outcomeForError(out.Err), out.Err
			}
			fr := out.Val.(flightResult)
			if !leader {
				res := fr.result
				res.Created = false
				res.Geocoded = false
				return res, observability.OutcomeShared, nil
			}
			return fr.result, fr.outcome, nil
		}
	}
}

func (r *Resolver) create(ctx context.Context, key, raw, sentence string) (flightResult, error) {
	// Another worker or process may have created the key since our lookup
	res, outcome, found, err := r.lookup(ctx, key, raw)
	if err != nil {
		return flightResult{}, err
	}
	if found {
		return flightResult{result: res, outcome: outcome}, nil
	}

	status, meta, err := r.validate(ctx, key, raw, sentence)
	if err != nil {
		return flightResult{}, err
	}

	master := &model.MasterPlace{
		NormalizedName:   key,
		DisplayName:      strings.TrimSpace(raw),
		ValidationStatus: status,
		Metadata:         meta,
	}
	if err := r.store.CreateMaster(ctx, master); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return flightResult{}, fmt.Errorf("create master %q: %w", key, err)
		}

		// Lost the race to another writer: treat as a hit
		existing, err := r.store.FindMasterByKey(ctx, key)
		if err != nil {
			return flightResult{}, fmt.Errorf("re-read master %q after conflict: %w", key, err)
		}
		r.log.Debug("create conflict, using existing master", "key", key, "master_id", existing.ID)
		res, _, _, err := r.hit(key, raw, existing, observability.OutcomeConflict)
		if err != nil {
			return flightResult{}, err
		}
		return flightResult{result: res, outcome: observability.OutcomeConflict}, nil
	}

	r.remember(key, master.ID)
	r.log.Info("master created", "key", key, "master_id", master.ID, "status", status)

	geocoded := r.geocodeNew(ctx, master)
	return flightResult{
		result:  Result{MasterID: master.ID, Key: key, Created: true, Geocoded: geocoded},
		outcome: observability.OutcomeCreated,
	}, nil
}

// validate consults the validation oracle and returns the initial status for a new master
func (r *Resolver) validate(ctx context.Context, key, raw, sentence string) (model.ValidationStatus, datatypes.JSONMap, error) {
	if r.validator == nil {
		r.metrics.RecordValidation(observability.OutcomeSkipped)
		return model.StatusPending, nil, nil
	}

	ctx, span := r.tracer.Start(ctx, "validate")
	defer span.End()

	verdict, err := r.validator.Validate(ctx, raw, sentence)
	if err == nil && verdict == nil {
		err = errors.New("validator returned no verdict")
	}
	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", nil, ctxErr
		}
		r.metrics.RecordValidation(observability.OutcomeError)
		if r.failOpen {
			r.log.Warn("validation unavailable, creating pending master", "key", key, "error", err)
			return model.StatusPending, nil, nil
		}
		if oracle.IsTransient(err) {
			return "", nil, &TransientOracleError{Oracle: "validation", Err: err}
		}
		return "", nil, fmt.Errorf("validate %q: %w", raw, err)
	}

	span.SetAttributes(
		attribute.Bool("validation.valid", verdict.IsValid),
		attribute.Float64("validation.confidence", verdict.Confidence),
	)

	switch {
	case !verdict.IsValid && verdict.Confidence >= r.rejectThreshold:
		r.metrics.RecordValidation(observability.OutcomeRejected)
		r.log.Info("candidate rejected", "key", key, "confidence", verdict.Confidence, "reasoning", verdict.Reasoning)
		return "", nil, &RejectedPlaceError{Name: raw, Key: key, Confidence: verdict.Confidence, Reasoning: verdict.Reasoning}
	case verdict.IsValid && verdict.Confidence >= r.acceptThreshold:
		r.metrics.RecordValidation(observability.OutcomeAccepted)
		return model.StatusValidated, verdictMetadata(verdict), nil
	default:
		r.metrics.RecordValidation(observability.OutcomeUnsure)
		return model.StatusPending, verdictMetadata(verdict), nil
	}
}

func verdictMetadata(v *oracle.Validation) datatypes.JSONMap {
	meta := datatypes.JSONMap{
		"validation_valid":      v.IsValid,
		"validation_confidence": v.Confidence,
	}
	if v.Reasoning != "" {
		meta["validation_reasoning"] = v.Reasoning
	}
	if v.RegionSuggestion != "" {
		meta["region_suggestion"] = v.RegionSuggestion
	}
	return meta
}

// geocodeNew geocodes a freshly created master. Failures leave it ungeocoded.
func (r *Resolver) geocodeNew(ctx context.Context, master *model.MasterPlace) bool {
	if r.geocoder == nil {
		r.metrics.RecordGeocode(observability.OutcomeSkipped)
		return false
	}

	attached, err := r.geocodeMaster(ctx, master)
	switch {
	case err == nil:
		return attached
	case errors.Is(err, oracle.ErrNotFound):
		r.log.Debug("no geocoding match", "key", master.NormalizedName)
	case ctx.Err() != nil:
		r.log.Info("geocoding interrupted, master left ungeocoded", "key", master.NormalizedName, "master_id", master.ID)
	default:
		r.log.Warn("geocoding failed, master left ungeocoded", "key", master.NormalizedName, "error", err)
	}
	return false
}

func (r *Resolver) geocodeMaster(ctx context.Context, master *model.MasterPlace) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "geocode")
	defer span.End()

	res, err := r.geocoder.Geocode(ctx, master.DisplayName)
	if err != nil {
		if errors.Is(err, oracle.ErrNotFound) {
			r.metrics.RecordGeocode(observability.OutcomeNotFound)
		} else {
			r.metrics.RecordGeocode(observability.OutcomeError)
			span.RecordError(err)
		}
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	attached, err := r.store.AttachGeocode(ctx, master.ID, model.Geocode{
		Latitude:     res.Latitude,
		Longitude:    res.Longitude,
		Confidence:   res.Confidence,
		Source:       res.Source,
		At:           r.now(),
		PlaceType:    res.PlaceType,
		Prefecture:   res.Prefecture,
		Municipality: res.Municipality,
		District:     res.District,
	})
	if err != nil {
		r.metrics.RecordGeocode(observability.OutcomeError)
		return false, err
	}
	r.metrics.RecordGeocode(observability.OutcomeSuccess)
	span.SetAttributes(attribute.String("geocode.source", res.Source))
	return attached, nil
}

// AddAlias attaches aliasName to masterID. It is a no-op when the alias already
// resolves to masterID and fails with *DuplicateAliasError when it resolves elsewhere.
func (r *Resolver) AddAlias(ctx context.Context, masterID, aliasName string, aliasType model.AliasType, confidence float64) error {
	key, err := r.normalizer.Normalize(aliasName)
	if err != nil {
		return &InvalidInputError{Raw: aliasName, Err: err}
	}
	if aliasType == "" {
		aliasType = model.AliasVariant
	}
	if !aliasType.Valid() {
		return &InvalidInputError{Raw: aliasName, Err: fmt.Errorf("unknown alias type %q", aliasType)}
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return &InvalidInputError{Raw: aliasName, Err: fmt.Errorf("confidence %v outside [0,1]", confidence)}
	}

	if _, err := r.store.GetMaster(ctx, masterID); err != nil {
		return fmt.Errorf("add alias to %s: %w", masterID, err)
	}

	owner, err := r.owner(ctx, key)
	if err != nil {
		return err
	}
	switch owner {
	case masterID:
		return nil
	case "":
	default:
		return &DuplicateAliasError{Alias: aliasName, Key: key, ExistingMasterID: owner, MasterID: masterID}
	}

	alias := &model.Alias{
		MasterID:   masterID,
		AliasName:  strings.TrimSpace(aliasName),
		AliasKey:   key,
		AliasType:  aliasType,
		Confidence: confidence,
	}
	if err := r.store.CreateAlias(ctx, alias); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("add alias %q: %w", aliasName, err)
		}
		owner, ownerErr := r.owner(ctx, key)
		switch {
		case ownerErr != nil:
			return ownerErr
		case owner == masterID:
			return nil
		case owner != "":
			return &DuplicateAliasError{Alias: aliasName, Key: key, ExistingMasterID: owner, MasterID: masterID}
		default:
			return fmt.Errorf("add alias %q: %w", aliasName, err)
		}
	}

	r.remember(key, masterID)
	r.log.Info("alias added", "alias", aliasName, "key", key, "master_id", masterID, "type", aliasType)
	return nil
}

// owner returns the master id key currently resolves to, or "" when unknown
func (r *Resolver) owner(ctx context.Context, key string) (string, error) {
	alias, err := r.store.FindAliasByKey(ctx, key)
	if err == nil {
		return alias.MasterID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("alias lookup %q: %w", key, err)
	}

	master, err := r.store.FindMasterByKey(ctx, key)
	if err == nil {
		return master.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("master lookup %q: %w", key, err)
	}
	return "", nil
}

// SetStatus changes a master's curation state and drops its cached keys.
// The status is written first so a concurrent resolve cannot re-cache the old state.
func (r *Resolver) SetStatus(ctx context.Context, masterID string, status model.ValidationStatus) error {
	keys, err := r.cachedKeys(ctx, masterID)
	if err != nil {
		return err
	}
	if err := r.store.SetValidationStatus(ctx, masterID, status); err != nil {
		return err
	}
	r.forget(keys...)
	r.log.Info("master status changed", "master_id", masterID, "status", status)
	return nil
}

// DeleteMaster removes a master with its aliases and mentions and drops its cached keys
func (r *Resolver) DeleteMaster(ctx context.Context, masterID string) error {
	keys, err := r.cachedKeys(ctx, masterID)
	if err != nil {
		return err
	}
	if err := r.store.DeleteMaster(ctx, masterID); err != nil {
		return err
	}
	r.forget(keys...)
	return nil
}

// cachedKeys lists the lookup keys that may map to masterID in the cache
func (r *Resolver) cachedKeys(ctx context.Context, masterID string) ([]string, error) {
	master, err := r.store.GetMaster(ctx, masterID)
	if err != nil {
		return nil, err
	}
	if r.cache == nil {
		return nil, nil
	}
	aliases, err := r.store.ListAliases(ctx, masterID)
	if err != nil {
		return nil, err
	}
	keys := []string{master.NormalizedName}
	for _, a := range aliases {
		keys = append(keys, a.AliasKey)
	}
	return keys, nil
}

// Regeocode retries geocoding for one master that has no coordinates yet
func (r *Resolver) Regeocode(ctx context.Context, masterID string) (bool, error) {
	if r.geocoder == nil {
		return false, errors.New("geocoding is disabled")
	}
	master, err := r.store.GetMaster(ctx, masterID)
	if err != nil {
		return false, err
	}
	if master.HasCoordinates() {
		return false, nil
	}
	attached, err := r.geocodeMaster(ctx, master)
	if errors.Is(err, oracle.ErrNotFound) {
		return false, nil
	}
	return attached, err
}

// RegeocodeSummary reports a maintenance pass over ungeocoded masters
type RegeocodeSummary struct {
	Attempted int
	Geocoded  int
	NotFound  int
	Failed    int
}

// RegeocodePending retries geocoding for up to limit masters left without coordinates
func (r *Resolver) RegeocodePending(ctx context.Context, limit int) (RegeocodeSummary, error) {
	var sum RegeocodeSummary
	if r.geocoder == nil {
		return sum, errors.New("geocoding is disabled")
	}

	masters, err := r.store.UngeocodedMasters(ctx, limit)
	if err != nil {
		return sum, err
	}

	for i := range masters {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Attempted++
		attached, err := r.geocodeMaster(ctx, &masters[i])
		switch {
		case err == nil && attached:
			sum.Geocoded++
		case err == nil:
		case errors.Is(err, oracle.ErrNotFound):
			sum.NotFound++
		default:
			sum.Failed++
			r.log.Warn("regeocode failed", "master_id", masters[i].ID, "error", err)
		}
	}
	return sum, nil
}

func (r *Resolver) cachedMaster(key string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	val, ok := r.cache.Get(cache.MasterKey(key))
	r.metrics.RecordCache("master", ok)
	if !ok || len(val) == 0 {
		return "", false
	}
	return string(val), true
}

func (r *Resolver) remember(key, masterID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(cache.MasterKey(key), []byte(masterID), r.cacheTTL); err != nil {
		r.log.Debug("cache set failed", "key", key, "error", err)
	}
}

func (r *Resolver) forget(keys ...string) {
	if r.cache == nil {
		return
	}
	for _, key := range keys {
		_ = r.cache.Delete(cache.MasterKey(key))
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func outcomeForError(err error) string {
	switch {
	case errors.Is(err, ErrRejectedPlace):
		return observability.OutcomeRejected
	case errors.Is(err, ErrTransientOracle):
		return observability.OutcomeTransient
	case errors.Is(err, ErrInvalidInput):
		return observability.OutcomeInvalid
	default:
		return observability.OutcomeError
	}
}
