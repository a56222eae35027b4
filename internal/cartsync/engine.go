package cartsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/cartbridge/pkg/config"
	"github.com/angelmondragon/cartbridge/pkg/coreapi"
	pkgerrors "github.com/angelmondragon/cartbridge/pkg/errors"
	"github.com/angelmondragon/cartbridge/pkg/logger"
	"github.com/angelmondragon/cartbridge/pkg/metrics"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
)

// Refresh triggers used for metrics labels.
const (
	TriggerManual   = "manual"
	TriggerInitial  = "initial"
	TriggerIdentity = "identity_change"
	TriggerConfirm  = "confirm"
	TriggerFallback = "mutation_fallback"
	TriggerRemoval  = "removal"
)

const confirmRefreshTimeout = 10 * time.Second

var errAddLockBusy = errors.New("add mutation lock is busy")

// CoreClient is the slice of the core API surface the engine depends on.
type CoreClient interface {
	FetchCart(ctx context.Context, creds coreapi.Credentials) ([]byte, error)
	AddItem(ctx context.Context, creds coreapi.Credentials, params coreapi.AddItemParams) ([]byte, error)
	UpdateItem(ctx context.Context, creds coreapi.Credentials, itemID string, params coreapi.UpdateItemParams) ([]byte, error)
	RemoveItem(ctx context.Context, creds coreapi.Credentials, itemID string) error
}

// EngineParams wire one cart engine instance.
type EngineParams struct {
	Client  CoreClient
	Logger  *logger.Logger
	Metrics *metrics.EngineMetrics
	Config  config.EngineConfig
}

// Engine owns the reconciled projection of a single shopper's cart and
// keeps it converged against the authoritative upstream under concurrent
// mutations and background refreshes. All mutable state lives on the
// instance; Close releases pending timers.
type Engine struct {
	client  CoreClient
	store   *Store
	deb     *Debouncer
	norm    *Normalizer
	logg    *logger.Logger
	metrics *metrics.EngineMetrics
	cfg     config.EngineConfig

	addLock   *semaphore.Weighted
	addLocked atomic.Bool

	// pendingForce marks that the next successful fetch replaces the
	// projection unconditionally (identity just changed).
	pendingForce atomic.Bool

	mu            sync.Mutex
	ownerKey      string
	creds         coreapi.Credentials
	identityTimer *time.Timer
	confirmTimer  *time.Timer
	closed        bool
}

// NewEngine builds a cart engine backed by the provided stack.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("core client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := withEngineDefaults(params.Config)
	return &Engine{
		client:  params.Client,
		store:   NewStore(),
		deb:     NewDebouncer(cfg.MinRefreshInterval),
		norm:    NewNormalizer(params.Logger),
		logg:    params.Logger,
		metrics: params.Metrics,
		cfg:     cfg,
		addLock: semaphore.NewWeighted(1),
	}, nil
}

func withEngineDefaults(cfg config.EngineConfig) config.EngineConfig {
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = 500 * time.Millisecond
	}
	if cfg.IdentityDebounce <= 0 {
		cfg.IdentityDebounce = 100 * time.Millisecond
	}
	if cfg.LockRetryInterval <= 0 {
		cfg.LockRetryInterval = 200 * time.Millisecond
	}
	if cfg.LockRetryAttempts <= 0 {
		cfg.LockRetryAttempts = 3
	}
	if cfg.ConfirmRefreshDelay <= 0 {
		cfg.ConfirmRefreshDelay = time.Second
	}
	return cfg
}

// SetIdentity rebinds the engine to a new cart owner. Rapid successive
// changes coalesce into a single refresh; the old projection survives
// until the new identity's snapshot arrives.
func (e *Engine) SetIdentity(ownerKey string, creds coreapi.Credentials) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if ownerKey == e.ownerKey {
		// token rotation for the same owner, no refresh needed
		e.creds = creds
		return
	}
	initial := e.ownerKey == ""
	e.ownerKey = ownerKey
	e.creds = creds
	e.pendingForce.Store(true)

	if e.identityTimer != nil {
		e.identityTimer.Stop()
	}
	trigger := TriggerIdentity
	if initial {
		trigger = TriggerInitial
	}
	e.identityTimer = time.AfterFunc(e.cfg.IdentityDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), confirmRefreshTimeout)
		defer cancel()
		e.refresh(ctx, trigger, true)
	})
}

// Projection returns the current reconciled snapshot (nil when nothing has
// loaded yet) and whether a fetch is in flight.
func (e *Engine) Projection() (*Snapshot, bool) {
	return e.store.Get(), e.store.Loading()
}

// EnsureLoaded fetches synchronously when no projection exists yet. The
// fetch error comes back so callers can tell a failed first load from an
// empty cart.
func (e *Engine) EnsureLoaded(ctx context.Context) (*Snapshot, error) {
	if snap := e.store.Get(); snap != nil {
		return snap, nil
	}
	err := e.refresh(ctx, TriggerInitial, true)
	return e.store.Get(), err
}

// RequestRefresh asks for a background reconciliation. The request is
// dropped, not queued, when a mutation holds the lock, when a fetch is
// already in flight, or when one completed within the minimum interval.
func (e *Engine) RequestRefresh(ctx context.Context) error {
	return e.refresh(ctx, TriggerManual, false)
}

func (e *Engine) refresh(ctx context.Context, trigger string, force bool) error {
	// A held add lock defers every refresh, forced or not. The mutation
	// always schedules a confirmatory refresh, which reconciles (and
	// consumes any pending identity force-apply) after release.
	if e.addLocked.Load() {
		e.metrics.IncRefreshSuppressed(suppressMutation)
		return nil
	}
	ok, reason := e.deb.TryBegin(force)
	if !ok {
		e.metrics.IncRefreshSuppressed(reason)
		return nil
	}
	defer e.deb.End()
	e.metrics.IncRefreshPerformed(trigger)
	return e.fetch(ctx, trigger)
}

// fetch pulls the upstream cart and reconciles it into the store. Failures
// leave the existing projection untouched.
func (e *Engine) fetch(ctx context.Context, trigger string) error {
	e.store.SetLoading(true)
	defer e.store.SetLoading(false)

	start := time.Now()
	raw, err := e.client.FetchCart(ctx, e.credentials())
	if err != nil {
		e.metrics.ObserveFetch("failure", time.Since(start))
		lctx := e.logg.WithField(ctx, "trigger", trigger)
		e.logg.Warn(lctx, "cart fetch failed, keeping current projection")
		return err
	}
	e.metrics.ObserveFetch("success", time.Since(start))
	e.reconcile(ctx, raw)
	return nil
}

// reconcile normalizes a payload and installs it. Error-shaped and
// malformed payloads preserve the existing projection.
func (e *Engine) reconcile(ctx context.Context, raw []byte) {
	snap, err := e.norm.Normalize(ctx, raw)
	if err != nil {
		if !errors.Is(err, ErrUnchanged) {
			e.logg.Warn(e.logg.WithField(ctx, "parse_error", err.Error()), "unusable cart payload, keeping current projection")
		}
		return
	}
	if e.pendingForce.Swap(false) {
		e.store.Set(snap)
		return
	}
	e.store.Apply(snap)
}

// AddToCart serializes the network phase of add mutations behind a lock
// with a bounded wait: after LockRetryAttempts polls the call proceeds
// anyway, trading strict serialization for liveness.
func (e *Engine) AddToCart(ctx context.Context, productID string, quantity int, variantID string) (*Snapshot, error) {
	acquired := e.acquireAddLock(ctx)
	if acquired {
		e.addLocked.Store(true)
	}
	defer func() {
		if acquired {
			e.addLocked.Store(false)
			e.addLock.Release(1)
		}
		e.scheduleConfirmRefresh()
	}()

	productID = strings.TrimSpace(productID)
	if productID == "" {
		e.metrics.IncMutationFailure("add")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if quantity <= 0 {
		e.metrics.IncMutationFailure("add")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be a positive integer")
	}

	raw, err := e.client.AddItem(ctx, e.credentials(), coreapi.AddItemParams{
		ProductID:        productID,
		Quantity:         quantity,
		ProductVariantID: strings.TrimSpace(variantID),
	})
	if err != nil {
		e.metrics.IncMutationFailure("add")
		return nil, err
	}
	e.metrics.IncMutationSuccess("add")

	// The add response outranks any stale background refresh; apply it
	// immediately and only fall back to a full fetch when it carries no
	// usable cart.
	if !e.applyMutationPayload(ctx, raw) {
		e.fetchDirect(ctx, TriggerFallback)
	}
	return e.store.Get(), nil
}

// UpdateQuantity follows the simpler unlocked pattern: mutate, apply the
// response, or fall back to a refresh.
func (e *Engine) UpdateQuantity(ctx context.Context, itemID string, quantity int) (*Snapshot, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be a positive integer")
	}

	raw, err := e.client.UpdateItem(ctx, e.credentials(), itemID, coreapi.UpdateItemParams{Quantity: quantity})
	if err != nil {
		e.metrics.IncMutationFailure("update")
		return nil, err
	}
	e.metrics.IncMutationSuccess("update")
	if !e.applyMutationPayload(ctx, raw) {
		e.fetchDirect(ctx, TriggerFallback)
	}
	return e.store.Get(), nil
}

// RemoveItem treats an upstream not-found as a benign outcome: the item is
// already gone and a refresh reconciles the projection either way.
func (e *Engine) RemoveItem(ctx context.Context, itemID string) (*Snapshot, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}

	if err := e.client.RemoveItem(ctx, e.credentials(), itemID); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			e.logg.Info(e.logg.WithField(ctx, "item_id", itemID), "item already absent upstream")
		} else {
			e.metrics.IncMutationFailure("remove")
			return nil, err
		}
	} else {
		e.metrics.IncMutationSuccess("remove")
	}

	e.fetchDirect(ctx, TriggerRemoval)
	return e.store.Get(), nil
}

// Close stops pending timers. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.identityTimer != nil {
		e.identityTimer.Stop()
	}
	if e.confirmTimer != nil {
		e.confirmTimer.Stop()
	}
}

func (e *Engine) credentials() coreapi.Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creds
}

func (e *Engine) acquireAddLock(ctx context.Context) bool {
	backoff := retry.WithMaxRetries(uint64(e.cfg.LockRetryAttempts), retry.NewConstant(e.cfg.LockRetryInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if e.addLock.TryAcquire(1) {
			return nil
		}
		return retry.RetryableError(errAddLockBusy)
	})
	return err == nil
}

// fetchDirect bypasses the mutation and interval guards but never the
// single-flight guard; an in-flight fetch already serves the same purpose.
func (e *Engine) fetchDirect(ctx context.Context, trigger string) {
	ok, reason := e.deb.TryBegin(true)
	if !ok {
		e.metrics.IncRefreshSuppressed(reason)
		return
	}
	defer e.deb.End()
	e.metrics.IncRefreshPerformed(trigger)
	_ = e.fetch(ctx, trigger)
}

func (e *Engine) applyMutationPayload(ctx context.Context, raw []byte) bool {
	snap, err := e.norm.Normalize(ctx, raw)
	if err != nil || snap.Empty() {
		return false
	}
	if e.pendingForce.Swap(false) {
		e.store.Set(snap)
		return true
	}
	e.store.Apply(snap)
	return true
}

// scheduleConfirmRefresh reconciles server-side effects the immediate
// mutation response may not reflect, e.g. merged duplicate lines. If
// another mutation grabbed the lock before the delay fires, the refresh
// reschedules itself instead of firing into a locked state.
func (e *Engine) scheduleConfirmRefresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.confirmTimer != nil {
		e.confirmTimer.Stop()
	}
	e.confirmTimer = time.AfterFunc(e.cfg.ConfirmRefreshDelay, e.confirmRefresh)
}

func (e *Engine) confirmRefresh() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.addLocked.Load() {
		e.confirmTimer = time.AfterFunc(e.cfg.ConfirmRefreshDelay, e.confirmRefresh)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), confirmRefreshTimeout)
	defer cancel()
	e.refresh(ctx, TriggerConfirm, false)
}
