package task

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shopload/internal/classify"
	"shopload/internal/core"
	"shopload/internal/gateway"
	"shopload/internal/idcache"
	"shopload/internal/stamp"
)

// errNotIssued reports a fetch whose request the limiter refused.
var errNotIssued = errors.New("request not issued")

// Limiter throttles requests across all virtual users.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Options configures a Catalog. Zero values get working defaults.
type Options struct {
	Router          gateway.Router
	Caches          *idcache.Set
	Stamps          *stamp.Sequence
	Features        Features
	Limiter         Limiter
	Clock           core.Clock
	Logger          *zap.Logger
	ProductFallback idcache.Fallback
	UserFallback    idcache.Fallback
}

// Catalog executes tasks against the gateway. It is shared by every
// virtual user of a run; the only shared mutable state it reaches is the
// identifier cache set.
type Catalog struct {
	doer            gateway.Doer
	router          gateway.Router
	caches          *idcache.Set
	stamps          *stamp.Sequence
	features        Features
	limiter         Limiter
	clock           core.Clock
	log             *zap.Logger
	productFallback idcache.Fallback
	userFallback    idcache.Fallback
}

func NewCatalog(doer gateway.Doer, opts Options) *Catalog {
	c := &Catalog{
		doer:            doer,
		router:          opts.Router,
		caches:          opts.Caches,
		stamps:          opts.Stamps,
		features:        opts.Features,
		limiter:         opts.Limiter,
		clock:           opts.Clock,
		log:             opts.Logger,
		productFallback: opts.ProductFallback,
		userFallback:    opts.UserFallback,
	}
	if c.caches == nil {
		c.caches = idcache.NewSet()
	}
	if c.clock == nil {
		c.clock = core.RealClock{}
	}
	if c.stamps == nil {
		c.stamps = stamp.NewSequence(c.clock)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.productFallback == (idcache.Fallback{}) {
		c.productFallback = idcache.DefaultFallback
	}
	if c.userFallback == (idcache.Fallback{}) {
		c.userFallback = idcache.DefaultFallback
	}
	return c
}

func (c *Catalog) Features() Features {
	return c.features
}

func (c *Catalog) Caches() *idcache.Set {
	return c.caches
}

// Enabled reports whether t may run under the configured features.
func (c *Catalog) Enabled(t *Task) bool {
	return c.features.Allows(t.Gate)
}

// Run executes t for the virtual user owning sc. It returns false when the
// task was skipped, in which case no request was made and nothing was
// reported. Cancelling ctx stops a task that has not started its request;
// a request already issued runs to completion.
func (c *Catalog) Run(ctx context.Context, t *Task, sc *Scope) (Result, bool) {
	if !c.Enabled(t) {
		return Result{}, false
	}
	if ctx.Err() != nil {
		return Result{}, false
	}

	var spec Spec
	if t.Build != nil {
		var ok bool
		spec, ok = t.Build(ctx, c, sc)
		if !ok {
			c.log.Debug("task skipped, missing dependency",
				zap.String("task", t.Key),
				zap.Int("user", sc.UserID),
			)
			return Result{}, false
		}
	}

	resp, res, ok := c.execute(ctx, t, sc, spec)
	if !ok {
		return Result{}, false
	}
	if t.Apply != nil {
		t.Apply(c, sc, resp, res.Outcome)
	}
	return res, true
}

// execute performs the request and reports its outcome.
func (c *Catalog) execute(ctx context.Context, t *Task, sc *Scope, spec Spec) (gateway.Response, Result, bool) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return gateway.Response{}, Result{}, false
		}
	}

	req := gateway.Request{
		Name:   string(t.Op),
		Method: t.Method,
		Path:   c.router.Path(t.Service, t.Endpoint) + spec.Suffix,
		Body:   spec.Body,
	}
	resp, err := c.doer.Do(context.WithoutCancel(ctx), req)

	var out classify.Outcome
	if err != nil {
		out = classify.TransportFailure(err)
	} else {
		out = classify.Classify(t.Op, resp.StatusCode, resp.Body)
	}

	res := Result{
		Name:     sc.Prefix + string(t.Op),
		Op:       t.Op,
		Duration: resp.Duration,
		Outcome:  out,
	}
	if sc.Reporter != nil {
		sc.Reporter.Report(core.Event{
			UserID:     sc.UserID,
			Profile:    sc.Profile,
			Timestamp:  c.clock.Now(),
			Name:       res.Name,
			Duration:   resp.Duration,
			Success:    out.OK(),
			Tolerated:  out.Verdict == classify.Tolerated,
			Error:      out.Reason,
			StatusCode: out.StatusCode,
			BytesSent:  resp.BytesSent,
			BytesRecv:  resp.BytesRecv,
		})
	}
	return resp, res, true
}

// ResolveUser returns the session's backend user id, assigning one on first
// use: a cached user, else one from a fresh user listing, else a synthetic
// id.
func (c *Catalog) ResolveUser(ctx context.Context, sc *Scope) int {
	if sc.Session.UserID > 0 {
		return sc.Session.UserID
	}
	err := c.caches.Users.EnsurePopulated(ctx, c.fetchIDs(ListUsers, sc, func(body []byte) []int {
		return classify.CollectionIDs(body, classify.UserResource)
	}))
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("user cache unavailable, using synthetic id", zap.Error(err))
	}
	sc.Session.UserID = c.caches.Users.PickOr(sc.Rng, c.userFallback)
	return sc.Session.UserID
}

// productID returns the session product, assigning one when none is known
// yet. An empty product cache is filled from a product listing first; the
// synthetic range is used only when that yields nothing.
func (c *Catalog) productID(ctx context.Context, sc *Scope) int {
	if sc.Session.ProductID > 0 {
		return sc.Session.ProductID
	}
	err := c.caches.Products.EnsurePopulated(ctx, c.fetchIDs(BrowseProducts, sc, func(body []byte) []int {
		return classify.CollectionIDs(body, classify.ProductResource)
	}))
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("product cache unavailable, using synthetic id", zap.Error(err))
	}
	sc.Session.ProductID = c.caches.Products.PickOr(sc.Rng, c.productFallback)
	return sc.Session.ProductID
}

// cartID returns a cart for an order: the session cart, else one from the
// cart cache, which is filled from the order listing when empty.
func (c *Catalog) cartID(ctx context.Context, sc *Scope) (int, bool) {
	if sc.Session.CartID > 0 {
		return sc.Session.CartID, true
	}
	err := c.caches.Carts.EnsurePopulated(ctx, c.fetchIDs(ViewOrders, sc, orderCartIDs))
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("cart cache unavailable", zap.Error(err))
	}
	id, ok := c.caches.Carts.Get(sc.Rng)
	if !ok {
		return 0, false
	}
	sc.Session.CartID = id
	return id, true
}

// fetchIDs runs t once, reporting it like any other request, and extracts
// identifiers from a successful response.
func (c *Catalog) fetchIDs(t *Task, sc *Scope, extract func(body []byte) []int) idcache.FetchFunc {
	return func(ctx context.Context) ([]int, error) {
		resp, res, ok := c.execute(ctx, t, sc, Spec{})
		if !ok {
			return nil, errNotIssued
		}
		if !res.Outcome.OK() {
			return nil, fmt.Errorf("%s: %s", t.Op, res.Outcome.Reason)
		}
		return extract(resp.Body), nil
	}
}
