package task

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"shopload/internal/core"
	"shopload/internal/gateway"
	"shopload/internal/idcache"
	"shopload/internal/stamp"
)

type reply struct {
	status int
	body   string
	err    error
}

// fakeDoer answers requests from a handler and records them.
type fakeDoer struct {
	mu       sync.Mutex
	requests []gateway.Request
	handler  func(req gateway.Request) reply
}

func (f *fakeDoer) Do(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	r := f.handler(req)
	if r.err != nil {
		return gateway.Response{Duration: time.Millisecond}, r.err
	}
	return gateway.Response{
		StatusCode: r.status,
		Body:       []byte(r.body),
		Duration:   5 * time.Millisecond,
	}, nil
}

func (f *fakeDoer) Requests() []gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Request(nil), f.requests...)
}

// routes maps "METHOD path" to a fixed reply; unknown routes get 404.
func routes(m map[string]reply) func(gateway.Request) reply {
	return func(req gateway.Request) reply {
		if r, ok := m[req.Method+" "+req.Path]; ok {
			return r
		}
		return reply{status: http.StatusNotFound, body: `{}`}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Report(e core.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

var allFeatures = Features{FavouriteWrites: true, OrderFlow: true}

func newCatalog(doer gateway.Doer, features Features) *Catalog {
	clock := core.NewFakeClock(time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC))
	return NewCatalog(doer, Options{
		Router:   gateway.Router{Mode: gateway.ServicePrefix},
		Caches:   idcache.NewSet(),
		Stamps:   stamp.NewSequence(clock),
		Features: features,
		Clock:    clock,
	})
}

func newScope(rep core.Reporter) *Scope {
	return &Scope{
		UserID:   1,
		Profile:  "test",
		Rng:      rand.New(rand.NewSource(1)),
		Reporter: rep,
	}
}

func bodyJSON(t *testing.T, req gateway.Request) []byte {
	t.Helper()
	b, err := json.Marshal(req.Body)
	require.NoError(t, err)
	return b
}

func TestRun_GatedTasksMakeNoCall(t *testing.T) {
	doer := &fakeDoer{handler: routes(nil)}
	rep := &recorder{}
	c := newCatalog(doer, Features{})
	sc := newScope(rep)
	sc.Session = Session{UserID: 7, OrderID: 3, CartID: 4}

	for _, tk := range []*Task{AddFavourite, CreateCart, CreateOrder, CreatePayment} {
		_, ran := c.Run(context.Background(), tk, sc)
		assert.False(t, ran, tk.Key)
	}

	assert.Empty(t, doer.Requests())
	assert.Empty(t, rep.Events())
}

func TestBrowseProducts_ReplacesProductCache(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"GET /product-service/api/products": {status: 200, body: `{"collection":[{"productId":11},{"productId":12}]}`},
	})}
	rep := &recorder{}
	c := newCatalog(doer, Features{})
	c.Caches().Products.Replace([]int{1, 2, 3})
	sc := newScope(rep)

	res, ran := c.Run(context.Background(), BrowseProducts, sc)

	require.True(t, ran)
	assert.True(t, res.Outcome.OK())
	assert.Equal(t, []int{11, 12}, c.Caches().Products.Snapshot())
	assert.Contains(t, []int{11, 12}, sc.Session.ProductID)

	events := rep.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "Browse Products", events[0].Name)
	assert.True(t, events[0].Success)
	assert.Equal(t, 5*time.Millisecond, events[0].Duration)
}

func TestBrowseProducts_EmptyCollectionFails(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"GET /product-service/api/products": {status: 200, body: `[]`},
	})}
	rep := &recorder{}
	c := newCatalog(doer, Features{})
	c.Caches().Products.Replace([]int{1, 2})

	_, ran := c.Run(context.Background(), BrowseProducts, newScope(rep))

	require.True(t, ran)
	assert.Equal(t, []int{1, 2}, c.Caches().Products.Snapshot())
	events := rep.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Equal(t, "no products returned", events[0].Error)
}

func TestViewProduct_EmptyCacheListsProductsFirst(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"GET /product-service/api/products":     {status: 200, body: `[{"productId":500},{"productId":501}]`},
		"GET /product-service/api/products/500": {status: 200, body: `{"productId":500}`},
		"GET /product-service/api/products/501": {status: 200, body: `{"productId":501}`},
	})}
	rep := &recorder{}
	c := newCatalog(doer, Features{})
	sc := newScope(rep)

	res, ran := c.Run(context.Background(), ViewProduct, sc)

	require.True(t, ran)
	assert.True(t, res.Outcome.OK())
	assert.Equal(t, []int{500, 501}, c.Caches().Products.Snapshot())
	assert.Contains(t, []int{500, 501}, sc.Session.ProductID)

	reqs := doer.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/product-service/api/products", reqs[0].Path)
	assert.Contains(t, []string{"/product-service/api/products/500", "/product-service/api/products/501"}, reqs[1].Path)

	events := rep.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "Browse Products", events[0].Name)
	assert.Equal(t, "View Product Details", events[1].Name)

	// A populated cache is not listed again.
	c.Run(context.Background(), ViewProduct, newScope(nil))
	assert.Len(t, doer.Requests(), 3)
}

func TestViewProduct_EmptyListingUsesFallbackRange(t *testing.T) {
	doer := &fakeDoer{handler: func(req gateway.Request) reply {
		if req.Path == "/product-service/api/products" {
			return reply{status: 200, body: `{"collection":[]}`}
		}
		return reply{status: http.StatusNotFound, body: `{}`}
	}}
	c := newCatalog(doer, Features{})

	for i := 0; i < 50; i++ {
		sc := newScope(nil)
		sc.Rng = rand.New(rand.NewSource(int64(i)))
		_, ran := c.Run(context.Background(), ViewProduct, sc)
		require.True(t, ran)
		assert.True(t, idcache.DefaultFallback.Contains(sc.Session.ProductID))
	}
	assert.Zero(t, c.Caches().Products.Len())
	var details int
	for _, req := range doer.Requests() {
		if strings.HasPrefix(req.Path, "/product-service/api/products/") {
			details++
		}
	}
	assert.Equal(t, 50, details)
}

func TestViewProduct_NotFoundIsToleratedAndRotates(t *testing.T) {
	doer := &fakeDoer{handler: routes(nil)}
	rep := &recorder{}
	c := newCatalog(doer, Features{})
	sc := newScope(rep)
	sc.Session.ProductID = 500

	res, ran := c.Run(context.Background(), ViewProduct, sc)

	require.True(t, ran)
	assert.Equal(t, "/product-service/api/products/500", doer.Requests()[0].Path)
	assert.True(t, res.Outcome.OK())
	assert.True(t, rep.Events()[0].Success)
	assert.True(t, rep.Events()[0].Tolerated)
	assert.True(t, idcache.DefaultFallback.Contains(sc.Session.ProductID))
}

func TestViewProduct_InvalidData(t *testing.T) {
	doer := &fakeDoer{handler: func(gateway.Request) reply {
		return reply{status: 200, body: `{"productTitle":"x"}`}
	}}
	rep := &recorder{}
	c := newCatalog(doer, Features{})
	sc := newScope(rep)
	sc.Session.ProductID = 3

	c.Run(context.Background(), ViewProduct, sc)

	assert.Equal(t, "invalid product data", rep.Events()[0].Error)
	assert.Equal(t, 3, sc.Session.ProductID)
}

func TestAddFavourite_ConflictIsSuccess(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"POST /favourite-service/api/favourites": {status: http.StatusConflict, body: `{}`},
	})}
	rep := &recorder{}
	c := newCatalog(doer, allFeatures)
	sc := newScope(rep)
	sc.Session = Session{UserID: 4, ProductID: 9}

	_, ran := c.Run(context.Background(), AddFavourite, sc)

	require.True(t, ran)
	require.Len(t, doer.Requests(), 1)
	body := bodyJSON(t, doer.Requests()[0])
	assert.EqualValues(t, 4, gjson.GetBytes(body, "userId").Int())
	assert.EqualValues(t, 9, gjson.GetBytes(body, "productId").Int())
	_, err := stamp.Parse(gjson.GetBytes(body, "likeDate").String())
	assert.NoError(t, err)
	assert.True(t, rep.Events()[0].Success)
}

func TestCartOrderPaymentChain(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"POST /order-service/api/carts":      {status: 201, body: `{"cartId": 42}`},
		"POST /order-service/api/orders":     {status: 201, body: `{"orderId": 99}`},
		"POST /payment-service/api/payments": {status: 201, body: `{"paymentId": 1}`},
	})}
	rep := &recorder{}
	c := newCatalog(doer, allFeatures)
	sc := newScope(rep)
	sc.Session.UserID = 7

	res, ran := c.Run(context.Background(), CreateCart, sc)
	require.True(t, ran)
	assert.Equal(t, 42, res.Outcome.ID)
	assert.Equal(t, 42, sc.Session.CartID)
	assert.JSONEq(t, `{"userId":7}`, string(bodyJSON(t, doer.Requests()[0])))

	_, ran = c.Run(context.Background(), CreateOrder, sc)
	require.True(t, ran)
	order := bodyJSON(t, doer.Requests()[1])
	assert.EqualValues(t, 42, gjson.GetBytes(order, "cart.cartId").Int())
	assert.True(t, gjson.GetBytes(order, "orderFee").Float() >= 50)
	assert.True(t, strings.HasPrefix(gjson.GetBytes(order, "orderDesc").String(), "Load test order "))
	assert.Equal(t, 99, sc.Session.OrderID)

	_, ran = c.Run(context.Background(), CreatePayment, sc)
	require.True(t, ran)
	require.Len(t, doer.Requests(), 3)
	assert.JSONEq(t,
		`{"isPayed":true,"paymentStatus":"COMPLETED","order":{"orderId":99}}`,
		string(bodyJSON(t, doer.Requests()[2])))

	names := []string{}
	for _, e := range rep.Events() {
		assert.True(t, e.Success, e.Name)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Create Cart", "Create Order", "Create Payment"}, names)
}

func TestCreateCart_NonNumericCartIDFails(t *testing.T) {
	doer := &fakeDoer{handler: func(gateway.Request) reply {
		return reply{status: 201, body: `{"cartId":"abc"}`}
	}}
	rep := &recorder{}
	c := newCatalog(doer, allFeatures)
	sc := newScope(rep)
	sc.Session.UserID = 7

	c.Run(context.Background(), CreateCart, sc)

	assert.Zero(t, sc.Session.CartID)
	assert.Equal(t, "missing cart id", rep.Events()[0].Error)
}

func TestCreateOrder_SkippedWithoutCart(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"GET /order-service/api/orders": {status: 200, body: `[{"orderId":1}]`},
	})}
	c := newCatalog(doer, allFeatures)

	_, ran := c.Run(context.Background(), CreateOrder, newScope(nil))

	assert.False(t, ran)
	reqs := doer.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "/order-service/api/orders", reqs[0].Path)
	assert.Zero(t, c.Caches().Carts.Len())
}

func TestCreateOrder_EmptyCacheListsOrdersForCart(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"GET /order-service/api/orders":  {status: 200, body: `[{"orderId":1,"cart":{"cartId":77}}]`},
		"POST /order-service/api/orders": {status: 201, body: `{"orderId":2}`},
	})}
	rep := &recorder{}
	c := newCatalog(doer, allFeatures)
	sc := newScope(rep)

	res, ran := c.Run(context.Background(), CreateOrder, sc)

	require.True(t, ran)
	assert.True(t, res.Outcome.OK())
	assert.Equal(t, []int{77}, c.Caches().Carts.Snapshot())
	assert.Equal(t, 77, sc.Session.CartID)
	assert.Equal(t, 2, sc.Session.OrderID)

	reqs := doer.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, http.MethodPost, reqs[1].Method)
	assert.EqualValues(t, 77, gjson.GetBytes(bodyJSON(t, reqs[1]), "cart.cartId").Int())

	names := []string{}
	for _, e := range rep.Events() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"View Orders", "Create Order"}, names)
}

func TestCreateOrder_UsesCachedCart(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"POST /order-service/api/orders": {status: 200, body: `{}`},
	})}
	c := newCatalog(doer, allFeatures)
	c.Caches().Carts.Replace([]int{8})
	sc := newScope(nil)

	res, ran := c.Run(context.Background(), CreateOrder, sc)

	require.True(t, ran)
	assert.True(t, res.Outcome.OK())
	assert.Equal(t, 8, sc.Session.CartID)
	assert.Zero(t, sc.Session.OrderID)
	assert.EqualValues(t, 8, gjson.GetBytes(bodyJSON(t, doer.Requests()[0]), "cart.cartId").Int())
}

func TestCreatePayment_SkippedWhenOrderCannotBeCreated(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"POST /order-service/api/orders": {status: 500, body: `{}`},
	})}
	rep := &recorder{}
	c := newCatalog(doer, allFeatures)
	sc := newScope(rep)
	sc.Session.CartID = 5

	_, ran := c.Run(context.Background(), CreatePayment, sc)

	assert.False(t, ran)
	reqs := doer.Requests()
	require.Len(t, reqs, 1, "exactly one order attempt")
	assert.Equal(t, "/order-service/api/orders", reqs[0].Path)
	events := rep.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "Create Order", events[0].Name)
	assert.Equal(t, "unexpected status 500", events[0].Error)
}

func TestCreatePayment_NoCartNoWrites(t *testing.T) {
	doer := &fakeDoer{handler: routes(nil)}
	c := newCatalog(doer, allFeatures)

	_, ran := c.Run(context.Background(), CreatePayment, newScope(nil))

	assert.False(t, ran)
	for _, req := range doer.Requests() {
		assert.Equal(t, http.MethodGet, req.Method, req.Path)
	}
}

func TestViewOrders_ReplacesCartCacheFromNestedCarts(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"GET /order-service/api/orders": {status: 200, body: `{"collection":[
			{"orderId":1,"cart":{"cartId":5}},
			{"orderId":2,"cartDto":{"cartId":6}},
			{"orderId":3,"cart":{"cartId":5}},
			{"orderId":4}
		]}`},
	})}
	c := newCatalog(doer, Features{})
	c.Caches().Carts.Replace([]int{100})

	_, ran := c.Run(context.Background(), ViewOrders, newScope(nil))

	require.True(t, ran)
	assert.Equal(t, []int{5, 6}, c.Caches().Carts.Snapshot())
}

func TestResolveUser_PopulatesFromUserListing(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"GET /user-service/api/users": {status: 200, body: `{"collection":[{"userId":3}]}`},
	})}
	rep := &recorder{}
	c := newCatalog(doer, Features{})

	first := newScope(rep)
	second := newScope(rep)
	assert.Equal(t, 3, c.ResolveUser(context.Background(), first))
	assert.Equal(t, 3, c.ResolveUser(context.Background(), second))

	assert.Len(t, doer.Requests(), 1)
	require.Len(t, rep.Events(), 1)
	assert.Equal(t, "List Users", rep.Events()[0].Name)
}

func TestResolveUser_FallsBackWhenListingFails(t *testing.T) {
	doer := &fakeDoer{handler: func(gateway.Request) reply {
		return reply{err: errors.New("connection refused")}
	}}
	c := newCatalog(doer, Features{})
	sc := newScope(nil)

	id := c.ResolveUser(context.Background(), sc)

	assert.True(t, idcache.DefaultFallback.Contains(id))
	assert.Equal(t, id, sc.Session.UserID)
	assert.Zero(t, c.Caches().Users.Len())
}

func TestRun_TransportErrorIsReportedAsFailure(t *testing.T) {
	doer := &fakeDoer{handler: func(gateway.Request) reply {
		return reply{err: errors.New("dial tcp: connection refused")}
	}}
	rep := &recorder{}
	c := newCatalog(doer, Features{})

	res, ran := c.Run(context.Background(), ViewOrders, newScope(rep))

	require.True(t, ran)
	assert.False(t, res.Outcome.OK())
	assert.Equal(t, "dial tcp: connection refused", rep.Events()[0].Error)
	assert.Zero(t, rep.Events()[0].StatusCode)
}

func TestRun_PrefixAndRouting(t *testing.T) {
	doer := &fakeDoer{handler: routes(map[string]reply{
		"GET /api/orders": {status: 200, body: `[]`},
	})}
	rep := &recorder{}
	c := NewCatalog(doer, Options{Router: gateway.Router{Mode: gateway.APIPrefix}})
	sc := newScope(rep)
	sc.Prefix = "[Read] "

	res, _ := c.Run(context.Background(), ViewOrders, sc)

	assert.Equal(t, "[Read] View Orders", res.Name)
	assert.Equal(t, "[Read] View Orders", rep.Events()[0].Name)
	assert.True(t, rep.Events()[0].Success)
}

func TestRun_CancelledBeforeStartIsSkipped(t *testing.T) {
	doer := &fakeDoer{handler: routes(nil)}
	c := newCatalog(doer, Features{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ran := c.Run(ctx, BrowseProducts, newScope(nil))

	assert.False(t, ran)
	assert.Empty(t, doer.Requests())
}

func TestRun_InFlightRequestOutlivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sawCancel bool
	doer := &fakeDoer{}
	doer.handler = func(gateway.Request) reply {
		cancel()
		return reply{status: 200, body: `[{"productId":1}]`}
	}
	inner := &ctxDoer{fakeDoer: doer, seen: &sawCancel}
	c := newCatalog(inner, Features{})

	res, ran := c.Run(ctx, BrowseProducts, newScope(nil))

	require.True(t, ran)
	assert.True(t, res.Outcome.OK())
	assert.False(t, sawCancel)
}

// ctxDoer records whether the request context was done after the handler ran.
type ctxDoer struct {
	*fakeDoer
	seen *bool
}

func (d *ctxDoer) Do(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	resp, err := d.fakeDoer.Do(ctx, req)
	*d.seen = ctx.Err() != nil
	return resp, err
}

type denyLimiter struct{}

func (denyLimiter) Wait(ctx context.Context) error { return context.Canceled }

func TestRun_LimiterRefusalSkips(t *testing.T) {
	doer := &fakeDoer{handler: routes(nil)}
	c := NewCatalog(doer, Options{Limiter: denyLimiter{}})

	_, ran := c.Run(context.Background(), BrowseProducts, newScope(nil))

	assert.False(t, ran)
	assert.Empty(t, doer.Requests())
}

func TestLookup(t *testing.T) {
	for _, tk := range All() {
		got, ok := Lookup(tk.Key)
		require.True(t, ok)
		assert.Same(t, tk, got)
	}
	_, ok := Lookup("checkout")
	assert.False(t, ok)
}
