// Package task defines the named operations a virtual user performs against
// the gateway and runs them: build the request from session and cache
// state, call, classify, report, then fold the result back.
package task

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"shopload/internal/classify"
	"shopload/internal/gateway"
)

// Spec is the variable part of a request produced by a task's Build hook.
type Spec struct {
	Suffix string // appended to the endpoint path, e.g. "/42"
	Body   any
}

// Task describes one HTTP operation. Tasks are immutable and shared by all
// virtual users; per-user state lives in the Scope passed to the hooks.
type Task struct {
	Key      string // configuration name, e.g. "browse"
	Op       classify.Operation
	Method   string
	Service  string
	Endpoint string
	Gate     Gate

	// Build returns false to skip the task without a request, for example
	// when a required identifier is unavailable. Nil means no suffix or body.
	Build func(ctx context.Context, c *Catalog, sc *Scope) (Spec, bool)

	// Apply folds the outcome back into the session and shared caches.
	Apply func(c *Catalog, sc *Scope, resp gateway.Response, out classify.Outcome)
}

// Result is the transient outcome of one executed task.
type Result struct {
	Name     string // metric name including the profile prefix
	Op       classify.Operation
	Duration time.Duration
	Outcome  classify.Outcome
}

type favouriteBody struct {
	UserID    int    `json:"userId"`
	ProductID int    `json:"productId"`
	LikeDate  string `json:"likeDate"`
}

type cartBody struct {
	UserID int `json:"userId"`
}

type cartRef struct {
	CartID int `json:"cartId"`
}

type orderBody struct {
	OrderDate string  `json:"orderDate"`
	OrderDesc string  `json:"orderDesc"`
	OrderFee  float64 `json:"orderFee"`
	Cart      cartRef `json:"cart"`
}

type orderRef struct {
	OrderID int `json:"orderId"`
}

type paymentBody struct {
	IsPayed       bool     `json:"isPayed"`
	PaymentStatus string   `json:"paymentStatus"`
	Order         orderRef `json:"order"`
}

// browseSampleSize bounds which of the listed products a browse picks as
// the session product, favouring the head of the list like a real shopper.
const browseSampleSize = 11

var BrowseProducts = &Task{
	Key:      "browse",
	Op:       classify.BrowseProducts,
	Method:   http.MethodGet,
	Service:  "product-service",
	Endpoint: "api/products",
	Apply: func(c *Catalog, sc *Scope, resp gateway.Response, out classify.Outcome) {
		if out.Verdict != classify.Success {
			return
		}
		ids := classify.CollectionIDs(resp.Body, classify.ProductResource)
		if len(ids) == 0 {
			return
		}
		c.caches.Products.Replace(ids)
		sc.Session.ProductID = ids[sc.Rng.Intn(min(len(ids), browseSampleSize))]
	},
}

var ViewProduct = &Task{
	Key:      "detail",
	Op:       classify.ViewProduct,
	Method:   http.MethodGet,
	Service:  "product-service",
	Endpoint: "api/products",
	Build: func(ctx context.Context, c *Catalog, sc *Scope) (Spec, bool) {
		id := c.productID(ctx, sc)
		return Spec{Suffix: fmt.Sprintf("/%d", id)}, true
	},
	Apply: func(c *Catalog, sc *Scope, _ gateway.Response, out classify.Outcome) {
		switch out.Verdict {
		case classify.Tolerated:
			// Not found: try a different candidate next time.
			sc.Session.ProductID = c.caches.Products.PickOr(sc.Rng, c.productFallback)
		case classify.Success:
			sc.Session.ProductID = out.ID
		}
	},
}

var AddFavourite = &Task{
	Key:      "favourite",
	Op:       classify.AddFavourite,
	Method:   http.MethodPost,
	Service:  "favourite-service",
	Endpoint: "api/favourites",
	Gate:     FavouriteWrites,
	Build: func(ctx context.Context, c *Catalog, sc *Scope) (Spec, bool) {
		return Spec{Body: favouriteBody{
			UserID:    c.ResolveUser(ctx, sc),
			ProductID: c.productID(ctx, sc),
			LikeDate:  c.stamps.Next(),
		}}, true
	},
}

var CreateCart = &Task{
	Key:      "cart",
	Op:       classify.CreateCart,
	Method:   http.MethodPost,
	Service:  "order-service",
	Endpoint: "api/carts",
	Gate:     OrderFlow,
	Build: func(ctx context.Context, c *Catalog, sc *Scope) (Spec, bool) {
		return Spec{Body: cartBody{UserID: c.ResolveUser(ctx, sc)}}, true
	},
	Apply: func(_ *Catalog, sc *Scope, _ gateway.Response, out classify.Outcome) {
		if out.Verdict == classify.Success {
			sc.Session.CartID = out.ID
		}
	},
}

// CreateOrder never creates a cart itself. It takes the session cart or one
// from the cart cache, listing orders to fill an empty cache, and is skipped
// when neither yields a cart.
var CreateOrder = &Task{
	Key:      "createOrder",
	Op:       classify.CreateOrder,
	Method:   http.MethodPost,
	Service:  "order-service",
	Endpoint: "api/orders",
	Gate:     OrderFlow,
	Build: func(ctx context.Context, c *Catalog, sc *Scope) (Spec, bool) {
		cartID, ok := c.cartID(ctx, sc)
		if !ok {
			return Spec{}, false
		}
		return Spec{Body: orderBody{
			OrderDate: c.stamps.Next(),
			OrderDesc: "Load test order " + uuid.NewString()[:8],
			OrderFee:  orderFee(sc),
			Cart:      cartRef{CartID: cartID},
		}}, true
	},
	Apply: func(_ *Catalog, sc *Scope, _ gateway.Response, out classify.Outcome) {
		if out.Verdict == classify.Success && out.ID > 0 {
			sc.Session.OrderID = out.ID
		}
	},
}

var ViewOrders = &Task{
	Key:      "viewOrders",
	Op:       classify.ViewOrders,
	Method:   http.MethodGet,
	Service:  "order-service",
	Endpoint: "api/orders",
	Apply: func(c *Catalog, _ *Scope, resp gateway.Response, out classify.Outcome) {
		if out.Verdict != classify.Success {
			return
		}
		if ids := orderCartIDs(resp.Body); len(ids) > 0 {
			c.caches.Carts.Replace(ids)
		}
	},
}

// orderCartIDs extracts the distinct cart ids referenced by an order listing.
func orderCartIDs(body []byte) []int {
	return classify.NestedIDs(body, classify.OrderResource, "cart.cartId", "cartDto.cartId")
}

// CreatePayment pays the session's most recent order. With none known it
// makes exactly one Create Order attempt first and is skipped if that does
// not yield an order id.
var CreatePayment = &Task{
	Key:      "payment",
	Op:       classify.CreatePayment,
	Method:   http.MethodPost,
	Service:  "payment-service",
	Endpoint: "api/payments",
	Gate:     OrderFlow,
	Build: func(ctx context.Context, c *Catalog, sc *Scope) (Spec, bool) {
		if sc.Session.OrderID == 0 {
			c.Run(ctx, CreateOrder, sc)
		}
		if sc.Session.OrderID == 0 {
			return Spec{}, false
		}
		return Spec{Body: paymentBody{
			IsPayed:       true,
			PaymentStatus: "COMPLETED",
			Order:         orderRef{OrderID: sc.Session.OrderID},
		}}, true
	},
	Apply: func(_ *Catalog, sc *Scope, _ gateway.Response, out classify.Outcome) {
		// A paid order cannot be paid again.
		if out.Verdict == classify.Success {
			sc.Session.OrderID = 0
		}
	},
}

var ListUsers = &Task{
	Key:      "listUsers",
	Op:       classify.ListUsers,
	Method:   http.MethodGet,
	Service:  "user-service",
	Endpoint: "api/users",
	Apply: func(c *Catalog, _ *Scope, resp gateway.Response, out classify.Outcome) {
		if out.Verdict != classify.Success {
			return
		}
		if ids := classify.CollectionIDs(resp.Body, classify.UserResource); len(ids) > 0 {
			c.caches.Users.Replace(ids)
		}
	},
}

// All returns every task in catalog order.
func All() []*Task {
	return []*Task{
		BrowseProducts, ViewProduct, AddFavourite, CreateCart,
		CreateOrder, ViewOrders, CreatePayment, ListUsers,
	}
}

// Lookup finds a task by its configuration key.
func Lookup(key string) (*Task, bool) {
	for _, t := range All() {
		if t.Key == key {
			return t, true
		}
	}
	return nil, false
}

func orderFee(sc *Scope) float64 {
	fee := 50 + sc.Rng.Float64()*450
	return math.Round(fee*100) / 100
}
