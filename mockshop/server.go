// Package mockshop provides an in-memory e-commerce gateway: products,
// users, favourites, carts, orders and payments, reachable under both the
// service-prefix and the api-prefix path shapes.
package mockshop

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Options configure a Server. Zero values give a small healthy shop.
type Options struct {
	Products int           // catalogue size, default 20
	Users    int           // registered users, default 10
	FailRate float64       // fraction of requests answered with 500, 0..1
	Latency  time.Duration // upper bound of a random per-request delay
	Seed     int64
	Logger   *zap.Logger
}

// Server is the fake gateway.
type Server struct {
	mux      *http.ServeMux
	opts     Options
	log      *zap.Logger
	requests atomic.Int64
	failures atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand

	mu         sync.Mutex
	products   map[int]Product
	users      []User
	favourites map[[2]int]struct{}
	carts      map[int]Cart
	orders     map[int]Order
	payments   map[int]Payment
	nextCart   int
	nextOrder  int
	nextPay    int
}

type Product struct {
	ProductID    int     `json:"productId"`
	ProductTitle string  `json:"productTitle"`
	PriceUnit    float64 `json:"priceUnit"`
	Quantity     int     `json:"quantity"`
}

type User struct {
	UserID    int    `json:"userId"`
	FirstName string `json:"firstName"`
	Email     string `json:"email"`
}

type Cart struct {
	CartID int `json:"cartId"`
	UserID int `json:"userId"`
}

type CartRef struct {
	CartID int `json:"cartId"`
}

type Order struct {
	OrderID   int     `json:"orderId"`
	OrderDate string  `json:"orderDate"`
	OrderDesc string  `json:"orderDesc"`
	OrderFee  float64 `json:"orderFee"`
	Cart      CartRef `json:"cart"`
}

type OrderRef struct {
	OrderID int `json:"orderId"`
}

type Payment struct {
	PaymentID     int      `json:"paymentId"`
	IsPayed       bool     `json:"isPayed"`
	PaymentStatus string   `json:"paymentStatus"`
	Order         OrderRef `json:"order"`
}

type favourite struct {
	UserID    int    `json:"userId"`
	ProductID int    `json:"productId"`
	LikeDate  string `json:"likeDate"`
}

// collection is the list envelope every list endpoint answers with.
type collection struct {
	Collection interface{} `json:"collection"`
}

// NewServer creates a shop seeded with opts.Products products and
// opts.Users users, numbered from 1.
func NewServer(opts Options) *Server {
	if opts.Products <= 0 {
		opts.Products = 20
	}
	if opts.Users <= 0 {
		opts.Users = 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		mux:        http.NewServeMux(),
		opts:       opts,
		log:        opts.Logger,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		products:   make(map[int]Product, opts.Products),
		favourites: make(map[[2]int]struct{}),
		carts:      make(map[int]Cart),
		orders:     make(map[int]Order),
		payments:   make(map[int]Payment),
	}
	for i := 1; i <= opts.Products; i++ {
		s.products[i] = Product{
			ProductID:    i,
			ProductTitle: fmt.Sprintf("Product %d", i),
			PriceUnit:    float64(i) * 9.99,
			Quantity:     100,
		}
	}
	for i := 1; i <= opts.Users; i++ {
		s.users = append(s.users, User{
			UserID:    i,
			FirstName: fmt.Sprintf("User%d", i),
			Email:     fmt.Sprintf("user%d@example.com", i),
		})
	}
	s.registerHandlers()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// route registers h under /{service}/{endpoint} and /{endpoint}.
func (s *Server) route(service, endpoint string, h http.HandlerFunc) {
	wrapped := s.middleware(h)
	s.mux.HandleFunc("/"+service+"/"+endpoint, wrapped)
	s.mux.HandleFunc("/"+endpoint, wrapped)
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.route("product-service", "api/products", s.handleProducts)
	s.route("product-service", "api/products/", s.handleProduct)
	s.route("user-service", "api/users", s.handleUsers)
	s.route("favourite-service", "api/favourites", s.handleFavourites)
	s.route("order-service", "api/carts", s.handleCarts)
	s.route("order-service", "api/orders", s.handleOrders)
	s.route("payment-service", "api/payments", s.handlePayments)
}

// middleware counts requests, applies the configured latency and fails
// the configured fraction of them.
func (s *Server) middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)

		s.rngMu.Lock()
		fail := s.opts.FailRate > 0 && s.rng.Float64() < s.opts.FailRate
		var delay time.Duration
		if s.opts.Latency > 0 {
			delay = time.Duration(s.rng.Int63n(int64(s.opts.Latency)))
		}
		s.rngMu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			s.failures.Add(1)
			s.log.Debug("simulated failure", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			http.Error(w, "simulated failure", http.StatusInternalServerError)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.mu.Lock()
	list := make([]Product, 0, len(s.products))
	for i := 1; i <= s.opts.Products; i++ {
		if p, ok := s.products[i]; ok {
			list = append(list, p)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, collection{Collection: list})
}

// handleProduct serves GET .../api/products/{id}.
func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	idStr := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	p, ok := s.products[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.mu.Lock()
	list := append([]User(nil), s.users...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, collection{Collection: list})
}

// handleFavourites answers 409 when the user already likes the product.
func (s *Server) handleFavourites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var fav favourite
	if err := json.NewDecoder(r.Body).Decode(&fav); err != nil || fav.UserID <= 0 || fav.ProductID <= 0 {
		http.Error(w, "invalid favourite", http.StatusBadRequest)
		return
	}
	key := [2]int{fav.UserID, fav.ProductID}

	s.mu.Lock()
	_, dup := s.favourites[key]
	if !dup {
		s.favourites[key] = struct{}{}
	}
	s.mu.Unlock()

	if dup {
		http.Error(w, "favourite already exists", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, fav)
}

func (s *Server) handleCarts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		UserID int `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, "invalid cart", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.nextCart++
	cart := Cart{CartID: s.nextCart, UserID: req.UserID}
	s.carts[cart.CartID] = cart
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, cart)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		list := make([]Order, 0, len(s.orders))
		for i := 1; i <= s.nextOrder; i++ {
			if o, ok := s.orders[i]; ok {
				list = append(list, o)
			}
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, collection{Collection: list})

	case http.MethodPost:
		var o Order
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			http.Error(w, "invalid order", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		_, ok := s.carts[o.Cart.CartID]
		if ok {
			s.nextOrder++
			o.OrderID = s.nextOrder
			s.orders[o.OrderID] = o
		}
		s.mu.Unlock()
		if !ok {
			http.Error(w, "cart not found", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, o)

	default:
		methodNotAllowed(w)
	}
}

// handlePayments answers 409 when the order is already paid.
func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var p Payment
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid payment", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, known := s.orders[p.Order.OrderID]
	_, paid := s.payments[p.Order.OrderID]
	if known && !paid {
		s.nextPay++
		p.PaymentID = s.nextPay
		s.payments[p.Order.OrderID] = p
	}
	s.mu.Unlock()

	switch {
	case !known:
		http.Error(w, "order not found", http.StatusBadRequest)
	case paid:
		http.Error(w, "order already paid", http.StatusConflict)
	default:
		writeJSON(w, http.StatusCreated, p)
	}
}

// Stats is a snapshot of the shop's counters.
type Stats struct {
	Requests   int64
	Failures   int64
	Favourites int
	Carts      int
	Orders     int
	Payments   int
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Requests:   s.requests.Load(),
		Failures:   s.failures.Load(),
		Favourites: len(s.favourites),
		Carts:      len(s.carts),
		Orders:     len(s.orders),
		Payments:   len(s.payments),
	}
}

// RemoveProduct deletes a product so detail lookups for it return 404.
func (s *Server) RemoveProduct(id int) {
	s.mu.Lock()
	delete(s.products, id)
	s.mu.Unlock()
}
