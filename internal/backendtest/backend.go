// Package backendtest is an in-memory storefront REST backend for tests and
// local demos. It implements the endpoints the client consumes and lets tests
// inject failures, hold requests and count calls.
package backendtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Product is a catalog product
type Product struct {
	ID               string  `json:"_id"`
	SellerEmail      string  `json:"-"`
	Name             string  `json:"name"`
	Brand            string  `json:"brand"`
	Price            float64 `json:"price"`
	Quantity         int     `json:"quantity"`
	Category         string  `json:"category"`
	FreeShipping     bool    `json:"freeShipping"`
	Description      string  `json:"description"`
	ShortDescription string  `json:"shortDescription"`
	Image            string  `json:"image,omitempty"`
}

// CartLine is one line in a buyer's cart
type CartLine struct {
	ID              string  `json:"_id"`
	OrderedQuantity int     `json:"orderedQuantity"`
	Product         Product `json:"product"`
}

type user struct {
	Email     string
	Hash      string
	FirstName string
	Role      string
}

type fault struct {
	status  int
	message string
}

// Backend is the fake server state
type Backend struct {
	secret []byte
	log    *slog.Logger
	mux    *http.ServeMux

	mu       sync.Mutex
	users    map[string]*user
	carts    map[string][]CartLine
	products []Product
	calls    map[string]int
	faults   map[string][]fault
	holds    map[string]chan struct{}
}

// New creates an empty backend
func New(log *slog.Logger) *Backend {
	b := &Backend{
		secret: []byte(uuid.NewString()),
		log:    log,
		mux:    http.NewServeMux(),
		users:  make(map[string]*user),
		carts:  make(map[string][]CartLine),
		calls:  make(map[string]int),
		faults: make(map[string][]fault),
		holds:  make(map[string]chan struct{}),
	}
	b.registerRoutes()
	return b
}

// Start serves b on a random local port until the returned server is closed
func Start(log *slog.Logger) (*Backend, *httptest.Server) {
	b := New(log)
	return b, httptest.NewServer(b)
}

// ServeHTTP makes Backend an http.Handler
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

func (b *Backend) registerRoutes() {
	b.mux.HandleFunc("POST /user/register", b.wrap("register", b.register))
	b.mux.HandleFunc("POST /user/login", b.wrap("login", b.login))
	b.mux.HandleFunc("POST /cart/list", b.wrap("cart-list", b.auth("buyer", b.cartList)))
	b.mux.HandleFunc("GET /cart/item/count", b.wrap("cart-item-count", b.auth("buyer", b.cartCount)))
	b.mux.HandleFunc("DELETE /cart/item/delete/{id}", b.wrap("delete-cart-item", b.auth("buyer", b.deleteCartItem)))
	b.mux.HandleFunc("DELETE /cart/flush", b.wrap("flush-cart", b.auth("buyer", b.flushCart)))
	b.mux.HandleFunc("POST /product/add", b.wrap("add-product", b.auth("seller", b.addProduct)))
	b.mux.HandleFunc("POST /product/seller/list", b.wrap("seller-list", b.auth("seller", b.sellerList)))
}

// Calls returns how many requests reached the named route
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// FailNext makes the next request to route answer status with message
func (b *Backend) FailNext(route string, status int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[route] = append(b.faults[route], fault{status: status, message: message})
}

// Hold blocks requests to route until the returned func is called
func (b *Backend) Hold(route string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.holds[route] = ch
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.holds[route] == ch {
				delete(b.holds, route)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// SeedUser registers an account directly
func (b *Backend) SeedUser(email, password, firstName, role string) error {
	hash, err := argon2id.CreateHash(password, hashParams)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[email] = &user{Email: email, Hash: hash, FirstName: firstName, Role: role}
	return nil
}

// SeedCart places one line per product into the buyer's cart
func (b *Backend) SeedCart(email string, lines ...CartLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range lines {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		b.carts[email] = append(b.carts[email], l)
	}
}

// SeedProducts adds n generated products owned by seller
func (b *Backend) SeedProducts(seller string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.products = append(b.products, Product{
			ID:          uuid.NewString(),
			SellerEmail: seller,
			Name:        fmt.Sprintf("Product %d", len(b.products)+1),
			Brand:       "Acme",
			Price:       float64(10 + i),
			Quantity:    5,
			Category:    "electronics",
		})
	}
}

// Token issues an access token for email, as login would
func (b *Backend) Token(email string, ttl time.Duration) (string, error) {
	b.mu.Lock()
	u, ok := b.users[email]
	b.mu.Unlock()
	if !ok {
		return "", errors.New("unknown user")
	}
	return b.issue(u, ttl)
}

func (b *Backend) issue(u *user, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  u.Email,
		"role": u.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"jti":  uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

// hashParams keep test logins fast; this backend never guards real passwords
var hashParams = &argon2id.Params{
	Memory:      16 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, u *user)

// wrap counts calls, applies held requests and injected faults
func (b *Backend) wrap(route string, next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[route]++
		hold := b.holds[route]
		var f *fault
		if q := b.faults[route]; len(q) > 0 {
			f = &q[0]
			b.faults[route] = q[1:]
		}
		b.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}

		if f != nil {
			respond(w, f.status, map[string]string{"message": f.message})
			return
		}
		next(w, r)
	}
}

func (b *Backend) auth(role string, next handlerFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respond(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized."})
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return b.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			respond(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized."})
			return
		}

		email, _ := claims.GetSubject()
		b.mu.Lock()
		u, ok := b.users[email]
		b.mu.Unlock()
		if !ok {
			respond(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized."})
			return
		}
		if u.Role != role {
			respond(w, http.StatusForbidden, map[string]string{"message": "Access denied."})
			return
		}
		next(w, r, u)
	}
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		Role      string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"message": "Invalid request."})
		return
	}

	b.mu.Lock()
	_, exists := b.users[req.Email]
	b.mu.Unlock()
	if exists {
		respond(w, http.StatusConflict, map[string]string{"message": "User with this email already exists."})
		return
	}

	if err := b.SeedUser(req.Email, req.Password, req.FirstName, req.Role); err != nil {
		b.log.Error("hashing password", slog.String("error", err.Error()))
		respond(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error."})
		return
	}
	respond(w, http.StatusCreated, map[string]string{"message": "User is registered successfully."})
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"message": "Invalid request."})
		return
	}

	b.mu.Lock()
	u, ok := b.users[req.Email]
	b.mu.Unlock()
	if !ok {
		respond(w, http.StatusNotFound, map[string]string{"message": "Invalid credentials."})
		return
	}
	match, err := argon2id.ComparePasswordAndHash(req.Password, u.Hash)
	if err != nil || !match {
		respond(w, http.StatusNotFound, map[string]string{"message": "Invalid credentials."})
		return
	}

	token, err := b.issue(u, 24*time.Hour)
	if err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error."})
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"message":     "success",
		"accessToken": token,
		"userDetails": map[string]string{"firstName": u.FirstName, "role": u.Role},
	})
}

func (b *Backend) cartList(w http.ResponseWriter, _ *http.Request, u *user) {
	b.mu.Lock()
	lines := append([]CartLine{}, b.carts[u.Email]...)
	b.mu.Unlock()
	respond(w, http.StatusOK, map[string]any{"message": "success", "cartItems": lines})
}

func (b *Backend) cartCount(w http.ResponseWriter, _ *http.Request, u *user) {
	b.mu.Lock()
	n := len(b.carts[u.Email])
	b.mu.Unlock()
	respond(w, http.StatusOK, map[string]any{"message": "success", "totalCartItem": n})
}

func (b *Backend) deleteCartItem(w http.ResponseWriter, r *http.Request, u *user) {
	id := r.PathValue("id")

	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.carts[u.Email]
	for i, l := range lines {
		if l.ID == id {
			b.carts[u.Email] = append(lines[:i:i], lines[i+1:]...)
			respond(w, http.StatusOK, map[string]string{"message": "Cart item is removed successfully."})
			return
		}
	}
	respond(w, http.StatusNotFound, map[string]string{"message": "Cart item does not exist."})
}

func (b *Backend) flushCart(w http.ResponseWriter, _ *http.Request, u *user) {
	b.mu.Lock()
	delete(b.carts, u.Email)
	b.mu.Unlock()
	respond(w, http.StatusOK, map[string]string{"message": "Cart is cleared successfully."})
}

func (b *Backend) addProduct(w http.ResponseWriter, r *http.Request, u *user) {
	var p Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"message": "Invalid request."})
		return
	}
	p.ID = uuid.NewString()
	p.SellerEmail = u.Email
	if len(p.Description) > 200 {
		p.ShortDescription = p.Description[:200]
	} else {
		p.ShortDescription = p.Description
	}

	b.mu.Lock()
	b.products = append(b.products, p)
	b.mu.Unlock()
	respond(w, http.StatusCreated, map[string]string{"message": "Product is added successfully."})
}

func (b *Backend) sellerList(w http.ResponseWriter, r *http.Request, u *user) {
	var req struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Page < 1 || req.Limit < 1 {
		respond(w, http.StatusBadRequest, map[string]string{"message": "Invalid pagination data."})
		return
	}

	b.mu.Lock()
	var owned []Product
	for _, p := range b.products {
		if p.SellerEmail == u.Email {
			owned = append(owned, p)
		}
	}
	b.mu.Unlock()

	start := (req.Page - 1) * req.Limit
	page := []Product{}
	if start < len(owned) {
		end := min(start+req.Limit, len(owned))
		page = owned[start:end]
	}
	respond(w, http.StatusOK, map[string]any{
		"message":     "success",
		"productList": page,
		"totalPage":   ceilPages(len(owned), req.Limit),
	})
}

// ceilPages is the number of pages of size needed for count items
func ceilPages(count, size int) int {
	if size <= 0 || count <= 0 {
		return 0
	}
	return (count + size - 1) / size
}

func respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
