package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Operation names, also used as pending-flag names
const (
	OpDeleteCartItem = "delete-cart-item"
	OpFlushCart      = "flush-cart"
	OpAddProduct     = "add-product"
	OpLogin          = "login-user"
	OpRegister       = "register-user"
)

// ResourceSellerList is the first key segment of every seller listing page
const ResourceSellerList = "seller-list"

var (
	KeyCartList      = NewKey("cart-list")
	KeyCartItemCount = NewKey("cart-item-count")
	KeySellerList    = NewKey(ResourceSellerList)
)

// Storefront wires the cache, the executor, the session and the role gate
// to the storefront REST backend
type Storefront struct {
	Cache    *QueryCache
	Executor *MutationExecutor
	Session  *SessionState
	Gate     *RoleGate

	client *Client
	opts   []Option
	log    *slog.Logger

	mu      sync.Mutex
	sellers *PaginationController[ProductCard]
	unbind  func()
}

// New creates a storefront client for the backend at baseURL. Sessions are
// persisted through sessions, in memory when nil.
func New(baseURL string, sessions SessionStore, opts ...Option) *Storefront {
	config := newConfig(opts)
	session := NewSessionState(sessions, opts...)
	cache := NewQueryCache(opts...)
	client := NewClient(baseURL, session, opts...)

	return &Storefront{
		Cache:    cache,
		Executor: NewMutationExecutor(client, cache, opts...),
		Session:  session,
		Gate:     NewRoleGate(session),
		client:   client,
		opts:     opts,
		log:      config.Logger,
	}
}

// CartListQuery lists the buyer's cart
func (s *Storefront) CartListQuery() Query {
	return Query{
		Key:          KeyCartList,
		RequiredRole: RoleBuyer,
		Fetch: func(ctx context.Context) (any, error) {
			var resp struct {
				CartItems []CartItem `json:"cartItems"`
			}
			if err := s.client.Do(ctx, http.MethodPost, "/cart/list", nil, &resp); err != nil {
				return nil, err
			}
			if resp.CartItems == nil {
				resp.CartItems = []CartItem{}
			}
			return resp.CartItems, nil
		},
	}
}

// CartItemCountQuery counts the buyer's cart lines
func (s *Storefront) CartItemCountQuery() Query {
	return Query{
		Key:          KeyCartItemCount,
		RequiredRole: RoleBuyer,
		Fetch: func(ctx context.Context) (any, error) {
			var resp struct {
				TotalCartItem int `json:"totalCartItem"`
			}
			if err := s.client.Do(ctx, http.MethodGet, "/cart/item/count", nil, &resp); err != nil {
				return nil, err
			}
			return resp.TotalCartItem, nil
		},
	}
}

// ObserveCartList subscribes to the cart list, gated on the buyer role
func (s *Storefront) ObserveCartList(listener Listener) (*Subscription, func()) {
	return s.Gate.Observe(s.Cache, s.CartListQuery(), listener)
}

// ObserveCartItemCount subscribes to the cart item count, gated on the buyer role
func (s *Storefront) ObserveCartItemCount(listener Listener) (*Subscription, func()) {
	return s.Gate.Observe(s.Cache, s.CartItemCountQuery(), listener)
}

// SellerProducts returns the seller listing controller, gated on the seller
// role. It is created on first use and shared afterwards.
func (s *Storefront) SellerProducts() *PaginationController[ProductCard] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sellers == nil {
		s.sellers = NewPaginationController(s.Cache, ResourceSellerList, s.fetchSellerPage, s.opts...)
		s.unbind = s.Gate.Bind(s.sellers, RoleSeller)
	}
	return s.sellers
}

func (s *Storefront) fetchSellerPage(ctx context.Context, page, limit int) (Page[ProductCard], error) {
	req := struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}{Page: page, Limit: limit}

	var resp struct {
		ProductList []ProductCard `json:"productList"`
		TotalPage   int           `json:"totalPage"`
	}
	if err := s.client.Do(ctx, http.MethodPost, "/product/seller/list", req, &resp); err != nil {
		return Page[ProductCard]{}, err
	}
	return Page[ProductCard]{Items: resp.ProductList, TotalPages: resp.TotalPage}, nil
}

// DeleteCartItemOp removes one cart line
func DeleteCartItemOp() Operation {
	return Operation{
		Name:        OpDeleteCartItem,
		Method:      http.MethodDelete,
		Path:        "/cart/item/delete/:id",
		Invalidates: []Key{KeyCartList, KeyCartItemCount},
	}
}

// FlushCartOp empties the cart
func FlushCartOp() Operation {
	return Operation{
		Name:        OpFlushCart,
		Method:      http.MethodDelete,
		Path:        "/cart/flush",
		Invalidates: []Key{KeyCartList, KeyCartItemCount},
	}
}

// AddProductOp creates a product; every seller listing page becomes stale
func AddProductOp() Operation {
	return Operation{
		Name:        OpAddProduct,
		Method:      http.MethodPost,
		Path:        "/product/add",
		Invalidates: []Key{KeySellerList},
	}
}

// RegisterOp creates an account
func RegisterOp() Operation {
	return Operation{
		Name:   OpRegister,
		Method: http.MethodPost,
		Path:   "/user/register",
	}
}

// DeleteCartItem removes the cart line id
func (s *Storefront) DeleteCartItem(ctx context.Context, id string) (Outcome, error) {
	return s.Executor.Execute(ctx, DeleteCartItemOp(), Invocation{ID: id})
}

// FlushCart removes every cart line
func (s *Storefront) FlushCart(ctx context.Context) (Outcome, error) {
	return s.Executor.Execute(ctx, FlushCartOp(), Invocation{})
}

// AddProduct creates a product
func (s *Storefront) AddProduct(ctx context.Context, in AddProductInput) (Outcome, error) {
	return s.Executor.Execute(ctx, AddProductOp(), Invocation{Payload: in})
}

// AddProductWithImage uploads image through uploader first and stores the
// returned URL on the product. A failed upload aborts the mutation.
func (s *Storefront) AddProductWithImage(ctx context.Context, in AddProductInput, uploader ImageUploader, filename string, image io.Reader) (Outcome, error) {
	if uploader != nil && image != nil {
		url, err := uploader.Upload(ctx, filename, image)
		if err != nil {
			s.log.Warn("image upload failed", slog.String("error", err.Error()))
			return Outcome{}, fmt.Errorf("image upload failed: %w", err)
		}
		in.Image = url
	}
	return s.AddProduct(ctx, in)
}

// Register creates an account; it does not log in
func (s *Storefront) Register(ctx context.Context, in RegisterInput) (Outcome, error) {
	return s.Executor.Execute(ctx, RegisterOp(), Invocation{Payload: in})
}

// Login authenticates and, on success, populates the session in one step.
// Queries gated on the new role start fetching right after.
func (s *Storefront) Login(ctx context.Context, in LoginInput) (Outcome, error) {
	op := Operation{
		Name:   OpLogin,
		Method: http.MethodPost,
		Path:   "/user/login",
		OnSuccess: func(out Outcome) error {
			var resp struct {
				AccessToken string `json:"accessToken"`
				UserDetails struct {
					FirstName string `json:"firstName"`
					Role      Role   `json:"role"`
				} `json:"userDetails"`
			}
			if err := json.Unmarshal(out.Data, &resp); err != nil {
				return fmt.Errorf("decode login response: %w", err)
			}
			if resp.AccessToken == "" {
				return errors.New("login response without access token")
			}

			if err := s.Session.Login(ctx, Session{
				AccessToken: resp.AccessToken,
				DisplayName: resp.UserDetails.FirstName,
				Role:        resp.UserDetails.Role,
			}); err != nil {
				return err
			}

			// Refetches under the new token; the previous user's data is gone
			s.Cache.Clear()
			return nil
		},
	}
	return s.Executor.Execute(ctx, op, Invocation{Payload: in})
}

// Logout clears the session and every cached entry
func (s *Storefront) Logout(ctx context.Context) error {
	if err := s.Session.Logout(ctx); err != nil {
		return err
	}
	s.Cache.Clear()
	return nil
}

// Close detaches the role gate and the seller listing
func (s *Storefront) Close() {
	s.mu.Lock()
	sellers, unbind := s.sellers, s.unbind
	s.sellers, s.unbind = nil, nil
	s.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	if sellers != nil {
		sellers.Close()
	}
	s.Gate.Close()
}
