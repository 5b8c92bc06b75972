package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	storefront "github.com/AnandSundar/go-storefront"
	"github.com/AnandSundar/go-storefront/internal/config"
)

var errUsage = errors.New("usage")

type app struct {
	cfg      *config.Config
	log      *slog.Logger
	out      io.Writer
	sessions storefront.SessionStore
	uploader storefront.ImageUploader
}

// printer shows mutation outcomes on the terminal
type printer struct {
	out io.Writer
}

func (p printer) Notify(n storefront.Notification) {
	if n.Kind == storefront.NotifyError {
		return
	}
	fmt.Fprintln(p.out, n.Message)
}

func httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	shop := newShop(a, a.out)
	defer shop.Close()

	if err := shop.Session.Hydrate(ctx); err != nil {
		return err
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, shop, rest)
	case "register":
		return a.register(ctx, shop, rest)
	case "logout":
		return shop.Logout(ctx)
	case "whoami":
		return a.whoami(shop)
	case "cart":
		return a.cart(ctx, shop)
	case "count":
		return a.count(ctx, shop)
	case "delete":
		if len(rest) != 1 {
			return errUsage
		}
		_, err := shop.DeleteCartItem(ctx, rest[0])
		return err
	case "flush":
		_, err := shop.FlushCart(ctx)
		return err
	case "products":
		return a.products(ctx, shop, rest)
	case "add-product":
		return a.addProduct(ctx, shop, rest)
	default:
		return errUsage
	}
}

func (a *app) login(ctx context.Context, shop *storefront.Storefront, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var in storefront.LoginInput
	fs.StringVar(&in.Email, "email", "", "account email")
	fs.StringVar(&in.Password, "password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if _, err := shop.Login(ctx, in); err != nil {
		return err
	}
	cur := shop.Session.Current()
	fmt.Fprintf(a.out, "Welcome, %s (%s)\n", cur.DisplayName, cur.Role)
	return nil
}

func (a *app) register(ctx context.Context, shop *storefront.Storefront, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var (
		in   storefront.RegisterInput
		role string
	)
	fs.StringVar(&in.Email, "email", "", "account email")
	fs.StringVar(&in.Password, "password", "", "8 to 20 characters")
	fs.StringVar(&in.FirstName, "first-name", "", "first name")
	fs.StringVar(&in.LastName, "last-name", "", "last name")
	fs.StringVar(&in.DOB, "dob", "", "date of birth, YYYY-MM-DD")
	fs.StringVar(&in.Gender, "gender", "", "male, female or other")
	fs.StringVar(&role, "role", string(storefront.RoleBuyer), "buyer or seller")
	fs.StringVar(&in.Address, "address", "", "postal address")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	in.Role = storefront.Role(role)

	_, err := shop.Register(ctx, in)
	return err
}

func (a *app) whoami(shop *storefront.Storefront) error {
	cur := shop.Session.Current()
	if !cur.Authenticated() {
		return storefront.ErrNoSession
	}
	fmt.Fprintf(a.out, "%s (%s)\n", cur.DisplayName, cur.Role)
	return nil
}

// await observes q through the role gate and waits for its first settled state
func (a *app) await(ctx context.Context, shop *storefront.Storefront, q storefront.Query) (storefront.Entry, error) {
	if !shop.Session.Current().Authenticated() {
		return storefront.Entry{}, storefront.ErrNoSession
	}
	if !shop.Gate.Enabled(q.RequiredRole) {
		return storefront.Entry{}, fmt.Errorf("this command requires the %s role", q.RequiredRole)
	}

	_, cancel := shop.Gate.Observe(shop.Cache, q, nil)
	defer cancel()

	e, err := shop.Cache.Await(ctx, q.Key)
	if err != nil {
		return e, err
	}
	if e.Status == storefront.StatusError {
		return e, errors.New(e.Err)
	}
	return e, nil
}

func (a *app) cart(ctx context.Context, shop *storefront.Storefront) error {
	e, err := a.await(ctx, shop, shop.CartListQuery())
	if err != nil {
		return err
	}

	items, _ := storefront.DataOf[[]storefront.CartItem](e)
	if len(items) == 0 {
		fmt.Fprintln(a.out, "Your cart is empty.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRODUCT\tBRAND\tPRICE\tQTY")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\n", it.ID, it.Product.Name, it.Product.Brand, it.Product.Price, it.OrderedQuantity)
	}
	fmt.Fprintf(w, "\t\t\tSubtotal\t%.2f\n", storefront.CartSubtotal(items))
	return w.Flush()
}

func (a *app) count(ctx context.Context, shop *storefront.Storefront) error {
	e, err := a.await(ctx, shop, shop.CartItemCountQuery())
	if err != nil {
		return err
	}
	n, _ := storefront.DataOf[int](e)
	fmt.Fprintln(a.out, n)
	return nil
}

func (a *app) products(ctx context.Context, shop *storefront.Storefront, args []string) error {
	fs := flag.NewFlagSet("products", flag.ContinueOnError)
	page := fs.Int("page", 1, "page number")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if !shop.Session.Current().Authenticated() {
		return storefront.ErrNoSession
	}
	if !shop.Gate.Enabled(storefront.RoleSeller) {
		return fmt.Errorf("this command requires the %s role", storefront.RoleSeller)
	}

	listing := shop.SellerProducts()
	changed := make(chan struct{}, 1)
	listing.OnChange(func(storefront.PaginationState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	// The page count is only known once the first page has loaded
	if err := waitSettled(ctx, listing, changed); err != nil {
		return err
	}
	listing.SetPage(*page)
	if err := waitSettled(ctx, listing, changed); err != nil {
		return err
	}

	st := listing.State()
	if st.Phase == storefront.PhaseErrored {
		return errors.New(st.Err)
	}
	if !listing.ShowPagination() {
		fmt.Fprintln(a.out, "No products yet.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBRAND\tPRICE")
	for _, p := range listing.Items() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", p.ID, p.Name, p.Brand, p.Price)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Page %d of %d\n", st.CurrentPage, st.TotalPages)
	return nil
}

// waitSettled blocks until the listing's current page loaded or failed
func waitSettled(ctx context.Context, listing *storefront.PaginationController[storefront.ProductCard], changed <-chan struct{}) error {
	for {
		switch listing.State().Phase {
		case storefront.PhaseLoaded, storefront.PhaseErrored:
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *app) addProduct(ctx context.Context, shop *storefront.Storefront, args []string) error {
	fs := flag.NewFlagSet("add-product", flag.ContinueOnError)
	var (
		in    storefront.AddProductInput
		image string
	)
	fs.StringVar(&in.Name, "name", "", "product name")
	fs.StringVar(&in.Brand, "brand", "", "brand")
	fs.Float64Var(&in.Price, "price", 0, "unit price")
	fs.IntVar(&in.Quantity, "quantity", 1, "stock")
	fs.StringVar(&in.Category, "category", "", "category")
	fs.StringVar(&in.Description, "description", "", "10 to 1000 characters")
	fs.BoolVar(&in.FreeShipping, "free-shipping", false, "ship for free")
	fs.StringVar(&image, "image", "", "image file to upload")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if image == "" {
		_, err := shop.AddProduct(ctx, in)
		return err
	}
	if a.uploader == nil {
		return errors.New("image upload is not configured")
	}

	f, err := os.Open(image)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = shop.AddProductWithImage(ctx, in, a.uploader, filepath.Base(image), f)
	return err
}
