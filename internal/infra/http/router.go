package http

import (
	"cmp"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Router is the registration surface the route layer sees. Per-route
// middleware runs in the order given, first outermost.
type Router interface {
	GET(path string, h http.HandlerFunc, mws ...Middleware)
	POST(path string, h http.HandlerFunc, mws ...Middleware)
	// Handle mounts h on path for every method.
	Handle(path string, h http.Handler)
	// Group registers the routes added by fn under prefix, behind mws.
	Group(prefix string, fn func(Router), mws ...Middleware)
	// Use appends router-wide middleware; call it before registering routes.
	Use(mws ...Middleware)
	Handler() http.Handler
	Walk(fn func(method, path string) error) error
}

type chiRouter struct {
	mux chi.Router
}

var _ Router = (*chiRouter)(nil)

// NewChiRouter returns a chi-backed Router that trusts X-Real-IP and
// X-Forwarded-For, and normalises slashes before matching.
func NewChiRouter() Router {
	mux := chi.NewRouter()
	mux.Use(chimw.RealIP, chimw.CleanPath, chimw.StripSlashes)
	return &chiRouter{mux: mux}
}

func (r *chiRouter) GET(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Method(http.MethodGet, path, chain(h, mws))
}

func (r *chiRouter) POST(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Method(http.MethodPost, path, chain(h, mws))
}

func (r *chiRouter) Handle(path string, h http.Handler) {
	r.mux.Handle(path, h)
}

func (r *chiRouter) Group(prefix string, fn func(Router), mws ...Middleware) {
	r.mux.Route(prefix, func(sub chi.Router) {
		for _, mw := range mws {
			sub.Use(mw)
		}
		fn(&chiRouter{mux: sub})
	})
}

func (r *chiRouter) Use(mws ...Middleware) {
	for _, mw := range mws {
		r.mux.Use(mw)
	}
}

func (r *chiRouter) Handler() http.Handler { return r.mux }

// Walk visits every registered route except chi's internal "/*" mounts.
func (r *chiRouter) Walk(fn func(method, path string) error) error {
	return chi.Walk(r.mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route == "/*" {
			return nil
		}
		return fn(method, route)
	})
}

func chain(h http.Handler, mws []Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RouteInfo is one registered method and path.
type RouteInfo struct {
	Method string
	Path   string
}

// CollectRoutes lists the router's routes sorted by path, then method.
func CollectRoutes(router Router) []RouteInfo {
	var routes []RouteInfo
	_ = router.Walk(func(method, path string) error {
		routes = append(routes, RouteInfo{Method: method, Path: path})
		return nil
	})
	slices.SortFunc(routes, func(a, b RouteInfo) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Method, b.Method))
	})
	return routes
}

// PrintRoutes writes one "METHOD path" line per route and a total.
func PrintRoutes(w io.Writer, routes []RouteInfo) {
	for _, r := range routes {
		fmt.Fprintf(w, "%-8s %s\n", r.Method, r.Path)
	}
	fmt.Fprintf(w, "%d routes\n", len(routes))
}
