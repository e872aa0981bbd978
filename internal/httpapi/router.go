package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gwon-omega/server/internal/notify"
)

// NewRouter assembles the cart API. The SSE route sits outside the request
// timeout middleware: it is a deliberately long-lived connection.
func NewRouter(pipeline CartPipeline, notifier *notify.Notifier, requestTimeout time.Duration) *chi.Mux {
	cartHandler := NewCartHandler(pipeline, requestTimeout)
	eventsHandler := NewEventsHandler(notifier)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Compress(5))
	r.Use(HeaderAuthMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/cart", cartHandler.GetCart)
			r.Put("/cart", cartHandler.ReplaceCart)
			r.Delete("/cart", cartHandler.ClearCart)
			r.Post("/cart/items", cartHandler.AddItem)
			r.Put("/cart/items/{productID}", cartHandler.UpdateItem)
			r.Delete("/cart/items/{productID}", cartHandler.RemoveItem)
			r.Post("/cart/discount", cartHandler.ApplyDiscount)
			r.Delete("/cart/discount", cartHandler.RemoveDiscount)
		})

		r.Get("/events", eventsHandler.Stream)
	})

	return r
}
