package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/aidchat/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Handler        *Handler
	Verifier       TokenVerifier
	WS             http.HandlerFunc
	Sessions       func() int
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareTracing)
	r.Use(httputil.MiddlewareLogging)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{HeaderNextCursor, httputil.HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if d.Sessions != nil {
			body["sessions"] = d.Sessions()
		}
		httputil.OK(w, body)
	})

	// WS endpoint: аутентификация внутри соединения
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}

	h := d.Handler
	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(d.RequestTimeout))

		api.Post("/register", h.Register)
		api.Post("/login", h.Login)

		// лента активностей читается без входа
		api.Get("/activities", h.ListActivities)
		api.Get("/reports", h.ListActivities)

		api.Group(func(pr chi.Router) {
			pr.Use(AuthMiddleware(d.Verifier))

			pr.Get("/profile/{id}", h.GetProfile)
			pr.Put("/profile", h.UpdateProfile)

			pr.Post("/activities", h.PostActivity)
			pr.Post("/reports", h.PostActivity)
			pr.Post("/validate-address", h.ValidateAddress)

			pr.Route("/groups", func(gr chi.Router) {
				gr.Get("/", h.MyGroups)
				gr.Post("/", h.CreateGroup)
				gr.Get("/discover", h.Discover)
				gr.Post("/join", h.JoinGroup)
				gr.Post("/leave", h.LeaveGroup)
				gr.Get("/{id}/messages", h.GroupMessages)
			})

			pr.Route("/admin", func(ar chi.Router) {
				ar.Use(AdminOnly)

				ar.Get("/users", h.AdminListUsers)
				ar.Put("/users/{id}", h.AdminUpdateUser)
				ar.Delete("/users/{id}", h.AdminDeleteUser)
				ar.Get("/messages", h.AdminListMessages)
				ar.Delete("/messages/{id}", h.AdminDeleteMessage)
				ar.Post("/reset", h.AdminReset)
			})
		})
	})

	return r
}
