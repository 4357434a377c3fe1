package http

import (
	"net/http"
	"strconv"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/gateway"
	"github.com/cwrk-planet/aidchat/internal/service"
	"github.com/cwrk-planet/aidchat/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

const HeaderNextCursor = "X-Next-Cursor"

type Handler struct {
	auth   *service.AuthService
	groups *service.GroupService
	chat   *service.ChatService
	admin  *service.AdminService
	acts   *service.ActivityService
}

func NewHandler(auth *service.AuthService, groups *service.GroupService, chat *service.ChatService, admin *service.AdminService, acts *service.ActivityService) *Handler {
	return &Handler{auth: auth, groups: groups, chat: chat, admin: admin, acts: acts}
}

// POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Zipcode:  req.Zipcode,
	})
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, AuthResponse{Token: res.Token, User: toUserDTO(res.User, true)})
}

// POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, AuthResponse{Token: res.Token, User: toUserDTO(res.User, true)})
}

// GET /api/profile/{id}
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	u, err := h.auth.Profile(r.Context(), id)
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	p := PrincipalFromCtx(r.Context())
	httputil.OK(w, toUserDTO(u, p.UserID == id || p.IsAdmin))
}

// PUT /api/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	u, err := h.auth.UpdateProfile(r.Context(), PrincipalFromCtx(r.Context()).UserID, req.patch())
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, toUserDTO(u, true))
}

// GET /api/groups
func (h *Handler) MyGroups(w http.ResponseWriter, r *http.Request) {
	gs, err := h.groups.Mine(r.Context(), PrincipalFromCtx(r.Context()).UserID)
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, toGroupDTOs(gs))
}

// POST /api/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	g, err := h.groups.Create(r.Context(), PrincipalFromCtx(r.Context()).UserID, service.CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Zipcode:     req.Zipcode,
	})
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toGroupDTO(g))
}

// GET /api/groups/discover
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	d, err := h.groups.Discover(r.Context(), PrincipalFromCtx(r.Context()).UserID)
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, DiscoverResponse{NearbyGroups: toGroupDTOs(d.Nearby), PopularGroups: toGroupDTOs(d.Popular)})
}

// POST /api/groups/join
func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	gid, ok := h.groupIDFromBody(w, r)
	if !ok {
		return
	}
	g, err := h.groups.Join(r.Context(), PrincipalFromCtx(r.Context()).UserID, gid)
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, toGroupDTO(g))
}

// POST /api/groups/leave
func (h *Handler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	gid, ok := h.groupIDFromBody(w, r)
	if !ok {
		return
	}
	if err := h.groups.Leave(r.Context(), PrincipalFromCtx(r.Context()).UserID, gid); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, map[string]int64{"groupId": int64(gid)})
}

// GET /api/groups/{id}/messages?limit=&before=
// Тело: массив сообщений (старые сначала), курсор на более старую страницу в X-Next-Cursor.
func (h *Handler) GroupMessages(w http.ResponseWriter, r *http.Request) {
	gid, err := domain.ParseGroupID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	page, err := h.chat.History(r.Context(), PrincipalFromCtx(r.Context()).UserID, gid, limit, r.URL.Query().Get("before"))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	if page.NextCursor != "" {
		w.Header().Set(HeaderNextCursor, page.NextCursor)
	}
	httputil.OK(w, gateway.MessagesToWire(page.Messages))
}

func (h *Handler) groupIDFromBody(w http.ResponseWriter, r *http.Request) (domain.GroupID, bool) {
	var req GroupIDRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return 0, false
	}
	if req.GroupID <= 0 {
		httputil.Error(w, http.StatusBadRequest, domain.Code(domain.ErrValidation), "groupId is required")
		return 0, false
	}
	return domain.GroupID(req.GroupID), true
}
