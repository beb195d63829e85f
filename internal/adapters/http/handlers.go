package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/auth"
	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/storage"
	"github.com/Swaymbhu-git/SlateAssist/internal/app"
	"github.com/Swaymbhu-git/SlateAssist/internal/core"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

// API carries the REST handlers' collaborators. Membership mutations
// flow through the enforcer so live sockets follow the persisted state.
type API struct {
	Store     *storage.Store
	Tokens    *auth.TokenService
	Enforcer  *app.Enforcer
	Runner    core.CodeRunner
	Assistant core.Assistant
}

func currentUser(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(userIDKey))
}

// --- auth ---

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func (a *API) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid registration payload"})
		return
	}
	user, err := domain.NewUser(req.Username, req.Email)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	if err := a.Store.CreateUser(c.Request.Context(), user, hash); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create user")
		c.JSON(http.StatusConflict, gin.H{"message": "email already registered"})
		return
	}
	token, err := a.Tokens.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid login payload"})
		return
	}
	user, hash, err := a.Store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}
	ok, err := auth.ComparePassword(req.Password, hash)
	if err != nil || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}
	token, err := a.Tokens.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// --- rooms ---

type createRoomRequest struct {
	RoomID string `json:"roomId"`
}

func (a *API) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	_ = c.ShouldBindJSON(&req)
	if req.RoomID == "" {
		req.RoomID = uuid.NewString()
	}
	owner := currentUser(c)
	roomID := domain.RoomID(req.RoomID)
	if err := a.Store.CreateRoom(c.Request.Context(), roomID, owner); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", req.RoomID).Msg("create room")
		c.JSON(http.StatusConflict, gin.H{"message": "room already exists"})
		return
	}
	c.JSON(http.StatusCreated, domain.MembershipRecord{
		RoomID:  roomID,
		Owner:   owner,
		Members: []domain.UserID{owner},
	})
}

func (a *API) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	rec, err := a.Store.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	if !rec.IsMember(currentUser(c)) {
		c.JSON(http.StatusForbidden, gin.H{"message": "you are not a member of this room"})
		return
	}
	buffer, revision, err := a.Store.GetSnapshot(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":     rec,
		"buffer":   buffer,
		"revision": revision,
	})
}

type inviteRequest struct {
	RoomID       string `json:"roomId" binding:"required"`
	InviteeEmail string `json:"inviteeEmail" binding:"required"`
}

func (a *API) InviteUser(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid invite payload"})
		return
	}
	roomID := domain.RoomID(req.RoomID)
	rec, err := a.Store.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	if !rec.IsOwner(currentUser(c)) {
		c.JSON(http.StatusForbidden, gin.H{"message": "only the room owner can invite users"})
		return
	}
	invitee, _, err := a.Store.GetUserByEmail(c.Request.Context(), req.InviteeEmail)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "user to invite not found"})
		return
	}
	if err := a.Store.AddMember(c.Request.Context(), roomID, invitee.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	a.Enforcer.OnInvite(roomID, invitee.ID)
	c.JSON(http.StatusOK, gin.H{"message": "user invited successfully"})
}

type kickRequest struct {
	RoomID     string `json:"roomId" binding:"required"`
	UserToKick string `json:"userIdToKick" binding:"required"`
}

func (a *API) KickUser(c *gin.Context) {
	var req kickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid kick payload"})
		return
	}
	roomID := domain.RoomID(req.RoomID)
	target := domain.UserID(req.UserToKick)
	rec, err := a.Store.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	if !rec.IsOwner(currentUser(c)) {
		c.JSON(http.StatusForbidden, gin.H{"message": "only the room owner can kick users"})
		return
	}
	if rec.IsOwner(target) {
		c.JSON(http.StatusBadRequest, gin.H{"message": domain.ErrOwnerKick.Error()})
		return
	}
	if err := a.Store.RemoveMember(c.Request.Context(), roomID, target); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "server error"})
		return
	}
	a.Enforcer.OnKick(roomID, target)
	c.JSON(http.StatusOK, gin.H{"message": "user access revoked"})
}

// --- proxies ---

func (a *API) RunCode(c *gin.Context) {
	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid run payload"})
		return
	}
	out, err := a.Runner.Run(c.Request.Context(), payload)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("run proxy")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "error executing code via external service"})
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

type askRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (a *API) AskAI(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "prompt is required"})
		return
	}
	text, err := a.Assistant.Ask(c.Request.Context(), req.Prompt)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ask proxy")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "error communicating with AI assistant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}
