package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openmetalab/marketspace/backend/internal/auction"
	"github.com/openmetalab/marketspace/backend/internal/auth"
	"github.com/openmetalab/marketspace/backend/internal/catalog"
	"github.com/openmetalab/marketspace/backend/internal/fault"
	"github.com/openmetalab/marketspace/backend/internal/notification"
	"github.com/openmetalab/marketspace/backend/internal/users"
)

const (
	userIDContextKey  = "market_user_id"
	addressContextKey = "market_address"
)

var (
	errMissingLoginVerifier = errors.New("login verifier dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUserService   = errors.New("user service dependency required")
	errMissingCatalog       = errors.New("catalog service dependency required")
	errMissingAuctions      = errors.New("auction service dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// LoginVerifier checks a wallet signature against the claimed address.
type LoginVerifier interface {
	Verify(signatureHex, claimedAddress string) error
}

// TokenManager issues and validates session tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, userID uint, address string) (string, int64, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// Dependencies wires the router to the domain services.
type Dependencies struct {
	LoginVerifier LoginVerifier
	TokenManager  TokenManager
	Users         *users.Service
	Catalog       *catalog.Service
	Auctions      *auction.Service
	Notifications *notification.Service
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router for the marketplace API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.LoginVerifier == nil {
		return nil, errMissingLoginVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalog
	}
	if deps.Auctions == nil {
		return nil, errMissingAuctions
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:      deps.LoginVerifier,
		tokens:        deps.TokenManager,
		users:         deps.Users,
		catalog:       deps.Catalog,
		auctions:      deps.Auctions,
		notifications: deps.Notifications,
		logger:        logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	userRoutes := router.Group("/users")
	userRoutes.GET("/profile/:address", handler.handleProfileByAddress)
	userRoutes.GET("/follower-list/:address", handler.handleFollowerList)
	userRoutes.GET("/following-list/:address", handler.handleFollowingList)
	userRoutes.GET("/top-follower", handler.handleTopFollowers)

	userProtected := userRoutes.Group("")
	userProtected.Use(handler.authorizeRequest)
	userProtected.GET("/my-profile", handler.handleMyProfile)
	userProtected.PUT("/my-profile", handler.handleUpdateProfile)
	userProtected.POST("/follow-user/:address", handler.handleFollow)
	userProtected.DELETE("/unfollow-user/:address", handler.handleUnfollow)
	userProtected.GET("/follow-status/:address", handler.handleFollowStatus)

	nftRoutes := router.Group("/nfts")
	nftRoutes.GET("/collections", handler.handleCollections)
	nftRoutes.GET("/nft-like-count/:userId/:tokenId", handler.handleLikeStatus)
	nftRoutes.GET("/liked-list/:address", handler.handleLikedList)
	nftRoutes.GET("/sell-list/:address", handler.handleSellList)
	nftRoutes.GET("/own-list/:address", handler.handleOwnList)

	nftProtected := nftRoutes.Group("")
	nftProtected.Use(handler.authorizeRequest)
	nftProtected.POST("/create-nft", handler.handleCreateNft)
	nftProtected.PUT("/buy-nft/:tokenId", handler.handleBuyNft)
	nftProtected.PUT("/resell-nft/:tokenId/:price", handler.handleResellNft)
	nftProtected.POST("/like-nft/:tokenId", handler.handleLikeNft)
	nftProtected.DELETE("/unlike-nft/:tokenId", handler.handleUnlikeNft)

	auctionRoutes := router.Group("/auction")
	auctionRoutes.GET("/top-auction", handler.handleTopAuction)
	auctionRoutes.GET("/filter-auction", handler.handleFilterAuction)
	auctionRoutes.POST("/end-auction/:tokenId", handler.handleEndAuction)

	auctionProtected := auctionRoutes.Group("")
	auctionProtected.Use(handler.authorizeRequest)
	auctionProtected.POST("/create-auction/:nftId", handler.handleCreateAuction)
	auctionProtected.POST("/bid-auction/:tokenId", handler.handleBidAuction)

	notificationRoutes := router.Group("/notification")
	notificationRoutes.Use(handler.authorizeRequest)
	notificationRoutes.GET("", handler.handleListNotifications)
	notificationRoutes.PUT("/update-notify/:id", handler.handleMarkNotificationRead)

	router.GET("/ws/notification", handler.handleNotificationSocket)

	return router, nil
}

type httpHandler struct {
	verifier      LoginVerifier
	tokens        TokenManager
	users         *users.Service
	catalog       *catalog.Service
	auctions      *auction.Service
	notifications *notification.Service
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(addressContextKey, claims.Address)
	c.Next()
}

func (h *httpHandler) currentUserID(c *gin.Context) (uint, bool) {
	value, ok := c.Get(userIDContextKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	userID, ok := value.(uint)
	if !ok || userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userID, true
}

// writeError maps service error kinds onto HTTP statuses.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.KindRejected:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindUnauthorized:
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(status, gin.H{"error": string(fault.KindInternal)})
		return
	}
	c.JSON(status, gin.H{"error": string(kind), "message": fault.MessageOf(err)})
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return uint(value), true
}

type loginRequestPayload struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type loginResponsePayload struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	TokenType   string     `json:"token_type"`
	User        users.User `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Address) == "" ||
		strings.TrimSpace(request.Signature) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.verifier.Verify(request.Signature, request.Address); err != nil {
		h.logger.Warn("wallet signature verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}

	user, created, err := h.users.ResolveOrCreate(c.Request.Context(), request.Address)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if created {
		h.logger.Info("user created on first login", zap.String("address", user.Address))
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.ID, user.Address)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        user,
	})
}

func (h *httpHandler) handleProfileByAddress(c *gin.Context) {
	user, err := h.users.UserByAddress(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *httpHandler) handleMyProfile(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	user, err := h.users.UserByID(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type profileUpdatePayload struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Avatar      *string `json:"avatar"`
	Description *string `json:"description"`
	Website     *string `json:"website"`
	Facebook    *string `json:"facebook"`
	Twitter     *string `json:"twitter"`
	Instagram   *string `json:"instagram"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), userID, users.ProfileUpdate{
		Name:        request.Name,
		Email:       request.Email,
		Avatar:      request.Avatar,
		Description: request.Description,
		Website:     request.Website,
		Facebook:    request.Facebook,
		Twitter:     request.Twitter,
		Instagram:   request.Instagram,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	if err := h.users.Follow(c.Request.Context(), userID, c.Param("address")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "followed"})
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	if err := h.users.Unfollow(c.Request.Context(), userID, c.Param("address")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unfollowed"})
}

func (h *httpHandler) handleFollowStatus(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	followed, err := h.users.FollowStatus(c.Request.Context(), userID, c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isFollowed": followed})
}

func (h *httpHandler) handleFollowerList(c *gin.Context) {
	followers, err := h.users.Followers(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, followers)
}

func (h *httpHandler) handleFollowingList(c *gin.Context) {
	following, err := h.users.Following(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, following)
}

func (h *httpHandler) handleTopFollowers(c *gin.Context) {
	ranked, err := h.users.TopFollowers(c.Request.Context(), 9)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ranked)
}

type createNftPayload struct {
	Image        string  `json:"image" binding:"required"`
	Name         string  `json:"name" binding:"required"`
	Description  string  `json:"description"`
	Website      string  `json:"website"`
	Price        float64 `json:"price"`
	Size         string  `json:"size"`
	Royalties    float64 `json:"royalties"`
	CollectionID uint    `json:"collectionId"`
}

func (h *httpHandler) handleCreateNft(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request createNftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	nft, err := h.catalog.CreateNft(c.Request.Context(), userID, catalog.CreateNftInput{
		Image:        request.Image,
		Name:         request.Name,
		Description:  request.Description,
		Website:      request.Website,
		Price:        request.Price,
		Size:         request.Size,
		Royalties:    request.Royalties,
		CollectionID: request.CollectionID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, nft)
}

func (h *httpHandler) handleBuyNft(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	tokenID, ok := parseUintParam(c, "tokenId")
	if !ok {
		return
	}
	if err := h.catalog.BuyNft(c.Request.Context(), userID, tokenID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "bought"})
}

func (h *httpHandler) handleResellNft(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	tokenID, ok := parseUintParam(c, "tokenId")
	if !ok {
		return
	}
	price, err := strconv.ParseFloat(c.Param("price"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_price"})
		return
	}
	if err := h.catalog.ResellNft(c.Request.Context(), userID, tokenID, price); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "listed"})
}

func (h *httpHandler) handleLikeNft(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	tokenID, ok := parseUintParam(c, "tokenId")
	if !ok {
		return
	}
	if err := h.catalog.LikeNft(c.Request.Context(), userID, tokenID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "liked"})
}

func (h *httpHandler) handleUnlikeNft(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	tokenID, ok := parseUintParam(c, "tokenId")
	if !ok {
		return
	}
	if err := h.catalog.UnlikeNft(c.Request.Context(), userID, tokenID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unliked"})
}

func (h *httpHandler) handleLikeStatus(c *gin.Context) {
	userID, ok := parseUintParam(c, "userId")
	if !ok {
		return
	}
	tokenID, ok := parseUintParam(c, "tokenId")
	if !ok {
		return
	}
	count, liked, err := h.catalog.LikeStatus(c.Request.Context(), userID, tokenID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"likeCount": count, "isLiked": liked})
}

func (h *httpHandler) handleLikedList(c *gin.Context) {
	nfts, err := h.catalog.ListLiked(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nfts)
}

func (h *httpHandler) handleSellList(c *gin.Context) {
	nfts, err := h.catalog.ListSelling(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nfts)
}

func (h *httpHandler) handleOwnList(c *gin.Context) {
	nfts, err := h.catalog.ListOwned(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nfts)
}

func (h *httpHandler) handleCollections(c *gin.Context) {
	collections, err := h.catalog.Collections(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, collections)
}

type createAuctionPayload struct {
	Price float64 `json:"price"`
	// Duration of the auction in seconds.
	Duration int64 `json:"duration" binding:"required"`
}

func (h *httpHandler) handleCreateAuction(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	nftID, ok := parseUintParam(c, "nftId")
	if !ok {
		return
	}
	var request createAuctionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	created, err := h.auctions.Create(c.Request.Context(), userID, nftID, request.Price, request.Duration)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type bidAuctionPayload struct {
	Price float64 `json:"price" binding:"required"`
}

func (h *httpHandler) handleBidAuction(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	tokenID, ok := parseUintParam(c, "tokenId")
	if !ok {
		return
	}
	var request bidAuctionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	bid, err := h.auctions.Bid(c.Request.Context(), userID, tokenID, request.Price)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bid)
}

func (h *httpHandler) handleEndAuction(c *gin.Context) {
	tokenID, ok := parseUintParam(c, "tokenId")
	if !ok {
		return
	}
	if err := h.auctions.End(c.Request.Context(), tokenID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *httpHandler) handleTopAuction(c *gin.Context) {
	listings, err := h.auctions.Top(c.Request.Context(), 10)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listings)
}

func (h *httpHandler) handleFilterAuction(c *gin.Context) {
	input := auction.FilterInput{Sort: c.Query("filter")}
	if raw := c.Query("collectionId"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_collection_id"})
			return
		}
		collectionID := uint(value)
		input.CollectionID = &collectionID
	}
	listings, err := h.auctions.Filtered(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listings)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	events, err := h.notifications.List(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	notificationID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), userID, notificationID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}
