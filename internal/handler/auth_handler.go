package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habito/internal/service"
)

type loginPayload struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 校验账号密码并签发访问令牌
func (a *API) Login(c *gin.Context) {
	var payload loginPayload
	if !bindJSON(c, &payload, "请输入用户名和密码") {
		return
	}

	user, err := a.users.Authenticate(c.Request.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		a.log.Error("login failed", "error", err)
		respondError(c, http.StatusInternalServerError, "登录失败")
		return
	}

	token, expires, err := a.tokens.Issue(user.ID)
	if err != nil {
		a.log.Error("issue token failed", "user_id", user.ID.String(), "error", err)
		respondError(c, http.StatusInternalServerError, "登录失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expires.UTC().Format(time.RFC3339),
		"user":         gin.H{"id": user.ID, "username": user.Username},
	})
}

// Me 返回当前令牌对应的用户 ID
func (a *API) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": currentUser(c)})
}
