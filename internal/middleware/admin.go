package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin 要求管理员权限（Admin或Super），需在 RequireAuth 之后使用
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		if !user.IsAdmin() {
			abortJSON(c, http.StatusForbidden, "需要管理员权限")
			return
		}

		c.Next()
	}
}

// RequireSuper 要求超级管理员权限
func RequireSuper() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		if !user.IsSuper() {
			abortJSON(c, http.StatusForbidden, "需要超级管理员权限")
			return
		}

		c.Next()
	}
}
