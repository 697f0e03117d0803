package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构，Code 与 HTTP 状态码一致
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, msg string, data interface{}) {
	c.JSON(status, Response{Code: status, Msg: msg, Data: data})
}

// Success 200，默认提示
func Success(c *gin.Context, data interface{}) {
	respond(c, http.StatusOK, "成功", data)
}

// SuccessWithMsg 200，自定义提示
func SuccessWithMsg(c *gin.Context, msg string, data interface{}) {
	respond(c, http.StatusOK, msg, data)
}

// Created 201，默认提示
func Created(c *gin.Context, data interface{}) {
	respond(c, http.StatusCreated, "创建成功", data)
}

// CreatedWithMsg 201，自定义提示
func CreatedWithMsg(c *gin.Context, msg string, data interface{}) {
	respond(c, http.StatusCreated, msg, data)
}

// BadRequest 400
func BadRequest(c *gin.Context, msg string) {
	respond(c, http.StatusBadRequest, msg, nil)
}

// Unauthorized 401
func Unauthorized(c *gin.Context, msg string) {
	respond(c, http.StatusUnauthorized, msg, nil)
}

// InternalError 500
func InternalError(c *gin.Context, msg string) {
	respond(c, http.StatusInternalServerError, msg, nil)
}

// Error 按 httpCode 写出错误响应，业务错误映射后统一走这里
func Error(c *gin.Context, httpCode int, msg string) {
	respond(c, httpCode, msg, nil)
}
