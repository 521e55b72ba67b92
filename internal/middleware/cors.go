// Package middleware 提供 HTTP 中间件。
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS 允许任意来源访问聊天与反馈接口，但不携带凭证。
var CORS = cors.Handler(cors.Options{
	AllowedOrigins:   []string{"*"},
	AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowedHeaders:   []string{"Content-Type", "Authorization"},
	AllowCredentials: false,
	MaxAge:           300,
})
