package ratelimit

import (
	"github.com/gin-gonic/gin"
)

// ContextKeyRemaining é a chave do gin.Context com a cota restante.
const ContextKeyRemaining = "ratelimit.remaining"

func GinMiddleware(opts Options) gin.HandlerFunc {
	return NewGate(opts).Gin()
}

// Gin é o adapter gin do gate. Mesmo contrato do Handler net/http.
func (g *Gate) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		v := g.Check(c.Request.Context(), g.describe(c.Request))
		for k, val := range g.headers(v) {
			c.Header(k, val)
		}

		if !v.Proceed {
			c.AbortWithStatusJSON(v.Status, v.Body())
			return
		}
		if !v.Skipped && v.Err == nil {
			c.Set(ContextKeyRemaining, v.Decision.Remaining)
			c.Request = c.Request.WithContext(withRemaining(c.Request.Context(), v.Decision.Remaining))
		}
		c.Next()
	}
}
