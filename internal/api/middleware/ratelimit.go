package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// NewRateLimiter builds a per-client-IP rate limiting middleware. A redemption
// desk scanning at human speed never comes close to the limit; a scripted
// ticket-guessing sweep does. period is a duration string like "1m" or "1h".
func NewRateLimiter(requests int64, period string) (gin.HandlerFunc, error) {
	duration, err := time.ParseDuration(period)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit period %q: %w", period, err)
	}

	instance := limiter.New(memory.NewStore(), limiter.Rate{
		Period: duration,
		Limit:  requests,
	})

	reached := func(c *gin.Context) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	}

	return mgin.NewMiddleware(instance, mgin.WithLimitReachedHandler(reached)), nil
}
