package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"batchfetch/internal/ambient"
)

const (
	subjectKey = "subject"

	headerRequestID = "X-Request-ID"
	headerSite      = "X-Site"
	// forwarded as Authorization on outbound fetches
	headerFetchAuth = "X-Fetch-Authorization"
)

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Site, X-Fetch-Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authMiddleware requires a valid bearer token and stores its subject.
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		subject, err := ParseToken(secret, strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(subjectKey, subject)
		c.Next()
	}
}

// ambientMiddleware installs one ambient.Info per request on the request
// context.
func ambientMiddleware(userAgent string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)

		info := ambient.Info{ambient.KeyRequestID: requestID}
		for key, value := range map[string]string{
			ambient.KeyUser:           c.GetString(subjectKey),
			ambient.KeySite:           c.GetHeader(headerSite),
			ambient.KeyUserAgent:      userAgent,
			ambient.KeyAcceptLanguage: c.GetHeader("Accept-Language"),
			ambient.KeyAuthorization:  c.GetHeader(headerFetchAuth),
		} {
			if value != "" {
				info[key] = value
			}
		}

		ctx, err := ambient.WithInfo(c.Request.Context(), info)
		if err != nil {
			logger.WithField("request_id", requestID).Errorf("install request context: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
