package middleware

import (
	"math/rand/v2"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketpulse/pkg/models"
)

// ValidatorConfig holds validation configuration
type ValidatorConfig struct {
	MaxBodySize     int64    // Maximum request body size in bytes
	AllowedJobTypes []string // Closed registry of job types the API accepts
	MaxPayloadBytes int      // Maximum job payload size in bytes
	MaxDedupKeyLen  int      // Maximum dedup_key length
}

// DefaultValidatorConfig returns the registry's defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize: 1 << 20, // 1MB
		AllowedJobTypes: []string{
			string(models.JobTypeFeedFetch),
			string(models.JobTypeContentProcess),
			string(models.JobTypePodcastTranscription),
			string(models.JobTypeDailyAnalysis),
			string(models.JobTypeGeneratePredictions),
			string(models.JobTypePredictionCompare),
			string(models.JobTypeCleanup),
		},
		MaxPayloadBytes: models.MaxPayloadBytes,
		MaxDedupKeyLen:  256,
	}
}

// Validator performs request validation for the queue management API.
type Validator struct {
	config ValidatorConfig
}

// NewValidator creates a new validator with the given config.
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// ValidateJobType checks that jobType is one of the closed registry types.
func (v *Validator) ValidateJobType(jobType string) error {
	for _, allowed := range v.config.AllowedJobTypes {
		if jobType == allowed {
			return nil
		}
	}
	return &ValidationError{
		Field:   "job_type",
		Message: "invalid job type",
	}
}

// ValidatePayloadSize checks an encoded job payload against the enqueue-time
// size boundary.
func (v *Validator) ValidatePayloadSize(encoded []byte) error {
	if len(encoded) > v.config.MaxPayloadBytes {
		return &ValidationError{
			Field:   "payload",
			Message: "payload exceeds maximum size",
		}
	}
	return nil
}

// ValidateDedupKey checks dedup_key length.
func (v *Validator) ValidateDedupKey(key string) error {
	if len(key) > v.config.MaxDedupKeyLen {
		return &ValidationError{
			Field:   "dedup_key",
			Message: "dedup_key exceeds maximum length",
		}
	}
	return nil
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimitMiddleware limits request body size
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")
		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")
		// Enable XSS filter
		c.Header("X-XSS-Protection", "1; mode=block")
		// Strict Transport Security (enable in production with HTTPS)
		// c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		
		c.Next()
	}
}

// RequestIDMiddleware adds request ID for tracing
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// generateRequestID creates a simple request ID
func generateRequestID() string {
	// Simple implementation - in production use UUID or similar
	return "req-" + randomString(16)
}

// randomString generates a random alphanumeric string
func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}
