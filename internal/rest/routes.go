package rest

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"schemaguard/internal/schema"
	"schemaguard/internal/schema/events"
	"schemaguard/internal/schema/types"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry *schema.Registry

// Init wires the REST handlers to a registry backed by the given KeyValue
// buckets. Nil buckets fall back to in-memory stores so the service can run
// without NATS. The registry is returned so the caller can drive the sunset
// sweeper against it.
func Init(schemas, config nats.KeyValue, pub events.Publisher) *schema.Registry {
	if schemas == nil {
		slog.Warn("schema storage not available, using in-memory fallback")
		schemas = NewMemoryKeyValue("SCHEMAS")
	} else {
		slog.Info("using external schema storage", "bucket", schemas.Bucket())
	}
	if config == nil {
		slog.Warn("config storage not available, using in-memory fallback")
		config = NewMemoryKeyValue("CONFIG")
	}
	if pub == nil {
		pub = events.Noop{}
	}

	registry = schema.New(schemas, config, schema.WithPublisher(pub))
	return registry
}

// RegisterRequest is the payload for registering a schema version.
type RegisterRequest struct {
	Schema      string            `json:"schema" binding:"required"`
	SchemaType  string            `json:"schemaType"`
	Version     string            `json:"version"`
	Owner       string            `json:"owner"`
	Description string            `json:"description"`
	Tags        []string          `json:"tags"`
	Metadata    map[string]string `json:"metadata"`
	Draft       bool              `json:"draft"`
	Actor       string            `json:"actor"`
}

// RegisterResponse describes the stored version plus any advisory findings.
type RegisterResponse struct {
	ID         string            `json:"id"`
	Subject    string            `json:"subject"`
	Version    string            `json:"version"`
	State      types.SchemaState `json:"state"`
	Violations []types.Violation `json:"violations,omitempty"`
}

// CheckRequest is the payload for compatibility probes and validation.
type CheckRequest struct {
	Schema     string `json:"schema" binding:"required"`
	SchemaType string `json:"schemaType"`
	Mode       string `json:"mode"`
}

// DeprecateRequest carries migration guidance for a deprecation.
type DeprecateRequest struct {
	Reason         string     `json:"reason"`
	SunsetAt       *time.Time `json:"sunset_at"`
	MigrationGuide string     `json:"migration_guide"`
	ReplacementID  string     `json:"replacement_id"`
	Actor          string     `json:"actor"`
}

// ActorRequest names who performed a lifecycle action.
type ActorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// ConfigRequest updates a compatibility mode.
type ConfigRequest struct {
	Compatibility string `json:"compatibility" binding:"required"`
}

// ConfigResponse returns a compatibility mode.
type ConfigResponse struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// ValidateResponse reports whether a schema parses in its declared format.
type ValidateResponse struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// ErrorResponse is the error envelope for every non-2xx response.
type ErrorResponse struct {
	ErrorCode  int               `json:"error_code"`
	Message    string            `json:"message"`
	Violations []types.Violation `json:"violations,omitempty"`
}

// SetupRouter creates a Gin router with all registry routes.
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		c.Next()
	})

	r.GET("/subjects", listSubjects)

	subjectGroup := r.Group("/subjects/:subject")
	{
		subjectGroup.GET("/versions", listVersions)
		subjectGroup.POST("/versions", registerSchema)
		subjectGroup.GET("/versions/:version", getVersion)
		subjectGroup.GET("/versions/:version/schema", getVersionContent)
		subjectGroup.DELETE("/versions/:version", deleteVersion)
		subjectGroup.POST("/versions/:version/promote", promoteVersion)
		subjectGroup.POST("/versions/:version/deprecate", deprecateVersion)
		subjectGroup.DELETE("", deleteSubject)
		subjectGroup.POST("", lookupSchema)
	}

	r.GET("/schemas/ids/:id", getSchemaByID)
	r.POST("/schemas/validate", validateSchema)

	r.POST("/compatibility/subjects/:subject/versions", checkCompatibility)

	r.GET("/config", getConfig)
	r.PUT("/config", updateConfig)
	r.GET("/config/:subject", getSubjectConfig)
	r.PUT("/config/:subject", updateSubjectConfig)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz)

	return r
}

// Routes returns the router as a plain http.Handler.
func Routes() http.Handler {
	return SetupRouter()
}

// writeError maps domain errors onto HTTP status and registry error codes.
func writeError(c *gin.Context, err error) {
	var parseErr *types.ParseError
	switch {
	case errors.Is(err, types.ErrSubjectNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: 40401, Message: err.Error()})
	case errors.Is(err, types.ErrVersionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: 40402, Message: err.Error()})
	case errors.Is(err, types.ErrSchemaNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: 40403, Message: err.Error()})
	case errors.Is(err, types.ErrIncompatibleSchema):
		c.JSON(http.StatusConflict, ErrorResponse{ErrorCode: 40901, Message: err.Error()})
	case errors.Is(err, types.ErrVersionNotIncreasing), errors.Is(err, types.ErrIllegalTransition):
		c.JSON(http.StatusConflict, ErrorResponse{ErrorCode: 42202, Message: err.Error()})
	case errors.As(err, &parseErr), errors.Is(err, types.ErrUnsupportedType):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{ErrorCode: 42201, Message: err.Error()})
	default:
		slog.Error("request failed", "error", err, "path", c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, ErrorResponse{ErrorCode: 50000, Message: err.Error()})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: msg})
}

func available(c *gin.Context) bool {
	if registry == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{ErrorCode: 50300, Message: "storage backend unavailable"})
		return false
	}
	return true
}

func parseType(s string) (types.SchemaType, error) {
	if s == "" {
		return types.Avro, nil
	}
	return types.ParseSchemaType(s)
}

func listSubjects(c *gin.Context) {
	if !available(c) {
		return
	}
	subjects, err := registry.ListSubjects()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, subjects)
}

func listVersions(c *gin.Context) {
	if !available(c) {
		return
	}
	versions, err := registry.ListVersions(c.Param("subject"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func registerSchema(c *gin.Context) {
	if !available(c) {
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	schemaType, err := parseType(req.SchemaType)
	if err != nil {
		writeError(c, err)
		return
	}

	stored, result, err := registry.Register(schema.RegisterRequest{
		Subject:     c.Param("subject"),
		Schema:      req.Schema,
		Type:        schemaType,
		Version:     req.Version,
		Owner:       req.Owner,
		Description: req.Description,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		Draft:       req.Draft,
		Actor:       req.Actor,
	})
	if err != nil {
		if errors.Is(err, types.ErrIncompatibleSchema) {
			c.JSON(http.StatusConflict, ErrorResponse{
				ErrorCode:  40901,
				Message:    err.Error(),
				Violations: result.Violations,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, RegisterResponse{
		ID:         stored.ID,
		Subject:    stored.Subject,
		Version:    stored.Version.String(),
		State:      stored.State,
		Violations: result.Violations,
	})
}

func getVersion(c *gin.Context) {
	if !available(c) {
		return
	}
	stored, err := registry.GetVersion(c.Param("subject"), c.Param("version"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func getVersionContent(c *gin.Context) {
	if !available(c) {
		return
	}
	stored, err := registry.GetVersion(c.Param("subject"), c.Param("version"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, stored.Schema)
}

func deleteVersion(c *gin.Context) {
	if !available(c) {
		return
	}
	stored, err := registry.DeleteVersion(c.Param("subject"), c.Param("version"), c.Query("actor"), c.Query("reason"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored.Version.String())
}

func deleteSubject(c *gin.Context) {
	if !available(c) {
		return
	}
	deleted, err := registry.DeleteSubject(c.Param("subject"), c.Query("actor"), c.Query("reason"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deleted)
}

func promoteVersion(c *gin.Context) {
	if !available(c) {
		return
	}

	var req ActorRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	stored, result, err := registry.Promote(c.Param("subject"), c.Param("version"), req.Actor)
	if err != nil {
		if errors.Is(err, types.ErrIncompatibleSchema) {
			c.JSON(http.StatusConflict, ErrorResponse{
				ErrorCode:  40901,
				Message:    err.Error(),
				Violations: result.Violations,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, RegisterResponse{
		ID:         stored.ID,
		Subject:    stored.Subject,
		Version:    stored.Version.String(),
		State:      stored.State,
		Violations: result.Violations,
	})
}

func deprecateVersion(c *gin.Context) {
	if !available(c) {
		return
	}

	var req DeprecateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	stored, err := registry.Deprecate(c.Param("subject"), c.Param("version"), schema.DeprecateRequest{
		Reason:         req.Reason,
		SunsetAt:       req.SunsetAt,
		MigrationGuide: req.MigrationGuide,
		ReplacementID:  req.ReplacementID,
		Actor:          req.Actor,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func lookupSchema(c *gin.Context) {
	if !available(c) {
		return
	}

	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	schemaType, err := parseType(req.SchemaType)
	if err != nil {
		writeError(c, err)
		return
	}

	stored, err := registry.LookupSchema(c.Param("subject"), req.Schema, schemaType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func getSchemaByID(c *gin.Context) {
	if !available(c) {
		return
	}
	stored, err := registry.GetSchema(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func validateSchema(c *gin.Context) {
	if !available(c) {
		return
	}

	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	schemaType, err := parseType(req.SchemaType)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := registry.Validate(req.Schema, schemaType); err != nil {
		c.JSON(http.StatusOK, ValidateResponse{IsValid: false, Errors: []string{err.Error()}})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{IsValid: true})
}

func checkCompatibility(c *gin.Context) {
	if !available(c) {
		return
	}

	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	schemaType, err := parseType(req.SchemaType)
	if err != nil {
		writeError(c, err)
		return
	}

	var mode types.CompatibilityMode
	if req.Mode != "" {
		if mode, err = types.ParseCompatibilityMode(req.Mode); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	result, err := registry.Check(c.Param("subject"), req.Schema, schemaType, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func getConfig(c *gin.Context) {
	if !available(c) {
		return
	}
	mode, err := registry.CompatibilityMode("")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(mode)})
}

func updateConfig(c *gin.Context) {
	setConfig(c, "")
}

func getSubjectConfig(c *gin.Context) {
	if !available(c) {
		return
	}
	mode, err := registry.CompatibilityMode(c.Param("subject"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(mode)})
}

func updateSubjectConfig(c *gin.Context) {
	setConfig(c, c.Param("subject"))
}

func setConfig(c *gin.Context, subject string) {
	if !available(c) {
		return
	}

	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	mode, err := types.ParseCompatibilityMode(req.Compatibility)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := registry.SetCompatibilityMode(subject, mode); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(mode)})
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
