package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"schemaguard/internal/schema/events"
	"schemaguard/internal/schema/types"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	orderSchemaV1 = `{
		"type": "record",
		"name": "Order",
		"fields": [
			{"name": "id", "type": "string"},
			{"name": "amount", "type": "double"}
		]
	}`
	orderSchemaV2 = `{
		"type": "record",
		"name": "Order",
		"fields": [
			{"name": "id", "type": "string"},
			{"name": "amount", "type": "double"},
			{"name": "currency", "type": "string", "default": "USD"}
		]
	}`
	orderSchemaBreaking = `{
		"type": "record",
		"name": "Order",
		"fields": [
			{"name": "id", "type": "string"}
		]
	}`
)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	Init(NewMemoryKeyValue("SCHEMAS"), NewMemoryKeyValue("CONFIG"), events.Noop{})
	return SetupRouter()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerVersion(t *testing.T, router *gin.Engine, subject, schemaStr string) RegisterResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/subjects/"+subject+"/versions", RegisterRequest{
		Schema:     schemaStr,
		SchemaType: "AVRO",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRegisterAndGet(t *testing.T) {
	router := setupTestRouter(t)

	resp := registerVersion(t, router, "orders", orderSchemaV1)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, types.StateActive, resp.State)

	w := doJSON(t, router, http.MethodGet, "/subjects/orders/versions/1.0.0", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stored types.Schema
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, resp.ID, stored.ID)
	assert.Equal(t, "orders", stored.Subject)

	w = doJSON(t, router, http.MethodGet, "/subjects/orders/versions/latest/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, orderSchemaV1, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/schemas/ids/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListSubjectsAndVersions(t *testing.T) {
	router := setupTestRouter(t)

	registerVersion(t, router, "orders", orderSchemaV1)
	registerVersion(t, router, "orders", orderSchemaV2)

	w := doJSON(t, router, http.MethodGet, "/subjects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subjects []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subjects))
	assert.Equal(t, []string{"orders"}, subjects)

	w = doJSON(t, router, http.MethodGet, "/subjects/orders/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var versions []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, versions)
}

func TestRegisterIncompatible(t *testing.T) {
	router := setupTestRouter(t)

	registerVersion(t, router, "orders", orderSchemaV1)

	// Removing a field without a default breaks BACKWARD readers
	w := doJSON(t, router, http.MethodPost, "/subjects/orders/versions", RegisterRequest{
		Schema:     orderSchemaBreaking,
		SchemaType: "AVRO",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, 40901, errResp.ErrorCode)
	require.NotEmpty(t, errResp.Violations)

	var removed bool
	for _, v := range errResp.Violations {
		if v.Type == types.ViolationFieldRemoved && v.FieldPath == "amount" {
			removed = true
			assert.Equal(t, types.SeverityBreaking, v.Severity)
		}
	}
	assert.True(t, removed, "expected FIELD_REMOVED at amount, got %+v", errResp.Violations)
}

func TestCompatibilityProbe(t *testing.T) {
	router := setupTestRouter(t)

	registerVersion(t, router, "orders", orderSchemaV1)

	w := doJSON(t, router, http.MethodPost, "/compatibility/subjects/orders/versions", CheckRequest{
		Schema:     orderSchemaBreaking,
		SchemaType: "AVRO",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result types.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Compatible)
	assert.NotEmpty(t, result.Violations)
	assert.Equal(t, []string{"1.0.0"}, result.CheckedVersions)

	// The probe never stores anything
	w = doJSON(t, router, http.MethodGet, "/subjects/orders/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var versions []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
	assert.Equal(t, []string{"1.0.0"}, versions)

	// Mode override disables checking entirely
	w = doJSON(t, router, http.MethodPost, "/compatibility/subjects/orders/versions", CheckRequest{
		Schema:     orderSchemaBreaking,
		SchemaType: "AVRO",
		Mode:       "NONE",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Compatible)
}

func TestLifecycleEndpoints(t *testing.T) {
	router := setupTestRouter(t)

	// Land a draft, then promote it
	w := doJSON(t, router, http.MethodPost, "/subjects/orders/versions", RegisterRequest{
		Schema:     orderSchemaV1,
		SchemaType: "AVRO",
		Draft:      true,
		Actor:      "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.StateDraft, resp.State)

	w = doJSON(t, router, http.MethodPost, "/subjects/orders/versions/1.0.0/promote", ActorRequest{Actor: "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.StateActive, resp.State)

	w = doJSON(t, router, http.MethodPost, "/subjects/orders/versions/1.0.0/deprecate", DeprecateRequest{
		Reason: "superseded",
		Actor:  "bob",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var stored types.Schema
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, types.StateDeprecated, stored.State)
	require.NotNil(t, stored.Deprecation)
	assert.Equal(t, "superseded", stored.Deprecation.Reason)

	w = doJSON(t, router, http.MethodDelete, "/subjects/orders/versions/1.0.0?actor=bob&reason=cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Deleted is terminal
	w = doJSON(t, router, http.MethodDelete, "/subjects/orders/versions/1.0.0", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, 42202, errResp.ErrorCode)
}

func TestDeleteSubject(t *testing.T) {
	router := setupTestRouter(t)

	registerVersion(t, router, "orders", orderSchemaV1)
	registerVersion(t, router, "orders", orderSchemaV2)

	w := doJSON(t, router, http.MethodDelete, "/subjects/orders?actor=ops&reason=retired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var deleted []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deleted))
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, deleted)

	// Tombstones remain readable
	w = doJSON(t, router, http.MethodGet, "/subjects/orders/versions/1.0.0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored types.Schema
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, types.StateDeleted, stored.State)
}

func TestLookup(t *testing.T) {
	router := setupTestRouter(t)

	first := registerVersion(t, router, "orders", orderSchemaV1)
	registerVersion(t, router, "orders", orderSchemaV2)

	w := doJSON(t, router, http.MethodPost, "/subjects/orders", CheckRequest{
		Schema:     orderSchemaV1,
		SchemaType: "AVRO",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var stored types.Schema
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, first.ID, stored.ID)
}

func TestValidateEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/schemas/validate", CheckRequest{
		Schema:     orderSchemaV1,
		SchemaType: "AVRO",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsValid)
	assert.Empty(t, resp.Errors)

	w = doJSON(t, router, http.MethodPost, "/schemas/validate", CheckRequest{
		Schema:     `{"type": "record"`,
		SchemaType: "AVRO",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)
	assert.NotEmpty(t, resp.Errors)
}

func TestConfigEndpoints(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "BACKWARD", resp.CompatibilityLevel)

	w = doJSON(t, router, http.MethodPut, "/config", ConfigRequest{Compatibility: "FULL"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPut, "/config/orders", ConfigRequest{Compatibility: "NONE"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/config/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "NONE", resp.CompatibilityLevel)

	w = doJSON(t, router, http.MethodPut, "/config", ConfigRequest{Compatibility: "SIDEWAYS"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFoundResponses(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/subjects/ghost/versions", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, 40401, errResp.ErrorCode)

	registerVersion(t, router, "orders", orderSchemaV1)

	w = doJSON(t, router, http.MethodGet, "/subjects/orders/versions/9.9.9", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, 40402, errResp.ErrorCode)

	w = doJSON(t, router, http.MethodGet, "/schemas/ids/no-such-id", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, 40403, errResp.ErrorCode)
}

func TestUnsupportedType(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/subjects/orders/versions", RegisterRequest{
		Schema:     orderSchemaV1,
		SchemaType: "THRIFT",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, 42201, errResp.ErrorCode)

	w = doJSON(t, router, http.MethodPost, "/subjects/orders/versions", RegisterRequest{
		Schema:     `{"type": "record"`,
		SchemaType: "AVRO",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, 42201, errResp.ErrorCode)
}

func TestHealthz(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestContentType(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/subjects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.schemaregistry.v1+json", w.Header().Get("Content-Type"))
}
