package keys

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riboseinc/keyserver/internal/config"
	"github.com/riboseinc/keyserver/internal/db/models"
	"github.com/riboseinc/keyserver/internal/db/repositories"
	keysvc "github.com/riboseinc/keyserver/internal/keys"
	"github.com/riboseinc/keyserver/internal/pgp"
)

// ---- constants & shared test data -------------------------------------------

const (
	testFingerprint = "4E1F8E1C7A2B3C4D5E6F708192A3B4C5D6E7F809"
	testGrip        = "A1B2C3D4E5F60718293A4B5C6D7E8F9001122334"
)

var errBoom = errors.New("boom")

// ---- fake service -----------------------------------------------------------

type fakeService struct {
	listResult []*models.Key
	listErr    error
	lastFilter repositories.ListFilter

	lookupResult    []*models.Key
	lookupErr       error
	lookupCalls     int
	lastSuffix      string
	lastPrimaryOnly bool

	subkeys []*models.Key
	subErr  error

	importResult   []*models.Key
	importErr      error
	lastMaterial   []byte
	lastImportOpts keysvc.ImportOptions

	genResult  *models.Key
	genErr     error
	lastGenReq keysvc.GenerateRequest
}

func (f *fakeService) ListPrimary(_ context.Context, filter repositories.ListFilter) ([]*models.Key, error) {
	f.lastFilter = filter
	return f.listResult, f.listErr
}

func (f *fakeService) LookupFingerprint(_ context.Context, suffix string, primaryOnly bool) ([]*models.Key, error) {
	f.lookupCalls++
	f.lastSuffix = suffix
	f.lastPrimaryOnly = primaryOnly
	return f.lookupResult, f.lookupErr
}

func (f *fakeService) Subkeys(_ context.Context, _ *models.Key) ([]*models.Key, error) {
	return f.subkeys, f.subErr
}

func (f *fakeService) ImportKeyMaterial(_ context.Context, material []byte, opts keysvc.ImportOptions) ([]*models.Key, error) {
	f.lastMaterial = material
	f.lastImportOpts = opts
	return f.importResult, f.importErr
}

func (f *fakeService) GenerateKeyPair(_ context.Context, req keysvc.GenerateRequest) (*models.Key, error) {
	f.lastGenReq = req
	return f.genResult, f.genErr
}

// ---- helpers ----------------------------------------------------------------

func samplePrimaryKey() *models.Key {
	return &models.Key{
		ID:          "11111111-2222-3333-4444-555555555555",
		Type:        models.KeyTypePGP,
		Public:      []byte("-----BEGIN PGP PUBLIC KEY BLOCK-----\n...\n-----END PGP PUBLIC KEY BLOCK-----\n"),
		Fingerprint: testFingerprint,
		Grip:        testGrip,
	}
}

func newTestRouter(t *testing.T, svc Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Keys.DefaultValidity = 8760 * time.Hour
	cfg.Keys.MaxImportBytes = 1 << 20

	h := NewHandler(svc, cfg)
	r := gin.New()
	r.GET("/api/v1/keys", h.ListKeys)
	r.GET("/api/v1/keys/:fingerprint", h.ShowKey)
	r.POST("/api/v1/keys", h.ImportKey)
	r.POST("/api/v1/keys/generate", h.GenerateKey)
	return r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

// ---- ListKeys ---------------------------------------------------------------

func TestListKeys_OK(t *testing.T) {
	svc := &fakeService{listResult: []*models.Key{samplePrimaryKey()}}
	w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testFingerprint)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestListKeys_EmptyResultIsArray(t *testing.T) {
	w := doRequest(newTestRouter(t, &fakeService{}), "GET", "/api/v1/keys", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"keys":[]`, "empty listing must serialize as []")
}

func TestListKeys_DateRange(t *testing.T) {
	svc := &fakeService{}
	w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys?date_from=2024-01-01&date_to=2024-06-30T23:59:59Z", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastFilter.ActivatedAfter)
	require.NotNil(t, svc.lastFilter.ActivatedBefore)
	assert.Equal(t, "2024-01-01", svc.lastFilter.ActivatedAfter.Format("2006-01-02"))
}

func TestListKeys_Scope(t *testing.T) {
	svc := &fakeService{}
	w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys?scope=expired", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastFilter.Expired)
	assert.True(t, *svc.lastFilter.Expired)

	w = doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys?scope=fresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastFilter.Expired)
	assert.False(t, *svc.lastFilter.Expired)
}

func TestListKeys_InvalidScope(t *testing.T) {
	w := doRequest(newTestRouter(t, &fakeService{}), "GET", "/api/v1/keys?scope=stale", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListKeys_InvalidDate(t *testing.T) {
	w := doRequest(newTestRouter(t, &fakeService{}), "GET", "/api/v1/keys?date_from=not-a-date", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListKeys_ServiceError(t *testing.T) {
	w := doRequest(newTestRouter(t, &fakeService{listErr: errBoom}), "GET", "/api/v1/keys", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ---- ShowKey ----------------------------------------------------------------

func TestShowKey_JSON(t *testing.T) {
	svc := &fakeService{
		lookupResult: []*models.Key{samplePrimaryKey()},
		subkeys:      []*models.Key{{ID: "sub-1", Type: models.KeyTypePGP, Grip: "F00D", PrimaryKeyGrip: testGrip}},
	}
	w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys/"+testFingerprint, "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, testFingerprint, svc.lastSuffix)
	assert.True(t, svc.lastPrimaryOnly, "public fingerprint lookup must be scoped to primary keys")
	assert.Contains(t, w.Body.String(), `"subkeys"`)
}

func TestShowKey_SuffixLookup(t *testing.T) {
	svc := &fakeService{lookupResult: []*models.Key{samplePrimaryKey()}}
	suffix := testFingerprint[len(testFingerprint)-16:]
	w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys/"+suffix, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, suffix, svc.lastSuffix)
}

func TestShowKey_ArmoredDownload(t *testing.T) {
	key := samplePrimaryKey()
	svc := &fakeService{lookupResult: []*models.Key{key}}
	w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys/"+testFingerprint+".asc", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pgp-keys", w.Header().Get("Content-Type"))
	assert.Equal(t, string(key.Public), w.Body.String(), "download body must be the stored public material")
	assert.Equal(t, testFingerprint, svc.lastSuffix, "the .asc extension must be stripped before lookup")
}

func TestShowKey_ArmoredWithoutPublicMaterial(t *testing.T) {
	key := samplePrimaryKey()
	key.Public = nil
	key.EncryptedSecret = []byte("sealed")
	svc := &fakeService{lookupResult: []*models.Key{key}}
	w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys/"+testFingerprint+".asc", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShowKey_InvalidFingerprint(t *testing.T) {
	tests := []struct {
		name  string
		param string
	}{
		{"too short", "ABCDEF0123"},
		{"not hex", strings.Repeat("Z", 20)},
		{"wrong extension", testFingerprint + ".pem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys/"+tt.param, "")

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "[]", w.Body.String(), "invalid fingerprint must yield an empty array")
			assert.Zero(t, svc.lookupCalls, "invalid fingerprint must not reach the service")
		})
	}
}

func TestShowKey_NotFound(t *testing.T) {
	w := doRequest(newTestRouter(t, &fakeService{}), "GET", "/api/v1/keys/"+testFingerprint, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShowKey_SubkeyFingerprintDoesNotResolve(t *testing.T) {
	// A primary-scoped lookup finds nothing for a subkey's fingerprint.
	svc := &fakeService{}
	subkeyFpr := "AA0B1C2D3E4F5061728394A5B6C7D8E9F0A1B2C3"
	w := doRequest(newTestRouter(t, svc), "GET", "/api/v1/keys/"+subkeyFpr, "")

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, svc.lastPrimaryOnly)
}

// ---- ImportKey --------------------------------------------------------------

func TestImportKey_OK(t *testing.T) {
	svc := &fakeService{importResult: []*models.Key{samplePrimaryKey(), {ID: "sub-1", Type: models.KeyTypePGP}}}
	body := `{"key": "-----BEGIN PGP PUBLIC KEY BLOCK-----\n...", "owner_id": "owner-1", "owner_type": "User"}`
	w := doRequest(newTestRouter(t, svc), "POST", "/api/v1/keys", body)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(string(svc.lastMaterial), "-----BEGIN PGP PUBLIC KEY BLOCK-----"))
	require.NotNil(t, svc.lastImportOpts.OwnerID)
	assert.Equal(t, "owner-1", *svc.lastImportOpts.OwnerID)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestImportKey_MissingKeyField(t *testing.T) {
	w := doRequest(newTestRouter(t, &fakeService{}), "POST", "/api/v1/keys", `{"owner_id": "x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportKey_ParseError(t *testing.T) {
	svc := &fakeService{importErr: fmt.Errorf("parsing armored material: %w", pgp.ErrMaterialParse)}
	w := doRequest(newTestRouter(t, svc), "POST", "/api/v1/keys", `{"key": "garbage"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestImportKey_ServiceError(t *testing.T) {
	svc := &fakeService{importErr: errBoom}
	w := doRequest(newTestRouter(t, svc), "POST", "/api/v1/keys", `{"key": "material"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ---- GenerateKey ------------------------------------------------------------

func TestGenerateKey_DefaultValidity(t *testing.T) {
	svc := &fakeService{genResult: samplePrimaryKey()}
	body := `{"name": "Alice Example", "email": "alice@example.com"}`
	w := doRequest(newTestRouter(t, svc), "POST", "/api/v1/keys/generate", body)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, svc.lastGenReq.Validity)
	assert.Equal(t, 8760*time.Hour, *svc.lastGenReq.Validity, "configured default of one year")
	assert.Equal(t, "Alice Example", svc.lastGenReq.Name)
}

func TestGenerateKey_ExplicitValidity(t *testing.T) {
	svc := &fakeService{genResult: samplePrimaryKey()}
	w := doRequest(newTestRouter(t, svc), "POST", "/api/v1/keys/generate", `{"name": "Alice", "validity": "720h"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, svc.lastGenReq.Validity)
	assert.Equal(t, 720*time.Hour, *svc.lastGenReq.Validity)
}

func TestGenerateKey_ZeroValidityMeansNoExpiry(t *testing.T) {
	svc := &fakeService{genResult: samplePrimaryKey()}
	w := doRequest(newTestRouter(t, svc), "POST", "/api/v1/keys/generate", `{"name": "Alice", "validity": "0"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, svc.lastGenReq.Validity, "zero validity means non-expiring keys")
}

func TestGenerateKey_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"email": "alice@example.com"}`},
		{"bad validity", `{"name": "Alice", "validity": "soon"}`},
		{"negative validity", `{"name": "Alice", "validity": "-24h"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(newTestRouter(t, &fakeService{}), "POST", "/api/v1/keys/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGenerateKey_GenerationError(t *testing.T) {
	svc := &fakeService{genErr: fmt.Errorf("generating key pair: %w", pgp.ErrGeneration)}
	w := doRequest(newTestRouter(t, svc), "POST", "/api/v1/keys/generate", `{"name": "Alice"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
