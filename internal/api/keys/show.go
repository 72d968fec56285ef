// show.go implements the fingerprint lookup endpoint, serving either a JSON
// record or an armored .asc download of the public material.
package keys

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/riboseinc/keyserver/internal/telemetry"
)

// fingerprintParam matches a hex fingerprint suffix of 16 to 64 characters
// with an optional .asc extension. Shorter suffixes are ambiguous and are
// rejected before they reach the service.
var fingerprintParam = regexp.MustCompile(`^([0-9A-Fa-f]{16,64})(\.asc)?$`)

// ShowKey handles GET /api/v1/keys/:fingerprint.
// The fingerprint is matched as a right-anchored suffix, so the full 40- or
// 64-character fingerprint and the 16-character long key ID both resolve.
// Only primary key records resolve here; subkeys are served through their
// primary's subkeys field in the JSON response.
// Appending .asc returns the ASCII-armored public material instead of JSON.
// A malformed fingerprint yields an empty result set, not an error.
func (h *Handler) ShowKey(c *gin.Context) {
	m := fingerprintParam.FindStringSubmatch(c.Param("fingerprint"))
	if m == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	suffix, armored := m[1], m[2] != ""

	keys, err := h.svc.LookupFingerprint(c.Request.Context(), suffix, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up key"})
		return
	}
	if len(keys) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	key := keys[0]

	if armored {
		if !key.HasPublic() {
			c.JSON(http.StatusNotFound, gin.H{"error": "no public material stored for this key"})
			return
		}
		telemetry.ArmoredExportsTotal.Inc()
		c.Header("Content-Disposition", `attachment; filename="`+key.Fingerprint+`.asc"`)
		c.Data(http.StatusOK, "application/pgp-keys", key.Public)
		return
	}

	response := gin.H{"key": key}
	if key.IsPrimary() {
		subkeys, err := h.svc.Subkeys(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subkeys"})
			return
		}
		if subkeys != nil {
			response["subkeys"] = subkeys
		}
	}
	c.JSON(http.StatusOK, response)
}
