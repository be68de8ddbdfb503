package finding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

func TestFinding_Key(t *testing.T) {
	assetID := shared.NewID()
	a := Finding{AssetID: assetID, ExternalID: "CVE-2024-0001"}
	b := Finding{AssetID: assetID, ExternalID: "CVE-2024-0001", Title: "different title"}
	c := Finding{AssetID: shared.NewID(), ExternalID: "CVE-2024-0001"}

	assert.Equal(t, a.Key(0), b.Key(5))
	assert.NotEqual(t, a.Key(0), c.Key(0))

	anon := Finding{AssetID: assetID}
	assert.NotEqual(t, anon.Key(1), anon.Key(2))
}
