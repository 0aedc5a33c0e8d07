package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TFMV/quarry/pkg/models"
)

func TestDefaultCoversEveryKind(t *testing.T) {
	all := Default()
	assert.Len(t, all, len(models.Kinds))
	for _, kind := range models.Kinds {
		d, ok := all[kind]
		if assert.True(t, ok, kind) {
			assert.Equal(t, kind, d.Kind())
		}
	}
}
