package connect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		typeName    string
		forceLegacy bool
		wantFamily  model.Family
		wantKind    model.ModelKind
	}{
		{"Adventurer 5M Pro", false, model.FamilyFiveM, model.ModelAdventurer5MPro},
		{"Adventurer 5M", false, model.FamilyFiveM, model.ModelAdventurer5M},
		{"AD5X", false, model.FamilyFiveM, model.ModelAD5X},
		{"Adventurer 3", false, model.FamilyLegacy, model.ModelGenericLegacy},
		{"Adventurer 5M Pro", true, model.FamilyLegacy, model.ModelGenericLegacy},
	}
	for _, c := range cases {
		family, kind := Classify(c.typeName, c.forceLegacy)
		assert.Equal(t, c.wantFamily, family, c.typeName)
		assert.Equal(t, c.wantKind, kind, c.typeName)
	}
}
