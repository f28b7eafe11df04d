package connect

import (
	"strings"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// Classify implements §4.3.2's typeName classification table. forceLegacy
// is the resolved ForceLegacyAPI flag (global-or-per-printer, already
// merged by the caller).
func Classify(typeName string, forceLegacy bool) (model.Family, model.ModelKind) {
	if forceLegacy {
		return model.FamilyLegacy, model.ModelGenericLegacy
	}

	lower := strings.ToLower(typeName)
	var kind model.ModelKind
	switch {
	case strings.Contains(lower, "5m pro"):
		kind = model.ModelAdventurer5MPro
	case strings.Contains(lower, "5m"):
		kind = model.ModelAdventurer5M
	case strings.Contains(lower, "ad5x"):
		kind = model.ModelAD5X
	default:
		kind = model.ModelGenericLegacy
	}

	family := model.FamilyLegacy
	if kind == model.ModelAdventurer5M || kind == model.ModelAdventurer5MPro || kind == model.ModelAD5X {
		family = model.FamilyFiveM
	}
	return family, kind
}
