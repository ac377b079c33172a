package agent

import (
	"encoding/binary"
	"math/rand/v2"
	"time"

	"fairytale-server/shared/models"

	"github.com/google/uuid"
)

// DrawPersonalization бросает монетку для истории: упоминать ли внешность
// и имя ребенка. Генератор засеян id истории, поэтому результат для одной
// и той же истории одинаков, но сохраняется все равно и при retry берется из БД.
func DrawPersonalization(storyID uuid.UUID, probability float64, now time.Time) models.PersonalizationDecision {
	seed1 := binary.BigEndian.Uint64(storyID[:8])
	seed2 := binary.BigEndian.Uint64(storyID[8:])
	rng := rand.New(rand.NewPCG(seed1, seed2))

	return models.PersonalizationDecision{
		IncludeAppearance: rng.Float64() < probability,
		IncludeName:       rng.Float64() < probability,
		Probability:       probability,
		Seed:              seed1 ^ seed2,
		DrawnAt:           now.UTC(),
	}
}
