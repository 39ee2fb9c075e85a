package dedup

import (
	"math"
	"strings"
	"time"

	"github.com/Veraticus/opsflow/internal/model"
)

// Score weights; a perfect match sums to 100.
const (
	amountWeight       = 40.0
	sameDayWeight      = 30.0
	oneDayWeight       = 25.0
	threeDayWeight     = 15.0
	counterpartyWeight = 20.0
	descriptionWeight  = 10.0

	// DuplicateThreshold is the minimum score at which a record is linked rather than created.
	DuplicateThreshold = 85.0
)

// Score rates how likely rec and candidate describe the same real-world transaction (0-100).
func Score(rec model.NormalizedRecord, candidate model.MasterOperation) float64 {
	score := 0.0

	if toCents(rec.Amount) == toCents(candidate.Amount) {
		score += amountWeight
	}

	switch days := dayDistance(rec.TransactionDate, candidate.TransactionDate); {
	case days == 0:
		score += sameDayWeight
	case days <= 1:
		score += oneDayWeight
	case days <= 3:
		score += threeDayWeight
	}

	score += Similarity(rec.Counterparty, candidate.Counterparty) * counterpartyWeight
	score += Similarity(rec.Description, candidate.Description) * descriptionWeight

	return score
}

// Similarity counts the words of a that are contained in, or contain, some word of b,
// divided by the larger word count. Comparison is case-insensitive; an empty side scores 0.
func Similarity(a, b string) float64 {
	wordsA := strings.Fields(strings.ToLower(a))
	wordsB := strings.Fields(strings.ToLower(b))
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	matches := 0
	for _, wa := range wordsA {
		for _, wb := range wordsB {
			if strings.Contains(wb, wa) || strings.Contains(wa, wb) {
				matches++
				break
			}
		}
	}

	return float64(matches) / float64(max(len(wordsA), len(wordsB)))
}

func dayDistance(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(math.Abs(da.Sub(db).Hours()) / 24)
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
