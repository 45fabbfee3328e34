package game

import (
	"log"
	"math"
	"time"

	"chessrelay/internal/user"
)

// eloRating returns round(a + weight*(result - expectancy)) with the
// standard 400-point logistic expectancy curve.
func eloRating(a, b int, result float64, weight int) int {
	expectancy := 1 / (1 + math.Pow(10, float64(b-a)/400))
	return int(math.Round(float64(a) + float64(weight)*(result-expectancy)))
}

// updateRating applies a game's outcome to both linked players,
// dissolves the link, and records the last-played-game summary. scoring
// is 0.0 (a lost) or 1.0 (a won); any other value counts as a draw for
// the bucket counters, while the summary line only recognizes exactly
// 0.0, 1.0, and 0.5.
func (s *Server) updateRating(a, b *user.User, scoring float64) {
	weight := a.EloWeight()
	if b.EloWeight() < weight {
		weight = b.EloWeight()
	}

	aRating := eloRating(a.Rating(), b.Rating(), scoring, weight)
	bRating := eloRating(b.Rating(), a.Rating(), 1.0-scoring, weight)

	log.Printf("[relay] update rating: %s: %d -> %d / %s: %d -> %d",
		a.Name(), a.Rating(), aRating, b.Name(), b.Rating(), bRating)

	a.SetRating(aRating)
	b.SetRating(bRating)
	a.DecEloWeight()
	b.DecEloWeight()

	delete(s.linkedUsers, a.ID())
	delete(s.linkedUsers, b.ID())

	a.IncrementPlayed()
	b.IncrementPlayed()

	switch scoring {
	case 0.0:
		a.AddScoringZero()
		b.AddScoringOne()
	case 1.0:
		a.AddScoringOne()
		b.AddScoringZero()
	default:
		a.AddScoringHalf()
		b.AddScoringHalf()
	}

	date := time.Now().Format("02.01.")
	switch scoring {
	case 1.0:
		s.lastGame = a.Name() + " - " + b.Name() + " 1:0 (" + date + ")"
	case 0.0:
		s.lastGame = a.Name() + " - " + b.Name() + " 0:1 (" + date + ")"
	case 0.5:
		s.lastGame = a.Name() + " - " + b.Name() + " 1/2:1/2 (" + date + ")"
	}
}
