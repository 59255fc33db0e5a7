package app

import (
	"time"

	"github.com/plutolabs/pluto-backend/internal/platform/envutil"
)

type Config struct {
	Port string

	SimilarityThreshold float64
	MMRLambda           float64
	GraderPassThreshold float64
	GraderAvgThreshold  float64
	DefaultTopK         int
	MaxTopK             int
	QueryTimeout        time.Duration
}

func LoadConfig() Config {
	return Config{
		Port:                envutil.String("PORT", "8080"),
		SimilarityThreshold: envutil.Float("SIMILARITY_THRESHOLD", 0.35),
		MMRLambda:           envutil.Float("MMR_LAMBDA", 0.7),
		GraderPassThreshold: envutil.Float("GRADER_PASS_THRESHOLD", 0.5),
		GraderAvgThreshold:  envutil.Float("GRADER_AVG_THRESHOLD", 0.4),
		DefaultTopK:         envutil.Int("DEFAULT_TOP_K", 10),
		MaxTopK:             envutil.Int("MAX_TOP_K", 50),
		QueryTimeout:        envutil.DurationSeconds("QUERY_TIMEOUT_SECONDS", 300*time.Second),
	}
}
