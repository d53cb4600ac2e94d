package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/auth"
	"github.com/patrickwarner/civicreport/internal/client"
	"github.com/patrickwarner/civicreport/internal/config"
	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/observability"
	"github.com/patrickwarner/civicreport/internal/token"
)

var (
	baseURL     = flag.String("url", "http://localhost:8787", "report API base URL")
	userCount   = flag.Int("users", 5, "number of citizens")
	perUser     = flag.Int("reports", 10, "reports per user")
	resolveFrac = flag.Float64("resolved", 0.3, "fraction of reports to resolve")
	centerLat   = flag.Float64("lat", 12.9716, "latitude reports are scattered around")
	centerLng   = flag.Float64("lng", 77.5946, "longitude reports are scattered around")
	spread      = flag.Float64("spread", 3000, "max distance from the center in meters")
	seed        = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
)

var streets = []string{"MG Road", "Brigade Road", "Residency Road", "Church Street", "Lavelle Road", "Cubbon Road", "Infantry Road"}

var descriptions = map[models.Category][]string{
	models.CategoryRoads:          {"Deep pothole in the left lane", "Road surface washed out after rain", "Speed breaker missing paint"},
	models.CategoryWater:          {"Pipe burst flooding the footpath", "No water supply since yesterday", "Contaminated tap water"},
	models.CategorySanitation:     {"Garbage not collected for a week", "Overflowing drain", "Public toilet locked"},
	models.CategoryElectricity:    {"Streetlight not working", "Exposed wires on pole", "Frequent power cuts"},
	models.CategoryInfrastructure: {"Broken footpath tiles", "Damaged bus shelter", "Railing missing on bridge"},
	models.CategoryEnvironment:    {"Tree fallen across the road", "Illegal dumping near lake", "Burning waste at night"},
	models.CategorySafety:         {"Open manhole", "Dark stretch with no lighting", "Stray dogs near school"},
	models.CategoryOther:          {"Noise from construction after hours", "Abandoned vehicle", "Encroached footpath"},
}

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	r := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	var created, resolved, failed int
	for u := 1; u <= *userCount; u++ {
		userID := fmt.Sprintf("citizen-%03d", u)
		c, err := clientFor(cfg, userID, logger)
		if err != nil {
			logger.Fatal("issue token", zap.Error(err))
		}

		for i := 0; i < *perUser; i++ {
			rep, err := c.CreateReport(ctx, fakeReport(r, userID))
			if err != nil {
				failed++
				logger.Warn("create report", zap.String("user_id", userID), zap.String("outcome", client.Normalize(err).Message), zap.Error(err))
				continue
			}
			created++

			if r.Float64() < *resolveFrac {
				if _, err := c.ResolveReport(ctx, rep.ID); err != nil {
					logger.Warn("resolve report", zap.String("report_id", rep.ID), zap.Error(err))
					continue
				}
				resolved++
			}
		}
	}

	logger.Info("seeded reports",
		zap.Int("created", created),
		zap.Int("resolved", resolved),
		zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

// clientFor mints a token for userID when the server enforces auth.
func clientFor(cfg config.Config, userID string, logger *zap.Logger) (*client.Client, error) {
	opts := []client.Option{client.WithLogger(logger)}
	if cfg.AuthEnabled && cfg.TokenSecret != "" {
		tok, err := token.Generate(auth.Principal{ID: userID, Role: auth.RoleCitizen}, []byte(cfg.TokenSecret), time.Hour)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithToken(tok))
	}
	return client.New(*baseURL, opts...), nil
}

func fakeReport(r *rand.Rand, userID string) models.ReportInput {
	cats := models.Categories()
	cat := cats[r.Intn(len(cats))]
	pris := models.Priorities()
	lat, lng := scatter(r, *centerLat, *centerLng, *spread)
	texts := descriptions[cat]

	return models.ReportInput{
		UserID:      userID,
		Description: texts[r.Intn(len(texts))],
		Category:    string(cat),
		Priority:    string(pris[r.Intn(len(pris))]),
		Latitude:    &lat,
		Longitude:   &lng,
		Address:     fmt.Sprintf("%d %s", 1+r.Intn(200), streets[r.Intn(len(streets))]),
	}
}

// scatter returns a point uniformly distributed within radius meters of the
// center, using a flat-earth approximation that is fine at city scale.
func scatter(r *rand.Rand, lat, lng, radius float64) (float64, float64) {
	const metersPerDegree = 111320.0
	d := radius * math.Sqrt(r.Float64())
	theta := r.Float64() * 2 * math.Pi
	dLat := d * math.Cos(theta) / metersPerDegree
	dLng := d * math.Sin(theta) / (metersPerDegree * math.Cos(lat*math.Pi/180))
	return lat + dLat, lng + dLng
}
