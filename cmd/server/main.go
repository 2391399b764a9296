package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"trackimmo/internal/addressapi"
	"trackimmo/internal/assignment"
	"trackimmo/internal/browser"
	"trackimmo/internal/cache"
	"trackimmo/internal/certapi"
	"trackimmo/internal/citydata"
	"trackimmo/internal/config"
	"trackimmo/internal/enrichment"
	"trackimmo/internal/httpapi"
	"trackimmo/internal/jobs"
	"trackimmo/internal/models"
	"trackimmo/internal/notify"
	"trackimmo/internal/repositories"
	"trackimmo/internal/scheduler"
	"trackimmo/internal/scrapeengine"
	"trackimmo/internal/urlgen"
)

const jobWorkerCount = 4

func main() {
	runDaily := flag.Bool("run-daily-updates", false, "run one scheduler tick then exit")
	flag.Parse()

	log.Println("🚀 starting trackimmo")

	cfg := config.Load()
	log.Println("⚙️  configuration loaded")

	gormDB, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("❌ database connection failed: %v", err)
	}
	log.Println("📊 database connected")

	if err := repositories.AutoMigrate(gormDB); err != nil {
		log.Fatalf("❌ migration failed: %v", err)
	}
	log.Println("✅ schema migrated")

	repo := repositories.New(gormDB)

	addr := addressapi.New(cfg.AddressAPIBaseURL)
	cert := certapi.New(cfg.CertAPIBaseURL)

	redisCache := cache.New(context.Background(), cfg.RedisURL)
	defer redisCache.Close()
	cityDataFetcher := citydata.New(addr, cfg.ListingsBaseURL).WithCache(redisCache)

	fetcher := browser.NewFetcher(cfg.ScraperHeadless, 10)
	defer fetcher.Close()
	scraper := scrapeengine.New(addr, fetcher)
	log.Println("🕷️  scrape engine initialised")

	machine := &enrichment.Machine{
		Stages: [7]enrichment.Stage{
			enrichment.Normaliser{},
			enrichment.CityResolver{AddressAPI: addr, Repo: repo},
			enrichment.Geocoder{AddressAPI: addr},
			&enrichment.DPEEnricher{CertAPI: cert},
			enrichment.CityPriceScraper{Fetcher: cityDataFetcher, Repo: repo},
			enrichment.PriceEstimator{Repo: repo},
			enrichment.Persistence{Repo: repo},
		},
	}
	log.Println("🧪 enrichment machine initialised")

	assign := assignment.New(repo)

	notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer notifyCancel()
	collaborator, err := notify.New(notifyCtx, cfg.EmailSender, cfg.CTOEmail)
	if err != nil {
		log.Fatalf("❌ notify collaborator init failed: %v", err)
	}
	log.Println("📧 notify collaborator initialised")

	rawManifest := scrapeengine.NewManifest()

	jobManager := jobs.New(repo, cityDataFetcher, assign, collaborator, jobWorkerCount)
	jobManager.SkipScrape = cfg.SkipScraping
	jobManager.RunScrape = func(ctx context.Context, job *models.Job, client *models.Client) error {
		return runScrape(ctx, repo, scraper, rawManifest, cfg.RawCSVDir, client)
	}
	jobManager.RunEnrich = func(ctx context.Context, job *models.Job, client *models.Client) error {
		return runEnrich(ctx, repo, machine, rawManifest, cfg.RawCSVDir, client)
	}
	if cfg.SkipScraping {
		log.Println("⏭️  skip_scraping enabled — enrichment will reuse pre-existing raw CSVs")
	}

	sched := scheduler.New(repo, jobManager, collaborator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobManager.StartWorkers(ctx)
	defer jobManager.Stop()

	if *runDaily {
		log.Println("🗓️  running one scheduler tick (-run-daily-updates)")
		if _, err := sched.Tick(ctx, time.Now()); err != nil {
			log.Fatalf("❌ scheduler tick failed: %v", err)
		}
		return
	}

	handlers := &httpapi.Handlers{Jobs: jobManager, Repo: repo}
	router := httpapi.NewRouter(handlers, cfg.APIKey)

	log.Printf("🌐 listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("❌ server exited: %v", err)
	}
}

// rawCSVPath returns the canonical raw-scrape CSV path for a city, used
// both to write a fresh scrape and, in skip_scraping mode, to probe for a
// pre-existing one — the explicit naming convention that replaces the
// original's filename-substring search (SPEC_FULL.md §10).
func rawCSVPath(dir string, city *models.City) string {
	return filepath.Join(dir, city.InseeCode+"-raw.csv")
}

// runScrape scrapes each of a client's chosen cities into its raw CSV and
// records the path in manifest, wiring scrapeengine (component D) behind
// the job orchestrator's RunScrape hook (spec §4.I step 3). Skipped
// entirely by jobs.Manager when SkipScrape is set.
func runScrape(ctx context.Context, repo *repositories.Repository, scraper *scrapeengine.Engine, manifest *scrapeengine.Manifest, rawDir string, client *models.Client) error {
	cityIDs, err := repo.ClientChosenCities(ctx, client.ID)
	if err != nil {
		return err
	}
	propertyTypes, err := repo.ClientPropertyTypePrefs(ctx, client.ID)
	if err != nil {
		return err
	}

	propertyTypeCodes := make([]string, len(propertyTypes))
	for i, pt := range propertyTypes {
		propertyTypeCodes[i] = string(pt)
	}

	now := time.Now()
	windowStart := now.AddDate(-8, 0, 0)
	windowEnd := now.AddDate(-6, 0, 0)
	start := urlgen.Period{Month: int(windowStart.Month()), Year: windowStart.Year()}
	end := urlgen.Period{Month: int(windowEnd.Month()), Year: windowEnd.Year()}

	for _, cityID := range cityIDs {
		city, err := repo.GetCity(ctx, cityID)
		if err != nil {
			log.Printf("⚠️  skipping city %s: %v", cityID, err)
			continue
		}

		rawPath := rawCSVPath(rawDir, city)
		if err := scraper.ScrapeCity(ctx, city.Name, city.PostalCode, propertyTypeCodes, start, end, rawPath); err != nil {
			log.Printf("⚠️  scrape failed for city %s: %v", city.Name, err)
			continue
		}
		manifest.Record(city.ID.String(), rawPath)
	}

	return nil
}

// runEnrich runs the enrichment machine over each of a client's chosen
// cities' raw CSV, wiring enrichment (component E) behind the job
// orchestrator's RunEnrich hook. It always runs, scrape or no: when
// SkipScrape is set it resolves the CSV written by an earlier run (or
// dropped in place by an operator) via manifest, falling back to the
// canonical on-disk path spec.md line 165's "reuse pre-existing raw CSVs"
// calls for.
func runEnrich(ctx context.Context, repo *repositories.Repository, machine *enrichment.Machine, manifest *scrapeengine.Manifest, rawDir string, client *models.Client) error {
	cityIDs, err := repo.ClientChosenCities(ctx, client.ID)
	if err != nil {
		return err
	}

	for _, cityID := range cityIDs {
		city, err := repo.GetCity(ctx, cityID)
		if err != nil {
			log.Printf("⚠️  skipping city %s: %v", cityID, err)
			continue
		}

		rawPath, ok := manifest.Lookup(city.ID.String())
		if !ok {
			rawPath = rawCSVPath(rawDir, city)
			if _, statErr := os.Stat(rawPath); statErr != nil {
				log.Printf("⚠️  no raw CSV found for city %s at %s, skipping enrichment", city.Name, rawPath)
				continue
			}
		}

		if _, err := machine.Run(ctx, rawPath, 1, 7, false); err != nil {
			log.Printf("⚠️  enrichment failed for city %s: %v", city.Name, err)
			continue
		}
	}

	return nil
}
