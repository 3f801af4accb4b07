package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// seed-exams publishes exam definitions from JSON files. Each file holds
// either one exam object or an array of them.
func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: seed-exams <exam.json> [exam.json ...]")
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repo, closeRepo, err := openExamRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open exam store")
	}
	defer closeRepo()

	// Redis only holds the definition cache; seeding works without it.
	var rdb *redis.Client
	if client, err := database.NewRedisClient(ctx, cfg, log); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, exam cache will not be warmed")
	} else {
		rdb = client
		defer rdb.Close()
	}

	examService := service.NewExamService(repo, rdb, cfg.ExamCacheTTL, log)

	fmt.Println("=== Seeding Exams ===")

	total, published := 0, 0
	for _, path := range flag.Args() {
		exams, err := readExams(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Skipping file")
			continue
		}

		for i := range exams {
			total++
			exam := &exams[i]
			if exam.ID == uuid.Nil {
				exam.ID = uuid.New()
			}
			if err := validator.Struct(exam); err != nil {
				fmt.Printf("Invalid exam %q in %s: %v\n", exam.Title, path, validator.TranslateErrors(err))
				continue
			}
			if err := examService.Publish(ctx, exam); err != nil {
				fmt.Printf("Error publishing exam %q: %v\n", exam.Title, err)
				continue
			}
			published++
			fmt.Printf("Published %s  %s (%d questions)\n", exam.ID, exam.Title, len(exam.Questions))
		}
	}

	fmt.Printf("\nSeed completed! Successfully published %d/%d exams.\n", published, total)
	if published < total {
		os.Exit(1)
	}
}

func readExams(path string) ([]model.ExamDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var many []model.ExamDefinition
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}

	var one model.ExamDefinition
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []model.ExamDefinition{one}, nil
}

func openExamRepository(ctx context.Context, cfg *config.Config, log zerolog.Logger) (service.ExamRepository, func(), error) {
	if cfg.DBDriver == config.DriverSQLite {
		db, err := database.NewSQLiteDB(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLiteExamRepository(db), func() { _ = db.Close() }, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewExamRepository(pool), pool.Close, nil
}
