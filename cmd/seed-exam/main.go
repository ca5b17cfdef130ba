package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/service"
)

func main() {
	var slug string
	var authorID int
	flag.StringVar(&slug, "slug", "sample-exam", "Slug of the seeded exam")
	flag.IntVar(&authorID, "author", 1, "Admin user id that owns the exam")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)

	fmt.Println("=== Seeding Sample Exam ===")

	timeLimit := 30
	maxAttempts := 2
	exam := &model.Exam{
		Slug:             slug,
		Title:            "Sample Exam",
		AuthorID:         authorID,
		IsActive:         true,
		IsPublished:      true,
		TimeLimitMinutes: &timeLimit,
		MaxAttempts:      &maxAttempts,
		PassingScore:     60,
		ShuffleOptions:   true,
		ShowResults:      model.ShowResultsImmediate,
		AllowReview:      true,
		AutoGrade:        true,
	}

	if err := examRepo.CreateExam(ctx, exam); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			fmt.Printf("Exam %q already exists, nothing to do.\n", slug)
			return
		}
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	fmt.Printf("Created exam %s (%s)\n", exam.Slug, exam.ID)

	version := &model.ExamVersion{
		ExamID:   exam.ID,
		Sections: sampleSections(),
	}
	if err := examRepo.CreateVersion(ctx, version); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam version")
	}
	fmt.Printf("Created version %d with %d questions (%.0f points)\n",
		version.Number, len(version.Questions()), version.TotalPoints())

	// An admin token makes the grader endpoints easy to try out.
	tokens := service.NewTokenService(cfg, service.SystemClock{})
	token, err := tokens.IssueUserToken(service.TokenTypeAdmin, authorID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue admin token")
	}
	fmt.Printf("\nAdmin token (valid %s):\n%s\n", cfg.JWTExpiry, token)
}

func sampleSections() []model.Section {
	return []model.Section{
		{
			ID:    uuid.New(),
			Title: "Basics",
			Questions: []model.Question{
				{
					ID:     uuid.New(),
					Type:   model.QuestionTypeRadio,
					Prompt: "Which planet is closest to the sun?",
					Points: 10,
					Options: []model.Option{
						{ID: "a", Label: "Mercury", IsCorrect: true},
						{ID: "b", Label: "Venus"},
						{ID: "c", Label: "Mars"},
					},
				},
				{
					ID:     uuid.New(),
					Type:   model.QuestionTypeTrueFalse,
					Prompt: "Water boils at 100 degrees Celsius at sea level.",
					Points: 10,
					Options: []model.Option{
						{ID: "true", Label: "True", IsCorrect: true},
						{ID: "false", Label: "False"},
					},
				},
				{
					ID:     uuid.New(),
					Type:   model.QuestionTypeCheckbox,
					Prompt: "Select the prime numbers.",
					Points: 20,
					Options: []model.Option{
						{ID: "2", Label: "2", IsCorrect: true},
						{ID: "3", Label: "3", IsCorrect: true},
						{ID: "4", Label: "4"},
						{ID: "9", Label: "9"},
					},
				},
			},
		},
		{
			ID:    uuid.New(),
			Title: "Written",
			Questions: []model.Question{
				{
					ID:      uuid.New(),
					Type:    model.QuestionTypeText,
					Prompt:  "What is the chemical symbol for gold?",
					Points:  10,
					Correct: model.CorrectAnswer{ExactMatch: []string{"Au"}},
				},
				{
					ID:     uuid.New(),
					Type:   model.QuestionTypeOrdering,
					Prompt: "Order these numbers from smallest to largest.",
					Points: 20,
					Options: []model.Option{
						{ID: "n1", Label: "1"},
						{ID: "n5", Label: "5"},
						{ID: "n10", Label: "10"},
					},
					Correct: model.CorrectAnswer{Order: []string{"n1", "n5", "n10"}},
				},
				{
					ID:     uuid.New(),
					Type:   model.QuestionTypeMatching,
					Prompt: "Match each country to its capital.",
					Points: 20,
					Options: []model.Option{
						{ID: "fr", Label: "France", Group: "left"},
						{ID: "jp", Label: "Japan", Group: "left"},
						{ID: "paris", Label: "Paris", Group: "right"},
						{ID: "tokyo", Label: "Tokyo", Group: "right"},
					},
					Correct: model.CorrectAnswer{Pairs: []model.MatchPair{
						{Left: "fr", Right: "paris"},
						{Left: "jp", Right: "tokyo"},
					}},
				},
				{
					ID:     uuid.New(),
					Type:   model.QuestionTypeTextarea,
					Prompt: "Explain why the sky is blue.",
					Points: 10,
				},
			},
		},
	}
}
