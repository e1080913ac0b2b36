package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/samirrijal/groundsync/internal/adapters/remote"
	"github.com/samirrijal/groundsync/internal/bootstrap"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/config"
	"github.com/samirrijal/groundsync/internal/pkg/geocodec"
	"github.com/samirrijal/groundsync/internal/pkg/ids"
)

// ---------------------------------------------------------------------------
// Manifest types
// ---------------------------------------------------------------------------

type Manifest struct {
	Author  string        `yaml:"author"`
	Surveys []SurveyEntry `yaml:"surveys"`
}

type SurveyEntry struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Jobs        []JobEntry `yaml:"jobs"`
	LOIs        []LOIEntry `yaml:"lois"`
}

type JobEntry struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Color  string         `yaml:"color"`
	TaskID string         `yaml:"task_id"`
	Fields []domain.Field `yaml:"fields"`
}

type LOIEntry struct {
	ID         string         `yaml:"id"`
	Job        string         `yaml:"job"`
	Geometry   map[string]any `yaml:"geometry"`
	Properties map[string]any `yaml:"properties"`
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	cfg, err := config.Load("groundsync-seed")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	manifestPath := "surveys.yaml"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	manifest, err := loadManifest(manifestPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("GroundSync seeder: %d surveys from %s", len(manifest.Surveys), manifestPath)

	// Optional CLI arg: comma separated survey ids
	only := map[string]bool{}
	if len(os.Args) > 2 {
		for _, s := range strings.Split(os.Args[2], ",") {
			only[strings.TrimSpace(s)] = true
		}
	}

	rem, err := bootstrap.OpenRemote(cfg)
	if err != nil {
		log.Fatalf("remote store: %v", err)
	}
	defer rem.Close()

	author := domain.User{ID: manifest.Author, DisplayName: manifest.Author}
	if author.ID == "" {
		author = domain.User{ID: "seed", DisplayName: "Seeder"}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 4) // max 4 surveys in flight

	for _, entry := range manifest.Surveys {
		if len(only) > 0 && !only[entry.ID] {
			continue
		}

		wg.Add(1)
		go func(e SurveyEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := seedSurvey(ctx, rem.Store, author, e); err != nil {
				log.Printf("ERROR [%s]: %v", e.ID, err)
			}
		}(entry)
	}

	wg.Wait()
	log.Println("seeding complete")
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i, s := range m.Surveys {
		if s.ID == "" {
			return nil, fmt.Errorf("survey #%d: id is required", i+1)
		}
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// Per-survey seeding
// ---------------------------------------------------------------------------

func seedSurvey(ctx context.Context, store *remote.Store, author domain.User, e SurveyEntry) error {
	survey := &domain.Survey{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Jobs:        make(map[string]domain.Job, len(e.Jobs)),
	}
	for _, j := range e.Jobs {
		job := domain.Job{ID: j.ID, Name: j.Name, Style: domain.Style{Color: j.Color}}
		if len(j.Fields) > 0 {
			taskID := j.TaskID
			if taskID == "" {
				taskID = j.ID + "-task"
			}
			job.Task = &domain.Task{ID: taskID, Fields: j.Fields}
		}
		survey.Jobs[j.ID] = job
	}

	v, err := store.PutSurvey(ctx, survey)
	if err != nil {
		return fmt.Errorf("put survey: %w", err)
	}
	log.Printf("[%s] survey written, version=%d jobs=%d", e.ID, v, len(survey.Jobs))

	entityIDs := ids.UUID{}
	mutationIDs := ids.NewULID()
	count := 0
	for i, l := range e.LOIs {
		m, err := loiMutation(e.ID, author, l, entityIDs, mutationIDs)
		if err != nil {
			log.Printf("[%s] loi #%d: %v", e.ID, i+1, err)
			continue
		}
		if _, ok := survey.Jobs[l.Job]; !ok {
			log.Printf("[%s] loi %s: unknown job %q", e.ID, m.EntityID, l.Job)
			continue
		}
		if err := store.ApplyMutation(ctx, m); err != nil {
			return fmt.Errorf("loi %s: %w", m.EntityID, err)
		}
		count++
	}

	log.Printf("[%s] done, %d locations", e.ID, count)
	return nil
}

func loiMutation(surveyID string, author domain.User, l LOIEntry, entityIDs ids.UUID, mutationIDs *ids.ULID) (*domain.Mutation, error) {
	raw, err := json.Marshal(l.Geometry)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}
	g, err := geocodec.UnmarshalGeoJSON(raw)
	if err != nil {
		return nil, err
	}

	id := l.ID
	if id == "" {
		id = entityIDs.NewID()
	}
	now := time.Now().UTC()
	audit := domain.AuditInfo{User: author, ClientTimestamp: now}
	return &domain.Mutation{
		ID:              mutationIDs.NewID(),
		SurveyID:        surveyID,
		EntityType:      domain.EntityLocationOfInterest,
		EntityID:        id,
		Operation:       domain.OpCreate,
		Author:          author.ID,
		ClientTimestamp: now,
		Status:          domain.MutationPending,
		LocationOfInterest: &domain.LocationOfInterest{
			ID:           id,
			SurveyID:     surveyID,
			JobID:        l.Job,
			Geometry:     g,
			Properties:   l.Properties,
			Created:      audit,
			LastModified: audit,
		},
	}, nil
}
