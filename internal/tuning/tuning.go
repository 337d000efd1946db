// Package tuning keeps the custom models built from a base model, a system
// instruction and a set of knowledge files. Training is simulated: a model
// moves from TRAINING to COMPLETED after a fixed delay.
package tuning

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"rexpro/internal/llm"

	"github.com/sirupsen/logrus"
)

type Status string

const (
	StatusTraining  Status = "TRAINING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// DefaultDelay is how long a simulated tuning run takes.
const DefaultDelay = 15 * time.Second

var (
	ErrNotFound    = errors.New("tuned model not found")
	ErrInvalidSpec = errors.New("invalid tuned model")
)

// TrainingFile is a knowledge file stored as a data URL.
type TrainingFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	DataURL  string `json:"data_url"`
}

type TunedModel struct {
	ID                string         `json:"id"`
	DisplayName       string         `json:"display_name"`
	BaseModel         string         `json:"base_model"`
	SystemInstruction string         `json:"system_instruction"`
	TrainingFiles     []TrainingFile `json:"training_files"`
	SourceURLs        []string       `json:"source_urls,omitempty"`
	Status            Status         `json:"status"`
}

// Registry stores tuned models and drives their simulated training timers.
type Registry struct {
	mu       sync.RWMutex
	models   []TunedModel
	timers   map[string]*time.Timer
	runs     map[string]int
	filePath string
	delay    time.Duration
	now      func() time.Time
}

// NewRegistry loads tuned_models.json from dataDir. Models persisted while
// TRAINING are restarted.
func NewRegistry(dataDir string, delay time.Duration) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	r := &Registry{
		timers:   make(map[string]*time.Timer),
		runs:     make(map[string]int),
		filePath: filepath.Join(dataDir, "tuned_models.json"),
		delay:    delay,
		now:      time.Now,
	}
	if data, err := os.ReadFile(r.filePath); err == nil {
		if err := json.Unmarshal(data, &r.models); err != nil {
			logrus.WithError(err).WithField("path", r.filePath).Warn("could not parse tuned models")
		}
	}

	r.mu.Lock()
	for _, m := range r.models {
		if m.Status == StatusTraining {
			r.scheduleLocked(m.ID)
		}
	}
	r.mu.Unlock()
	return r, nil
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.models, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.filePath, data, 0644)
}

var nonSlug = regexp.MustCompile(`\s+`)

// Start registers a new model and begins its simulated training.
func (r *Registry) Start(spec TunedModel) (*TunedModel, error) {
	if strings.TrimSpace(spec.DisplayName) == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidSpec)
	}
	if !llm.IsKnownModel(spec.BaseModel) {
		return nil, fmt.Errorf("%w: unknown base model %q", ErrInvalidSpec, spec.BaseModel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	slug := strings.ToLower(nonSlug.ReplaceAllString(spec.DisplayName, "-"))
	spec.ID = fmt.Sprintf("%scustom-%s-%d", llm.TunedModelPrefix, slug, r.now().UnixMilli())
	spec.Status = StatusTraining
	r.models = append(r.models, spec)
	if err := r.save(); err != nil {
		return nil, err
	}
	r.scheduleLocked(spec.ID)

	logrus.WithFields(logrus.Fields{"id": spec.ID, "base": spec.BaseModel}).Info("tuning started")
	return &spec, nil
}

// Update replaces a model's definition and retrains it.
func (r *Registry) Update(model TunedModel) (*TunedModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.models {
		if r.models[i].ID != model.ID {
			continue
		}
		if model.BaseModel == "" {
			model.BaseModel = r.models[i].BaseModel
		}
		model.Status = StatusTraining
		r.models[i] = model
		if err := r.save(); err != nil {
			return nil, err
		}
		r.scheduleLocked(model.ID)
		return &model, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, model.ID)
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.models {
		if r.models[i].ID == id {
			if t, ok := r.timers[id]; ok {
				t.Stop()
				delete(r.timers, id)
			}
			r.models = append(r.models[:i], r.models[i+1:]...)
			return r.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (r *Registry) Get(id string) (*TunedModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.models {
		if r.models[i].ID == id {
			m := r.models[i]
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (r *Registry) List() []TunedModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TunedModel, len(r.models))
	copy(out, r.models)
	return out
}

// Completed returns the models ready to chat with.
func (r *Registry) Completed() []TunedModel {
	var out []TunedModel
	for _, m := range r.List() {
		if m.Status == StatusCompleted {
			out = append(out, m)
		}
	}
	return out
}

// Close stops all pending training timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// scheduleLocked (re)starts the training timer for id. A timer that already
// fired for an older run is ignored by complete.
func (r *Registry) scheduleLocked(id string) {
	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.runs[id]++
	run := r.runs[id]
	r.timers[id] = time.AfterFunc(r.delay, func() { r.complete(id, run) })
}

func (r *Registry) complete(id string, run int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runs[id] != run {
		return
	}
	delete(r.timers, id)
	for i := range r.models {
		if r.models[i].ID == id && r.models[i].Status == StatusTraining {
			r.models[i].Status = StatusCompleted
			if err := r.save(); err != nil {
				logrus.WithError(err).WithField("id", id).Error("failed to persist tuning result")
			}
			logrus.WithField("id", id).Info("tuning completed")
			return
		}
	}
}
