// Package checkpoints saves and restores trained models. A checkpoint
// bundles the architecture, weights, training progress and optionally the
// optimizer moments, so a run can resume or a stored posterior can be
// evaluated later. Two on-disk formats are supported: pretty-printed JSON
// and a compact protobuf wire encoding.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatBinary
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Checkpoint represents a complete model state including weights, optimizer
// state, and training metadata. Exactly one of Flow and Classifier is set,
// depending on which kind of model was captured.
type Checkpoint struct {
	// Model architecture and weights
	Flow       *FlowArchitecture       `json:"flow,omitempty"`
	Classifier *ClassifierArchitecture `json:"classifier,omitempty"`
	Weights    []WeightTensor          `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// FlowArchitecture records a normalizing flow's shape so the network can be
// rebuilt before its weights are loaded.
type FlowArchitecture struct {
	Dim         int     `json:"dim"`
	ContextDim  int     `json:"context_dim"`
	NumLayers   int     `json:"num_layers"`
	HiddenSizes []int   `json:"hidden_sizes"`
	Clamp       float64 `json:"clamp"`
}

// ClassifierArchitecture records a ratio classifier's shape together with
// the fitted feature standardization statistics.
type ClassifierArchitecture struct {
	Model      string `json:"model"`
	HiddenSize int    `json:"hidden_size"`
	NumBlocks  int    `json:"num_blocks,omitempty"`
	ThetaDim   int    `json:"theta_dim"`
	XDim       int    `json:"x_dim"`

	ThetaMean []float64 `json:"theta_mean,omitempty"`
	ThetaStd  []float64 `json:"theta_std,omitempty"`
	XMean     []float64 `json:"x_mean,omitempty"`
	XStd      []float64 `json:"x_std,omitempty"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState captures the current training progress
type TrainingState struct {
	Iteration    int     `json:"iteration"`
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	BestEvalLoss float64 `json:"best_eval_loss"`
	TotalSteps   int     `json:"total_steps"`
}

// OptimizerState captures optimizer-specific state (moment estimates etc.)
type OptimizerState struct {
	Type         string            `json:"type"`
	LearningRate float64           `json:"learning_rate"`
	Step         int64             `json:"step"`
	StateData    []OptimizerTensor `json:"state_data"`
}

// OptimizerTensor represents one optimizer state tensor. Param is the index
// of the parameter it belongs to and StateType is "m" or "v".
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Param     int       `json:"param"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id,omitempty"`
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Flow == nil && checkpoint.Classifier == nil {
		return fmt.Errorf("checkpoint carries no model architecture")
	}
	checkpoint.ensureMetadata()

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatBinary:
		return cs.saveBinary(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatBinary:
		return cs.loadBinary(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// ensureMetadata fills identification fields that were left unset
func (c *Checkpoint) ensureMetadata() {
	if c.Metadata.ID == "" {
		c.Metadata.ID = uuid.NewString()
	}
	if c.Metadata.Framework == "" {
		c.Metadata.Framework = "go-sbi"
		c.Metadata.Version = "1.0.0"
	}
	if c.Metadata.CreatedAt.IsZero() {
		c.Metadata.CreatedAt = time.Now()
	}
}

// saveJSON saves checkpoint in JSON format
func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ") // Pretty print JSON

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// loadJSON loads checkpoint from JSON format
func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// saveBinary saves checkpoint in the protobuf wire format
func (cs *CheckpointSaver) saveBinary(checkpoint *Checkpoint, path string) error {
	data := appendCheckpoint(nil, checkpoint)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// loadBinary loads checkpoint from the protobuf wire format
func (cs *CheckpointSaver) loadBinary(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	checkpoint, err := parseCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return checkpoint, nil
}
