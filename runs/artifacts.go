package runs

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-sbi/tasks"
	"github.com/tsawler/go-sbi/tensor"
)

// Summary is the run record written to summary.yaml.
type Summary struct {
	RunID           string             `yaml:"run_id"`
	Name            string             `yaml:"name"`
	Task            string             `yaml:"task"`
	Algorithm       string             `yaml:"algorithm"`
	Seed            uint64             `yaml:"seed"`
	NumSimulations  int                `yaml:"num_simulations"`
	NumSamples      int                `yaml:"num_samples"`
	DurationSeconds float64            `yaml:"duration_seconds"`
	Parameters      []ParameterSummary `yaml:"parameters"`
	Covariance      [][]float64        `yaml:"covariance"`
}

// ParameterSummary reports marginal statistics of one posterior dimension.
type ParameterSummary struct {
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"std_dev"`
	Median float64 `yaml:"median"`
}

// writeArtifacts stores the posterior samples and the run summary, plus the
// reference observation and generating parameters when the run used a
// numbered task observation.
func writeArtifacts(cfg *Config, task tasks.Task, dir, runID string, samples *tensor.Tensor, numSims int, duration time.Duration) error {
	if err := writeMatrixCSV(filepath.Join(dir, "samples.csv"), samples, "theta"); err != nil {
		return err
	}

	if num := observationNumber(cfg); num > 0 {
		obs, err := task.Observation(num)
		if err != nil {
			return err
		}
		if err := writeMatrixCSV(filepath.Join(dir, "observation.csv"), obs, "x"); err != nil {
			return err
		}
		truth, err := task.TrueParameters(num)
		if err != nil {
			return err
		}
		if err := writeMatrixCSV(filepath.Join(dir, "true_parameters.csv"), truth, "theta"); err != nil {
			return err
		}
	}

	summary := buildSummary(cfg, runID, samples, numSims, duration)
	return writeSummary(filepath.Join(dir, "summary.yaml"), summary)
}

func observationNumber(cfg *Config) int {
	switch cfg.Algorithm {
	case AlgorithmSNRE:
		return cfg.SNRE.NumObservation
	case AlgorithmSPA:
		return cfg.SPA.NumObservation
	}
	return 0
}

// writeMatrixCSV writes a [n, d] tensor as CSV with columns named
// prefix_0 .. prefix_{d-1}.
func writeMatrixCSV(path string, m *tensor.Tensor, prefix string) error {
	if len(m.Shape) != 2 {
		return fmt.Errorf("matrix CSV needs a 2D tensor, got shape %v", m.Shape)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	n, d := m.Shape[0], m.Shape[1]

	header := make([]string, d)
	for j := range header {
		header[j] = fmt.Sprintf("%s_%d", prefix, j)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	data := m.Data.([]float64)
	row := make([]string, d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			row[j] = strconv.FormatFloat(data[i*d+j], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// buildSummary computes per-dimension marginal statistics and the sample
// covariance of the posterior draws.
func buildSummary(cfg *Config, runID string, samples *tensor.Tensor, numSims int, duration time.Duration) *Summary {
	n, d := samples.Shape[0], samples.Shape[1]
	data := samples.Data.([]float64)

	params := make([]ParameterSummary, d)
	column := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			column[i] = data[i*d+j]
		}
		mean := stat.Mean(column, nil)
		sd := stat.StdDev(column, nil)
		sort.Float64s(column)
		median := stat.Quantile(0.5, stat.Empirical, column, nil)
		params[j] = ParameterSummary{Mean: mean, StdDev: sd, Median: median}
	}

	dense := mat.NewDense(n, d, append([]float64(nil), data...))
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, dense, nil)
	covariance := make([][]float64, d)
	for i := range covariance {
		covariance[i] = make([]float64, d)
		for j := 0; j < d; j++ {
			covariance[i][j] = cov.At(i, j)
		}
	}

	return &Summary{
		RunID:           runID,
		Name:            cfg.Name,
		Task:            cfg.Task,
		Algorithm:       cfg.Algorithm,
		Seed:            cfg.Seed,
		NumSimulations:  numSims,
		NumSamples:      n,
		DurationSeconds: duration.Seconds(),
		Parameters:      params,
		Covariance:      covariance,
	}
}

func writeSummary(path string, summary *Summary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary: %v", err)
	}
	return nil
}
