package training

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// runSeed derives a stable per-run seed so poisoning and metric
// synthesis replay identically for the same run id.
func runSeed(runID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(runID))
	return int64(h.Sum64())
}

// PoisonDataset writes a derived copy of the dataset with the binary
// label in labelCol flipped with probability rate per row. The caller
// owns the returned file and must remove it when the job ends.
func PoisonDataset(datasetPath string, labelCol int, hasHeader bool, rate float64, seed int64) (string, error) {
	if rate <= 0 {
		return "", fmt.Errorf("poison rate must be positive, got %v", rate)
	}
	if rate > 1 {
		rate = 1
	}

	src, err := os.Open(datasetPath)
	if err != nil {
		return "", fmt.Errorf("open dataset: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "poisoned-*"+filepath.Ext(datasetPath))
	if err != nil {
		return "", fmt.Errorf("create poisoned dataset: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	writer := bufio.NewWriter(dst)
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	header := hasHeader
	for scanner.Scan() {
		line := scanner.Text()
		if header {
			header = false
		} else if rng.Float64() < rate {
			line = flipLabel(line, labelCol)
		}
		if _, err := writer.WriteString(line + "\n"); err != nil {
			dst.Close()
			os.Remove(dst.Name())
			return "", fmt.Errorf("write poisoned dataset: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("read dataset: %w", err)
	}
	if err := writer.Flush(); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("flush poisoned dataset: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("close poisoned dataset: %w", err)
	}
	return dst.Name(), nil
}

// flipLabel inverts a 0/1 label in the given column. Rows whose label
// is not binary pass through unchanged.
func flipLabel(line string, labelCol int) string {
	sep := "\t"
	if !strings.Contains(line, "\t") {
		sep = ","
	}
	fields := strings.Split(line, sep)
	if labelCol >= len(fields) {
		return line
	}
	switch strings.TrimSpace(fields[labelCol]) {
	case "0":
		fields[labelCol] = "1"
	case "1":
		fields[labelCol] = "0"
	default:
		return line
	}
	return strings.Join(fields, sep)
}
