package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
	"github.com/synaptica-ai/decompensation/pkg/pipeline"
)

const (
	TrainPartition = "train"
	TestPartition  = "test"
)

type testSetRow struct {
	Subject string `csv:"subject"`
	Label   string `csv:"label"`
}

// LoadTestSet reads headerless subject,label rows and returns the subjects
// labelled 1.
func LoadTestSet(path string) (map[string]struct{}, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = 2
	var rows []testSetRow
	testSet := make(map[string]struct{})
	if err := gocsv.UnmarshalCSVWithoutHeaders(r, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return testSet, nil
		}
		return nil, fmt.Errorf("reading test set %s: %w", path, err)
	}
	for _, row := range rows {
		if strings.TrimSpace(row.Label) == "1" {
			testSet[strings.TrimSpace(row.Subject)] = struct{}{}
		}
	}
	return testSet, nil
}

type SplitResult struct {
	Train   int      `json:"train"`
	Test    int      `json:"test"`
	Missing []string `json:"missing,omitempty"`
}

// SplitTrainTest moves every subject directory under root into root/train
// or root/test. Test subjects without a directory are reported as missing.
func SplitTrainTest(root string, testSet map[string]struct{}) (SplitResult, error) {
	var result SplitResult
	subjects, err := pipeline.ListSubjects(root)
	if err != nil {
		return result, err
	}
	present := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		present[s] = struct{}{}
	}
	for subject := range testSet {
		if _, ok := present[subject]; !ok {
			result.Missing = append(result.Missing, subject)
		}
	}

	for _, partition := range []string{TrainPartition, TestPartition} {
		if err := os.MkdirAll(filepath.Join(root, partition), 0o755); err != nil {
			return result, err
		}
	}

	for _, subject := range subjects {
		partition := TrainPartition
		if _, ok := testSet[subject]; ok {
			partition = TestPartition
		}
		if err := os.Rename(filepath.Join(root, subject), filepath.Join(root, partition, subject)); err != nil {
			return result, fmt.Errorf("moving subject %s: %w", subject, err)
		}
		if partition == TestPartition {
			result.Test++
		} else {
			result.Train++
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"train":   result.Train,
		"test":    result.Test,
		"missing": len(result.Missing),
	}).Info("Subjects split into train and test")
	return result, nil
}
