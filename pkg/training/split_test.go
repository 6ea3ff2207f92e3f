package training

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitTrainTest(t *testing.T) {
	root := t.TempDir()
	for _, subject := range []string{"10", "11", "12"} {
		writeFile(t, filepath.Join(root, subject, "stays.csv"), "SUBJECT_ID\n"+subject+"\n")
	}
	writeFile(t, filepath.Join(root, "all_stays.csv"), "SUBJECT_ID\n")
	testSetPath := filepath.Join(t.TempDir(), "testset.csv")
	writeFile(t, testSetPath, "10,0\n11,1\n99,1\n")

	testSet, err := LoadTestSet(testSetPath)
	if err != nil {
		t.Fatalf("load test set: %v", err)
	}
	if len(testSet) != 2 {
		t.Fatalf("expected 2 test subjects, got %v", testSet)
	}

	result, err := SplitTrainTest(root, testSet)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if result.Train != 2 || result.Test != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "99" {
		t.Fatalf("expected subject 99 to be missing, got %v", result.Missing)
	}
	if _, err := os.Stat(filepath.Join(root, TestPartition, "11", "stays.csv")); err != nil {
		t.Fatalf("expected subject 11 under test: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, TrainPartition, "12")); err != nil {
		t.Fatalf("expected subject 12 under train: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "all_stays.csv")); err != nil {
		t.Fatal("expected top-level files to stay in place")
	}
}

func TestLoadTestSetEdgeCases(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.csv")
	writeFile(t, empty, "")
	testSet, err := LoadTestSet(empty)
	if err != nil || len(testSet) != 0 {
		t.Fatalf("expected empty test set, got %v %v", testSet, err)
	}

	padded := filepath.Join(dir, "padded.csv")
	writeFile(t, padded, " 21 , 1\n22,0\n")
	testSet, err = LoadTestSet(padded)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := testSet["21"]; !ok || len(testSet) != 1 {
		t.Fatalf("expected subject 21 only, got %v", testSet)
	}

	wide := filepath.Join(dir, "wide.csv")
	writeFile(t, wide, "21,1,extra\n")
	if _, err := LoadTestSet(wide); err == nil {
		t.Fatal("expected an error for a row with three fields")
	}
}
