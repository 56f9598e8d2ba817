package wfo

import (
	"time"
)

const day = 24 * time.Hour

// Window is one train/test split. Both ranges are half-open, so TrainEnd equals
// TestStart and a window's TestEnd is the next window's TestStart.
type Window struct {
	Num        int       `json:"fold" yaml:"fold"`
	TrainStart time.Time `json:"train_start" yaml:"train_start"`
	TrainEnd   time.Time `json:"train_end" yaml:"train_end"`
	TestStart  time.Time `json:"test_start" yaml:"test_start"`
	TestEnd    time.Time `json:"test_end" yaml:"test_end"`
}

// FitWindows shrinks the windows to a 70/30 split of the available span when the
// span in whole days is shorter than trainDays + testDays.
func FitWindows(start, end time.Time, trainDays, testDays int) (int, int) {
	span := int(end.Sub(start) / day)
	if span >= trainDays+testDays {
		return trainDays, testDays
	}
	train := int(float64(span) * 0.7)
	return train, span - train
}

// PlanFolds rolls a trainDays window forward in testDays steps across [start, end].
// A fold is planned only when its whole test window ends on or before end.
func PlanFolds(start, end time.Time, trainDays, testDays int) []Window {
	trainDays, testDays = FitWindows(start, end, trainDays, testDays)
	if trainDays <= 0 || testDays <= 0 {
		return nil
	}

	train := time.Duration(trainDays) * day
	test := time.Duration(testDays) * day

	var windows []Window
	for cursor := start.Add(train); !cursor.Add(test).After(end); cursor = cursor.Add(test) {
		windows = append(windows, Window{
			Num:        len(windows) + 1,
			TrainStart: cursor.Add(-train),
			TrainEnd:   cursor,
			TestStart:  cursor,
			TestEnd:    cursor.Add(test),
		})
	}
	return windows
}
