package tasklist

import (
	"slices"

	"github.com/BuzzLyutic/taskstar/internal/model"
)

// Compare orders tasks for display: starred first, then incomplete before
// completed. Everything else ties.
func Compare(a, b model.Task) int {
	switch {
	case a.Starred != b.Starred:
		if a.Starred {
			return -1
		}
		return 1
	case a.Completed != b.Completed:
		if a.Completed {
			return 1
		}
		return -1
	}
	return 0
}

// SortForDisplay returns a sorted copy. Ties keep repository order.
func SortForDisplay(tasks []model.Task) []model.Task {
	out := slices.Clone(tasks)
	slices.SortStableFunc(out, Compare)
	return out
}

type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Starred   int `json:"starred"`
	Remaining int `json:"remaining"`
}

func Summarize(tasks []model.Task) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
		} else {
			s.Remaining++
		}
		if t.Starred {
			s.Starred++
		}
	}
	return s
}
