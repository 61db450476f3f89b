// Package dice implements the Call of Cthulhu 7e dice mechanics: plain
// rolls and d100 skill checks with degrees of success.
package dice

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Degree grades a skill check outcome.
type Degree int

const (
	DegreeFumble Degree = iota
	DegreeFail
	DegreeSuccess
	DegreeHardSuccess
	DegreeExtremeSuccess
	DegreeCriticalSuccess
)

func (d Degree) String() string {
	switch d {
	case DegreeFumble:
		return "fumble"
	case DegreeFail:
		return "fail"
	case DegreeSuccess:
		return "success"
	case DegreeHardSuccess:
		return "hard success"
	case DegreeExtremeSuccess:
		return "extreme success"
	case DegreeCriticalSuccess:
		return "critical success"
	}
	return fmt.Sprintf("degree(%d)", int(d))
}

// Difficulty raises the bar a check must clear. A hard task needs at
// least a hard success, an extreme one at least an extreme success.
type Difficulty int

const (
	Regular Difficulty = iota
	Hard
	Extreme
)

// ParseDifficulty reads a difficulty word.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(s) {
	case "", "regular":
		return Regular, nil
	case "hard", "difficult":
		return Hard, nil
	case "extreme":
		return Extreme, nil
	}
	return Regular, fmt.Errorf("unknown difficulty %q (want regular, hard or extreme)", s)
}

// CheckResult is the outcome of one skill check.
type CheckResult struct {
	Roll   int
	Degree Degree
}

// Roller rolls dice. Safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller creates a roller from src; a nil src seeds from the clock.
func NewRoller(src rand.Source) *Roller {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Roller{rng: rand.New(src)}
}

// Roll returns a uniform result in [1, faces]. Faces must be in [1, 100].
func (r *Roller) Roll(faces int) (int, error) {
	if faces < 1 || faces > 100 {
		return 0, fmt.Errorf("dice must have 1 to 100 faces, got %d", faces)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(faces) + 1, nil
}

// Check rolls d100 against a skill value and grades the result.
func (r *Roller) Check(skill int, difficulty Difficulty) CheckResult {
	roll, _ := r.Roll(100)
	return CheckResult{Roll: roll, Degree: degreeFor(difficulty, roll, skill)}
}

// degreeFor grades a d100 roll against a skill value: 100 always fumbles,
// 1 always crits, then the extreme (1/5), hard (1/2) and regular
// thresholds apply, gated by the difficulty.
func degreeFor(difficulty Difficulty, roll, skill int) Degree {
	if roll == 100 {
		return DegreeFumble
	}
	if roll == 1 {
		return DegreeCriticalSuccess
	}

	ungated := DegreeFail
	switch {
	case roll <= skill/5:
		ungated = DegreeExtremeSuccess
	case roll <= skill/2:
		ungated = DegreeHardSuccess
	case roll <= skill:
		ungated = DegreeSuccess
	}

	switch difficulty {
	case Regular:
		return ungated
	case Hard:
		if ungated >= DegreeHardSuccess {
			return ungated
		}
	case Extreme:
		if ungated == DegreeExtremeSuccess {
			return ungated
		}
	}
	return DegreeFail
}
