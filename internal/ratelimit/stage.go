package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"shopload/internal/core"
)

// Stage is one segment of a run. Users is a constant population; when it is
// zero the population moves linearly from StartUsers to EndUsers. A
// Duration of 0 makes the stage open-ended, which is only valid last.
type Stage struct {
	Name       string
	Duration   time.Duration
	Users      int
	StartUsers int
	EndUsers   int
	RPS        int
}

func (s Stage) openEnded() bool {
	return s.Duration <= 0
}

// Ramp builds the stages for spawning users at spawnRate users per second
// and holding them until runTime has elapsed since the start. A zero
// runTime runs until cancelled.
func Ramp(users int, spawnRate float64, runTime time.Duration, rps int) ([]Stage, error) {
	if users <= 0 {
		return nil, fmt.Errorf("users must be > 0, got %d", users)
	}
	if spawnRate <= 0 {
		return nil, fmt.Errorf("spawn rate must be > 0, got %g", spawnRate)
	}
	if runTime < 0 {
		return nil, fmt.Errorf("run time must be >= 0, got %s", runTime)
	}

	ramp := time.Duration(math.Ceil(float64(users) / spawnRate * float64(time.Second)))
	if runTime > 0 && ramp >= runTime {
		// The run ends before everyone has spawned.
		return []Stage{{
			Name:       "ramp",
			Duration:   runTime,
			StartUsers: 0,
			EndUsers:   int(spawnRate * runTime.Seconds()),
			RPS:        rps,
		}}, nil
	}

	stages := []Stage{{Name: "ramp", Duration: ramp, StartUsers: 0, EndUsers: users, RPS: rps}}
	steady := Stage{Name: "steady", Users: users, RPS: rps}
	if runTime > 0 {
		steady.Duration = runTime - ramp
	}
	return append(stages, steady), nil
}

// ValidateStages checks durations and user counts.
func ValidateStages(stages []Stage) error {
	if len(stages) == 0 {
		return errors.New("at least one stage is required")
	}
	var errs []error
	for i, s := range stages {
		if s.openEnded() && i != len(stages)-1 {
			errs = append(errs, fmt.Errorf("stage %d (%s): only the last stage may be open-ended", i+1, s.Name))
		}
		if s.Users < 0 || s.StartUsers < 0 || s.EndUsers < 0 {
			errs = append(errs, fmt.Errorf("stage %d (%s): user counts must be >= 0", i+1, s.Name))
		}
		if s.RPS < 0 {
			errs = append(errs, fmt.Errorf("stage %d (%s): rps must be >= 0", i+1, s.Name))
		}
	}
	return errors.Join(errs...)
}

// StageManager reports which stage a run is in and how many users it
// should have right now.
type StageManager struct {
	stages    []Stage
	startTime time.Time
	clock     core.Clock
}

func NewStageManager(stages []Stage) *StageManager {
	return NewStageManagerWithClock(stages, core.RealClock{})
}

// NewStageManagerWithClock uses clock for all time reads (for testing).
func NewStageManagerWithClock(stages []Stage, clock core.Clock) *StageManager {
	return &StageManager{
		stages:    stages,
		startTime: clock.Now(),
		clock:     clock,
	}
}

func (sm *StageManager) Elapsed() time.Duration {
	return sm.clock.Since(sm.startTime)
}

// TotalDuration is the planned run length, 0 when the run is open-ended.
func (sm *StageManager) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range sm.stages {
		if s.openEnded() {
			return 0
		}
		total += s.Duration
	}
	return total
}

func (sm *StageManager) CurrentStageIndex() int {
	idx, _ := sm.locate(sm.Elapsed())
	return idx
}

// locate returns the stage index at elapsed and when that stage began.
func (sm *StageManager) locate(elapsed time.Duration) (int, time.Duration) {
	var start time.Duration
	for i, s := range sm.stages {
		if s.openEnded() || elapsed < start+s.Duration {
			return i, start
		}
		start += s.Duration
	}
	return len(sm.stages), start
}

func (sm *StageManager) CurrentStage() *Stage {
	idx := sm.CurrentStageIndex()
	if idx >= len(sm.stages) {
		return nil
	}
	return &sm.stages[idx]
}

func (sm *StageManager) IsComplete() bool {
	return sm.CurrentStageIndex() >= len(sm.stages)
}

// TargetUsers returns the population the run should have now.
func (sm *StageManager) TargetUsers() int {
	elapsed := sm.Elapsed()
	idx, start := sm.locate(elapsed)
	if idx >= len(sm.stages) {
		return 0
	}
	s := sm.stages[idx]
	if s.Users > 0 {
		return s.Users
	}
	if s.StartUsers == s.EndUsers {
		return s.StartUsers
	}
	if s.openEnded() {
		return s.EndUsers
	}
	progress := float64(elapsed-start) / float64(s.Duration)
	if progress > 1 {
		progress = 1
	}
	// Round toward the end population so a partial user already counts:
	// a ramp of 0.5 users/s starts its first user at once, not after 2s.
	delta := float64(s.EndUsers - s.StartUsers)
	return s.StartUsers + int(math.Ceil(delta*progress))
}

func (sm *StageManager) CurrentRPS() int {
	s := sm.CurrentStage()
	if s == nil {
		return 0
	}
	return s.RPS
}
