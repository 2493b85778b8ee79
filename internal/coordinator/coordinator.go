// Package coordinator runs the virtual user population: it spawns one
// goroutine per user, keeps the mix of profiles in line with their weights,
// follows the ramp and stops everyone when the run ends.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shopload/internal/core"
	"shopload/internal/progress"
	"shopload/internal/ratelimit"
)

// stageTickInterval is how often the population is compared with the
// stage target and adjusted.
const stageTickInterval = 100 * time.Millisecond

// Group is one class of users in the population.
type Group struct {
	Name    string
	Weight  int
	Factory core.ActorFactory
}

type user struct {
	group  int
	cancel context.CancelFunc
}

type Coordinator struct {
	groups   []Group
	total    int // sum of weights
	reporter core.Reporter
	log      *zap.Logger

	nextID      atomic.Int64
	activeCount atomic.Int32
	retired     atomic.Int32 // users that finished their iteration budget
	wg          sync.WaitGroup

	mu    sync.Mutex
	users map[int]user
	live  []int // live users per group
}

// NewCoordinator validates the population. Groups with weight 0 never get
// users; at least one group must have a positive weight.
func NewCoordinator(reporter core.Reporter, groups []Group, logger *zap.Logger) (*Coordinator, error) {
	if reporter == nil {
		reporter = core.NullReporter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		groups:   groups,
		reporter: reporter,
		log:      logger,
		users:    make(map[int]user),
		live:     make([]int, len(groups)),
	}
	for _, g := range groups {
		if g.Weight < 0 {
			return nil, fmt.Errorf("group %q: negative weight %d", g.Name, g.Weight)
		}
		if g.Weight > 0 && g.Factory == nil {
			return nil, fmt.Errorf("group %q: no factory", g.Name)
		}
		c.total += g.Weight
	}
	if c.total == 0 {
		return nil, errors.New("no group has a positive weight")
	}
	return c, nil
}

// Spawn starts count users immediately.
func (c *Coordinator) Spawn(ctx context.Context, count int, config core.RunnerConfig) {
	for i := 0; i < count; i++ {
		c.spawn(ctx, config)
	}
}

// nextGroup returns the group furthest below its share of a population of
// one more user. Callers hold c.mu.
func (c *Coordinator) nextGroup() int {
	size := 1
	for _, n := range c.live {
		size += n
	}
	best, bestDeficit := -1, 0.0
	for i, g := range c.groups {
		if g.Weight == 0 {
			continue
		}
		deficit := float64(size*g.Weight)/float64(c.total) - float64(c.live[i])
		if best == -1 || deficit > bestDeficit {
			best, bestDeficit = i, deficit
		}
	}
	return best
}

// surplusGroup returns the group furthest above its share of a population
// of one less user. Callers hold c.mu.
func (c *Coordinator) surplusGroup() int {
	size := -1
	for _, n := range c.live {
		size += n
	}
	best, bestSurplus := -1, 0.0
	for i, g := range c.groups {
		if c.live[i] == 0 {
			continue
		}
		surplus := float64(c.live[i]) - float64(size*g.Weight)/float64(c.total)
		if best == -1 || surplus > bestSurplus {
			best, bestSurplus = i, surplus
		}
	}
	return best
}

func (c *Coordinator) spawn(ctx context.Context, config core.RunnerConfig) {
	id := int(c.nextID.Add(1))
	userCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	gi := c.nextGroup()
	c.live[gi]++
	c.users[id] = user{group: gi, cancel: cancel}
	c.mu.Unlock()

	group := c.groups[gi]
	c.activeCount.Add(1)
	c.wg.Add(1)

	go func() {
		defer func() {
			c.mu.Lock()
			c.release(id)
			c.mu.Unlock()
			c.activeCount.Add(-1)
			c.wg.Done()
		}()
		defer c.recoverPanic(id, group.Name)

		runner := core.NewRunner(group.Factory.NewActor(id), c.reporter, config)
		for userCtx.Err() == nil {
			err := runner.RunIteration(userCtx)
			if errors.Is(err, core.ErrMaxIterationsReached) {
				c.retired.Add(1)
				return
			}
		}
	}()
}

// recoverPanic reports a panicking user as a failed event. The user stops;
// other users are unaffected.
func (c *Coordinator) recoverPanic(userID int, group string) {
	if r := recover(); r != nil {
		c.log.Error("virtual user panicked",
			zap.Int("user", userID),
			zap.String("profile", group),
			zap.Any("panic", r),
		)
		c.reporter.Report(core.Event{
			UserID:    userID,
			Profile:   group,
			Timestamp: time.Now(),
			Name:      "panic",
			Success:   false,
			Error:     fmt.Sprintf("panic: %v", r),
		})
	}
}

// Wait blocks until every user goroutine has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) ActiveUsers() int {
	return int(c.activeCount.Load())
}

// LiveByGroup returns the live user count per group name.
func (c *Coordinator) LiveByGroup() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.groups))
	for i, g := range c.groups {
		out[g.Name] = c.live[i]
	}
	return out
}

// stopUsers stops n users, taking each from the group most above its
// share, oldest first. Stopped users finish their current request.
func (c *Coordinator) stopUsers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ; n > 0; n-- {
		gi := c.surplusGroup()
		if gi < 0 {
			return
		}
		oldest := -1
		for id, u := range c.users {
			if u.group == gi && (oldest == -1 || id < oldest) {
				oldest = id
			}
		}
		if oldest == -1 {
			return
		}
		c.release(oldest)
	}
}

func (c *Coordinator) stopAllUsers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.users {
		c.release(id)
	}
}

// release cancels a user and removes it from the live population. Whoever
// releases a user first does the bookkeeping. Callers hold c.mu.
func (c *Coordinator) release(id int) {
	u, ok := c.users[id]
	if !ok {
		return
	}
	u.cancel()
	delete(c.users, id)
	c.live[u.group]--
}

// liveUsers counts users that have not been asked to stop.
func (c *Coordinator) liveUsers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.live {
		total += n
	}
	return total
}

// RunOptions are the optional collaborators of Run.
type RunOptions struct {
	Limiter  *ratelimit.RateLimiter
	Progress *progress.Progress
	Runner   core.RunnerConfig
}

// Run drives the population through the stages of sm until they complete
// or ctx is cancelled, then stops every user. It returns without waiting
// for users to finish their current request; call Wait for that.
func (c *Coordinator) Run(ctx context.Context, sm *ratelimit.StageManager, opts RunOptions) {
	say := func(format string, args ...interface{}) {
		if opts.Progress != nil {
			opts.Progress.Printf(format, args...)
			return
		}
		c.log.Info(fmt.Sprintf(format, args...))
	}

	if total := sm.TotalDuration(); total > 0 {
		say("Starting run, total duration: %v", total)
	} else {
		say("Starting run until interrupted")
	}

	currentStage := -1
	ticker := time.NewTicker(stageTickInterval)
	defer ticker.Stop()

	for {
		if c.adjust(ctx, sm, opts, &currentStage, say) {
			c.stopAllUsers()
			return
		}
		select {
		case <-ctx.Done():
			c.stopAllUsers()
			return
		case <-ticker.C:
		}
	}
}

// adjust moves the population toward the current target and reports
// whether the run is over.
func (c *Coordinator) adjust(ctx context.Context, sm *ratelimit.StageManager, opts RunOptions, currentStage *int, say func(string, ...interface{})) bool {
	if sm.IsComplete() {
		return true
	}

	if idx := sm.CurrentStageIndex(); idx != *currentStage {
		*currentStage = idx
		if stage := sm.CurrentStage(); stage != nil {
			if stage.RPS > 0 {
				say("Stage: %s (duration: %v, target users: %d, rps: %d)",
					stage.Name, stage.Duration, max(stage.Users, stage.EndUsers), stage.RPS)
			} else {
				say("Stage: %s (duration: %v, target users: %d)",
					stage.Name, stage.Duration, max(stage.Users, stage.EndUsers))
			}
		}
	}

	target := sm.TargetUsers()
	if opts.Runner.MaxIterations > 0 {
		// Users that used up their iterations are not replaced.
		target -= int(c.retired.Load())
		if target <= 0 && c.ActiveUsers() == 0 && sm.TargetUsers() > 0 {
			say("All users completed %d iterations", opts.Runner.MaxIterations)
			return true
		}
		target = max(target, 0)
	}

	live := c.liveUsers()
	switch {
	case live < target:
		c.Spawn(ctx, target-live, opts.Runner)
	case live > target:
		c.stopUsers(live - target)
	}

	if opts.Limiter != nil {
		opts.Limiter.SetRate(sm.CurrentRPS())
	}
	return false
}
