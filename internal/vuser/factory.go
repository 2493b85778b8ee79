package vuser

import (
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shopload/internal/core"
	"shopload/internal/profile"
	"shopload/internal/task"
)

// Factory spawns virtual users of one profile. It implements
// core.ActorFactory.
type Factory struct {
	Profile profile.Profile
	Catalog *task.Catalog
	// Seed, when non-zero, makes every user's random stream reproducible.
	Seed   int64
	Sleep  SleepFunc
	Logger *zap.Logger

	created atomic.Int64
}

func (f *Factory) NewActor(userID int) core.Actor {
	seed := f.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed + int64(userID)))

	u, err := New(userID, f.Profile, f.Catalog, rng, f.Sleep)
	if err != nil {
		// Profiles are validated at startup; this only happens on misuse.
		panic(err)
	}
	n := f.created.Add(1)
	if f.Logger != nil {
		f.Logger.Debug("virtual user spawned",
			zap.Int("user", userID),
			zap.String("profile", f.Profile.Name),
			zap.Int64("profile_total", n),
		)
	}
	return u
}

// Created returns how many users this factory has built.
func (f *Factory) Created() int {
	return int(f.created.Load())
}
