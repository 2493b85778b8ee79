package ratelimit_test

import (
	"context"
	"fmt"
	"time"

	"shopload/internal/ratelimit"
)

func ExampleNewRateLimiter() {
	limiter := ratelimit.NewRateLimiter(100)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			fmt.Println("Context cancelled")
			return
		}
	}

	fmt.Printf("5 requests completed in under 100ms: %v\n", time.Since(start) < 100*time.Millisecond)
	// Output: 5 requests completed in under 100ms: true
}

func ExampleRamp() {
	// 50 users at 5 users/s for three minutes.
	stages, _ := ratelimit.Ramp(50, 5, 3*time.Minute, 0)
	for _, s := range stages {
		fmt.Printf("%s: %v\n", s.Name, s.Duration)
	}
	// Output:
	// ramp: 10s
	// steady: 2m50s
}
