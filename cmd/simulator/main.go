// Package main runs a fake field device against a farmlink server: it posts
// readings on an interval and polls the control channel like the ESP32 does.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwulff/farmlink-go/internal/client"
	"github.com/jwulff/farmlink-go/internal/domain"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: simulator <server URL> [interval]")
		fmt.Println("  e.g. simulator http://localhost:5000 10s")
		os.Exit(1)
	}

	interval := 10 * time.Second
	if len(os.Args) > 2 {
		d, err := time.ParseDuration(os.Args[2])
		if err != nil {
			fmt.Printf("Error: invalid interval %q: %v\n", os.Args[2], err)
			os.Exit(1)
		}
		interval = d
	}

	c := client.NewClient(os.Args[1])
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Simulating device against %s every %s\n", c.BaseURL, interval)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pkg int64
	for {
		pkg++
		tick(ctx, c, pkg)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			fmt.Println("\nStopping...")
			return
		}
	}
}

func tick(ctx context.Context, c *client.Client, pkg int64) {
	reqCtx, cancel := context.WithTimeout(ctx, client.DefaultTimeout)
	defer cancel()

	now := time.Now()
	if err := c.SendReading(reqCtx, nextReading(pkg, now)); err != nil {
		fmt.Printf("[%s] Error sending package %d: %v\n", now.Format("15:04:05"), pkg, err)
	} else {
		fmt.Printf("[%s] Package %d sent\n", now.Format("15:04:05"), pkg)
	}

	st, err := c.Status(reqCtx)
	if err != nil {
		fmt.Printf("[%s] Error polling status: %v\n", now.Format("15:04:05"), err)
		return
	}
	fmt.Printf("[%s] LED=%s", now.Format("15:04:05"), st.LED)
	if st.Message != "" {
		fmt.Printf(" message=%q", st.Message)
	}
	fmt.Println()
}

// nextReading produces a plausible report. u4 and u5 are left out now and
// then, as a device with a disconnected sensor would.
func nextReading(pkg int64, now time.Time) domain.ReadingInput {
	in := domain.ReadingInput{
		PackageNumber: domain.Int64(pkg),
		Farm:          domain.String("Fazenda Simulada"),
		DeviceID:      domain.String("esp32-sim"),
		Temperature:   domain.Float64(round(18 + rand.Float64()*12)),
		U1:            domain.Float64(round(40 + rand.Float64()*50)),
		U2:            domain.Float64(round(rand.Float64() * 100)),
		U3:            domain.Float64(round(rand.Float64() * 14)),
		Fruit:         domain.String("manga"),
		Date:          domain.String(now.Format("02/01/2006")),
		Time:          domain.String(now.Format("15:04:05")),
	}
	if rand.Intn(4) != 0 {
		in.U4 = domain.Float64(round(rand.Float64() * 1000))
		in.U5 = domain.Float64(round(rand.Float64() * 5))
	}
	return in
}

func round(v float64) float64 {
	return float64(int(v*100)) / 100
}
